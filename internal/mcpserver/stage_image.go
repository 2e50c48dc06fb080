package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ez3davatars/A360-Aging-UI/internal/fsops"
	"github.com/ez3davatars/A360-Aging-UI/internal/resolve"
)

// maxStageSize caps downloaded renders. Generator output at full resolution
// stays well under this.
const maxStageSize = 25 << 20 // 25 MB

// mimeToExt maps detected content types to the raster extensions the
// classifier accepts.
var mimeToExt = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

type stageResult struct {
	StagedPath string `json:"stagedPath"`
	Filename   string `json:"filename"`
	SubjectID  string `json:"subjectId"`
	Age        int    `json:"age"`
}

func (s *Server) stageImage(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, errResult := subjectArg(req)
	if errResult != nil {
		return errResult, nil
	}
	ageF, err := req.RequireFloat("age")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	age := int(math.Round(ageF))
	if !resolve.ValidAge(age) {
		return mcp.NewToolResultError(fmt.Sprintf("age %d is not on the timeline (20..70 in steps of 5)", age)), nil
	}

	var data []byte
	if strings.HasPrefix(rawURL, "data:") {
		data, err = decodeDataURI(rawURL)
	} else {
		data, err = fetchHTTP(rawURL)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(data) > maxStageSize {
		return mcp.NewToolResultError(fmt.Sprintf("file too large: %d bytes (max %d)", len(data), maxStageSize)), nil
	}

	// The detected type decides the staged extension; the pipeline decodes
	// content, not names, but the classifier filters on extension.
	detected := http.DetectContentType(data)
	ext := mimeToExt[strings.Split(detected, ";")[0]]
	if ext == "" {
		return mcp.NewToolResultError(fmt.Sprintf("content is not a supported raster image (detected: %s)", detected)), nil
	}

	slot := resolve.Slot{SubjectID: id, Age: age}
	filename := fmt.Sprintf("%s_%s%s", slot.SubjectID, slot.Label(), ext)
	target := filepath.Join(s.watchDir, filename)
	if _, statErr := os.Stat(target); statErr == nil {
		return mcp.NewToolResultError(fmt.Sprintf("already staged: %s", filename)), nil
	}

	if err := fsops.WriteAtomic(target, data); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to stage image: %v", err)), nil
	}

	out, _ := json.Marshal(stageResult{
		StagedPath: target,
		Filename:   filename,
		SubjectID:  id,
		Age:        age,
	})
	return mcp.NewToolResultText(string(out)), nil
}

// decodeDataURI parses a data:[<mediatype>][;base64],<data> URI.
func decodeDataURI(uri string) ([]byte, error) {
	rest := strings.TrimPrefix(uri, "data:")
	commaIdx := strings.Index(rest, ",")
	if commaIdx < 0 {
		return nil, fmt.Errorf("invalid data URI: missing comma separator")
	}

	meta := rest[:commaIdx]
	encoded := rest[commaIdx+1:]
	if !strings.Contains(meta, ";base64") {
		return nil, fmt.Errorf("only base64 data URIs are supported")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 data: %w", err)
		}
	}
	return data, nil
}

// fetchHTTP downloads a file from an HTTP/HTTPS URL with security checks.
func fetchHTTP(rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s (only http/https)", parsed.Scheme)
	}
	if err := checkBlockedHost(parsed.Hostname()); err != nil {
		return nil, err
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects (max 5)")
			}
			return checkBlockedHost(req.URL.Hostname())
		},
	}

	resp, err := client.Get(rawURL) //nolint:noctx
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, maxStageSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body failed: %w", err)
	}
	if len(data) > maxStageSize {
		return nil, fmt.Errorf("file too large: exceeds %d bytes", maxStageSize)
	}
	return data, nil
}

// checkBlockedHost rejects loopback and cloud metadata addresses.
func checkBlockedHost(host string) error {
	if host == "metadata.google.internal" {
		return fmt.Errorf("blocked host: %s", host)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, lookupErr := net.LookupIP(host)
		if lookupErr != nil || len(ips) == 0 {
			return nil //nolint:nilerr // let http.Client handle DNS failures
		}
		ip = ips[0]
	}

	if ip.IsLoopback() {
		return fmt.Errorf("blocked host: loopback address %s", host)
	}
	// AWS/GCP/Azure metadata endpoint.
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return fmt.Errorf("blocked host: cloud metadata address %s", host)
	}
	return nil
}
