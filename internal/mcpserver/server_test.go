package mcpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ez3davatars/A360-Aging-UI/internal/api"
	"github.com/ez3davatars/A360-Aging-UI/internal/events"
	"github.com/ez3davatars/A360-Aging-UI/internal/ingest"
	"github.com/ez3davatars/A360-Aging-UI/internal/ledger"
	"github.com/ez3davatars/A360-Aging-UI/internal/manifest"
	"github.com/ez3davatars/A360-Aging-UI/internal/registry"
	"github.com/ez3davatars/A360-Aging-UI/internal/resolve"
	"github.com/ez3davatars/A360-Aging-UI/internal/subject"
)

type mcpEnv struct {
	projectRoot string
	agingRoot   string
	watchDir    string
	reg         *registry.Store
	led         *ledger.DB
}

func testServer(t *testing.T) (*Server, *mcpEnv) {
	t.Helper()

	projectRoot := t.TempDir()
	e := &mcpEnv{
		projectRoot: projectRoot,
		agingRoot:   filepath.Join(projectRoot, "Aging"),
		watchDir:    filepath.Join(projectRoot, "comfy_out"),
	}
	for _, d := range []string{e.agingRoot, e.watchDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	var err error
	e.reg, err = registry.Open(filepath.Join(projectRoot, "master.xlsx"), registry.Options{
		Timeline:       "A",
		TimelineFolder: "TimelineA",
		Retry:          registry.RetryPolicy{Attempts: 2, BaseDelay: 5 * time.Millisecond, MaxDelay: 10 * time.Millisecond},
	}, log)
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	e.led, err = ledger.Open(filepath.Join(projectRoot, "ledger.db"))
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() { e.led.Close() })

	broker := events.NewBroker()
	t.Cleanup(broker.Close)
	emitter := events.NewEmitter(broker, nil, log)

	ing := ingest.New(ingest.Config{
		ProjectRoot:    e.projectRoot,
		AgingRoot:      e.agingRoot,
		Timeline:       "A",
		TimelineFolder: "TimelineA",
	}, e.reg, emitter, e.led, nil, log)
	t.Cleanup(ing.Close)

	subjects := subject.NewService(e.agingRoot, e.projectRoot, "TimelineA", e.reg, log)
	asm := manifest.NewAssembler("A", "TimelineA", e.reg, log)
	svc := api.NewService(api.ServiceConfig{
		ProjectRoot:    e.projectRoot,
		AgingRoot:      e.agingRoot,
		TimelineFolder: "TimelineA",
	}, subjects, e.reg, ing, e.led, asm)

	return New(svc, e.watchDir), e
}

// seedSubject registers a subject and creates its folder tree, returning the
// timeline directory.
func (e *mcpEnv) seedSubject(t *testing.T, id, sex, eth string) string {
	t.Helper()
	folder := "subject" + id[1:]
	subjectDir := filepath.Join(e.agingRoot, sex, eth, folder)
	timelineDir := filepath.Join(subjectDir, "TimelineA")
	if err := os.MkdirAll(timelineDir, 0o755); err != nil {
		t.Fatal(err)
	}
	rel, err := filepath.Rel(e.projectRoot, subjectDir)
	if err != nil {
		t.Fatal(err)
	}
	err = e.reg.UpsertSubject(context.Background(), registry.Subject{
		ID:         id,
		BasePath:   filepath.ToSlash(rel),
		Sex:        sex,
		Ethnicity:  eth,
		FolderName: folder,
	})
	if err != nil {
		t.Fatalf("UpsertSubject: %v", err)
	}
	return timelineDir
}

func pngBytes(t *testing.T, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: seed, G: uint8(x * y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_subjects":
		result, err = srv.listSubjects(ctx, req)
	case "subject_status":
		result, err = srv.subjectStatus(ctx, req)
	case "read_manifest":
		result, err = srv.readManifest(ctx, req)
	case "classify_filename":
		result, err = srv.classifyFilename(ctx, req)
	case "export_subject":
		result, err = srv.exportSubject(ctx, req)
	case "recent_ingests":
		result, err = srv.recentIngests(ctx, req)
	case "stage_image":
		result, err = srv.stageImage(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestListSubjectsTool(t *testing.T) {
	srv, e := testServer(t)
	e.seedSubject(t, "S001", "Male", "Caucasian")

	r := callTool(t, srv, "list_subjects", map[string]interface{}{})
	if r.IsError {
		t.Fatalf("list_subjects error: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), "S001") {
		t.Errorf("list output missing S001: %s", resultText(r))
	}
}

func TestSubjectStatusTool(t *testing.T) {
	srv, e := testServer(t)
	tdir := e.seedSubject(t, "S001", "Male", "Caucasian")
	p := resolve.CanonicalPath(tdir, resolve.Slot{SubjectID: "S001", Age: 30})
	if err := os.WriteFile(p, []byte("img"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Loose reference resolves, disk state shows through.
	r := callTool(t, srv, "subject_status", map[string]interface{}{"subject": "s1"})
	if r.IsError {
		t.Fatalf("subject_status error: %s", resultText(r))
	}
	var detail api.SubjectDetail
	if err := json.Unmarshal([]byte(resultText(r)), &detail); err != nil {
		t.Fatal(err)
	}
	if detail.SubjectID != "S001" || detail.Stored != 1 {
		t.Errorf("subject_id = %s, stored = %d, want S001/1", detail.SubjectID, detail.Stored)
	}

	r = callTool(t, srv, "subject_status", map[string]interface{}{"subject": "S999"})
	if !r.IsError {
		t.Error("expected error for unknown subject")
	}
}

func TestClassifyFilenameTool(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "classify_filename", map[string]interface{}{
		"filename": "S004_A45_00001_.png",
	})
	if r.IsError {
		t.Fatalf("classify error: %s", resultText(r))
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(resultText(r)), &out); err != nil {
		t.Fatal(err)
	}
	if out["subject_id"] != "S004" || out["age"] != float64(45) {
		t.Errorf("classified = %v", out)
	}
	if out["canonical_filename"] != "S004_A45.png" {
		t.Errorf("canonical = %v", out["canonical_filename"])
	}

	r = callTool(t, srv, "classify_filename", map[string]interface{}{
		"filename": "screenshot.png",
	})
	if !r.IsError {
		t.Error("expected error for unclassifiable name")
	}
}

func TestExportAndReadManifest(t *testing.T) {
	srv, e := testServer(t)
	tdir := e.seedSubject(t, "S001", "Male", "Caucasian")
	for _, age := range resolve.Ages {
		p := resolve.CanonicalPath(tdir, resolve.Slot{SubjectID: "S001", Age: age})
		if err := os.WriteFile(p, []byte("img"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	// No manifest before the first export.
	r := callTool(t, srv, "read_manifest", map[string]interface{}{"subject": "S001"})
	if !r.IsError {
		t.Error("expected error before export")
	}

	r = callTool(t, srv, "export_subject", map[string]interface{}{"subject": "S001"})
	if r.IsError {
		t.Fatalf("export error: %s", resultText(r))
	}
	var res manifest.Result
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatal(err)
	}
	if !res.Complete {
		t.Errorf("complete = false, missing = %v", res.MissingAges)
	}

	r = callTool(t, srv, "read_manifest", map[string]interface{}{"subject": "S001"})
	if r.IsError {
		t.Fatalf("read_manifest error: %s", resultText(r))
	}
	var m manifest.Manifest
	if err := json.Unmarshal([]byte(resultText(r)), &m); err != nil {
		t.Fatal(err)
	}
	if m.SubjectID != "S001" || len(m.Images) != len(resolve.Ages) {
		t.Errorf("manifest subject = %s, images = %d", m.SubjectID, len(m.Images))
	}
}

func TestRecentIngestsTool(t *testing.T) {
	srv, e := testServer(t)
	if _, err := e.led.RecordIngest(ledger.IngestRow{
		SubjectID: "S001", Timeline: "A", Age: 20, SHA256: "aa", Bytes: 10,
	}); err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "recent_ingests", map[string]interface{}{"limit": float64(5)})
	if r.IsError {
		t.Fatalf("recent_ingests error: %s", resultText(r))
	}
	var rows []ledger.IngestRow
	if err := json.Unmarshal([]byte(resultText(r)), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].SubjectID != "S001" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestStageImageDataURI(t *testing.T) {
	srv, e := testServer(t)
	data := pngBytes(t, 1)
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)

	r := callTool(t, srv, "stage_image", map[string]interface{}{
		"url":     uri,
		"subject": "s1",
		"age":     float64(45),
	})
	if r.IsError {
		t.Fatalf("stage_image error: %s", resultText(r))
	}
	var res stageResult
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatal(err)
	}
	if res.Filename != "S001_A45.png" {
		t.Errorf("filename = %q", res.Filename)
	}
	staged, err := os.ReadFile(filepath.Join(e.watchDir, res.Filename))
	if err != nil {
		t.Fatalf("staged file: %v", err)
	}
	if !bytes.Equal(staged, data) {
		t.Error("staged bytes differ from source")
	}

	// Same slot again → refused.
	r = callTool(t, srv, "stage_image", map[string]interface{}{
		"url":     uri,
		"subject": "S001",
		"age":     float64(45),
	})
	if !r.IsError {
		t.Error("expected error for duplicate staging")
	}
}

func TestStageImageRejectsOffTimelineAge(t *testing.T) {
	srv, _ := testServer(t)
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, 2))

	r := callTool(t, srv, "stage_image", map[string]interface{}{
		"url":     uri,
		"subject": "S001",
		"age":     float64(42),
	})
	if !r.IsError {
		t.Error("expected error for off-timeline age")
	}
}

func TestStageImageRejectsNonImage(t *testing.T) {
	srv, _ := testServer(t)
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("not an image"))

	r := callTool(t, srv, "stage_image", map[string]interface{}{
		"url":     uri,
		"subject": "S001",
		"age":     float64(45),
	})
	if !r.IsError {
		t.Error("expected error for non-image content")
	}
}

func TestStageImageBlocksLoopback(t *testing.T) {
	srv, _ := testServer(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pngBytes(t, 3))
	}))
	defer ts.Close()

	// httptest binds to 127.0.0.1, which the SSRF guard refuses.
	r := callTool(t, srv, "stage_image", map[string]interface{}{
		"url":     ts.URL,
		"subject": "S001",
		"age":     float64(45),
	})
	if !r.IsError {
		t.Error("expected loopback fetch to be blocked")
	}
	if !strings.Contains(resultText(r), "blocked host") {
		t.Errorf("error = %q, want blocked host", resultText(r))
	}
}
