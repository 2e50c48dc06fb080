// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the A360 ingestion pipeline to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ez3davatars/A360-Aging-UI/internal/api"
	"github.com/ez3davatars/A360-Aging-UI/internal/resolve"
	"github.com/ez3davatars/A360-Aging-UI/internal/subject"
)

// Server wraps the MCP server with A360 pipeline tools.
type Server struct {
	mcp      *server.MCPServer
	svc      *api.Service
	watchDir string
}

// New creates a new MCP server with all A360 tools registered. watchDir is
// where stage_image drops files for the watcher to pick up.
func New(svc *api.Service, watchDir string) *Server {
	s := &Server{svc: svc, watchDir: watchDir}

	s.mcp = server.NewMCPServer(
		"A360",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_subjects",
		mcp.WithDescription("List all registered subjects with their stored-slot counts."),
	), s.listSubjects)

	s.mcp.AddTool(mcp.NewTool("subject_status",
		mcp.WithDescription("Get one subject's registry row and the state of all eleven "+
			"timeline slots (WAITING/DETECTED/VALIDATED/INGESTING/STORED/ERROR)."),
		mcp.WithString("subject", mcp.Required(), mcp.Description("Subject reference (S001, s1, 1)")),
	), s.subjectStatus)

	s.mcp.AddTool(mcp.NewTool("read_manifest",
		mcp.WithDescription("Read a subject's export manifest. Fails if no manifest was "+
			"generated yet; run export_subject first."),
		mcp.WithString("subject", mcp.Required(), mcp.Description("Subject reference")),
	), s.readManifest)

	s.mcp.AddTool(mcp.NewTool("classify_filename",
		mcp.WithDescription("Classify a generator output filename into a subject/age slot. "+
			"Accepts S004_A45_00001_.png and legacy subject004_age045 forms."),
		mcp.WithString("filename", mcp.Required(), mcp.Description("Bare filename or path")),
	), s.classifyFilename)

	s.mcp.AddTool(mcp.NewTool("export_subject",
		mcp.WithDescription("Assemble the subject manifest and, when all eleven slots are "+
			"stored, the export zip archive."),
		mcp.WithString("subject", mcp.Required(), mcp.Description("Subject reference")),
	), s.exportSubject)

	s.mcp.AddTool(mcp.NewTool("recent_ingests",
		mcp.WithDescription("List recent ingest ledger entries, newest first."),
		mcp.WithNumber("limit", mcp.Description("Max rows (default 50)")),
	), s.recentIngests)

	s.mcp.AddTool(mcp.NewTool("stage_image",
		mcp.WithDescription("Download an image (http/https URL or base64 data URI) and stage "+
			"it in the watch folder under a classifiable name so the ingestion watcher picks "+
			"it up. The pipeline validates, renames, and files it into the subject's timeline."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Image URL or data URI")),
		mcp.WithString("subject", mcp.Required(), mcp.Description("Subject reference")),
		mcp.WithNumber("age", mcp.Required(), mcp.Description("Timeline age (20..70 in steps of 5)")),
	), s.stageImage)

	// Resource: the event contract pushed over the websocket channel.
	s.mcp.AddResource(
		mcp.NewResource("a360://event-schema", "Ingestion Event Schema",
			mcp.WithResourceDescription("JSON event contract emitted for every slot transition."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readEventSchemaResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listSubjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := s.svc.ListSubjects(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(items, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) subjectStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := subjectArg(req)
	if errResult != nil {
		return errResult, nil
	}
	detail, err := s.svc.GetSubject(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("subject %s: %v", id, err)), nil
	}
	out, _ := json.MarshalIndent(detail, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readManifest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := subjectArg(req)
	if errResult != nil {
		return errResult, nil
	}
	detail, err := s.svc.GetSubject(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("subject %s: %v", id, err)), nil
	}
	if detail.Manifest == nil {
		return mcp.NewToolResultError(fmt.Sprintf("no manifest for %s; run export_subject first", id)), nil
	}
	out, _ := json.MarshalIndent(detail.Manifest, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) classifyFilename(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("filename")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	slot, ok := resolve.Classify(name)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unclassifiable filename: %s", name)), nil
	}
	out, _ := json.Marshal(map[string]any{
		"subject_id":         slot.SubjectID,
		"age":                slot.Age,
		"image":              slot.Label(),
		"canonical_filename": resolve.CanonicalFilename(slot),
	})
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) exportSubject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := subjectArg(req)
	if errResult != nil {
		return errResult, nil
	}
	res, err := s.svc.Export(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("export %s: %v", id, err)), nil
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) recentIngests(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := 0
	if f, err := req.RequireFloat("limit"); err == nil {
		limit = int(math.Round(f))
	}
	rows, err := s.svc.Ingests(limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(rows, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readEventSchemaResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "a360://event-schema",
			MIMEType: "text/markdown",
			Text:     EventSchemaContract,
		},
	}, nil
}

// subjectArg extracts and canonicalizes the subject reference argument.
func subjectArg(req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	raw, err := req.RequireString("subject")
	if err != nil {
		return "", mcp.NewToolResultError(err.Error())
	}
	id, _, _, err := subject.ParseID(raw)
	if err != nil {
		return "", mcp.NewToolResultError(fmt.Sprintf("invalid subject reference %q", raw))
	}
	return id, nil
}
