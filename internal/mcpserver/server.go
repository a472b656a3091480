// Package mcpserver exposes the recording catalog and session journals as
// read-only MCP tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/expressionlab/expression/internal/db"
	"github.com/expressionlab/expression/internal/journal"
)

// Name and Version identify the server to clients.
const (
	Name    = "expression-catalog"
	Version = "0.1.0"
)

const defaultLimit = 20

// Catalog is the read side of the session catalog.
type Catalog interface {
	Sessions(limit int) ([]db.Session, error)
	SessionByName(name string) (*db.Session, error)
	LatestSession() (*db.Session, error)
	SegmentsForSession(sessionID string) ([]db.Segment, error)
}

// Handlers implements the tools over a catalog.
type Handlers struct {
	Catalog Catalog
	// ReadJournal loads the events of a session directory.
	ReadJournal func(dir string) ([]journal.Event, error)
}

// New builds the MCP server with all tools registered.
func New(c Catalog) *server.MCPServer {
	h := &Handlers{Catalog: c, ReadJournal: journal.ReadFile}

	s := server.NewMCPServer(Name, Version, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List recording sessions, newest first"),
		mcp.WithNumber("limit", mcp.Description("Maximum sessions to return (default 20)")),
	), h.ListSessions)

	s.AddTool(mcp.NewTool("list_segments",
		mcp.WithDescription("List the video segments recorded in a session, by phase and presentation order"),
		mcp.WithString("session", mcp.Description("Session folder name, e.g. Grabacion_20250601_100000 (default: latest)")),
	), h.ListSegments)

	s.AddTool(mcp.NewTool("session_events",
		mcp.WithDescription("Read the event journal of a session: phases, stimulus onsets, segments and errors"),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session folder name")),
	), h.SessionEvents)

	return s
}

type sessionView struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Root      string     `json:"root"`
	Status    string     `json:"status"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

type segmentView struct {
	Phase        int    `json:"phase"`
	Sequence     int    `json:"sequence"`
	Stimulus     string `json:"stimulus"`
	Path         string `json:"path"`
	Frames       int    `json:"frames"`
	TargetFrames int    `json:"targetFrames"`
	ElapsedMs    int64  `json:"elapsedMs"`
	Partial      bool   `json:"partial,omitempty"`
	Canceled     bool   `json:"canceled,omitempty"`
}

type segmentsView struct {
	Session  sessionView   `json:"session"`
	Partial  int           `json:"partial"`
	Segments []segmentView `json:"segments"`
}

func toSessionView(s db.Session) sessionView {
	return sessionView{
		ID:        s.ID,
		Name:      s.Name,
		Root:      s.Root,
		Status:    s.Status,
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt,
	}
}

// ListSessions handles list_sessions.
func (h *Handlers) ListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	sessions, err := h.Catalog.Sessions(limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query sessions: %v", err)), nil
	}
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, toSessionView(s))
	}
	return jsonResult(views)
}

// ListSegments handles list_segments.
func (h *Handlers) ListSegments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("session", "")
	sess, err := h.lookup(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	segments, err := h.Catalog.SegmentsForSession(sess.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query segments: %v", err)), nil
	}
	out := segmentsView{Session: toSessionView(*sess), Segments: make([]segmentView, 0, len(segments))}
	for _, seg := range segments {
		if seg.Partial {
			out.Partial++
		}
		out.Segments = append(out.Segments, segmentView{
			Phase:        seg.Phase,
			Sequence:     seg.SequenceNumber,
			Stimulus:     seg.Stimulus,
			Path:         seg.Path,
			Frames:       seg.Frames,
			TargetFrames: seg.TargetFrames,
			ElapsedMs:    seg.Elapsed.Milliseconds(),
			Partial:      seg.Partial,
			Canceled:     seg.Canceled,
		})
	}
	return jsonResult(out)
}

// SessionEvents handles session_events.
func (h *Handlers) SessionEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("session")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sess, err := h.lookup(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	events, err := h.ReadJournal(sess.Root)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read journal: %v", err)), nil
	}
	return jsonResult(events)
}

// lookup resolves a session by name, or the latest one when name is empty.
func (h *Handlers) lookup(name string) (*db.Session, error) {
	var (
		sess *db.Session
		err  error
	)
	if name == "" {
		sess, err = h.Catalog.LatestSession()
	} else {
		sess, err = h.Catalog.SessionByName(name)
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	if sess == nil {
		if name == "" {
			return nil, fmt.Errorf("no sessions recorded")
		}
		return nil, fmt.Errorf("session %q not found", name)
	}
	return sess, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
