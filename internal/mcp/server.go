// Package mcp exposes the transcript archive to MCP clients.
//
// Two tools are served via [NewServer]:
//   - "search_transcripts": keyword search across archived live turns.
//   - "recent_transcripts": the latest turns of one live session.
//
// [Handler] mounts the server over the streamable HTTP transport so any
// MCP-capable agent can recall what was said in earlier conversations.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/guru/pkg/memory"
)

const (
	defaultLimit   = 20
	maxLimit       = 200
	defaultMinutes = 60
)

// ─────────────────────────────────────────────────────────────────────────────
// search_transcripts
// ─────────────────────────────────────────────────────────────────────────────

// SearchArgs is the input of the "search_transcripts" tool.
type SearchArgs struct {
	Query     string `json:"query" jsonschema:"words to look for in what was said"`
	SessionID string `json:"session_id,omitempty" jsonschema:"restrict the search to one live session"`
	Role      string `json:"role,omitempty" jsonschema:"user or assistant"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of lines to return (default 20)"`
}

// ─────────────────────────────────────────────────────────────────────────────
// recent_transcripts
// ─────────────────────────────────────────────────────────────────────────────

// RecentArgs is the input of the "recent_transcripts" tool.
type RecentArgs struct {
	SessionID string `json:"session_id" jsonschema:"the live session to read"`
	Minutes   int    `json:"minutes,omitempty" jsonschema:"how far back to read (default 60)"`
}

// Line is one archived transcript line.
type Line struct {
	SessionID string `json:"session_id,omitempty"`
	Speaker   string `json:"speaker"`
	Role      string `json:"role"`
	Text      string `json:"text"`
	Addressed bool   `json:"addressed,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Lines is the output of both tools.
type Lines struct {
	Lines []Line `json:"lines"`
}

// NewServer builds an MCP server whose tools read from store.
func NewServer(store memory.SessionStore, version string) *mcpsdk.Server {
	s := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "guru", Version: version}, nil)

	mcpsdk.AddTool(s, &mcpsdk.Tool{
		Name:        "search_transcripts",
		Description: "Search archived live conversations for lines containing the given words.",
	}, searchHandler(store))

	mcpsdk.AddTool(s, &mcpsdk.Tool{
		Name:        "recent_transcripts",
		Description: "Return the most recent lines of one live conversation.",
	}, recentHandler(store))

	return s
}

// Handler serves s over the streamable HTTP transport.
func Handler(s *mcpsdk.Server) http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s }, nil)
}

func searchHandler(store memory.SessionStore) mcpsdk.ToolHandlerFor[SearchArgs, Lines] {
	return func(ctx context.Context, _ *mcpsdk.CallToolRequest, a SearchArgs) (*mcpsdk.CallToolResult, Lines, error) {
		if strings.TrimSpace(a.Query) == "" {
			return nil, Lines{}, errors.New("search_transcripts: query must not be empty")
		}
		role := memory.Role(a.Role)
		if role != "" && role != memory.RoleUser && role != memory.RoleAssistant {
			return nil, Lines{}, fmt.Errorf("search_transcripts: unknown role %q", a.Role)
		}
		limit := a.Limit
		if limit <= 0 {
			limit = defaultLimit
		}
		entries, err := store.Search(ctx, a.Query, memory.SearchOpts{
			SessionID: a.SessionID,
			Role:      role,
			Limit:     min(limit, maxLimit),
		})
		if err != nil {
			return nil, Lines{}, fmt.Errorf("search_transcripts: %w", err)
		}
		return nil, toLines(entries, ""), nil
	}
}

func recentHandler(store memory.SessionStore) mcpsdk.ToolHandlerFor[RecentArgs, Lines] {
	return func(ctx context.Context, _ *mcpsdk.CallToolRequest, a RecentArgs) (*mcpsdk.CallToolResult, Lines, error) {
		if a.SessionID == "" {
			return nil, Lines{}, errors.New("recent_transcripts: session_id must not be empty")
		}
		minutes := a.Minutes
		if minutes <= 0 {
			minutes = defaultMinutes
		}
		entries, err := store.GetRecent(ctx, a.SessionID, time.Duration(minutes)*time.Minute)
		if err != nil {
			return nil, Lines{}, fmt.Errorf("recent_transcripts: %w", err)
		}
		return nil, toLines(entries, a.SessionID), nil
	}
}

func toLines(entries []memory.TranscriptEntry, sessionID string) Lines {
	out := Lines{Lines: make([]Line, 0, len(entries))}
	for _, e := range entries {
		out.Lines = append(out.Lines, Line{
			SessionID: sessionID,
			Speaker:   e.Speaker,
			Role:      string(e.Role),
			Text:      e.Text,
			Addressed: e.Addressed,
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	return out
}
