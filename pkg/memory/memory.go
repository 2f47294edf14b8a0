// Package memory archives finished conversation turns.
//
// A [SessionStore] is a time-ordered transcript log keyed by live session ID.
// It supports fast appends while a session is active and recency or keyword
// retrieval afterwards. Two implementations ship with the module: [InMemory]
// for single-process deployments and tests, and the PostgreSQL store in
// [github.com/MrWong99/guru/pkg/memory/postgres].
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// Role identifies which side of the conversation produced an entry.
type Role string

const (
	// RoleUser marks a line spoken by the person at the microphone.
	RoleUser Role = "user"

	// RoleAssistant marks a line spoken by the assistant.
	RoleAssistant Role = "assistant"
)

// TranscriptEntry is a single finished line of a live conversation.
type TranscriptEntry struct {
	// Speaker is the display label ("You" or the assistant's name).
	Speaker string

	// Role is the side that produced the line.
	Role Role

	// Text is the accumulated transcript for the turn.
	Text string

	// Addressed reports whether a user line called the assistant by name.
	// Always false for assistant lines.
	Addressed bool

	// Locale is the BCP 47 tag the client announced for the session.
	Locale string

	// Timestamp is when the turn completed.
	Timestamp time.Time
}

// SearchOpts configures a keyword search over archived entries.
// All non-zero fields are applied as AND conditions.
type SearchOpts struct {
	// SessionID restricts the search to a single session.
	// An empty string searches across all sessions.
	SessionID string

	// After filters entries recorded after this instant (exclusive).
	// A zero Time disables the lower bound.
	After time.Time

	// Before filters entries recorded before this instant (exclusive).
	// A zero Time disables the upper bound.
	Before time.Time

	// Role restricts results to one side of the conversation.
	Role Role

	// Limit caps the number of results returned.
	// A value of 0 means the implementation may apply its own default.
	Limit int
}

// SessionStore is the transcript archive.
type SessionStore interface {
	// WriteEntry appends entry to the log of sessionID.
	WriteEntry(ctx context.Context, sessionID string, entry TranscriptEntry) error

	// GetRecent returns all entries of sessionID recorded within the last
	// duration, oldest first. Returns an empty (non-nil) slice when nothing
	// matches.
	GetRecent(ctx context.Context, sessionID string, duration time.Duration) ([]TranscriptEntry, error)

	// Search returns entries whose text contains every word of query,
	// oldest first, filtered by opts. Returns an empty (non-nil) slice when
	// nothing matches.
	Search(ctx context.Context, query string, opts SearchOpts) ([]TranscriptEntry, error)
}
