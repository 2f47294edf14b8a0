package archive

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/guru/pkg/memory"
)

// Guard wraps a [memory.SessionStore] and makes all operations non-fatal.
// If the underlying store fails, operations return empty results and log
// warnings instead of propagating errors.
//
// This keeps live sessions and the transcript API working while the database
// is restarting or unreachable. [Guard.IsDegraded] reports whether the most
// recent operation failed.
//
// All methods are safe for concurrent use.
type Guard struct {
	store    memory.SessionStore
	log      *slog.Logger
	degraded atomic.Bool
}

// NewGuard creates a [Guard] wrapping store. A nil logger uses [slog.Default].
func NewGuard(store memory.SessionStore, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{store: store, log: log}
}

// WriteEntry attempts to write an entry to the underlying store. On failure
// the error is logged and swallowed and the store is marked as degraded.
func (g *Guard) WriteEntry(ctx context.Context, sessionID string, entry memory.TranscriptEntry) error {
	if err := g.store.WriteEntry(ctx, sessionID, entry); err != nil {
		g.degraded.Store(true)
		g.log.Warn("archive: write entry failed, swallowing error", "session_id", sessionID, "err", err)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// GetRecent attempts to read recent entries from the underlying store.
// On failure an empty slice is returned.
func (g *Guard) GetRecent(ctx context.Context, sessionID string, duration time.Duration) ([]memory.TranscriptEntry, error) {
	entries, err := g.store.GetRecent(ctx, sessionID, duration)
	if err != nil {
		g.degraded.Store(true)
		g.log.Warn("archive: get recent failed, returning empty",
			"session_id", sessionID, "duration", duration, "err", err)
		return []memory.TranscriptEntry{}, nil
	}
	g.degraded.Store(false)
	return entries, nil
}

// Search attempts a keyword search over stored entries. On failure an empty
// slice is returned.
func (g *Guard) Search(ctx context.Context, query string, opts memory.SearchOpts) ([]memory.TranscriptEntry, error) {
	entries, err := g.store.Search(ctx, query, opts)
	if err != nil {
		g.degraded.Store(true)
		g.log.Warn("archive: search failed, returning empty", "query", query, "err", err)
		return []memory.TranscriptEntry{}, nil
	}
	g.degraded.Store(false)
	return entries, nil
}

// IsDegraded reports whether the most recent operation on the underlying
// store failed.
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}

// Compile-time check that Guard satisfies memory.SessionStore.
var _ memory.SessionStore = (*Guard)(nil)
