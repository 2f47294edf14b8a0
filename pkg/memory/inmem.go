package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

var _ SessionStore = (*InMemory)(nil)

// InMemory is a [SessionStore] that keeps everything in process memory.
// The zero value is not usable; construct with [NewInMemory].
type InMemory struct {
	mu       sync.RWMutex
	sessions map[string][]TranscriptEntry
	now      func() time.Time
}

// InMemoryOption configures an [InMemory] store.
type InMemoryOption func(*InMemory)

// WithClock replaces time.Now as the reference for [InMemory.GetRecent].
func WithClock(now func() time.Time) InMemoryOption {
	return func(s *InMemory) {
		s.now = now
	}
}

// NewInMemory returns an empty in-memory store.
func NewInMemory(opts ...InMemoryOption) *InMemory {
	s := &InMemory{
		sessions: make(map[string][]TranscriptEntry),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// WriteEntry implements [SessionStore].
func (s *InMemory) WriteEntry(_ context.Context, sessionID string, entry TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], entry)
	return nil
}

// GetRecent implements [SessionStore].
func (s *InMemory) GetRecent(_ context.Context, sessionID string, duration time.Duration) ([]TranscriptEntry, error) {
	cutoff := s.now().Add(-duration)

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []TranscriptEntry{}
	for _, e := range s.sessions[sessionID] {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Search implements [SessionStore]. Matching is a case-insensitive substring
// test for every whitespace-separated word in query.
func (s *InMemory) Search(_ context.Context, query string, opts SearchOpts) ([]TranscriptEntry, error) {
	words := strings.Fields(strings.ToLower(query))

	s.mu.RLock()
	var candidates []TranscriptEntry
	if opts.SessionID != "" {
		candidates = append(candidates, s.sessions[opts.SessionID]...)
	} else {
		for _, entries := range s.sessions {
			candidates = append(candidates, entries...)
		}
	}
	s.mu.RUnlock()

	out := []TranscriptEntry{}
	for _, e := range candidates {
		if matches(e, words, opts) {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b TranscriptEntry) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func matches(e TranscriptEntry, words []string, opts SearchOpts) bool {
	if !opts.After.IsZero() && !e.Timestamp.After(opts.After) {
		return false
	}
	if !opts.Before.IsZero() && !e.Timestamp.Before(opts.Before) {
		return false
	}
	if opts.Role != "" && e.Role != opts.Role {
		return false
	}
	text := strings.ToLower(e.Text)
	for _, w := range words {
		if !strings.Contains(text, w) {
			return false
		}
	}
	return true
}
