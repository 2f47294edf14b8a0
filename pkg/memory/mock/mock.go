// Package mock provides a scriptable [memory.SessionStore] for tests.
//
//	store := &mock.SessionStore{SearchResult: []memory.TranscriptEntry{{Text: "hi"}}}
//	// ... exercise code that archives or queries transcripts ...
//	if n := store.CallCount("WriteEntry"); n != 1 { ... }
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/guru/pkg/memory"
)

// SessionStore answers with the configured results and errors and remembers
// what it was asked. Failed writes are counted but not kept.
type SessionStore struct {
	WriteEntryErr error

	GetRecentResult []memory.TranscriptEntry
	GetRecentErr    error

	SearchResult []memory.TranscriptEntry
	SearchErr    error

	mu      sync.Mutex
	counts  map[string]int
	written map[string][]memory.TranscriptEntry
	queries []string
}

var _ memory.SessionStore = (*SessionStore)(nil)

func (m *SessionStore) record(method string) {
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[method]++
}

// CallCount reports how often method ("WriteEntry", "GetRecent" or
// "Search") was invoked.
func (m *SessionStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[method]
}

// Entries returns the entries successfully written for sessionID, oldest
// first.
func (m *SessionStore) Entries(sessionID string) []memory.TranscriptEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.written[sessionID])
}

// Queries returns every Search query in call order.
func (m *SessionStore) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.queries)
}

// WriteEntry implements [memory.SessionStore].
func (m *SessionStore) WriteEntry(_ context.Context, sessionID string, entry memory.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("WriteEntry")
	if m.WriteEntryErr != nil {
		return m.WriteEntryErr
	}
	if m.written == nil {
		m.written = make(map[string][]memory.TranscriptEntry)
	}
	m.written[sessionID] = append(m.written[sessionID], entry)
	return nil
}

// GetRecent implements [memory.SessionStore]. The window is ignored.
func (m *SessionStore) GetRecent(_ context.Context, _ string, _ time.Duration) ([]memory.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetRecent")
	return cloneOrEmpty(m.GetRecentResult), m.GetRecentErr
}

// Search implements [memory.SessionStore]. Options are ignored.
func (m *SessionStore) Search(_ context.Context, query string, _ memory.SearchOpts) ([]memory.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Search")
	m.queries = append(m.queries, query)
	return cloneOrEmpty(m.SearchResult), m.SearchErr
}

func cloneOrEmpty(in []memory.TranscriptEntry) []memory.TranscriptEntry {
	if in == nil {
		return []memory.TranscriptEntry{}
	}
	return slices.Clone(in)
}
