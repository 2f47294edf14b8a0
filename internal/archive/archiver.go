// Package archive persists finished live turns to a [memory.SessionStore]
// without ever blocking the bridge's receive loop.
//
// [Archiver] buffers entries in a bounded queue drained by one writer
// goroutine. [Guard] wraps a store so read paths degrade to empty results
// instead of failing while the database is unavailable.
package archive

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/guru/internal/bridge"
	"github.com/MrWong99/guru/internal/observe"
	"github.com/MrWong99/guru/pkg/memory"
)

const (
	defaultQueueSize    = 64
	defaultWriteTimeout = 5 * time.Second
	drainTimeout        = 5 * time.Second
)

type job struct {
	sessionID string
	entry     memory.TranscriptEntry
}

// Option configures an [Archiver].
type Option func(*Archiver)

// WithQueueSize sets the number of entries buffered before new ones are
// dropped. The default is 64.
func WithQueueSize(n int) Option {
	return func(a *Archiver) {
		if n > 0 {
			a.queueSize = n
		}
	}
}

// WithWriteTimeout bounds a single store write. The default is 5s.
func WithWriteTimeout(d time.Duration) Option {
	return func(a *Archiver) {
		if d > 0 {
			a.writeTimeout = d
		}
	}
}

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *Archiver) {
		if l != nil {
			a.log = l
		}
	}
}

// WithMetrics sets the metrics sink. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Archiver) {
		if m != nil {
			a.metrics = m
		}
	}
}

// Archiver writes transcript entries asynchronously. Enqueueing never blocks;
// a full queue drops the entry and logs it. All methods are safe for
// concurrent use.
type Archiver struct {
	store        memory.SessionStore
	queueSize    int
	writeTimeout time.Duration
	log          *slog.Logger
	metrics      *observe.Metrics

	queue   chan job
	dropped atomic.Int64
	written atomic.Int64
}

// New returns an Archiver writing to store. Call [Archiver.Run] to start the
// writer.
func New(store memory.SessionStore, opts ...Option) *Archiver {
	a := &Archiver{
		store:        store,
		queueSize:    defaultQueueSize,
		writeTimeout: defaultWriteTimeout,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.queue = make(chan job, a.queueSize)
	return a
}

// Enqueue queues entry for sessionID. It reports false when the queue is full.
func (a *Archiver) Enqueue(sessionID string, entry memory.TranscriptEntry) bool {
	select {
	case a.queue <- job{sessionID: sessionID, entry: entry}:
		return true
	default:
		a.dropped.Add(1)
		a.metrics.ArchiveErrors.Add(context.Background(), 1, metric.WithAttributes(observe.Attr("reason", "queue_full")))
		a.log.Warn("archive: queue full, dropping transcript entry",
			"session_id", sessionID, "role", entry.Role)
		return false
	}
}

// ArchiveTurn queues the non-empty sides of a finished turn. It has the
// signature of a bridge turn hook.
func (a *Archiver) ArchiveTurn(assistantName string) func(bridge.Turn) {
	return func(t bridge.Turn) {
		for _, e := range TurnEntries(t, assistantName) {
			a.Enqueue(t.SessionID, e)
		}
	}
}

// TurnEntries converts a finished turn into store entries, skipping empty
// sides.
func TurnEntries(t bridge.Turn, assistantName string) []memory.TranscriptEntry {
	var out []memory.TranscriptEntry
	if t.User != "" {
		out = append(out, memory.TranscriptEntry{
			Speaker:   bridge.UserLabel,
			Role:      memory.RoleUser,
			Text:      t.User,
			Addressed: t.Addressed,
			Locale:    t.Locale,
			Timestamp: t.Time,
		})
	}
	if t.Assistant != "" {
		out = append(out, memory.TranscriptEntry{
			Speaker:   assistantName,
			Role:      memory.RoleAssistant,
			Text:      t.Assistant,
			Locale:    t.Locale,
			Timestamp: t.Time,
		})
	}
	return out
}

// Run writes queued entries until ctx is done, then drains what is left
// within a short grace period. It always returns nil.
func (a *Archiver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			a.drain()
			return nil
		case j := <-a.queue:
			a.write(ctx, j)
		}
	}
}

func (a *Archiver) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case j := <-a.queue:
			a.write(ctx, j)
		default:
			return
		}
	}
}

func (a *Archiver) write(parent context.Context, j job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), a.writeTimeout)
	defer cancel()
	if err := a.store.WriteEntry(ctx, j.sessionID, j.entry); err != nil {
		a.metrics.ArchiveErrors.Add(ctx, 1, metric.WithAttributes(observe.Attr("reason", "write")))
		a.log.Warn("archive: write transcript entry",
			"session_id", j.sessionID, "err", err)
		return
	}
	a.written.Add(1)
}

// Stats returns how many entries were written and dropped so far.
func (a *Archiver) Stats() (written, dropped int64) {
	return a.written.Load(), a.dropped.Load()
}
