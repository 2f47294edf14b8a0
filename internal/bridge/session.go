package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/guru/internal/resilience"
	"github.com/MrWong99/guru/pkg/audio"
	"github.com/MrWong99/guru/pkg/provider/s2s"
)

// session holds everything one Begin acquires. Resource fields are written
// under mu while starting and handed to teardown exactly once.
type session struct {
	id     string
	locale string
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	mu       sync.Mutex
	closed   bool
	active   bool
	handle   s2s.SessionHandle
	capture  audio.CaptureEndpoint
	playback audio.PlaybackEndpoint
	mic      audio.Microphone

	// Owned by the receive loop once the session is active.
	sched         *scheduler
	turn          turnBuffer
	decodeBreaker *resilience.CircuitBreaker

	sendQ   chan audio.Blob
	endedCh chan uint64

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// keep runs set unless the session was already torn down, in which case it
// runs release instead and reports false.
func (s *session) keep(set, release func()) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		release()
		return false
	}
	set()
	s.mu.Unlock()
	return true
}

// start marks the session active and runs launch, unless it was already torn
// down. launch runs with mu held.
func (s *session) start(launch func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.active = true
	launch()
	return true
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// release marks the session closed and returns its resources for teardown.
func (s *session) release() (s2s.SessionHandle, audio.CaptureEndpoint, audio.PlaybackEndpoint, audio.Microphone, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.handle, s.capture, s.playback, s.mic, s.active
}
