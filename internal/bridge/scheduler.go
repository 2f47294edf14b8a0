package bridge

import (
	"time"

	"github.com/MrWong99/guru/pkg/audio"
)

// scheduler places decoded playback units back to back on the playback
// clock and tracks the ones still in flight. It is owned by the receive loop
// and is not safe for concurrent use.
type scheduler struct {
	playback audio.PlaybackEndpoint
	cursor   time.Duration
	nextID   uint64
	inFlight map[uint64]audio.Source
}

func newScheduler(pb audio.PlaybackEndpoint) *scheduler {
	return &scheduler{playback: pb, inFlight: make(map[uint64]audio.Source)}
}

// schedule starts buf at max(cursor, clock) and advances the cursor by its
// duration.
func (s *scheduler) schedule(buf audio.Buffer) (uint64, audio.Source, error) {
	start := max(s.cursor, s.playback.CurrentTime())
	src, err := s.playback.Schedule(buf, start)
	if err != nil {
		return 0, nil, err
	}
	s.cursor = start + buf.Duration()
	s.nextID++
	s.inFlight[s.nextID] = src
	return s.nextID, src, nil
}

// ended removes a naturally finished unit. It reports false when the unit
// was already force-stopped.
func (s *scheduler) ended(id uint64) bool {
	if _, ok := s.inFlight[id]; !ok {
		return false
	}
	delete(s.inFlight, id)
	return true
}

// stopAll force-stops every unit in flight, clears the set, and rewinds the
// cursor. It returns how many units were stopped.
func (s *scheduler) stopAll() int {
	n := len(s.inFlight)
	for id, src := range s.inFlight {
		src.Stop()
		delete(s.inFlight, id)
	}
	s.cursor = 0
	return n
}

func (s *scheduler) pending() int { return len(s.inFlight) }
