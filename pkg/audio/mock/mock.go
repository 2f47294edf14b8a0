// Package mock provides in-memory implementations of [audio.Devices],
// [audio.CaptureEndpoint], and [audio.PlaybackEndpoint] for unit tests.
//
// All mocks are safe for concurrent use. They record calls so tests can assert
// on them, and expose exported fields that control return values. The playback
// endpoint runs on a manual clock advanced with [Playback.Advance].
//
// Typical usage:
//
//	devs := mock.NewDevices()
//	devs.MicrophoneErr = audio.ErrPermissionDenied
//	_, err := devs.Microphone(ctx)
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/guru/pkg/audio"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// StopCount records how many times Stop was called.
	StopCount int
}

// Stop implements [audio.Microphone].
func (m *Microphone) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StopCount++
}

// Stops returns the number of Stop calls.
func (m *Microphone) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StopCount
}

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.CaptureEndpoint]. Blocks pushed
// with [Capture.Push] are delivered on the channel returned by Tap.
type Capture struct {
	mu sync.Mutex

	// Rate is returned by SampleRate.
	Rate int

	// ResumeErr, TapErr, and CloseErr are returned by the matching methods.
	ResumeErr error
	TapErr    error
	CloseErr  error

	// ResumeCount, CloseCount record method calls.
	ResumeCount int
	CloseCount  int

	// BlockSize is the blockSize passed to the last Tap call.
	BlockSize int

	blocks chan []float32
	closed bool
}

// SampleRate implements [audio.Endpoint].
func (c *Capture) SampleRate() int { return c.Rate }

// Resume implements [audio.Endpoint].
func (c *Capture) Resume(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ResumeCount++
	return c.ResumeErr
}

// Close implements [audio.Endpoint]. The tap channel is closed on the first call.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCount++
	if !c.closed {
		c.closed = true
		if c.blocks != nil {
			close(c.blocks)
		}
	}
	return c.CloseErr
}

// Tap implements [audio.CaptureEndpoint].
func (c *Capture) Tap(_ audio.Microphone, blockSize int) (<-chan []float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.TapErr != nil {
		return nil, c.TapErr
	}
	c.BlockSize = blockSize
	c.blocks = make(chan []float32, 64)
	if c.closed {
		close(c.blocks)
	}
	return c.blocks, nil
}

// Push delivers a captured block. It reports false if the endpoint is not
// tapped or already closed.
func (c *Capture) Push(block []float32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blocks == nil || c.closed {
		return false
	}
	c.blocks <- block
	return true
}

// Closes returns the number of Close calls.
func (c *Capture) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CloseCount
}

// Tapped reports whether Tap has been called successfully.
func (c *Capture) Tapped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks != nil
}

// ─── Playback ─────────────────────────────────────────────────────────────────

// ScheduleCall records one [Playback.Schedule] invocation.
type ScheduleCall struct {
	Buffer audio.Buffer
	At     time.Duration
}

// Source is a mock [audio.Source]. It ends when the manual clock passes its
// end time or when stopped.
type Source struct {
	start, end time.Duration

	once    sync.Once
	ended   chan struct{}
	mu      sync.Mutex
	stopped bool
}

// Stop implements [audio.Source].
func (s *Source) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.finish()
}

// Ended implements [audio.Source].
func (s *Source) Ended() <-chan struct{} { return s.ended }

// Stopped reports whether Stop was called.
func (s *Source) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Start returns the scheduled start time.
func (s *Source) Start() time.Duration { return s.start }

func (s *Source) finish() { s.once.Do(func() { close(s.ended) }) }

// Playback is a mock implementation of [audio.PlaybackEndpoint] with a
// manual clock.
type Playback struct {
	mu sync.Mutex

	// Rate is returned by SampleRate.
	Rate int

	// ResumeErr, ScheduleErr, and CloseErr are returned by the matching methods.
	ResumeErr   error
	ScheduleErr error
	CloseErr    error

	// ResumeCount and CloseCount record method calls.
	ResumeCount int
	CloseCount  int

	// ScheduleCalls records every successful Schedule call in order.
	ScheduleCalls []ScheduleCall

	now     time.Duration
	sources []*Source
	all     []*Source
}

// SampleRate implements [audio.Endpoint].
func (p *Playback) SampleRate() int { return p.Rate }

// Resume implements [audio.Endpoint].
func (p *Playback) Resume(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ResumeCount++
	return p.ResumeErr
}

// Close implements [audio.Endpoint].
func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCount++
	return p.CloseErr
}

// CurrentTime implements [audio.PlaybackEndpoint].
func (p *Playback) CurrentTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

// Schedule implements [audio.PlaybackEndpoint].
func (p *Playback) Schedule(buf audio.Buffer, at time.Duration) (audio.Source, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ScheduleErr != nil {
		return nil, p.ScheduleErr
	}
	p.ScheduleCalls = append(p.ScheduleCalls, ScheduleCall{Buffer: buf, At: at})
	src := &Source{start: at, end: at + buf.Duration(), ended: make(chan struct{})}
	p.sources = append(p.sources, src)
	p.all = append(p.all, src)
	return src, nil
}

// Advance moves the clock forward by d and ends every source whose end time
// has been reached, earliest first.
func (p *Playback) Advance(d time.Duration) {
	p.mu.Lock()
	p.now += d
	now := p.now
	var done []*Source
	kept := p.sources[:0]
	for _, s := range p.sources {
		if s.end <= now {
			done = append(done, s)
		} else {
			kept = append(kept, s)
		}
	}
	p.sources = kept
	p.mu.Unlock()

	sort.Slice(done, func(i, j int) bool { return done[i].end < done[j].end })
	for _, s := range done {
		s.finish()
	}
}

// Calls returns a copy of the recorded Schedule calls.
func (p *Playback) Calls() []ScheduleCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ScheduleCall, len(p.ScheduleCalls))
	copy(out, p.ScheduleCalls)
	return out
}

// Sources returns every source handed out so far, including ended ones.
func (p *Playback) Sources() []*Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Source, len(p.all))
	copy(out, p.all)
	return out
}

// Closes returns the number of Close calls.
func (p *Playback) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CloseCount
}

// ─── Devices ──────────────────────────────────────────────────────────────────

// Devices is a mock implementation of [audio.Devices]. By default it hands out
// the Capture, Playback, and Mic values it was built with.
type Devices struct {
	mu sync.Mutex

	Capture  *Capture
	Playback *Playback
	Mic      *Microphone

	// OpenCaptureErr, OpenPlaybackErr, and MicrophoneErr are returned by the
	// matching methods when non-nil.
	OpenCaptureErr  error
	OpenPlaybackErr error
	MicrophoneErr   error

	// MicrophoneBlock, if non-nil, makes Microphone wait until it is closed or
	// the context is cancelled.
	MicrophoneBlock chan struct{}

	// CaptureRates and PlaybackRates record the requested sample rates.
	CaptureRates  []int
	PlaybackRates []int

	// MicrophoneCount records how many times Microphone was called.
	MicrophoneCount int
}

// NewDevices returns Devices with fresh endpoints and microphone.
func NewDevices() *Devices {
	return &Devices{
		Capture:  &Capture{},
		Playback: &Playback{},
		Mic:      &Microphone{},
	}
}

// OpenCapture implements [audio.Devices].
func (d *Devices) OpenCapture(_ context.Context, sampleRate int) (audio.CaptureEndpoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CaptureRates = append(d.CaptureRates, sampleRate)
	if d.OpenCaptureErr != nil {
		return nil, d.OpenCaptureErr
	}
	d.Capture.mu.Lock()
	d.Capture.Rate = sampleRate
	d.Capture.mu.Unlock()
	return d.Capture, nil
}

// OpenPlayback implements [audio.Devices].
func (d *Devices) OpenPlayback(_ context.Context, sampleRate int) (audio.PlaybackEndpoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.PlaybackRates = append(d.PlaybackRates, sampleRate)
	if d.OpenPlaybackErr != nil {
		return nil, d.OpenPlaybackErr
	}
	d.Playback.mu.Lock()
	d.Playback.Rate = sampleRate
	d.Playback.mu.Unlock()
	return d.Playback, nil
}

// Microphone implements [audio.Devices].
func (d *Devices) Microphone(ctx context.Context) (audio.Microphone, error) {
	d.mu.Lock()
	d.MicrophoneCount++
	block := d.MicrophoneBlock
	err := d.MicrophoneErr
	mic := d.Mic
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return mic, nil
}

// Compile-time interface assertions.
var (
	_ audio.Devices          = (*Devices)(nil)
	_ audio.CaptureEndpoint  = (*Capture)(nil)
	_ audio.PlaybackEndpoint = (*Playback)(nil)
	_ audio.Microphone       = (*Microphone)(nil)
	_ audio.Source           = (*Source)(nil)
)
