// Package browser provides an [audio.Devices] implementation backed by a
// browser tab connected over a websocket. The tab owns the physical devices;
// this package speaks a small JSON control protocol to it and turns its
// binary microphone frames into capture blocks.
//
// Protocol (server → tab):
//
//	{"type":"mic_request"}                      ask for microphone access
//	{"type":"mic_stop"}                         release the microphone
//	{"type":"play","id":7,"at":1.25,"rate":24000,"data":"<base64 pcm16>"}
//	{"type":"stop","id":7}                      halt a scheduled unit
//
// Protocol (tab → server):
//
//	{"type":"mic","granted":true,"rate":48000,"channels":1}
//	{"type":"mic","granted":false,"reason":"denied"}
//	binary frames: little-endian float32 samples at the granted rate
//
// The caller owns the websocket read loop and forwards mic replies to
// [Devices.HandleMic] and binary frames to [Devices.HandleAudio].
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/guru/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Devices          = (*Devices)(nil)
	_ audio.CaptureEndpoint  = (*captureEndpoint)(nil)
	_ audio.PlaybackEndpoint = (*playbackEndpoint)(nil)
)

// Message types exchanged with the tab.
const (
	TypeMicRequest = "mic_request"
	TypeMicStop    = "mic_stop"
	TypeMic        = "mic"
	TypePlay       = "play"
	TypeStop       = "stop"
)

// Reasons a tab may give for refusing the microphone.
const (
	ReasonDenied      = "denied"
	ReasonUnavailable = "unavailable"
)

const (
	defaultSendTimeout = 5 * time.Second
	captureBuffer      = 32
)

// Command is a server → tab control message.
type Command struct {
	Type string `json:"type"`
	// ID identifies a playback unit for play and stop.
	ID uint64 `json:"id,omitempty"`
	// At is the scheduled start in seconds on the playback clock.
	At float64 `json:"at,omitempty"`
	// Rate is the sample rate of Data.
	Rate int `json:"rate,omitempty"`
	// Data is base64 16-bit little-endian PCM.
	Data string `json:"data,omitempty"`
}

// MicReply is the tab's answer to a mic_request.
type MicReply struct {
	Granted  bool   `json:"granted"`
	Reason   string `json:"reason,omitempty"`
	Rate     int    `json:"rate,omitempty"`
	Channels int    `json:"channels,omitempty"`
}

// Sender delivers JSON control messages to the tab.
type Sender interface {
	SendJSON(ctx context.Context, v any) error
}

// SenderFunc adapts a function to the [Sender] interface.
type SenderFunc func(ctx context.Context, v any) error

// SendJSON calls f.
func (f SenderFunc) SendJSON(ctx context.Context, v any) error { return f(ctx, v) }

// Option configures [Devices].
type Option func(*Devices)

// WithClock overrides the wall clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Devices) { d.now = now }
}

// WithSendTimeout bounds each control message write. Defaults to 5s.
func WithSendTimeout(t time.Duration) Option {
	return func(d *Devices) { d.sendTimeout = t }
}

// WithMicTimeout bounds how long [Devices.Microphone] waits for the tab to
// answer. A tab that never answers is reported as an unavailable device.
// Zero waits until the context is done.
func WithMicTimeout(t time.Duration) Option {
	return func(d *Devices) { d.micTimeout = t }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Devices) { d.log = l }
}

// Devices implements [audio.Devices] for one browser tab.
//
// Devices is safe for concurrent use.
type Devices struct {
	send        Sender
	now         func() time.Time
	sendTimeout time.Duration
	micTimeout  time.Duration
	log         *slog.Logger

	mu       sync.Mutex
	pending  chan MicReply
	mic      *microphone
	capture  *captureEndpoint
	clientFm audio.Format
}

// New creates Devices that talk to the tab through send.
func New(send Sender, opts ...Option) *Devices {
	d := &Devices{
		send:        send,
		now:         time.Now,
		sendTimeout: defaultSendTimeout,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// OpenCapture implements [audio.Devices].
func (d *Devices) OpenCapture(_ context.Context, sampleRate int) (audio.CaptureEndpoint, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("browser: open capture: invalid sample rate %d", sampleRate)
	}
	c := &captureEndpoint{dev: d, rate: sampleRate}
	d.mu.Lock()
	d.capture = c
	d.mu.Unlock()
	return c, nil
}

// OpenPlayback implements [audio.Devices].
func (d *Devices) OpenPlayback(_ context.Context, sampleRate int) (audio.PlaybackEndpoint, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("browser: open playback: invalid sample rate %d", sampleRate)
	}
	return &playbackEndpoint{dev: d, rate: sampleRate, sources: make(map[uint64]*source)}, nil
}

// Microphone implements [audio.Devices]. It asks the tab for microphone access
// and waits for the reply or ctx cancellation.
func (d *Devices) Microphone(ctx context.Context) (audio.Microphone, error) {
	reply := make(chan MicReply, 1)
	d.mu.Lock()
	d.pending = reply
	d.mu.Unlock()

	if err := d.sendCommand(ctx, Command{Type: TypeMicRequest}); err != nil {
		d.clearPending(reply)
		return nil, fmt.Errorf("browser: request microphone: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	var expired <-chan time.Time
	if d.micTimeout > 0 {
		t := time.NewTimer(d.micTimeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case r := <-reply:
		if !r.Granted {
			if r.Reason == ReasonDenied {
				return nil, audio.ErrPermissionDenied
			}
			return nil, fmt.Errorf("%w: %s", audio.ErrDeviceUnavailable, r.Reason)
		}
		channels := r.Channels
		if channels <= 0 {
			channels = 1
		}
		m := &microphone{dev: d}
		d.mu.Lock()
		d.mic = m
		d.clientFm = audio.Format{SampleRate: r.Rate, Channels: channels}
		d.mu.Unlock()
		return m, nil
	case <-expired:
		d.clearPending(reply)
		return nil, fmt.Errorf("%w: no microphone reply within %s", audio.ErrDeviceUnavailable, d.micTimeout)
	case <-ctx.Done():
		d.clearPending(reply)
		return nil, ctx.Err()
	}
}

// HandleMic delivers the tab's reply to an outstanding microphone request.
// Replies with no request outstanding are ignored.
func (d *Devices) HandleMic(r MicReply) {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()
	if pending == nil {
		d.log.Debug("browser: unsolicited mic reply ignored")
		return
	}
	pending <- r
}

// HandleAudio feeds one binary microphone frame from the tab. Frames arriving
// while no microphone is live or no capture is tapped are discarded.
func (d *Devices) HandleAudio(frame []byte) {
	d.mu.Lock()
	mic, capture, fm := d.mic, d.capture, d.clientFm
	d.mu.Unlock()
	if mic == nil || mic.stopped() || capture == nil {
		return
	}
	if fm.SampleRate <= 0 {
		fm.SampleRate = capture.rate
	}
	capture.feed(audio.BytesToFloat32(frame), fm)
}

func (d *Devices) clearPending(ch chan MicReply) {
	d.mu.Lock()
	if d.pending == ch {
		d.pending = nil
	}
	d.mu.Unlock()
}

func (d *Devices) sendCommand(ctx context.Context, cmd Command) error {
	ctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	return d.send.SendJSON(ctx, cmd)
}

func (d *Devices) releaseMic(m *microphone) {
	d.mu.Lock()
	if d.mic == m {
		d.mic = nil
	}
	d.mu.Unlock()
	if err := d.sendCommand(context.Background(), Command{Type: TypeMicStop}); err != nil {
		d.log.Debug("browser: mic stop not delivered", "err", err)
	}
}

// ─── Microphone ───────────────────────────────────────────────────────────────

type microphone struct {
	dev  *Devices
	once sync.Once
	mu   sync.Mutex
	done bool
}

func (m *microphone) Stop() {
	m.once.Do(func() {
		m.mu.Lock()
		m.done = true
		m.mu.Unlock()
		m.dev.releaseMic(m)
	})
}

func (m *microphone) stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// ─── Capture ──────────────────────────────────────────────────────────────────

type captureEndpoint struct {
	dev  *Devices
	rate int

	mu      sync.Mutex
	out     chan []float32
	conv    *audio.FormatConverter
	blocker *audio.Reblocker
	running bool
	closed  bool
}

func (c *captureEndpoint) SampleRate() int { return c.rate }

func (c *captureEndpoint) Resume(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return audio.ErrDeviceUnavailable
	}
	c.running = true
	return nil
}

func (c *captureEndpoint) Tap(mic audio.Microphone, blockSize int) (<-chan []float32, error) {
	if mic == nil {
		return nil, errors.New("browser: tap: nil microphone")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, audio.ErrDeviceUnavailable
	}
	if c.out != nil {
		return nil, errors.New("browser: tap: already tapped")
	}
	c.out = make(chan []float32, captureBuffer)
	c.conv = &audio.FormatConverter{Target: audio.Format{SampleRate: c.rate, Channels: 1}}
	c.blocker = audio.NewReblocker(blockSize)
	return c.out, nil
}

func (c *captureEndpoint) feed(samples []float32, fm audio.Format) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.running || c.out == nil {
		return
	}
	for _, block := range c.blocker.Write(c.conv.Convert(samples, fm)) {
		select {
		case c.out <- block:
		default:
			c.dev.log.Warn("browser: capture buffer full, dropping block")
		}
	}
}

func (c *captureEndpoint) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.running = false
	if c.out != nil {
		close(c.out)
	}
	c.dev.mu.Lock()
	if c.dev.capture == c {
		c.dev.capture = nil
	}
	c.dev.mu.Unlock()
	return nil
}

// ─── Playback ─────────────────────────────────────────────────────────────────

type playbackEndpoint struct {
	dev  *Devices
	rate int

	mu      sync.Mutex
	epoch   time.Time
	nextID  uint64
	sources map[uint64]*source
	closed  bool
}

func (p *playbackEndpoint) SampleRate() int { return p.rate }

func (p *playbackEndpoint) Resume(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return audio.ErrDeviceUnavailable
	}
	if p.epoch.IsZero() {
		p.epoch = p.dev.now()
	}
	return nil
}

// CurrentTime is the wall time elapsed since Resume; zero before it.
func (p *playbackEndpoint) CurrentTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.epoch.IsZero() {
		return 0
	}
	return p.dev.now().Sub(p.epoch)
}

func (p *playbackEndpoint) Schedule(buf audio.Buffer, at time.Duration) (audio.Source, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, audio.ErrDeviceUnavailable
	}
	p.nextID++
	id := p.nextID
	var now time.Duration
	if !p.epoch.IsZero() {
		now = p.dev.now().Sub(p.epoch)
	}
	s := &source{id: id, ep: p, ended: make(chan struct{})}
	p.sources[id] = s
	p.mu.Unlock()

	blob := audio.EncodeBlob(buf.Samples, buf.SampleRate)
	cmd := Command{Type: TypePlay, ID: id, At: at.Seconds(), Rate: buf.SampleRate, Data: blob.Data}
	if err := p.dev.sendCommand(context.Background(), cmd); err != nil {
		p.forget(id)
		return nil, fmt.Errorf("browser: schedule unit %d: %w", id, err)
	}

	start := max(at, now)
	t := time.AfterFunc(start+buf.Duration()-now, s.finish)
	s.mu.Lock()
	s.timer = t
	s.mu.Unlock()
	return s, nil
}

func (p *playbackEndpoint) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	live := make([]*source, 0, len(p.sources))
	for _, s := range p.sources {
		live = append(live, s)
	}
	p.sources = map[uint64]*source{}
	p.mu.Unlock()

	// The tab keeps playing whatever it already queued unless told otherwise.
	for _, s := range live {
		s.Stop()
	}
	return nil
}

func (p *playbackEndpoint) forget(id uint64) {
	p.mu.Lock()
	delete(p.sources, id)
	p.mu.Unlock()
}

type source struct {
	id    uint64
	ep    *playbackEndpoint
	mu    sync.Mutex
	timer *time.Timer
	once  sync.Once
	ended chan struct{}
}

func (s *source) Ended() <-chan struct{} { return s.ended }

func (s *source) Stop() {
	select {
	case <-s.ended:
		return
	default:
	}
	s.halt()
	if err := s.ep.dev.sendCommand(context.Background(), Command{Type: TypeStop, ID: s.id}); err != nil {
		s.ep.dev.log.Debug("browser: stop not delivered", "id", s.id, "err", err)
	}
}

// halt ends the unit locally without notifying the tab.
func (s *source) halt() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	s.finish()
}

func (s *source) finish() {
	s.once.Do(func() {
		s.ep.forget(s.id)
		close(s.ended)
	})
}
