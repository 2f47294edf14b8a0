// Package bridge connects a pair of audio endpoints to a realtime
// speech-to-speech model session.
//
// A [Bridge] owns at most one session at a time and moves through
// Idle → Connecting → Active → Idle. Microphone blocks are encoded and queued
// for a single sender goroutine so capture never waits on the network.
// Inbound audio is decoded and scheduled gaplessly on the playback clock: each
// unit starts at max(cursor, clock) and pushes the cursor forward by its
// duration. Interruptions stop everything still queued and rewind the cursor.
//
// Every failure and every stop runs the same teardown, which is idempotent.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/guru/internal/observe"
	"github.com/MrWong99/guru/internal/resilience"
	"github.com/MrWong99/guru/internal/transcript/phonetic"
	"github.com/MrWong99/guru/pkg/audio"
	"github.com/MrWong99/guru/pkg/provider/s2s"
)

const (
	defaultInputRate  = 16000
	defaultOutputRate = 24000
	defaultBlockSize  = 4096
	defaultSendQueue  = 32

	// decodeResetTimeout keeps a tripped decode breaker open for the rest of
	// the session.
	decodeResetTimeout = 24 * time.Hour
)

// Config is the per-bridge session configuration.
type Config struct {
	// Model overrides the provider's default model.
	Model string

	// Voice is the prebuilt voice name.
	Voice string

	// Instructions is the persona prompt.
	Instructions string

	// AssistantName labels assistant lines in the transcript.
	AssistantName string

	// InputSampleRate and OutputSampleRate default to 16000 and 24000.
	InputSampleRate  int
	OutputSampleRate int

	// BlockSize is the number of samples per outbound frame. Default 4096.
	BlockSize int

	// SendQueue is the outbound frame queue capacity. Default 32.
	SendQueue int

	// TranscriptLines caps the transcript log. Default 50.
	TranscriptLines int

	// DecodeFailureLimit ends the session after that many consecutive
	// undecodable audio chunks. Zero never ends it.
	DecodeFailureLimit int
}

func (c *Config) applyDefaults() {
	if c.InputSampleRate <= 0 {
		c.InputSampleRate = defaultInputRate
	}
	if c.OutputSampleRate <= 0 {
		c.OutputSampleRate = defaultOutputRate
	}
	if c.BlockSize <= 0 {
		c.BlockSize = defaultBlockSize
	}
	if c.SendQueue <= 0 {
		c.SendQueue = defaultSendQueue
	}
	if c.AssistantName == "" {
		c.AssistantName = "Assistant"
	}
}

// Turn is one finished exchange, published on turn-complete.
type Turn struct {
	SessionID string
	Locale    string

	// User and Assistant are the raw accumulated texts; either may be empty.
	User      string
	Assistant string

	// Lines are the two transcript lines appended for this turn.
	Lines [2]string

	// Addressed reports whether the user called the assistant by name.
	Addressed bool

	// WakeWord is the word heard as the assistant's name, if any.
	WakeWord string

	Time time.Time
}

// Option is a functional option for [New].
type Option func(*Bridge)

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

// WithMetrics sets the metrics sink. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithDetector enables wake-name detection on finished user lines.
func WithDetector(d *phonetic.Detector) Option {
	return func(b *Bridge) { b.detector = d }
}

// WithStateHook registers fn to receive every state change. Hooks run
// serially and must not block.
func WithStateHook(fn func(Status)) Option {
	return func(b *Bridge) {
		if fn != nil {
			b.stateHooks = append(b.stateHooks, fn)
		}
	}
}

// WithTurnHook registers fn to receive every finished turn. Hooks run on the
// receive loop and must not block.
func WithTurnHook(fn func(Turn)) Option {
	return func(b *Bridge) {
		if fn != nil {
			b.turnHooks = append(b.turnHooks, fn)
		}
	}
}

// WithClock overrides the wall clock used for turn timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		if now != nil {
			b.now = now
		}
	}
}

// Bridge drives one realtime session at a time. It is safe for concurrent use.
type Bridge struct {
	provider s2s.Provider
	devices  audio.Devices
	cfg      Config

	log        *slog.Logger
	metrics    *observe.Metrics
	detector   *phonetic.Detector
	stateHooks []func(Status)
	turnHooks  []func(Turn)
	now        func() time.Time

	transcript *Transcript

	mu      sync.Mutex
	state   State
	lastErr *UserError
	lastID  string
	sess    *session

	hookMu sync.Mutex
}

// New returns an idle Bridge that opens sessions on provider and endpoints on
// devices.
func New(provider s2s.Provider, devices audio.Devices, cfg Config, opts ...Option) *Bridge {
	cfg.applyDefaults()
	b := &Bridge{
		provider: provider,
		devices:  devices,
		cfg:      cfg,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	b.transcript = NewTranscript(cfg.TranscriptLines)
	return b
}

// Status returns the current state snapshot.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusLocked()
}

func (b *Bridge) statusLocked() Status {
	return Status{State: b.state, Error: b.lastErr, SessionID: b.lastID}
}

// Transcript returns the transcript log shared by all sessions of b.
func (b *Bridge) Transcript() *Transcript { return b.transcript }

// Config returns the effective configuration.
func (b *Bridge) Config() Config { return b.cfg }

// Begin opens the devices and the model session and starts streaming. It
// blocks until the session is active or the attempt failed. locale selects
// the language of user-facing error messages.
//
// The session runs until [Bridge.End] is called, the remote side closes it,
// or ctx is done. Begin returns [ErrBusy] unless the bridge is idle, a
// *[UserError] when devices or the handshake fail, and [ErrStopped] when End
// was called first.
func (b *Bridge) Begin(ctx context.Context, locale string) error {
	b.mu.Lock()
	if b.state != StateIdle {
		b.mu.Unlock()
		return ErrBusy
	}
	s := b.newSession(ctx, locale)
	b.sess = s
	b.state = StateConnecting
	b.lastErr = nil
	b.lastID = s.id
	st := b.statusLocked()
	b.mu.Unlock()
	b.emitState(st)

	s.log.Info("bridge: starting session", "locale", locale,
		"input_rate", b.cfg.InputSampleRate, "output_rate", b.cfg.OutputSampleRate)

	if err := b.openDevices(s); err != nil {
		return b.abort(s, err)
	}

	start := time.Now()
	handle, err := b.provider.Connect(s.ctx, s2s.SessionConfig{
		Model:               b.cfg.Model,
		Instructions:        b.cfg.Instructions,
		Voice:               s2s.Voice{ID: b.cfg.Voice, Name: b.cfg.Voice},
		ResponseModality:    s2s.ModalityAudio,
		InputTranscription:  true,
		OutputTranscription: true,
	})
	b.metrics.ConnectDuration.Record(s.ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("status", observe.Status(err))))
	if err != nil {
		return b.abort(s, newUserError(KindTransport, locale, fmt.Errorf("connect: %w", err)))
	}
	if !s.keep(func() { s.handle = handle }, func() { _ = handle.Close() }) {
		return ErrStopped
	}

	blocks, err := s.capture.Tap(s.mic, b.cfg.BlockSize)
	if err != nil {
		return b.abort(s, newUserError(KindDevice, locale, fmt.Errorf("tap capture: %w", err)))
	}

	b.mu.Lock()
	if b.sess != s || s.isClosed() {
		b.mu.Unlock()
		return ErrStopped
	}
	b.state = StateActive
	st = b.statusLocked()
	b.mu.Unlock()

	// Active is announced before any loop can tear the session down, so
	// observers never see Idle followed by a stale Active.
	if !s.start(func() {
		b.metrics.ActiveSessions.Add(s.ctx, 1)
		b.emitState(st)
		s.wg.Go(func() { b.sendLoop(s) })
		s.wg.Go(func() { b.captureLoop(s, blocks) })
		s.wg.Go(func() { b.receiveLoop(s) })
	}) {
		return ErrStopped
	}
	s.log.Info("bridge: session active", "connect_ms", time.Since(start).Milliseconds())
	return nil
}

// openDevices opens and resumes both endpoints, then requests the microphone.
func (b *Bridge) openDevices(s *session) error {
	capture, err := b.devices.OpenCapture(s.ctx, b.cfg.InputSampleRate)
	if err != nil {
		return b.startError(s, fmt.Errorf("open capture: %w", err))
	}
	if !s.keep(func() { s.capture = capture }, func() { _ = capture.Close() }) {
		return ErrStopped
	}

	playback, err := b.devices.OpenPlayback(s.ctx, b.cfg.OutputSampleRate)
	if err != nil {
		return b.startError(s, fmt.Errorf("open playback: %w", err))
	}
	if !s.keep(func() {
		s.playback = playback
		s.sched = newScheduler(playback)
	}, func() { _ = playback.Close() }) {
		return ErrStopped
	}

	if err := capture.Resume(s.ctx); err != nil {
		return b.startError(s, fmt.Errorf("resume capture: %w", err))
	}
	if err := playback.Resume(s.ctx); err != nil {
		return b.startError(s, fmt.Errorf("resume playback: %w", err))
	}

	mic, err := b.devices.Microphone(s.ctx)
	if err != nil {
		return b.startError(s, fmt.Errorf("microphone: %w", err))
	}
	if !s.keep(func() { s.mic = mic }, mic.Stop) {
		return ErrStopped
	}
	return nil
}

// startError classifies a device failure. A failure caused by End cancelling
// the attempt is reported as [ErrStopped].
func (b *Bridge) startError(s *session, err error) error {
	switch {
	case s.ctx.Err() != nil:
		return ErrStopped
	case errors.Is(err, audio.ErrPermissionDenied):
		return newUserError(KindPermission, s.locale, err)
	default:
		return newUserError(KindDevice, s.locale, err)
	}
}

// abort tears s down after a failed start and returns what Begin reports.
func (b *Bridge) abort(s *session, err error) error {
	var uerr *UserError
	if errors.As(err, &uerr) && s.ctx.Err() != nil {
		// Cancelled while a call was in flight; not the user's problem.
		uerr = nil
		err = ErrStopped
	}
	if errors.Is(err, ErrStopped) {
		b.teardown(s, nil)
		return ErrStopped
	}
	b.teardown(s, uerr)
	return err
}

// End stops the current session, if any, and waits for its goroutines to
// exit. It is idempotent and safe to call after a remote close.
func (b *Bridge) End() {
	b.mu.Lock()
	s := b.sess
	b.mu.Unlock()
	if s == nil {
		return
	}
	b.teardown(s, nil)
	s.wg.Wait()
}

// teardown releases everything s holds and returns the bridge to Idle with
// uerr attached. Only the first call per session has any effect.
func (b *Bridge) teardown(s *session, uerr *UserError) {
	s.closeOnce.Do(func() {
		s.cancel()
		handle, capture, playback, mic, active := s.release()

		if handle != nil {
			if err := handle.Close(); err != nil {
				s.log.Debug("bridge: close session", "err", err)
			}
		}
		if capture != nil {
			if err := capture.Close(); err != nil {
				s.log.Debug("bridge: close capture endpoint", "err", err)
			}
		}
		if playback != nil {
			if err := playback.Close(); err != nil {
				s.log.Debug("bridge: close playback endpoint", "err", err)
			}
		}
		if mic != nil {
			mic.Stop()
		}

		if active {
			b.metrics.ActiveSessions.Add(context.Background(), -1)
		}
		if uerr != nil {
			b.metrics.RecordSessionError(context.Background(), uerr.Kind.String())
			s.log.Warn("bridge: session failed", "kind", uerr.Kind.String(), "err", uerr.Err)
		} else {
			s.log.Info("bridge: session ended")
		}

		b.mu.Lock()
		if b.sess == s {
			b.sess = nil
			b.state = StateIdle
			b.lastErr = uerr
		}
		st := b.statusLocked()
		b.mu.Unlock()
		b.emitState(st)
	})
}

func (b *Bridge) emitState(st Status) {
	if len(b.stateHooks) == 0 {
		return
	}
	b.hookMu.Lock()
	defer b.hookMu.Unlock()
	for _, fn := range b.stateHooks {
		fn(st)
	}
}

// ── Capture → send ───────────────────────────────────────────────────────────

// captureLoop encodes each captured block and hands it to the sender without
// ever blocking on the network. A full queue drops the block.
func (b *Bridge) captureLoop(s *session, blocks <-chan []float32) {
	rate := b.cfg.InputSampleRate
	for {
		select {
		case <-s.ctx.Done():
			return
		case block, ok := <-blocks:
			if !ok {
				s.log.Debug("bridge: capture stream closed")
				return
			}
			blob := audio.EncodeBlob(block, rate)
			select {
			case s.sendQ <- blob:
			default:
				b.metrics.FramesDropped.Add(s.ctx, 1)
				s.log.Warn("bridge: send queue full, dropping frame", "queue", cap(s.sendQ))
			}
		}
	}
}

// sendLoop is the only writer to the model session.
func (b *Bridge) sendLoop(s *session) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case blob := <-s.sendQ:
			if err := s.handle.SendRealtimeInput(s.ctx, blob); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				b.metrics.FramesFailed.Add(s.ctx, 1)
				s.log.Warn("bridge: send audio frame", "err", err)
				continue
			}
			b.metrics.FramesSent.Add(s.ctx, 1)
		}
	}
}

// ── Receive → playback ───────────────────────────────────────────────────────

// receiveLoop owns the scheduler and the turn buffer.
func (b *Bridge) receiveLoop(s *session) {
	defer func() {
		if n := s.sched.stopAll(); n > 0 {
			b.metrics.InFlightChunks.Add(context.Background(), -int64(n))
		}
	}()

	msgs := s.handle.Messages()
	for {
		select {
		case <-s.ctx.Done():
			return
		case id := <-s.endedCh:
			if s.sched.ended(id) {
				b.metrics.InFlightChunks.Add(s.ctx, -1)
			}
		case msg, ok := <-msgs:
			if !ok {
				var uerr *UserError
				if err := s.handle.Err(); err != nil {
					uerr = newUserError(KindTransport, s.locale, err)
				}
				b.teardown(s, uerr)
				return
			}
			if err := b.handleMessage(s, msg); err != nil {
				b.teardown(s, newUserError(KindTransport, s.locale, err))
				return
			}
		}
	}
}

// handleMessage applies one inbound message in the order transcripts,
// turn-complete, audio, interruption.
func (b *Bridge) handleMessage(s *session, msg s2s.ServerMessage) error {
	if msg.InputTranscript != "" {
		s.turn.user.WriteString(msg.InputTranscript)
	}
	if msg.OutputTranscript != "" {
		s.turn.assistant.WriteString(msg.OutputTranscript)
	}

	if msg.TurnComplete {
		b.finishTurn(s)
	}

	for _, blob := range msg.Audio {
		if err := b.playChunk(s, blob); err != nil {
			return err
		}
	}

	if msg.Interrupted {
		n := s.sched.stopAll()
		if n > 0 {
			b.metrics.InFlightChunks.Add(s.ctx, -int64(n))
		}
		b.metrics.Interruptions.Add(s.ctx, 1)
		s.log.Debug("bridge: interrupted", "stopped", n)
	}
	return nil
}

func (b *Bridge) finishTurn(s *session) {
	user, assistant := s.turn.flush()
	if user == "" && assistant == "" {
		return
	}
	t := Turn{
		SessionID: s.id,
		Locale:    s.locale,
		User:      user,
		Assistant: assistant,
		Lines: [2]string{
			formatLine(UserLabel, user),
			formatLine(b.cfg.AssistantName, assistant),
		},
		Time: b.now(),
	}
	if b.detector != nil && user != "" {
		if d := b.detector.Detect(user); d.Matched {
			t.Addressed = true
			t.WakeWord = d.Heard
		}
	}
	b.transcript.Append(t.Lines[0], t.Lines[1])
	b.metrics.RecordTurn(s.ctx, t.Addressed)

	for _, fn := range b.turnHooks {
		fn(t)
	}
}

// playChunk decodes and schedules one inbound chunk. Decode failures are
// dropped; a non-nil error means the session must end.
func (b *Bridge) playChunk(s *session, blob audio.Blob) error {
	buf, err := b.decode(s, blob)
	if err != nil {
		b.metrics.DecodeFailures.Add(s.ctx, 1)
		s.log.Warn("bridge: dropping undecodable audio chunk", "mime", blob.MIMEType, "err", err)
		if s.decodeBreaker != nil && s.decodeBreaker.State() == resilience.StateOpen {
			return fmt.Errorf("too many undecodable audio chunks: %w", err)
		}
		return nil
	}

	id, src, err := s.sched.schedule(buf)
	if err != nil {
		s.log.Warn("bridge: schedule playback", "err", err)
		return nil
	}
	b.metrics.ChunksScheduled.Add(s.ctx, 1)
	b.metrics.InFlightChunks.Add(s.ctx, 1)

	s.wg.Go(func() {
		select {
		case <-src.Ended():
			select {
			case s.endedCh <- id:
			case <-s.ctx.Done():
			}
		case <-s.ctx.Done():
		}
	})
	return nil
}

func (b *Bridge) decode(s *session, blob audio.Blob) (audio.Buffer, error) {
	if s.decodeBreaker == nil {
		return audio.DecodeBlob(blob, b.cfg.OutputSampleRate, 1)
	}
	var buf audio.Buffer
	err := s.decodeBreaker.Execute(func() error {
		var derr error
		buf, derr = audio.DecodeBlob(blob, b.cfg.OutputSampleRate, 1)
		return derr
	})
	return buf, err
}

// ── Session ──────────────────────────────────────────────────────────────────

func (b *Bridge) newSession(parent context.Context, locale string) *session {
	ctx, cancel := context.WithCancel(parent)
	id := ulid.Make().String()
	s := &session{
		id:      id,
		locale:  strings.TrimSpace(locale),
		ctx:     ctx,
		cancel:  cancel,
		log:     b.log.With("session_id", id),
		sendQ:   make(chan audio.Blob, b.cfg.SendQueue),
		endedCh: make(chan uint64, 16),
	}
	if b.cfg.DecodeFailureLimit > 0 {
		s.decodeBreaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "decode/" + id,
			MaxFailures:  b.cfg.DecodeFailureLimit,
			ResetTimeout: decodeResetTimeout,
			Logger:       s.log,
		})
	}
	return s
}
