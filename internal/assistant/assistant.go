// Package assistant implements the one-shot panes next to the live
// conversation: web-grounded search, long-form reasoning and dictation.
//
// Every pane is a single request to an [llm.Provider] and produces one
// assistant [Message]. Panes share nothing with the realtime bridge.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/guru/internal/observe"
	"github.com/MrWong99/guru/pkg/provider/llm"
)

const (
	// NoAnswer replaces an empty search answer.
	NoAnswer = "I couldn't find a specific answer for that."

	// NoSpeech replaces an empty transcription.
	NoSpeech = "No speech detected."

	// DictationInstruction is sent alongside the recorded audio.
	DictationInstruction = "Transcribe the audio accurately. Detect the language and maintain punctuation."
)

var (
	// ErrEmptyPrompt is returned when a search or reasoning prompt is blank.
	ErrEmptyPrompt = errors.New("assistant: empty prompt")

	// ErrEmptyAudio is returned when a dictation carries no audio.
	ErrEmptyAudio = errors.New("assistant: empty audio")
)

// Role identifies who authored a [Message].
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Link is a web source an answer was grounded on.
type Link struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Message is one entry of a pane's conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Thinking  string    `json:"thinking,omitempty"`
	URLs      []Link    `json:"urls,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Config selects models and limits for the panes.
type Config struct {
	SearchModel    string
	ReasonModel    string
	DictateModel   string
	ThinkingBudget int
	DictationMIME  string

	// RequestTimeout bounds one provider call. Zero disables the bound.
	RequestTimeout time.Duration
}

const (
	defaultThinkingBudget = 32768
	defaultDictationMIME  = "audio/webm"
)

// Option configures an [Assistant].
type Option func(*Assistant)

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *Assistant) {
		if l != nil {
			a.log = l
		}
	}
}

// WithMetrics sets the metrics sink. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assistant) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithProviderName sets the provider label recorded on request metrics.
func WithProviderName(name string) Option {
	return func(a *Assistant) {
		if name != "" {
			a.providerName = name
		}
	}
}

// WithClock overrides the time source used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Assistant) {
		if now != nil {
			a.now = now
		}
	}
}

// Assistant serves the search, reasoning and dictation panes. It is safe for
// concurrent use.
type Assistant struct {
	provider     llm.Provider
	cfg          Config
	providerName string
	log          *slog.Logger
	metrics      *observe.Metrics
	now          func() time.Time
}

// New returns an Assistant generating with provider.
func New(provider llm.Provider, cfg Config, opts ...Option) *Assistant {
	if cfg.ThinkingBudget <= 0 {
		cfg.ThinkingBudget = defaultThinkingBudget
	}
	if cfg.DictationMIME == "" {
		cfg.DictationMIME = defaultDictationMIME
	}
	a := &Assistant{
		provider:     provider,
		cfg:          cfg,
		providerName: "llm",
		log:          slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// Capabilities reports what the underlying provider can serve.
func (a *Assistant) Capabilities() llm.Capabilities {
	return a.provider.Capabilities()
}

// UserMessage wraps text typed or spoken by the user into a [Message].
func (a *Assistant) UserMessage(content string) Message {
	return a.message(RoleUser, content)
}

// Search answers prompt with web-search grounding. Grounding sources are
// returned as the message URLs.
func (a *Assistant) Search(ctx context.Context, prompt string) (*Message, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	resp, err := a.generate(ctx, "search", llm.Request{
		Model:  a.cfg.SearchModel,
		Parts:  []llm.Part{{Text: prompt}},
		Search: true,
	})
	if err != nil {
		return nil, err
	}
	msg := a.message(RoleAssistant, resp.Text)
	if msg.Content == "" {
		msg.Content = NoAnswer
	}
	msg.URLs = links(resp.Citations)
	return &msg, nil
}

// Reason answers prompt with extended thinking enabled. The thought summary
// is attached when the provider returns one.
func (a *Assistant) Reason(ctx context.Context, prompt string) (*Message, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	resp, err := a.generate(ctx, "reason", llm.Request{
		Model:          a.cfg.ReasonModel,
		Parts:          []llm.Part{{Text: prompt}},
		ThinkingBudget: a.cfg.ThinkingBudget,
	})
	if err != nil {
		return nil, err
	}
	msg := a.message(RoleAssistant, resp.Text)
	msg.Thinking = resp.Thinking
	return &msg, nil
}

// Dictate transcribes recorded audio. An empty mimeType falls back to the
// configured dictation format.
func (a *Assistant) Dictate(ctx context.Context, audio []byte, mimeType string) (*Message, error) {
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}
	if mimeType == "" {
		mimeType = a.cfg.DictationMIME
	}
	resp, err := a.generate(ctx, "dictate", llm.Request{
		Model: a.cfg.DictateModel,
		Parts: []llm.Part{
			{Data: audio, MIMEType: mimeType},
			{Text: DictationInstruction},
		},
	})
	if err != nil {
		return nil, err
	}
	msg := a.message(RoleAssistant, resp.Text)
	if msg.Content == "" {
		msg.Content = NoSpeech
	}
	return &msg, nil
}

func (a *Assistant) generate(ctx context.Context, pane string, req llm.Request) (resp *llm.Response, err error) {
	ctx, span := observe.StartSpan(ctx, "assistant."+pane,
		trace.WithAttributes(
			attribute.String("pane", pane),
			attribute.String("model", req.Model),
		))
	start := time.Now()
	defer func() {
		a.metrics.RecordPane(ctx, pane, time.Since(start), err)
		a.metrics.RecordProviderRequest(ctx, a.providerName, pane, observe.Status(err))
		observe.EndSpan(span, err)
	}()

	if a.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.RequestTimeout)
		defer cancel()
	}

	resp, err = a.provider.Generate(ctx, req)
	if err != nil {
		a.log.Warn("assistant: generate failed", "pane", pane, "model", req.Model, "err", err)
		return nil, fmt.Errorf("assistant: %s: %w", pane, err)
	}
	if resp == nil {
		resp = &llm.Response{}
	}
	a.log.Debug("assistant: generated", "pane", pane,
		"chars", len(resp.Text), "citations", len(resp.Citations),
		"tokens", resp.Usage.TotalTokens)
	return resp, nil
}

func (a *Assistant) message(role Role, content string) Message {
	return Message{
		ID:        ulid.Make().String(),
		Role:      role,
		Content:   content,
		Timestamp: a.now(),
	}
}

// links keeps citations that carry a URI, preserving order.
func links(cs []llm.Citation) []Link {
	var out []Link
	for _, c := range cs {
		if c.URI == "" {
			continue
		}
		title := c.Title
		if title == "" {
			title = c.URI
		}
		out = append(out, Link{Title: title, URI: c.URI})
	}
	return out
}
