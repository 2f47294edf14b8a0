// Package llm defines the Provider interface for one-shot generation backends.
//
// An LLM provider wraps a hosted model API (e.g., Gemini, OpenAI, or any
// backend reachable through any-llm-go) and exposes a single request/response
// call used by the assistant panes: web-grounded answers, long-form reasoning
// with a thinking budget, and transcription of inline audio.
//
// Not every backend supports every feature. Providers advertise what they can
// do through [Capabilities] and return [ErrUnsupported] for the rest.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is returned when a request asks for a feature the backend
// cannot provide (search grounding, thinking, or audio input).
var ErrUnsupported = errors.New("llm: feature not supported by provider")

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Part is one piece of the user turn: either text or inline binary data.
type Part struct {
	// Text is set for text parts.
	Text string

	// Data holds raw bytes for inline parts (e.g., recorded audio).
	Data []byte

	// MIMEType describes Data, e.g. "audio/webm".
	MIMEType string
}

// IsInline reports whether the part carries binary data.
func (p Part) IsInline() bool { return len(p.Data) > 0 }

// Request carries everything a provider needs for one generation.
type Request struct {
	// Model overrides the provider's default model when non-empty.
	Model string

	// SystemPrompt is an optional instruction placed before the user turn.
	SystemPrompt string

	// Parts is the user turn. At least one part is required.
	Parts []Part

	// Search enables web-search grounding.
	Search bool

	// ThinkingBudget, when positive, enables extended reasoning with the
	// given token budget.
	ThinkingBudget int

	// Temperature, when non-nil, overrides the sampling temperature.
	Temperature *float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// HasAudio reports whether any part carries audio data.
func (r Request) HasAudio() bool {
	for _, p := range r.Parts {
		if p.IsInline() && strings.HasPrefix(p.MIMEType, "audio/") {
			return true
		}
	}
	return false
}

// Citation is a web source the answer was grounded on.
type Citation struct {
	Title string
	URI   string
}

// Response is the result of a generation.
type Response struct {
	// Text is the model's answer. May be empty.
	Text string

	// Thinking is a summary of the model's reasoning, when the backend
	// returns one.
	Thinking string

	// Citations lists grounding sources, in the order the backend reported
	// them.
	Citations []Citation

	// Usage contains token accounting for this request.
	Usage Usage
}

// Capabilities describes which request features a provider honours.
type Capabilities struct {
	Search   bool
	Thinking bool
	Audio    bool
}

// Provider is the abstraction over any one-shot generation backend.
type Provider interface {
	// Generate sends req and waits for the full response. Returns
	// [ErrUnsupported] (possibly wrapped) if req needs a feature the backend
	// lacks, or an error if the call fails or ctx is cancelled.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}

// CheckSupported returns a wrapped [ErrUnsupported] naming the first feature
// in req that caps does not cover, or nil.
func CheckSupported(caps Capabilities, req Request) error {
	switch {
	case req.Search && !caps.Search:
		return fmt.Errorf("%w: search grounding", ErrUnsupported)
	case req.ThinkingBudget > 0 && !caps.Thinking:
		return fmt.Errorf("%w: thinking", ErrUnsupported)
	case req.HasAudio() && !caps.Audio:
		return fmt.Errorf("%w: audio input", ErrUnsupported)
	}
	return nil
}
