package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/guru/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// model backends. Each backend has its own circuit breaker; when the primary
// fails or its breaker is open, the next healthy fallback that supports the
// request's features is tried.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
// Context cancellation never triggers failover.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	if cfg.Permanent == nil {
		cfg.Permanent = func(err error) bool {
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		}
	}
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional model provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Generate sends the request to the first healthy provider able to serve it.
// Providers whose capabilities cannot serve req are skipped without counting
// as a failure; if none can, the primary's [llm.ErrUnsupported] is returned.
func (f *LLMFallback) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	eligible := func(p llm.Provider) bool {
		return llm.CheckSupported(p.Capabilities(), req) == nil
	}
	var (
		supported bool
		primary   llm.Provider
	)
	f.group.Each(func(_ string, p llm.Provider) {
		if primary == nil {
			primary = p
		}
		supported = supported || eligible(p)
	})
	if !supported {
		return nil, llm.CheckSupported(primary.Capabilities(), req)
	}
	return ExecuteEligible(f.group, eligible, func(p llm.Provider) (*llm.Response, error) {
		return p.Generate(ctx, req)
	})
}

// Capabilities returns the union of all registered providers' capabilities.
func (f *LLMFallback) Capabilities() llm.Capabilities {
	var caps llm.Capabilities
	f.group.Each(func(_ string, p llm.Provider) {
		c := p.Capabilities()
		caps.Search = caps.Search || c.Search
		caps.Thinking = caps.Thinking || c.Thinking
		caps.Audio = caps.Audio || c.Audio
	})
	return caps
}
