package resilience

import (
	"context"

	"github.com/MrWong99/kaigo/internal/observe"
	"github.com/MrWong99/kaigo/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] that fails over across several LLM
// backends, each behind its own circuit breaker.
type LLMFallback struct {
	group   *FallbackGroup[llm.Provider]
	metrics *observe.Metrics
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend. A nil metrics uses observe.DefaultMetrics().
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig, metrics *observe.Metrics) *LLMFallback {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &LLMFallback{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		metrics: metrics,
	}
}

// AddFallback registers an additional backend.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends req to the first healthy backend. The request is passed on
// unchanged, so a backend without structured-output support simply ignores
// the schema.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(name string, p llm.Provider) (*llm.CompletionResponse, error) {
		resp, err := p.Complete(ctx, req)
		status := "ok"
		if err != nil {
			status = "error"
			f.metrics.RecordProviderError(ctx, name, "llm")
		}
		f.metrics.RecordProviderRequest(ctx, name, "llm", status)
		return resp, err
	})
}

// Capabilities reports the primary's capabilities. They are static
// metadata and do not take part in failover.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	return f.group.entries[0].value.Capabilities()
}

// Breakers returns the breaker state per backend, for readiness checks.
func (f *LLMFallback) Breakers() map[string]State {
	return f.group.States()
}
