// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the generator client sends
// correct CompletionRequests and to feed controlled responses without a live
// LLM backend. Responses may be scripted per call via Script; otherwise the
// static CompleteResponse/CompleteErr pair is returned for every call.
//
// Example:
//
//	p := &mock.Provider{
//	    Script: []mock.Reply{
//	        {Content: `{"agent": ...}`},
//	        {Err: context.DeadlineExceeded},
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/kaigo/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Reply is one scripted outcome of Complete.
type Reply struct {
	Content string
	Err     error
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause methods to return zero values and nil errors.
type Provider struct {
	mu sync.Mutex

	// Script, when non-empty, is consumed one entry per Complete call. Once
	// exhausted, the last entry is repeated.
	Script []Reply

	// CompleteFunc, if set, takes precedence over Script and the static
	// response fields.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// CompleteResponse is returned by Complete when Script is empty.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete when
	// Script is empty.
	CompleteErr error

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall

	// CapabilitiesCallCount is the number of times Capabilities was called.
	CapabilitiesCallCount int
}

// Complete records the call and returns the next scripted reply.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	idx := len(p.CompleteCalls)
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	fn := p.CompleteFunc
	var (
		resp *llm.CompletionResponse
		err  error
	)
	switch {
	case fn != nil:
	case len(p.Script) > 0:
		r := p.Script[min(idx, len(p.Script)-1)]
		if r.Err != nil {
			err = r.Err
		} else {
			resp = &llm.CompletionResponse{Content: r.Content}
		}
	default:
		resp, err = p.CompleteResponse, p.CompleteErr
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return resp, err
}

// Capabilities records the call and returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ModelCapabilities
}

// Calls returns a snapshot of the recorded Complete calls. Thread-safe.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CompleteCall, len(p.CompleteCalls))
	copy(out, p.CompleteCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
	p.CapabilitiesCallCount = 0
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
