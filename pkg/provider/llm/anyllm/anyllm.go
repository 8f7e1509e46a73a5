// Package anyllm adapts the backends of github.com/mozilla-ai/any-llm-go
// (Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, llama.cpp, llamafile
// and OpenAI) to [llm.Provider].
//
// any-llm has no uniform structured-output switch, so these backends are
// always driven in loose mode: Capabilities never reports schema support
// and the generator asks for JSON through the instruction text.
//
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/kaigo/pkg/provider/llm"
)

type factory func(opts ...anyllmlib.Option) (anyllmlib.Provider, error)

// backends maps the names accepted by [New] to their constructors. Without
// an API key option each backend reads its usual environment variable
// (ANTHROPIC_API_KEY, GEMINI_API_KEY, ...); the local servers default to
// their standard addresses.
var backends = map[string]factory{
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
}

// Backends returns the backend names accepted by [New], sorted.
func Backends() []string {
	return slices.Sorted(maps.Keys(backends))
}

// Provider implements llm.Provider on top of an any-llm backend.
type Provider struct {
	backend anyllmlib.Provider
	model   string
	caps    llm.ModelCapabilities
}

// New creates a Provider for the named backend and model. opts are passed
// to the backend constructor (anyllmlib.WithAPIKey, anyllmlib.WithBaseURL).
func New(backend, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}
	mk, ok := backends[strings.ToLower(backend)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q; supported: %s", backend, strings.Join(Backends(), ", "))
	}
	b, err := mk(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", backend, err)
	}
	return &Provider{backend: b, model: model, caps: modelCapabilities(model)}, nil
}

// Complete implements llm.Provider. req.Schema is ignored.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s completion: %w", p.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s returned no choices", p.model)
	}

	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities { return p.caps }

// buildParams converts req into any-llm parameters. MaxTokens is capped at
// the model's output limit.
func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		if limit := p.caps.MaxOutputTokens; limit > 0 && mt > limit {
			mt = limit
		}
		params.MaxTokens = &mt
	}
	return params
}

// family is one row of the capability table: the first row whose prefix
// matches the lower-cased model name wins.
type family struct {
	prefix    string
	context   int
	maxOutput int
}

var families = []family{
	{"gpt-4o", 128_000, 16_384},
	{"gpt-4.1", 1_047_576, 32_768},
	{"gpt-3.5", 16_385, 4_096},
	{"claude-3-opus", 200_000, 4_096},
	{"claude", 200_000, 8_192},
	{"gemini-1.5-pro", 2_097_152, 8_192},
	{"gemini", 1_048_576, 8_192},
	{"deepseek", 64_000, 8_192},
	{"mistral", 32_000, 4_096},
	{"llama", 8_192, 2_048},
	{"qwen", 32_768, 2_048},
}

// modelCapabilities looks model up in the family table. Unknown models get
// a conservative default.
func modelCapabilities(model string) llm.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, f := range families {
		if strings.HasPrefix(lower, f.prefix) {
			return llm.ModelCapabilities{ContextWindow: f.context, MaxOutputTokens: f.maxOutput}
		}
	}
	return llm.ModelCapabilities{ContextWindow: 32_000, MaxOutputTokens: 4_096}
}

var _ llm.Provider = (*Provider)(nil)
