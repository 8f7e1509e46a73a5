package main

import (
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/kaigo/internal/config"
	"github.com/MrWong99/kaigo/pkg/provider/llm"
	"github.com/MrWong99/kaigo/pkg/provider/llm/anyllm"
	"github.com/MrWong99/kaigo/pkg/provider/llm/openai"
)

// registerBuiltinProviders wires the LLM factories that ship with kaigo into
// reg. "openai" uses the native adapter so strict structured output is
// available; the other backends go through any-llm.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d, err := time.ParseDuration(optString(entry.Options, "timeout")); err == nil && d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		p, err := openai.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// Every other backend goes through any-llm. Local servers (ollama,
	// llamacpp, llamafile) normally only set base_url.
	for _, name := range anyllm.Backends() {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(name, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}
}

// optString returns opts[key] if it holds a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
