package anyllm

import (
	"slices"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/kaigo/pkg/provider/llm"
)

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "claude-3-5-haiku-latest", caps: modelCapabilities("claude-3-5-haiku-latest")}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Reply as the resident.",
		Messages: []llm.Message{
			{Role: "user", Content: "だいじょうぶですか"},
			{Role: "assistant", Content: "はい"},
		},
		Temperature: 0.3,
		MaxTokens:   400,
		Schema:      &llm.ResponseSchema{Name: "turn", Strict: true},
	})

	roles := make([]string, len(params.Messages))
	for i, m := range params.Messages {
		roles[i] = m.Role
	}
	if want := []string{anyllmlib.RoleSystem, "user", "assistant"}; !slices.Equal(roles, want) {
		t.Fatalf("roles = %v, want %v", roles, want)
	}
	if got := params.Messages[1].ContentString(); got != "だいじょうぶですか" {
		t.Errorf("user content = %q", got)
	}
	if params.Temperature == nil || *params.Temperature != 0.3 {
		t.Errorf("Temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 400 {
		t.Errorf("MaxTokens = %v", params.MaxTokens)
	}
}

func TestBuildParams_Defaults(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "llama3.1", caps: modelCapabilities("llama3.1")}
	params := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: "user", Content: "hi"}}})
	if params.Model != "llama3.1" {
		t.Errorf("Model = %q", params.Model)
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Errorf("zero values forwarded: temperature=%v max_tokens=%v", params.Temperature, params.MaxTokens)
	}
	if len(params.Messages) != 1 {
		t.Errorf("got %d messages, want 1 without a system prompt", len(params.Messages))
	}
}

func TestBuildParams_ClampsMaxTokens(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "llama3.1", caps: modelCapabilities("llama3.1")}
	params := p.buildParams(llm.CompletionRequest{MaxTokens: 10_000})
	if params.MaxTokens == nil || *params.MaxTokens != 2_048 {
		t.Errorf("MaxTokens = %v, want 2048", params.MaxTokens)
	}
}

func TestModelCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model     string
		context   int
		maxOutput int
	}{
		{"gpt-4o-mini", 128_000, 16_384},
		{"GPT-4o", 128_000, 16_384},
		{"gpt-4.1-nano", 1_047_576, 32_768},
		{"claude-3-opus-20240229", 200_000, 4_096},
		{"claude-3-5-haiku-latest", 200_000, 8_192},
		{"gemini-1.5-pro", 2_097_152, 8_192},
		{"gemini-2.0-flash", 1_048_576, 8_192},
		{"deepseek-chat", 64_000, 8_192},
		{"qwen2.5:7b", 32_768, 2_048},
		{"my-finetune", 32_000, 4_096},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			caps := modelCapabilities(tt.model)
			if caps.ContextWindow != tt.context || caps.MaxOutputTokens != tt.maxOutput {
				t.Errorf("caps = %+v, want context %d output %d", caps, tt.context, tt.maxOutput)
			}
			if caps.SupportsStructuredOutput {
				t.Error("any-llm backends must not advertise structured output")
			}
		})
	}
}

func TestBackends(t *testing.T) {
	t.Parallel()

	got := Backends()
	if !slices.IsSorted(got) {
		t.Errorf("Backends() not sorted: %v", got)
	}
	for _, name := range []string{"anthropic", "gemini", "ollama", "openai"} {
		if !slices.Contains(got, name) {
			t.Errorf("Backends() missing %q", name)
		}
	}
}

func TestNew(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	tests := []struct {
		name    string
		backend string
		model   string
		opts    []anyllmlib.Option
		wantErr bool
	}{
		{name: "empty model", backend: "anthropic", wantErr: true},
		{name: "empty backend", model: "gpt-4o", wantErr: true},
		{name: "unknown backend", backend: "fakecloud", model: "m", opts: []anyllmlib.Option{anyllmlib.WithAPIKey("x")}, wantErr: true},
		{name: "openai without key", backend: "openai", model: "gpt-4o", wantErr: true},
		{name: "anthropic", backend: "anthropic", model: "claude-3-5-haiku-latest", opts: []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}},
		{name: "ollama mixed case", backend: "Ollama", model: "llama3.1"},
		{name: "llamacpp", backend: "llamacpp", model: "local"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.backend, tt.model, tt.opts...)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if p.Capabilities() != modelCapabilities(tt.model) {
				t.Errorf("Capabilities = %+v", p.Capabilities())
			}
		})
	}
}
