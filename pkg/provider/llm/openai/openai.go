// Package openai provides an LLM provider backed by the OpenAI chat
// completions API.
//
// It is the only built-in provider with strict structured output: a request
// carrying an [llm.ResponseSchema] is sent with a json_schema response
// format when the model supports one. A 400 that blames the response format
// comes back as [llm.ErrSchemaUnsupported] so the generator can retry the
// same request in loose mode.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/kaigo/pkg/provider/llm"
)

// Provider implements llm.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	caps   llm.ModelCapabilities
}

// Option adjusts the SDK request options used by every call.
type Option func(*[]option.RequestOption)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *[]option.RequestOption) { *o = append(*o, option.WithBaseURL(url)) }
}

// WithOrganization sends the OpenAI-Organization header.
func WithOrganization(org string) Option {
	return func(o *[]option.RequestOption) { *o = append(*o, option.WithOrganization(org)) }
}

// WithTimeout bounds each HTTP round trip.
func WithTimeout(d time.Duration) Option {
	return func(o *[]option.RequestOption) {
		*o = append(*o, option.WithHTTPClient(&http.Client{Timeout: d}))
	}
}

// New returns a Provider for model. The SDK's own retries are disabled:
// the repair orchestrator owns the retry budget.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	switch {
	case apiKey == "":
		return nil, errors.New("openai: apiKey must not be empty")
	case model == "":
		return nil, errors.New("openai: model must not be empty")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	for _, o := range opts {
		o(&reqOpts)
	}
	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		caps:   modelCapabilities(model),
	}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	switch {
	case err != nil && params.ResponseFormat.OfJSONSchema != nil && schemaRejected(err):
		return nil, fmt.Errorf("openai: %s: %w: %w", p.model, llm.ErrSchemaUnsupported, err)
	case err != nil:
		return nil, fmt.Errorf("openai: %s: %w", p.model, err)
	case len(resp.Choices) == 0:
		return nil, fmt.Errorf("openai: %s returned no choices", p.model)
	}

	return &llm.CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities { return p.caps }

// schemaRejected reports whether err is a 400 blaming response_format.
func schemaRejected(err error) bool {
	var apiErr *oai.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		return false
	}
	if apiErr.Param == "response_format" {
		return true
	}
	msg := strings.ToLower(apiErr.Message + " " + apiErr.RawJSON())
	return strings.Contains(msg, "response_format") || strings.Contains(msg, "json_schema")
}

// family is one row of the capability table. Rows are matched by prefix in
// order, so more specific prefixes come first.
type family struct {
	prefix     string
	context    int
	maxOutput  int
	structured bool
}

var families = []family{
	{"gpt-4o", 128_000, 16_384, true},
	{"gpt-4.1", 1_047_576, 32_768, true},
	{"gpt-4-turbo", 128_000, 4_096, false},
	{"gpt-4", 8_192, 4_096, false},
	{"gpt-3.5-turbo", 16_385, 4_096, false},
	{"o1-mini", 128_000, 65_536, false},
	{"o1", 200_000, 100_000, true},
	{"o3", 200_000, 100_000, true},
	{"o4", 200_000, 100_000, true},
}

func modelCapabilities(model string) llm.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, f := range families {
		if strings.HasPrefix(lower, f.prefix) {
			return llm.ModelCapabilities{
				ContextWindow:            f.context,
				MaxOutputTokens:          f.maxOutput,
				SupportsStructuredOutput: f.structured,
			}
		}
	}
	return llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}
}

func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(req.SystemPrompt))
	}
	for i, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, oai.SystemMessage(m.Content))
		case "user":
			msgs = append(msgs, oai.UserMessage(m.Content))
		case "assistant":
			msgs = append(msgs, oai.AssistantMessage(m.Content))
		default:
			return oai.ChatCompletionNewParams{}, fmt.Errorf("openai: message %d: unknown role %q", i, m.Role)
		}
	}

	params := oai.ChatCompletionNewParams{Model: shared.ChatModel(p.model), Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		if limit := p.caps.MaxOutputTokens; limit > 0 {
			mt = min(mt, limit)
		}
		params.MaxCompletionTokens = param.NewOpt(int64(mt))
	}
	if s := req.Schema; s != nil && p.caps.SupportsStructuredOutput {
		name := s.Name
		if name == "" {
			name = "response"
		}
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: s.Schema,
					Strict: param.NewOpt(s.Strict),
				},
			},
		}
	}
	return params, nil
}

var _ llm.Provider = (*Provider)(nil)
