// Package generator is the single gateway from the reliability pipeline to
// the LLM backend.
//
// Every call negotiates the request mode explicitly: a request carrying a
// [Schema] is first sent in strict (structured output) mode, and if the
// backend rejects the schema the same logical call is repeated once in
// loose (prompt-only JSON) mode. The result is a typed [Outcome] rather than
// an error chain. Rejections are remembered per model for a configurable
// TTL so later calls skip the doomed strict attempt.
//
// All outbound calls wait on a shared rate limiter and carry a bounded
// timeout; a limiter or timeout error is reported as [TransportFailed].
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/MrWong99/kaigo/internal/observe"
	"github.com/MrWong99/kaigo/pkg/provider/llm"
)

// Mode is the request mode of an accepted call.
type Mode int

const (
	// ModeLoose sends no schema; JSON is requested through the prompt only.
	ModeLoose Mode = iota
	// ModeStrict sends the schema as a structured-output constraint.
	ModeStrict
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	if m == ModeStrict {
		return "strict"
	}
	return "loose"
}

// Kind classifies an [Outcome].
type Kind int

const (
	// Accepted means the backend returned text.
	Accepted Kind = iota
	// SchemaRejected means the backend refused the structured-output schema.
	// Negotiate never returns it; it is handled by falling back to loose mode.
	SchemaRejected
	// TransportFailed covers network errors, timeouts, rate limiter errors
	// and cancellation.
	TransportFailed
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case SchemaRejected:
		return "schema_rejected"
	default:
		return "transport_failed"
	}
}

// Outcome is the typed result of one logical generator call.
type Outcome struct {
	Kind Kind
	// Mode is the mode of the final attempt.
	Mode Mode
	// Text is the raw response text when Kind is Accepted.
	Text string
	// Err carries the underlying error when Kind is not Accepted.
	Err error
	// Downgraded is true when a strict attempt was rejected and the call
	// was repeated in loose mode.
	Downgraded bool
}

// Request is one logical generator call.
type Request struct {
	// Purpose labels the call in logs and metrics (e.g. "turn", "retry",
	// "backfill").
	Purpose string

	// System is the system instruction.
	System string

	// Content is the user payload. Strings are sent verbatim; anything else
	// is JSON-encoded.
	Content any

	// Temperature is the sampling temperature. Zero uses the client default.
	Temperature float64

	// MaxTokens caps the response size. Zero uses the provider default.
	MaxTokens int

	// Schema, when non-nil, requests structured output.
	Schema *Schema
}

// Client negotiates requests against an llm.Provider. It is safe for
// concurrent use.
type Client struct {
	provider    llm.Provider
	model       string
	strict      bool
	timeout     time.Duration
	temperature float64
	limiter     *rate.Limiter
	rejections  *cache.Cache
	metrics     *observe.Metrics
}

// Option is a functional option for Client.
type Option func(*Client)

// WithTimeout bounds each outbound attempt. Default: 20s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithTemperature sets the default sampling temperature. Default: 0.3.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithRateLimit sets the process-wide outbound rate (requests per second)
// and burst. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithStrict enables or disables strict schema mode. Default: enabled.
func WithStrict(enabled bool) Option {
	return func(c *Client) { c.strict = enabled }
}

// WithCapabilityTTL sets how long a schema rejection is remembered.
// Default: 1h.
func WithCapabilityTTL(ttl time.Duration) Option {
	return func(c *Client) { c.rejections = cache.New(ttl, 2*ttl) }
}

// WithMetrics overrides the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a Client. model names the backend model for the rejection
// cache and metrics.
func New(provider llm.Provider, model string, opts ...Option) (*Client, error) {
	if provider == nil {
		return nil, errors.New("generator: provider must not be nil")
	}
	c := &Client{
		provider:    provider,
		model:       model,
		strict:      true,
		timeout:     20 * time.Second,
		temperature: 0.3,
		limiter:     rate.NewLimiter(rate.Inf, 0),
		rejections:  cache.New(time.Hour, 2*time.Hour),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// Negotiate performs one logical call. A strict attempt whose schema is
// rejected is retried once in loose mode; the returned Outcome is never
// SchemaRejected.
func (c *Client) Negotiate(ctx context.Context, req Request) Outcome {
	content, err := encodeContent(req.Content)
	if err != nil {
		return Outcome{Kind: TransportFailed, Err: err}
	}

	if c.strictAllowed(req) {
		out := c.attempt(ctx, req, content, ModeStrict)
		if out.Kind != SchemaRejected {
			return out
		}
		c.rejections.SetDefault(c.model, true)
		c.metrics.RecordSchemaFallback(ctx, c.model)
		observe.Logger(ctx).Warn("generator: schema rejected, falling back to loose mode",
			"model", c.model, "purpose", req.Purpose, "err", out.Err)

		loose := c.attempt(ctx, req, content, ModeLoose)
		loose.Downgraded = true
		return loose
	}
	return c.attempt(ctx, req, content, ModeLoose)
}

// strictAllowed reports whether req should be tried in strict mode.
func (c *Client) strictAllowed(req Request) bool {
	if req.Schema == nil || !c.strict {
		return false
	}
	if !c.provider.Capabilities().SupportsStructuredOutput {
		return false
	}
	_, rejected := c.rejections.Get(c.model)
	return !rejected
}

func (c *Client) attempt(ctx context.Context, req Request, content string, mode Mode) Outcome {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := observe.StartSpan(ctx, "generator."+req.Purpose,
		observe.Attr("model", c.model),
		observe.Attr("mode", mode.String()),
	)
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		c.metrics.RecordGeneratorRequest(ctx, c.model, mode.String(), "rate_limited")
		return Outcome{Kind: TransportFailed, Mode: mode, Err: fmt.Errorf("generator: rate limit: %w", err)}
	}

	temp := req.Temperature
	if temp == 0 {
		temp = c.temperature
	}
	creq := llm.CompletionRequest{
		SystemPrompt: req.System,
		Messages:     []llm.Message{{Role: "user", Content: content}},
		Temperature:  temp,
		MaxTokens:    req.MaxTokens,
	}
	if mode == ModeStrict {
		creq.Schema = req.Schema.hint()
	}

	start := time.Now()
	resp, err := c.provider.Complete(ctx, creq)
	c.metrics.RecordGeneratorCall(ctx, req.Purpose, mode.String(), time.Since(start).Seconds())

	switch {
	case err != nil && mode == ModeStrict && errors.Is(err, llm.ErrSchemaUnsupported):
		c.metrics.RecordGeneratorRequest(ctx, c.model, mode.String(), "schema_rejected")
		return Outcome{Kind: SchemaRejected, Mode: mode, Err: err}
	case err != nil:
		c.metrics.RecordGeneratorRequest(ctx, c.model, mode.String(), "error")
		observe.Fail(span, err)
		return Outcome{Kind: TransportFailed, Mode: mode, Err: fmt.Errorf("generator: %s call: %w", req.Purpose, err)}
	case resp == nil:
		c.metrics.RecordGeneratorRequest(ctx, c.model, mode.String(), "error")
		return Outcome{Kind: TransportFailed, Mode: mode, Err: fmt.Errorf("generator: %s call: empty response", req.Purpose)}
	}

	c.metrics.RecordGeneratorRequest(ctx, c.model, mode.String(), "ok")
	return Outcome{Kind: Accepted, Mode: mode, Text: resp.Content}
}

func encodeContent(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return "", fmt.Errorf("generator: encode content: %w", err)
		}
		return string(b), nil
	}
}
