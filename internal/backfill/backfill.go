// Package backfill fills missing translations and romanizations for several
// triples with a single generator round trip.
package backfill

import (
	"context"
	"strings"

	"github.com/MrWong99/kaigo/internal/generator"
	"github.com/MrWong99/kaigo/internal/observe"
	"github.com/MrWong99/kaigo/internal/prompt"
)

// Negotiator is the subset of [generator.Client] used here.
type Negotiator interface {
	Negotiate(ctx context.Context, req generator.Request) generator.Outcome
}

// Entry is what the generator supplied for one id. Either field may be
// empty.
type Entry struct {
	Translation  string
	Romanization string
}

// Client issues batched backfill requests.
type Client struct {
	gen       Negotiator
	builder   *prompt.Builder
	maxTokens int
}

// New returns a Client. maxTokens caps the response size; zero leaves it
// to the provider.
func New(gen Negotiator, builder *prompt.Builder, maxTokens int) *Client {
	return &Client{gen: gen, builder: builder, maxTokens: maxTokens}
}

// Backfill sends every item (id → script text) in one request and returns
// the entries the generator supplied for requested ids. Any transport or
// parse failure yields an empty map. An empty items map issues no call.
func (c *Client) Backfill(ctx context.Context, items map[string]string) map[string]Entry {
	out := map[string]Entry{}
	if len(items) == 0 {
		return out
	}

	res := c.gen.Negotiate(ctx, generator.Request{
		Purpose:   "backfill",
		System:    c.builder.BackfillSystem(),
		Content:   items,
		MaxTokens: c.maxTokens,
	})
	if res.Kind != generator.Accepted {
		observe.Logger(ctx).Warn("backfill: generator call failed", "err", res.Err, "items", len(items))
		return out
	}

	d := generator.Decode(res.Text, nil)
	if d.Status != generator.Parsed {
		observe.Logger(ctx).Warn("backfill: malformed response", "items", len(items))
		return out
	}

	body := d.Object
	if inner, ok := body["items"].(map[string]any); ok {
		body = inner
	}
	for id := range items {
		e, ok := entry(body[id])
		if ok {
			out[id] = e
		}
	}
	return out
}

func entry(v any) (Entry, bool) {
	switch x := v.(type) {
	case string:
		if strings.TrimSpace(x) == "" {
			return Entry{}, false
		}
		return Entry{Translation: x}, true
	case map[string]any:
		e := Entry{
			Translation:  first(x, "translation", "id", "indonesian", "meaning"),
			Romanization: first(x, "romanization", "romaji", "reading"),
		}
		return e, e.Translation != "" || e.Romanization != ""
	default:
		return Entry{}, false
	}
}

func first(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
