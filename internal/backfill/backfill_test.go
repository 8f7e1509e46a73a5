package backfill_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/MrWong99/kaigo/internal/backfill"
	"github.com/MrWong99/kaigo/internal/generator"
	"github.com/MrWong99/kaigo/internal/prompt"
)

// fakeGen records requests and returns a canned outcome.
type fakeGen struct {
	out   generator.Outcome
	calls []generator.Request
}

func (f *fakeGen) Negotiate(_ context.Context, req generator.Request) generator.Outcome {
	f.calls = append(f.calls, req)
	return f.out
}

func accepted(text string) generator.Outcome {
	return generator.Outcome{Kind: generator.Accepted, Text: text}
}

func TestBackfill_Shapes(t *testing.T) {
	t.Parallel()

	items := map[string]string{"agent": "はい", "suggested": "わかりました"}
	tests := []struct {
		name string
		text string
		want map[string]backfill.Entry
	}{
		{
			name: "items wrapper",
			text: `{"items":{"agent":{"translation":"Ya","romanization":"hai"},"suggested":{"translation":"Baik"}}}`,
			want: map[string]backfill.Entry{
				"agent":     {Translation: "Ya", Romanization: "hai"},
				"suggested": {Translation: "Baik"},
			},
		},
		{
			name: "flat objects",
			text: `{"agent":{"id":"Ya","romaji":"hai"}}`,
			want: map[string]backfill.Entry{"agent": {Translation: "Ya", Romanization: "hai"}},
		},
		{
			name: "flat strings",
			text: "```json\n{\"agent\":\"Ya\",\"suggested\":\"Baik\"}\n```",
			want: map[string]backfill.Entry{"agent": {Translation: "Ya"}, "suggested": {Translation: "Baik"}},
		},
		{
			name: "unrequested ids dropped",
			text: `{"agent":"Ya","user":"Halo"}`,
			want: map[string]backfill.Entry{"agent": {Translation: "Ya"}},
		},
		{
			name: "empty values dropped",
			text: `{"agent":"  ","suggested":{"translation":""}}`,
			want: map[string]backfill.Entry{},
		},
		{
			name: "malformed",
			text: "sorry",
			want: map[string]backfill.Entry{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := &fakeGen{out: accepted(tt.text)}
			c := backfill.New(g, prompt.NewBuilder("Indonesian"), 300)

			got := c.Backfill(context.Background(), items)
			if len(got) != len(tt.want) {
				t.Fatalf("Backfill() = %v, want %v", got, tt.want)
			}
			for id, w := range tt.want {
				if got[id] != w {
					t.Errorf("Backfill()[%q] = %+v, want %+v", id, got[id], w)
				}
			}
		})
	}
}

func TestBackfill_OneCallForAllItems(t *testing.T) {
	t.Parallel()

	g := &fakeGen{out: accepted(`{}`)}
	c := backfill.New(g, prompt.NewBuilder("Indonesian"), 300)

	items := map[string]string{"user": "a", "agent": "b", "suggested": "c"}
	c.Backfill(context.Background(), items)

	if len(g.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(g.calls))
	}
	req := g.calls[0]
	if req.Purpose != "backfill" || req.MaxTokens != 300 || req.Schema != nil {
		t.Errorf("unexpected request: %+v", req)
	}
	raw, err := json.Marshal(req.Content)
	if err != nil {
		t.Fatalf("marshal content: %v", err)
	}
	var sent map[string]string
	if err := json.Unmarshal(raw, &sent); err != nil {
		t.Fatalf("content is not an id map: %v", err)
	}
	if len(sent) != 3 {
		t.Errorf("sent %d items, want 3", len(sent))
	}
}

func TestBackfill_EmptyInputNoCall(t *testing.T) {
	t.Parallel()

	g := &fakeGen{out: accepted(`{}`)}
	c := backfill.New(g, prompt.NewBuilder(""), 0)

	if got := c.Backfill(context.Background(), nil); len(got) != 0 {
		t.Errorf("Backfill(nil) = %v, want empty", got)
	}
	if len(g.calls) != 0 {
		t.Errorf("calls = %d, want 0", len(g.calls))
	}
}

func TestBackfill_TransportFailure(t *testing.T) {
	t.Parallel()

	g := &fakeGen{out: generator.Outcome{Kind: generator.TransportFailed, Err: errors.New("timeout")}}
	c := backfill.New(g, prompt.NewBuilder(""), 0)

	got := c.Backfill(context.Background(), map[string]string{"agent": "はい"})
	if got == nil || len(got) != 0 {
		t.Errorf("Backfill() = %v, want empty non-nil map", got)
	}
}
