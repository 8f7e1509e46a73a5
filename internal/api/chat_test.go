package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/kaigo/internal/api"
	"github.com/MrWong99/kaigo/internal/config"
	"github.com/MrWong99/kaigo/internal/entitlement"
	"github.com/MrWong99/kaigo/internal/prompt"
	"github.com/MrWong99/kaigo/internal/repair"
	"github.com/MrWong99/kaigo/pkg/types"
)

// fakeTurns records requests and returns a canned result.
type fakeTurns struct {
	mu   sync.Mutex
	reqs []repair.Request
	turn types.Turn
	err  error
}

func (f *fakeTurns) Run(_ context.Context, req repair.Request) (types.Turn, repair.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return types.Turn{}, repair.Report{}, f.err
	}
	return f.turn, repair.Report{Trace: []repair.State{repair.StateInitial, repair.StateValidating, repair.StateAccepted, repair.StateResolved}}, nil
}

func (f *fakeTurns) last(t *testing.T) repair.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reqs) == 0 {
		t.Fatal("pipeline was not called")
	}
	return f.reqs[len(f.reqs)-1]
}

const catalogYAML = `
providers: {llm: {name: openai}}
server: {allow_origin: "https://kaigo.example"}
scenes:
  tentou: {label: 転倒, description: A resident has fallen.}
personas:
  user: {label: 利用者}
categories:
  report: {label: 報告}
entitlement:
  unrestricted_keys: [paid-key]
`

func newHandler(t *testing.T, turns *fakeTurns) http.Handler {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(catalogYAML))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	h, err := api.New(api.Config{
		Turns:       turns,
		Prompts:     prompt.NewBuilder(cfg.Translation.Language),
		Catalog:     cfg,
		Entitlement: entitlement.NewStatic(cfg.Entitlement.UnrestrictedKeys),
	})
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func sampleTurn() types.Turn {
	tr := types.Triple{Script: "いたいです。", Romanization: "itai desu.", Translation: "Sakit."}
	return types.Turn{
		User: tr, Agent: tr, Suggested: tr,
		Feedback:    "Bagus.",
		Annotations: []any{},
		Score:       map[string]any{},
		Meta:        types.TurnMeta{Scene: "tentou"},
	}
}

func post(h http.Handler, body string, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChat_OK(t *testing.T) {
	t.Parallel()

	turns := &fakeTurns{turn: sampleTurn()}
	h := newHandler(t, turns)

	rec := post(h, `{"scene":"tentou","persona":"user","category":"report","message":" ころびました ","history":[{"role":"user","text":"こんにちは"},{"role":"agent","text":"  "}]}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var got map[string]json.RawMessage
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, k := range []string{"user", "agent", "suggested", "feedback", "annotations", "score"} {
		if _, ok := got[k]; !ok {
			t.Errorf("response missing %q", k)
		}
	}
	if len(got) != 6 {
		t.Errorf("response has %d keys, want 6: %v", len(got), got)
	}
	if rec.Header().Get("X-Kaigo-Outcome") != "accepted" || rec.Header().Get("X-Kaigo-Plan") != "trainee_lite" {
		t.Errorf("headers = %v", rec.Header())
	}

	req := turns.last(t)
	if req.UserInput != "ころびました" {
		t.Errorf("UserInput = %q", req.UserInput)
	}
	if req.Meta != (types.TurnMeta{Scene: "tentou", Persona: "user", Category: "report", Plan: "trainee_lite"}) {
		t.Errorf("Meta = %+v", req.Meta)
	}
	if req.Limits != (repair.Limits{MaxChars: 60, MaxSentences: 2, MaxTokens: 700}) {
		t.Errorf("Limits = %+v", req.Limits)
	}
	for _, want := range []string{"転倒", "A resident has fallen.", "利用者", "報告", "At most 2 sentences and 60 characters"} {
		if !strings.Contains(req.System, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	content, ok := req.Content.(prompt.Content)
	if !ok || len(content.History) != 1 || content.Message != "ころびました" {
		t.Errorf("Content = %#v", req.Content)
	}
}

func TestChat_PlanEntitlement(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		auth string
		plan string
		want string
	}{
		{"anonymous is downgraded", "", "ssw_pro", "trainee_lite"},
		{"wrong key is downgraded", "Bearer nope", "ssw_pro", "trainee_lite"},
		{"paid keeps plan", "Bearer paid-key", "ssw_pro", "ssw_pro"},
		{"paid unknown plan uses default", "Bearer paid-key", "gold", "trainee_lite"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			turns := &fakeTurns{turn: sampleTurn()}
			h := newHandler(t, turns)
			rec := post(h, `{"scene":"tentou","persona":"user","plan":"`+tt.plan+`","message":"はい"}`, tt.auth)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if got := turns.last(t).Meta.Plan; got != tt.want {
				t.Errorf("plan = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChat_BadRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, body, want string
	}{
		{"not json", `{`, "invalid request body"},
		{"empty message", `{"scene":"tentou","persona":"user","message":"  "}`, "message is required"},
		{"missing scene", `{"persona":"user","message":"はい"}`, "scene is required"},
		{"unknown scene", `{"scene":"kitchen","persona":"user","message":"はい"}`, `unknown scene "kitchen"`},
		{"unknown persona", `{"scene":"tentou","persona":"doctor","message":"はい"}`, `unknown persona "doctor"`},
		{"unknown category", `{"scene":"tentou","persona":"user","category":"gossip","message":"はい"}`, `unknown category`},
		{"long message", `{"scene":"tentou","persona":"user","message":"` + strings.Repeat("あ", 1001) + `"}`, "exceeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			turns := &fakeTurns{}
			rec := post(newHandler(t, turns), tt.body, "")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body = %s, want mention of %q", rec.Body.String(), tt.want)
			}
			if len(turns.reqs) != 0 {
				t.Error("pipeline must not run for a bad request")
			}
		})
	}
}

func TestChat_UpstreamFailure(t *testing.T) {
	t.Parallel()

	turns := &fakeTurns{err: errors.Join(repair.ErrUpstreamFailure, errors.New("dial tcp: refused"))}
	rec := post(newHandler(t, turns), `{"scene":"tentou","persona":"user","message":"はい"}`, "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"error":"upstream_failure"}` {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestChat_MethodsAndCORS(t *testing.T) {
	t.Parallel()

	h := newHandler(t, &fakeTurns{})
	tests := []struct {
		method string
		want   int
	}{
		{"OPTIONS", http.StatusOK},
		{"GET", http.StatusMethodNotAllowed},
		{"PUT", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tt.method, "/api/chat", nil))
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.method, rec.Code, tt.want)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://kaigo.example" {
			t.Errorf("%s: Allow-Origin = %q", tt.method, got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "POST, OPTIONS" {
			t.Errorf("%s: Allow-Methods = %q", tt.method, got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, Authorization" {
			t.Errorf("%s: Allow-Headers = %q", tt.method, got)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := api.New(api.Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}
