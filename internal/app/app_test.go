package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/goleak"

	"github.com/MrWong99/kaigo/internal/app"
	"github.com/MrWong99/kaigo/internal/config"
	"github.com/MrWong99/kaigo/internal/observe"
	"github.com/MrWong99/kaigo/pkg/provider/llm"
	llmmock "github.com/MrWong99/kaigo/pkg/provider/llm/mock"
	"github.com/MrWong99/kaigo/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const appYAML = `
server:
  listen_addr: "127.0.0.1:0"
  shutdown_timeout: 2s
providers:
  llm: {name: openai, model: gpt-4o-mini}
  fallbacks:
    - {name: anthropic, model: claude-3-5-haiku-latest}
  circuit_breaker: {max_failures: 1, reset_timeout: 1m}
generator:
  timeout: 2s
romaji:
  kanji_reading: false
scenes:
  nyuyoku: {label: 入浴}
personas:
  user: {label: 利用者}
`

const goodTurn = `{
 "user":{"script":"おふろに はいりましょう。","romanization":"ofuro ni hairimashou.","translation":"Ayo mandi."},
 "agent":{"script":"はい、おねがいします。","romanization":"hai, onegaishimasu.","translation":"Ya, tolong."},
 "suggested":{"script":"おゆは あついですか。","romanization":"oyu wa atsui desu ka.","translation":"Apakah airnya panas?"},
 "feedback":"Bagus sekali.","annotations":[],"score":{"politeness":4}
}`

type fixture struct {
	app      *app.App
	primary  *llmmock.Provider
	fallback *llmmock.Provider
}

func newFixture(t *testing.T, primary, fallback *llmmock.Provider, opts ...app.Option) fixture {
	t.Helper()

	cfg, err := config.LoadFromReader(strings.NewReader(appYAML))
	if err != nil {
		t.Fatalf("config: %v", err)
	}

	reg := config.NewRegistry()
	reg.RegisterLLM("openai", func(config.ProviderEntry) (llm.Provider, error) { return primary, nil })
	reg.RegisterLLM("anthropic", func(config.ProviderEntry) (llm.Provider, error) { return fallback, nil })

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	a, err := app.New(context.Background(), cfg, reg, append([]app.Option{app.WithMetrics(m)}, opts...)...)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	return fixture{app: a, primary: primary, fallback: fallback}
}

func chat(h http.Handler) *httptest.ResponseRecorder {
	body := `{"scene":"nyuyoku","persona":"user","message":"おふろに はいりましょう"}`
	req := httptest.NewRequest("POST", "/api/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestApp_ChatFailsOver(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		&llmmock.Provider{CompleteErr: errors.New("503 service unavailable")},
		&llmmock.Provider{Script: []llmmock.Reply{{Content: goodTurn}}},
	)

	rec := chat(f.app.Handler())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var turn types.Turn
	if err := json.NewDecoder(rec.Body).Decode(&turn); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if turn.Agent.Script != "はい、おねがいします。" || !turn.Complete() {
		t.Errorf("turn = %+v", turn)
	}
	if n := len(f.primary.Calls()); n != 1 {
		t.Errorf("primary calls = %d, want 1", n)
	}
	if n := len(f.fallback.Calls()); n != 1 {
		t.Errorf("fallback calls = %d, want 1", n)
	}

	// The primary's breaker opened after one failure, so the next turn goes
	// straight to the fallback.
	if rec := chat(f.app.Handler()); rec.Code != http.StatusOK {
		t.Fatalf("second turn status = %d", rec.Code)
	}
	if n := len(f.primary.Calls()); n != 1 {
		t.Errorf("primary calls after open breaker = %d, want 1", n)
	}
}

func TestApp_UpstreamFailure(t *testing.T) {
	t.Parallel()

	down := errors.New("connection refused")
	f := newFixture(t, &llmmock.Provider{CompleteErr: down}, &llmmock.Provider{CompleteErr: down})

	rec := chat(f.app.Handler())
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "upstream_failure") {
		t.Errorf("body = %s", rec.Body.String())
	}

	// With both breakers open the readiness probe fails.
	req := httptest.NewRequest("GET", "/readyz", nil)
	ready := httptest.NewRecorder()
	f.app.Handler().ServeHTTP(ready, req)
	if ready.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", ready.Code)
	}
}

func TestApp_Routes(t *testing.T) {
	t.Parallel()

	scrape := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "kaigo_turns_total 0\n")
	})
	f := newFixture(t, &llmmock.Provider{}, &llmmock.Provider{}, app.WithMetricsHandler(scrape))

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		f.app.Handler().ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d", path, rec.Code)
		}
	}
	if f.app.Pipeline() == nil {
		t.Error("Pipeline() returned nil")
	}
}

func TestApp_Serve(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &llmmock.Provider{}, &llmmock.Provider{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.app.Serve(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		cancel()
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestNew_UnregisteredProvider(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(appYAML))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	_, err = app.New(context.Background(), cfg, config.NewRegistry())
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
}
