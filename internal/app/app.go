// Package app wires the kaigo subsystems into a running HTTP service.
//
// New builds every stage of the turn pipeline from the configuration:
// provider failover, generator client, normalizer, guardrail, backfill and
// the repair orchestrator, then mounts them behind the chat API together
// with the health and metrics routes. Serve runs the HTTP server until the
// context is cancelled and shuts it down gracefully.
//
// For testing, inject collaborators via functional options (WithMetrics,
// WithEntitlement, ...). Providers always come from the [config.Registry],
// so tests register mocks there.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/kaigo/internal/api"
	"github.com/MrWong99/kaigo/internal/backfill"
	"github.com/MrWong99/kaigo/internal/config"
	"github.com/MrWong99/kaigo/internal/entitlement"
	"github.com/MrWong99/kaigo/internal/generator"
	"github.com/MrWong99/kaigo/internal/guardrail"
	"github.com/MrWong99/kaigo/internal/health"
	"github.com/MrWong99/kaigo/internal/normalize"
	"github.com/MrWong99/kaigo/internal/observe"
	"github.com/MrWong99/kaigo/internal/prompt"
	"github.com/MrWong99/kaigo/internal/repair"
	"github.com/MrWong99/kaigo/internal/resilience"
	"github.com/MrWong99/kaigo/internal/romaji"
)

// readHeaderTimeout bounds how long a client may take to send headers.
const readHeaderTimeout = 10 * time.Second

// App owns the wired pipeline and the HTTP handler in front of it.
type App struct {
	cfg *config.Config

	llm      *resilience.LLMFallback
	pipeline *repair.Orchestrator
	handler  http.Handler

	metrics        *observe.Metrics
	metricsHandler http.Handler
	checker        entitlement.Checker
	reader         *romaji.Reader
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records into m instead of observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithEntitlement replaces the static key checker built from config.
func WithEntitlement(c entitlement.Checker) Option {
	return func(a *App) { a.checker = c }
}

// WithReader reuses an already loaded kanji reader.
func WithReader(r *romaji.Reader) Option {
	return func(a *App) { a.reader = r }
}

// New builds the application from cfg. Providers are instantiated through
// reg.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.checker == nil {
		a.checker = entitlement.NewStatic(cfg.Entitlement.UnrestrictedKeys)
	}

	// ── 1. Providers ─────────────────────────────────────────────────────
	if err := a.initProviders(reg); err != nil {
		return nil, fmt.Errorf("app: init providers: %w", err)
	}

	// ── 2. Turn pipeline ─────────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 3. HTTP surface ──────────────────────────────────────────────────
	if err := a.initHTTP(); err != nil {
		return nil, fmt.Errorf("app: init http: %w", err)
	}

	observe.Logger(ctx).Info("app: ready",
		"providers", a.llmNames(),
		"plans", len(cfg.Plans),
		"scenes", len(cfg.Scenes),
		"guardrails", len(cfg.Guardrails),
	)
	return a, nil
}

func (a *App) initProviders(reg *config.Registry) error {
	p := a.cfg.Providers
	primary, err := reg.CreateLLM(p.LLM)
	if err != nil {
		return fmt.Errorf("llm %q: %w", p.LLM.Name, err)
	}

	fcfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  p.CircuitBreaker.MaxFailures,
			ResetTimeout: p.CircuitBreaker.ResetTimeout,
			HalfOpenMax:  p.CircuitBreaker.HalfOpenMax,
		},
	}
	a.llm = resilience.NewLLMFallback(primary, p.LLM.Name, fcfg, a.metrics)
	for i, entry := range p.Fallbacks {
		fb, err := reg.CreateLLM(entry)
		if err != nil {
			return fmt.Errorf("fallback %d (%q): %w", i, entry.Name, err)
		}
		a.llm.AddFallback(fallbackName(entry, i), fb)
	}
	return nil
}

// fallbackName keeps breaker names unique when the same backend is listed
// twice with different models.
func fallbackName(e config.ProviderEntry, i int) string {
	if e.Model == "" {
		return fmt.Sprintf("%s#%d", e.Name, i+1)
	}
	return e.Name + "/" + e.Model
}

func (a *App) initPipeline() error {
	g := a.cfg.Generator
	gopts := []generator.Option{
		generator.WithTimeout(g.Timeout),
		generator.WithStrict(*g.StrictSchema),
		generator.WithCapabilityTTL(g.CapabilityTTL),
		generator.WithMetrics(a.metrics),
	}
	if g.Temperature != nil {
		gopts = append(gopts, generator.WithTemperature(*g.Temperature))
	}
	if g.RateLimit.RPS > 0 {
		gopts = append(gopts, generator.WithRateLimit(g.RateLimit.RPS, g.RateLimit.Burst))
	}
	gen, err := generator.New(a.llm, a.cfg.Providers.LLM.Model, gopts...)
	if err != nil {
		return err
	}

	schema, err := generator.TurnSchema()
	if err != nil {
		return err
	}

	if a.reader == nil && *a.cfg.Romaji.KanjiReading {
		if a.reader, err = romaji.NewReader(); err != nil {
			return err
		}
	}

	norm, err := normalize.New(a.cfg.NormalizeCorrections())
	if err != nil {
		return err
	}
	guard, err := guardrail.New(a.cfg.GuardrailRules())
	if err != nil {
		return err
	}

	prompts := prompt.NewBuilder(a.cfg.Translation.Language)
	a.pipeline, err = repair.New(repair.Config{
		Generator:      gen,
		Backfill:       backfill.New(gen, prompts, g.BackfillMaxTokens),
		Normalizer:     norm,
		Guardrail:      guard,
		Transliterator: romaji.NewTransliterator(a.reader),
		Schema:         schema,
		Sentinel:       a.cfg.Translation.Sentinel,
		Plausibility:   a.cfg.Translation.Plausibility,
		Metrics:        a.metrics,
	})
	return err
}

func (a *App) initHTTP() error {
	chat, err := api.New(api.Config{
		Turns:       a.pipeline,
		Prompts:     prompt.NewBuilder(a.cfg.Translation.Language),
		Catalog:     a.cfg,
		Entitlement: a.checker,
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	chat.Register(mux)
	health.New(health.Breakers("llm", a.llm.Breakers)).Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	a.handler = observe.Middleware(a.metrics)(mux)
	return nil
}

func (a *App) llmNames() []string {
	names := make([]string, 0, len(a.cfg.Providers.Fallbacks)+1)
	for name := range a.llm.Breakers() {
		names = append(names, name)
	}
	return names
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Pipeline returns the repair orchestrator serving /api/chat.
func (a *App) Pipeline() *repair.Orchestrator { return a.pipeline }

// Run listens on the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is cancelled, then shuts the server
// down, giving in-flight turns up to server.shutdown_timeout to finish.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	tls := a.cfg.Server.TLS

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("app: serving", "addr", ln.Addr().String(), "tls", tls != nil)
		var err error
		if tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("app: shutting down", "timeout", a.cfg.Server.ShutdownTimeout)
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("app: shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}
