// Package api serves the role-play endpoint.
//
// POST /api/chat takes the trainee's message together with the scene,
// persona and requested plan, runs it through the repair pipeline and
// answers with the finished turn:
//
//	{"user":{...},"agent":{...},"suggested":{...},"feedback":"...","annotations":[...],"score":{...}}
//
// When the pipeline cannot produce a turn the handler answers
// 502 {"error":"upstream_failure"}.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/kaigo/internal/config"
	"github.com/MrWong99/kaigo/internal/entitlement"
	"github.com/MrWong99/kaigo/internal/observe"
	"github.com/MrWong99/kaigo/internal/prompt"
	"github.com/MrWong99/kaigo/internal/repair"
	"github.com/MrWong99/kaigo/pkg/types"
)

const (
	maxBodyBytes    = 64 << 10
	maxMessageRunes = 1000
	maxHistory      = 12
)

// Turner produces one turn. *repair.Orchestrator satisfies it.
type Turner interface {
	Run(ctx context.Context, req repair.Request) (types.Turn, repair.Report, error)
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Scene    string            `json:"scene"`
	Persona  string            `json:"persona"`
	Category string            `json:"category,omitempty"`
	Plan     string            `json:"plan,omitempty"`
	Message  string            `json:"message"`
	History  []prompt.Exchange `json:"history,omitempty"`
}

// Config wires a [Handler].
type Config struct {
	Turns       Turner
	Prompts     *prompt.Builder
	Catalog     *config.Config
	Entitlement entitlement.Checker
}

// Handler serves /api/chat. It is safe for concurrent use.
type Handler struct {
	turns   Turner
	prompts *prompt.Builder
	catalog *config.Config
	checker entitlement.Checker
}

// New returns a Handler for cfg.
func New(cfg Config) (*Handler, error) {
	var errs []error
	if cfg.Turns == nil {
		errs = append(errs, errors.New("api: turns is required"))
	}
	if cfg.Catalog == nil {
		errs = append(errs, errors.New("api: catalog is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.Prompts == nil {
		cfg.Prompts = prompt.NewBuilder(cfg.Catalog.Translation.Language)
	}
	return &Handler{
		turns:   cfg.Turns,
		prompts: cfg.Prompts,
		catalog: cfg.Catalog,
		checker: cfg.Entitlement,
	}, nil
}

// Register adds the chat route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/chat", h.Chat)
}

// Chat handles /api/chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	hdr := w.Header()
	hdr.Set("Access-Control-Allow-Origin", h.catalog.Server.AllowOrigin)
	hdr.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	hdr.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		hdr.Set("Allow", "POST, OPTIONS")
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx := r.Context()
	log := observe.Logger(ctx)

	var body ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.check(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	plan, limits := h.catalog.Plan(entitlement.Resolve(ctx, h.checker, r, body.Plan, h.catalog.DefaultPlan))
	if body.Plan != "" && body.Plan != plan {
		log.Debug("api: plan downgraded", "requested", body.Plan, "plan", plan)
	}

	turn, report, err := h.turns.Run(ctx, repair.Request{
		Meta: types.TurnMeta{
			Scene:    body.Scene,
			Persona:  body.Persona,
			Category: body.Category,
			Plan:     plan,
		},
		Limits: repair.Limits{
			MaxChars:     limits.MaxChars,
			MaxSentences: limits.MaxSentences,
			MaxTokens:    limits.MaxTokens,
		},
		System:    h.prompts.System(h.turnContext(&body, limits)),
		Content:   prompt.Content{Message: body.Message, History: body.History},
		UserInput: body.Message,
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Info("api: client went away", "scene", body.Scene, "err", ctx.Err())
		}
		if errors.Is(err, repair.ErrUpstreamFailure) {
			writeError(w, http.StatusBadGateway, "upstream_failure")
			return
		}
		log.Error("api: turn failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	hdr.Set("X-Kaigo-Plan", plan)
	hdr.Set("X-Kaigo-Outcome", report.Outcome())
	writeJSON(w, http.StatusOK, turn)
}

// check normalises body in place and rejects requests the catalog cannot
// serve.
func (h *Handler) check(body *ChatRequest) error {
	body.Scene = strings.TrimSpace(body.Scene)
	body.Persona = strings.TrimSpace(body.Persona)
	body.Category = strings.TrimSpace(body.Category)
	body.Message = strings.TrimSpace(body.Message)

	switch {
	case body.Message == "":
		return errors.New("message is required")
	case utf8.RuneCountInString(body.Message) > maxMessageRunes:
		return fmt.Errorf("message exceeds %d characters", maxMessageRunes)
	case body.Scene == "":
		return errors.New("scene is required")
	case body.Persona == "":
		return errors.New("persona is required")
	}
	if !known(h.catalog.Scenes, body.Scene) {
		return fmt.Errorf("unknown scene %q", body.Scene)
	}
	if !known(h.catalog.Personas, body.Persona) {
		return fmt.Errorf("unknown persona %q", body.Persona)
	}
	if body.Category != "" && !known(h.catalog.Categories, body.Category) {
		return fmt.Errorf("unknown category %q", body.Category)
	}

	history := body.History[:0]
	for _, ex := range body.History {
		ex.Text = strings.TrimSpace(ex.Text)
		if ex.Text == "" {
			continue
		}
		history = append(history, ex)
	}
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	body.History = history
	return nil
}

// known reports whether id is declared in table. An empty table accepts
// any id.
func known(table map[string]config.Labelled, id string) bool {
	if len(table) == 0 {
		return true
	}
	_, ok := table[id]
	return ok
}

func (h *Handler) turnContext(body *ChatRequest, limits config.PlanConfig) prompt.TurnContext {
	scene := h.catalog.Scenes[body.Scene]
	persona := h.catalog.Personas[body.Persona]
	tc := prompt.TurnContext{
		Scene:        prompt.Scene{ID: body.Scene, Label: or(scene.Label, body.Scene), Context: scene.Description},
		Persona:      prompt.Persona{ID: body.Persona, Label: or(persona.Label, body.Persona), Description: persona.Description},
		MaxChars:     limits.MaxChars,
		MaxSentences: limits.MaxSentences,
	}
	if body.Category != "" {
		tc.Category = or(h.catalog.Categories[body.Category].Label, body.Category)
	}
	return tc
}

func or(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: write response", "err", err)
	}
}
