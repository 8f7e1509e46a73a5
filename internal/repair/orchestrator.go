// Package repair turns raw generator output into a complete, bounded and
// on-topic role-play turn.
//
// The [Orchestrator] runs an explicit state machine per turn:
//
//	INITIAL → VALIDATING → ACCEPTED → RESOLVED
//	                     → STRUCTURAL_RETRY → VALIDATING
//	                     → FIELD_BACKFILL → RESOLVED
//	any generator failure it cannot absorb → UPSTREAM_FAILURE
//
// The budget per turn is fixed: one structural retry and one backfill call.
// Once the retry is spent, remaining violations are repaired locally
// (markers stripped, agent reply clamped, guardrail re-applied). Fields the
// backfill did not supply are filled by the transliterator (romanization)
// or a sentinel string (translation), so a resolved turn never carries an
// empty or purely numeric field.
package repair

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/kaigo/internal/backfill"
	"github.com/MrWong99/kaigo/internal/generator"
	"github.com/MrWong99/kaigo/internal/guardrail"
	"github.com/MrWong99/kaigo/internal/normalize"
	"github.com/MrWong99/kaigo/internal/observe"
	"github.com/MrWong99/kaigo/internal/prompt"
	"github.com/MrWong99/kaigo/internal/romaji"
	"github.com/MrWong99/kaigo/pkg/types"
)

// Generator issues one logical generator call.
type Generator interface {
	Negotiate(ctx context.Context, req generator.Request) generator.Outcome
}

// Backfiller fills translations and romanizations in one call.
type Backfiller interface {
	Backfill(ctx context.Context, items map[string]string) map[string]backfill.Entry
}

// Romanizer is the deterministic romanization fallback.
type Romanizer interface {
	Romanize(script string) string
}

// Config wires an Orchestrator.
type Config struct {
	Generator      Generator
	Backfill       Backfiller
	Normalizer     *normalize.Normalizer
	Guardrail      *guardrail.Enforcer
	Transliterator Romanizer

	// Schema, when set, is requested in strict mode and used for advisory
	// validation of decoded responses.
	Schema *generator.Schema

	// Sentinel replaces translations nobody could supply.
	Sentinel string

	// Plausibility is the minimum Jaro-Winkler similarity between a
	// backfilled romanization and the deterministic one. Zero uses
	// romaji.DefaultPlausibility; a negative value disables the check.
	Plausibility float64

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Orchestrator runs the reliability pipeline. It holds no per-turn state
// and is safe for concurrent use.
type Orchestrator struct {
	gen          Generator
	backfill     Backfiller
	normalizer   *normalize.Normalizer
	guard        *guardrail.Enforcer
	translit     Romanizer
	schema       *generator.Schema
	sentinel     string
	plausibility float64
	markers      []string
	metrics      *observe.Metrics
}

// New validates cfg and returns an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	var errs []error
	if cfg.Generator == nil {
		errs = append(errs, errors.New("repair: generator is required"))
	}
	if cfg.Backfill == nil {
		errs = append(errs, errors.New("repair: backfill is required"))
	}
	if cfg.Normalizer == nil {
		errs = append(errs, errors.New("repair: normalizer is required"))
	}
	if types.BadField(cfg.Sentinel) {
		errs = append(errs, fmt.Errorf("repair: sentinel %q must not be empty or numeric", cfg.Sentinel))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		gen:          cfg.Generator,
		backfill:     cfg.Backfill,
		normalizer:   cfg.Normalizer,
		guard:        cfg.Guardrail,
		translit:     cfg.Transliterator,
		schema:       cfg.Schema,
		sentinel:     cfg.Sentinel,
		plausibility: cfg.Plausibility,
		markers:      prompt.Markers(),
		metrics:      cfg.Metrics,
	}
	if o.translit == nil {
		o.translit = romaji.NewTransliterator(nil)
	}
	if o.plausibility == 0 {
		o.plausibility = romaji.DefaultPlausibility
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o, nil
}

// Request is one turn to produce.
type Request struct {
	Meta   types.TurnMeta
	Limits Limits

	// System and Content form the generation request. Content is usually a
	// prompt.Content.
	System  string
	Content any

	// UserInput is the trainee's raw message. It restores the user script
	// when the generator keeps dropping it.
	UserInput string
}

// Run produces one turn. On failure the error wraps [ErrUpstreamFailure]
// and the returned Turn is zero. The Report is always populated.
func (o *Orchestrator) Run(ctx context.Context, req Request) (types.Turn, Report, error) {
	start := time.Now()
	o.metrics.ActiveTurns.Add(ctx, 1)
	defer o.metrics.ActiveTurns.Add(ctx, -1)

	ctx, span := observe.StartSpan(ctx, "repair.Run",
		observe.Attr("scene", req.Meta.Scene),
		observe.Attr("persona", req.Meta.Persona),
		observe.Attr("plan", req.Meta.Plan),
	)
	defer span.End()

	r := &run{o: o, req: req}
	turn, err := r.drive(ctx)

	o.metrics.RecordTurn(ctx, r.report.Outcome(), time.Since(start).Seconds())
	log := observe.Logger(ctx).With(
		"scene", req.Meta.Scene,
		"persona", req.Meta.Persona,
		"plan", req.Meta.Plan,
		"outcome", r.report.Outcome(),
		"retries", r.report.Retries,
		"backfills", r.report.Backfills,
	)
	span.SetAttributes(observe.Attr("outcome", r.report.Outcome()))
	if err != nil {
		observe.Fail(span, err)
		log.Warn("repair: turn failed", "err", err)
		return types.Turn{}, r.report, err
	}
	log.Info("repair: turn finished",
		"substituted", r.report.Substituted,
		"clamped", r.report.Clamped,
		"transliterated", len(r.report.Transliterated),
		"sentinels", len(r.report.Sentinels),
	)
	return turn, r.report, nil
}

// candidate is one decoded generator response.
type candidate struct {
	turn        types.Turn
	malformed   bool
	mismatched  bool
	substituted bool
	violations  []Violation
}

// run holds the state of one Run call.
type run struct {
	o      *Orchestrator
	req    Request
	report Report

	state   State
	current candidate
	err     error

	retried    bool
	backfilled bool
}

func (r *run) enter(s State) {
	r.state = s
	r.report.Trace = append(r.report.Trace, s)
}

func (r *run) fail(err error) {
	r.err = err
	r.enter(StateUpstreamFailure)
}

func (r *run) drive(ctx context.Context) (types.Turn, error) {
	r.enter(StateInitial)
	for {
		switch r.state {
		case StateInitial:
			c, out := r.o.generate(ctx, r.req, "turn", r.req.System)
			r.report.Downgraded = r.report.Downgraded || out.Downgraded
			if out.Kind != generator.Accepted {
				r.fail(fmt.Errorf("%w: %w", ErrUpstreamFailure, out.Err))
				continue
			}
			r.countMismatch(c)
			r.adopt(ctx, c)
			r.report.Rejections = c.violations
			r.enter(StateValidating)

		case StateValidating:
			vs := r.current.violations
			switch {
			case len(vs) == 0 && r.current.turn.Complete():
				r.enter(StateAccepted)
			case len(vs) == 0:
				r.enter(StateFieldBackfill)
			case !r.retried:
				r.enter(StateStructuralRetry)
			default:
				if err := r.repairLocally(ctx); err != nil {
					r.fail(err)
					continue
				}
				r.enter(StateFieldBackfill)
			}

		case StateStructuralRetry:
			r.retried = true
			r.report.Retries++
			vs := r.current.violations
			r.o.metrics.RecordRetry(ctx, string(vs[0].Reason))
			observe.Logger(ctx).Info("repair: structural retry", "violations", reasons(vs))

			system := r.req.System + prompt.RepairInstruction(reasons(vs), r.req.Limits.MaxChars, r.req.Limits.MaxSentences)
			c, out := r.o.generate(ctx, r.req, "retry", system)
			r.report.Downgraded = r.report.Downgraded || out.Downgraded
			if out.Kind != generator.Accepted {
				// The retry is spent; continue with what we have.
				observe.Logger(ctx).Warn("repair: retry failed", "err", out.Err)
			} else {
				r.countMismatch(c)
				if better(c, r.current) {
					r.adopt(ctx, c)
				}
			}
			r.enter(StateValidating)

		case StateFieldBackfill:
			r.fillFields(ctx)
			r.enter(StateResolved)

		case StateAccepted:
			r.enter(StateResolved)

		case StateResolved:
			if id, field, bad := firstBadField(&r.current.turn); bad {
				r.fail(fmt.Errorf("%w: %s %s still unusable", ErrUpstreamFailure, id, field))
				continue
			}
			return r.current.turn, nil

		case StateUpstreamFailure:
			return types.Turn{}, r.err
		}
	}
}

// adopt makes c the working candidate.
func (r *run) adopt(ctx context.Context, c candidate) {
	r.current = c
	r.report.Substituted = c.substituted
	if c.substituted {
		r.o.metrics.RecordGuardrailSubstitution(ctx, r.req.Meta.Scene, r.req.Meta.Persona)
	}
}

func (r *run) countMismatch(c candidate) {
	if c.mismatched {
		r.report.SchemaMismatches++
	}
}

// better reports whether next should replace cur.
func better(next, cur candidate) bool {
	nb, nt := severity(next.violations)
	cb, ct := severity(cur.violations)
	if nb != cb {
		return nb < cb
	}
	return nt <= ct
}

// repairLocally fixes the current turn without the generator. It fails
// when a primary script is unusable and cannot be restored.
func (r *run) repairLocally(ctx context.Context) error {
	t := &r.current.turn
	limits := r.req.Limits

	for _, ref := range t.Triples() {
		ref.Triple.Script = stripMarkers(ref.Triple.Script, r.o.markers)
		ref.Triple.Romanization = stripMarkers(ref.Triple.Romanization, r.o.markers)
		ref.Triple.Translation = stripMarkers(ref.Triple.Translation, r.o.markers)
	}
	t.Feedback = stripMarkers(t.Feedback, r.o.markers)

	if types.BadField(t.User.Script) && romaji.IsJapanese(r.req.UserInput) {
		restored := r.o.normalizer.Clean(types.Triple{Script: r.req.UserInput}).Script
		if !types.BadField(restored) {
			t.User = types.Triple{Script: restored}
			observe.Logger(ctx).Info("repair: user script restored from input")
		}
	}

	if !types.BadField(t.Agent.Script) {
		clamped := clampChars(clampSentences(t.Agent.Script, limits.MaxSentences), limits.MaxChars)
		if clamped != t.Agent.Script {
			t.Agent = types.Triple{Script: clamped}
			r.report.Clamped = true
		}
	}

	if r.o.guard != nil {
		enforced, changed := r.o.guard.Enforce(*t, r.req.Meta.Scene, r.req.Meta.Persona, limits.MaxChars)
		if changed {
			*t = enforced
			r.report.Substituted = true
			r.o.metrics.RecordGuardrailSubstitution(ctx, r.req.Meta.Scene, r.req.Meta.Persona)
		}
	}

	for _, ref := range t.Triples() {
		if types.BadField(ref.Triple.Script) {
			return fmt.Errorf("%w: %s script unusable after retry", ErrUpstreamFailure, ref.ID)
		}
	}
	r.current.violations = nil
	return nil
}

// fillFields runs the single backfill call, then the deterministic
// fallbacks for whatever is still missing.
func (r *run) fillFields(ctx context.Context) {
	t := &r.current.turn

	items := map[string]string{}
	for _, ref := range t.Triples() {
		if types.BadField(ref.Triple.Script) {
			continue
		}
		if types.BadField(ref.Triple.Romanization) || types.BadField(ref.Triple.Translation) {
			items[ref.ID] = ref.Triple.Script
		}
	}

	if len(items) > 0 && !r.backfilled {
		r.backfilled = true
		r.report.Backfills++
		entries := r.o.backfill.Backfill(ctx, items)
		status := "ok"
		if len(entries) == 0 {
			status = "empty"
		}
		r.o.metrics.RecordBackfill(ctx, status)

		for id, e := range entries {
			tr := t.Triple(id)
			if tr == nil {
				continue
			}
			if types.BadField(tr.Translation) && !types.BadField(e.Translation) {
				tr.Translation = strings.TrimSpace(e.Translation)
			}
			if types.BadField(tr.Romanization) && !types.BadField(e.Romanization) && r.plausible(e.Romanization, tr.Script) {
				tr.Romanization = strings.TrimSpace(e.Romanization)
			}
		}
	}

	for _, ref := range t.Triples() {
		if types.BadField(ref.Triple.Romanization) {
			roma := r.o.translit.Romanize(ref.Triple.Script)
			if types.BadField(roma) {
				// Nothing romanizable (a lone gemination mark, say): the
				// script is the most faithful reading left.
				roma = ref.Triple.Script
			}
			ref.Triple.Romanization = roma
			r.report.Transliterated = append(r.report.Transliterated, ref.ID)
			r.o.metrics.RecordFieldFallback(ctx, "romanization", "transliteration")
		}
		if types.BadField(ref.Triple.Translation) {
			ref.Triple.Translation = r.o.sentinel
			r.report.Sentinels = append(r.report.Sentinels, ref.ID)
			r.o.metrics.RecordFieldFallback(ctx, "translation", "sentinel")
		}
	}
}

func (r *run) plausible(candidate, script string) bool {
	if r.o.plausibility < 0 {
		return true
	}
	return romaji.Plausible(candidate, r.o.translit.Romanize(script), r.o.plausibility)
}

// generate performs one generator call and assembles the response into a
// candidate turn (normalized, guardrail applied, validated).
func (o *Orchestrator) generate(ctx context.Context, req Request, purpose, system string) (candidate, generator.Outcome) {
	out := o.gen.Negotiate(ctx, generator.Request{
		Purpose:   purpose,
		System:    system,
		Content:   req.Content,
		MaxTokens: req.Limits.MaxTokens,
		Schema:    o.schema,
	})
	if out.Kind != generator.Accepted {
		return candidate{}, out
	}

	d := generator.Decode(out.Text, o.schema)
	c := candidate{turn: o.assemble(d.Object, req.Meta), malformed: d.Status == generator.Malformed}
	if d.SchemaErr != nil {
		c.mismatched = true
		o.metrics.RecordSchemaMismatch(ctx, purpose)
		observe.Logger(ctx).Debug("repair: response does not match schema", "purpose", purpose, "err", d.SchemaErr)
	}
	if o.guard != nil {
		c.turn, c.substituted = o.guard.Enforce(c.turn, req.Meta.Scene, req.Meta.Persona, req.Limits.MaxChars)
	}
	c.violations = validate(&c.turn, c.malformed, req.Limits, o.markers)
	return c, out
}

// assemble builds a Turn from a decoded response object.
func (o *Orchestrator) assemble(obj map[string]any, meta types.TurnMeta) types.Turn {
	t := types.Turn{
		User:        o.normalizer.Normalize(obj[types.IDUser]),
		Agent:       o.normalizer.Normalize(obj[types.IDAgent]),
		Suggested:   o.normalizer.Normalize(obj[types.IDSuggested]),
		Annotations: []any{},
		Score:       map[string]any{},
		Meta:        meta,
	}
	if s, ok := obj["feedback"].(string); ok {
		t.Feedback = strings.TrimSpace(s)
	}
	if a, ok := obj["annotations"].([]any); ok {
		t.Annotations = a
	}
	if s, ok := obj["score"].(map[string]any); ok {
		t.Score = s
	}
	return t
}

func firstBadField(t *types.Turn) (id, field string, bad bool) {
	for _, ref := range t.Triples() {
		switch {
		case types.BadField(ref.Triple.Script):
			return ref.ID, "script", true
		case types.BadField(ref.Triple.Romanization):
			return ref.ID, "romanization", true
		case types.BadField(ref.Triple.Translation):
			return ref.ID, "translation", true
		}
	}
	return "", "", false
}
