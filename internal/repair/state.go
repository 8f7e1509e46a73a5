package repair

import (
	"errors"
	"strings"
)

// ErrUpstreamFailure is returned by [Orchestrator.Run] when the generator
// could not produce a usable turn within the fixed budget.
var ErrUpstreamFailure = errors.New("repair: upstream failure")

// State is a node of the repair state machine.
type State int

const (
	StateInitial State = iota
	StateValidating
	StateAccepted
	StateStructuralRetry
	StateFieldBackfill
	StateResolved
	StateUpstreamFailure
)

var stateNames = [...]string{
	StateInitial:         "INITIAL",
	StateValidating:      "VALIDATING",
	StateAccepted:        "ACCEPTED",
	StateStructuralRetry: "STRUCTURAL_RETRY",
	StateFieldBackfill:   "FIELD_BACKFILL",
	StateResolved:        "RESOLVED",
	StateUpstreamFailure: "UPSTREAM_FAILURE",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateUpstreamFailure
}

// Reason classifies a structural rejection.
type Reason string

const (
	ReasonMalformed        Reason = "malformed"
	ReasonBadScript        Reason = "bad_script"
	ReasonTooLong          Reason = "agent_too_long"
	ReasonTooManySentences Reason = "agent_too_many_sentences"
	ReasonLeakedMarker     Reason = "leaked_marker"
)

// Violation is one reason a turn was rejected.
type Violation struct {
	Reason Reason
	// Field is the triple id ("user", "agent", "suggested") or "feedback".
	Field  string
	Detail string
}

// String renders the violation for logs and the repair instruction.
func (v Violation) String() string {
	var sb strings.Builder
	sb.WriteString(string(v.Reason))
	if v.Field != "" {
		sb.WriteString(" (")
		sb.WriteString(v.Field)
		sb.WriteString(")")
	}
	if v.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(v.Detail)
	}
	return sb.String()
}

// Report describes how a turn was produced.
type Report struct {
	// Trace lists every state entered, in order.
	Trace []State

	// Retries and Backfills count generator calls spent on repair.
	Retries   int
	Backfills int

	// Rejections holds the violations of the first validation.
	Rejections []Violation

	// Substituted is true when the guardrail replaced the agent reply.
	Substituted bool

	// SchemaMismatches counts decoded responses that failed schema
	// validation. The mismatch is advisory and does not reject the turn.
	SchemaMismatches int

	// Downgraded is true when a call fell back from strict to loose mode.
	Downgraded bool

	// Clamped is true when the agent reply was shortened deterministically.
	Clamped bool

	// Transliterated and Sentinels list triple ids whose romanization or
	// translation was filled without the generator.
	Transliterated []string
	Sentinels      []string
}

// Final returns the last state entered.
func (r Report) Final() State {
	if len(r.Trace) == 0 {
		return StateInitial
	}
	return r.Trace[len(r.Trace)-1]
}

// Outcome summarises the run for metrics: "accepted" when the first
// response was used as is, "resolved" when any repair happened, and
// "upstream_failure" otherwise.
func (r Report) Outcome() string {
	switch r.Final() {
	case StateUpstreamFailure:
		return "upstream_failure"
	case StateResolved:
		if r.Visited(StateAccepted) && !r.Visited(StateStructuralRetry) {
			return "accepted"
		}
		return "resolved"
	default:
		return "incomplete"
	}
}

// Visited reports whether s appears in the trace.
func (r Report) Visited(s State) bool {
	for _, t := range r.Trace {
		if t == s {
			return true
		}
	}
	return false
}
