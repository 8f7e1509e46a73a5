// Package types defines the shared types used across all kaigo packages.
//
// These types form the lingua franca between the generator client, the
// normalizer, the guardrail enforcer, the repair orchestrator, and the HTTP
// transport. Each package defines its own domain types; the turn model lives
// here to avoid circular imports.
package types

import (
	"strings"
	"unicode"
)

// Triple ids, in the order [Turn.Triples] yields them.
const (
	IDUser      = "user"
	IDAgent     = "agent"
	IDSuggested = "suggested"
)

// Triple is one utterance rendered three ways.
type Triple struct {
	// Script is the native-script (Japanese) form.
	Script string `json:"script"`

	// Romanization is the phonetic romaji reading of Script.
	Romanization string `json:"romanization"`

	// Translation is Script rendered in the learner's language.
	Translation string `json:"translation"`
}

// BadField reports whether s is unusable as a triple field: empty after
// trimming, or made only of digits.
func BadField(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// Complete reports whether none of the three fields is bad.
func (t Triple) Complete() bool {
	return !BadField(t.Script) && !BadField(t.Romanization) && !BadField(t.Translation)
}

// TurnMeta is the request metadata a Turn was produced for.
type TurnMeta struct {
	Scene    string `json:"scene"`
	Persona  string `json:"persona"`
	Category string `json:"category,omitempty"`
	Plan     string `json:"plan"`
}

// Turn is one complete role-play exchange. A Turn is created fresh for each
// request, mutated only by pipeline stages, and never shared.
type Turn struct {
	User      Triple `json:"user"`
	Agent     Triple `json:"agent"`
	Suggested Triple `json:"suggested"`

	// Feedback is free-form coaching text on the user's utterance.
	Feedback string `json:"feedback"`

	// Annotations is structured list data (vocabulary notes and the like).
	// Never nil on a finalized Turn.
	Annotations []any `json:"annotations"`

	// Score is structured rating data. Never nil on a finalized Turn.
	Score map[string]any `json:"score"`

	Meta TurnMeta `json:"-"`
}

// TripleRef pairs a triple id with a pointer into its Turn.
type TripleRef struct {
	ID     string
	Triple *Triple
}

// Triples returns the three primary triples in the order user, agent,
// suggested. The pointers alias t.
func (t *Turn) Triples() []TripleRef {
	return []TripleRef{
		{ID: IDUser, Triple: &t.User},
		{ID: IDAgent, Triple: &t.Agent},
		{ID: IDSuggested, Triple: &t.Suggested},
	}
}

// Triple returns the triple with the given id, or nil.
func (t *Turn) Triple(id string) *Triple {
	switch id {
	case IDUser:
		return &t.User
	case IDAgent:
		return &t.Agent
	case IDSuggested:
		return &t.Suggested
	}
	return nil
}

// Complete reports whether every primary triple is fully populated.
func (t *Turn) Complete() bool {
	for _, ref := range t.Triples() {
		if !ref.Triple.Complete() {
			return false
		}
	}
	return true
}
