// Package guardrail keeps agent replies on the topic of their scene.
//
// A [Rule] for a (scene, persona) pair lists required keywords and canned
// fallback utterances. When an agent reply mentions none of the keywords it
// is replaced by the longest fallback that fits the plan's length limit.
// Matching is a plain substring check.
package guardrail

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/kaigo/pkg/types"
)

// Key identifies a rule.
type Key struct {
	Scene   string
	Persona string
}

// Rule is the guardrail for one (scene, persona) pair.
type Rule struct {
	Keywords  []string
	Fallbacks []string
}

// Enforcer holds an immutable rule set and is safe for concurrent use.
type Enforcer struct {
	rules map[Key]Rule
}

// New validates rules and returns an Enforcer. Every rule needs at least
// one non-empty keyword and one non-empty fallback.
func New(rules map[Key]Rule) (*Enforcer, error) {
	var errs []error
	own := make(map[Key]Rule, len(rules))
	for k, r := range rules {
		if k.Scene == "" || k.Persona == "" {
			errs = append(errs, fmt.Errorf("guardrail %s/%s: scene and persona are required", k.Scene, k.Persona))
		}
		if len(nonEmpty(r.Keywords)) == 0 {
			errs = append(errs, fmt.Errorf("guardrail %s/%s: at least one keyword is required", k.Scene, k.Persona))
		}
		if len(nonEmpty(r.Fallbacks)) == 0 {
			errs = append(errs, fmt.Errorf("guardrail %s/%s: at least one fallback is required", k.Scene, k.Persona))
		}
		own[k] = Rule{Keywords: nonEmpty(r.Keywords), Fallbacks: nonEmpty(r.Fallbacks)}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Enforcer{rules: own}, nil
}

// Lookup returns the rule for (scene, persona).
func (e *Enforcer) Lookup(scene, persona string) (Rule, bool) {
	if e == nil {
		return Rule{}, false
	}
	r, ok := e.rules[Key{Scene: scene, Persona: persona}]
	return r, ok
}

// Satisfied reports whether script passes the rule for (scene, persona):
// either no rule applies, the script contains a keyword, or it is exactly
// one of the fallbacks.
func (e *Enforcer) Satisfied(script, scene, persona string) bool {
	r, ok := e.Lookup(scene, persona)
	if !ok {
		return true
	}
	return r.matches(script) || r.isFallback(script)
}

// Enforce returns turn with its agent reply checked against the rule for
// (scene, persona). A script that already is a fallback passes. On a miss
// the agent script is replaced by a fallback
// and its romanization and translation are cleared for regeneration. The
// second result reports whether a substitution happened.
func (e *Enforcer) Enforce(turn types.Turn, scene, persona string, maxChars int) (types.Turn, bool) {
	r, ok := e.Lookup(scene, persona)
	if !ok || r.matches(turn.Agent.Script) || r.isFallback(turn.Agent.Script) {
		return turn, false
	}
	turn.Agent = types.Triple{Script: r.pick(maxChars)}
	return turn, true
}

func (r Rule) matches(script string) bool {
	for _, k := range r.Keywords {
		if strings.Contains(script, k) {
			return true
		}
	}
	return false
}

func (r Rule) isFallback(script string) bool {
	for _, f := range r.Fallbacks {
		if script == f {
			return true
		}
	}
	return false
}

// pick returns the longest fallback within maxChars runes, or the shortest
// fallback when none fits. Ties keep configuration order. A non-positive
// maxChars means no limit.
func (r Rule) pick(maxChars int) string {
	best, bestLen := "", -1
	shortest, shortestLen := "", -1
	for _, f := range r.Fallbacks {
		n := utf8.RuneCountInString(f)
		if (maxChars <= 0 || n <= maxChars) && n > bestLen {
			best, bestLen = f, n
		}
		if shortestLen < 0 || n < shortestLen {
			shortest, shortestLen = f, n
		}
	}
	if bestLen >= 0 {
		return best
	}
	return shortest
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
