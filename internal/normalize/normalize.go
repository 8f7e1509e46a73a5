// Package normalize canonicalizes generator-produced triples.
//
// A [Normalizer] extracts script, romanization and translation from a raw
// decoded value using a fixed set of field-name aliases, applies literal
// phrase corrections consistently across the three fields, and collapses
// whitespace. It never fails; fields that remain empty or purely numeric
// are left for the repair pipeline (see [types.BadField]).
package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/MrWong99/kaigo/pkg/types"
)

// Field name aliases, checked in order.
var (
	scriptAliases       = []string{"script", "jp", "ja", "japanese", "text", "native"}
	romanizationAliases = []string{"romanization", "romaji", "roma", "reading", "phonetic"}
	translationAliases  = []string{"translation", "id", "indonesian", "translated", "target", "meaning"}
)

// maxPasses bounds the correction fixpoint loop.
const maxPasses = 4

// Rule is a literal substitution within one field.
type Rule struct {
	From string
	To   string
}

func (r Rule) empty() bool { return r.From == "" }

// Correction rewrites one phrase consistently across the fields it names.
// Zero-valued rules leave their field untouched.
type Correction struct {
	Script       Rule
	Romanization Rule
	Translation  Rule
}

// Normalizer applies field aliases and phrase corrections. It is immutable
// after construction and safe for concurrent use.
type Normalizer struct {
	corrections []Correction
}

// New validates corrections and returns a Normalizer. Corrections are
// rejected when a replacement contains any search phrase of the same field,
// since such a rule would rewrite its own output on a second pass.
func New(corrections []Correction) (*Normalizer, error) {
	if err := Validate(corrections); err != nil {
		return nil, err
	}
	cs := make([]Correction, len(corrections))
	copy(cs, corrections)
	return &Normalizer{corrections: cs}, nil
}

// Validate checks a correction list. All problems are reported together.
func Validate(corrections []Correction) error {
	var errs []error
	fields := []struct {
		name string
		get  func(Correction) Rule
	}{
		{"script", func(c Correction) Rule { return c.Script }},
		{"romanization", func(c Correction) Rule { return c.Romanization }},
		{"translation", func(c Correction) Rule { return c.Translation }},
	}
	for i, c := range corrections {
		if c.Script.empty() && c.Romanization.empty() && c.Translation.empty() {
			errs = append(errs, fmt.Errorf("correction[%d]: at least one field rule is required", i))
		}
	}
	for _, f := range fields {
		for i, ci := range corrections {
			to := f.get(ci).To
			if f.get(ci).empty() {
				continue
			}
			for j, cj := range corrections {
				from := f.get(cj).From
				if from == "" {
					continue
				}
				if strings.Contains(to, from) {
					errs = append(errs, fmt.Errorf("correction[%d].%s: replacement %q contains search phrase %q of correction[%d]", i, f.name, to, from, j))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// Normalize extracts a Triple from raw. raw may be a decoded JSON object
// (map[string]any), a Triple, or a free-text string.
func (n *Normalizer) Normalize(raw any) types.Triple {
	var t types.Triple
	switch v := raw.(type) {
	case nil:
	case types.Triple:
		t = v
	case *types.Triple:
		if v != nil {
			t = *v
		}
	case map[string]any:
		t = types.Triple{
			Script:       pick(v, scriptAliases),
			Romanization: pick(v, romanizationAliases),
			Translation:  pick(v, translationAliases),
		}
	case string:
		t = ParseText(v)
	default:
		t.Script = stringify(v)
	}
	return n.Clean(t)
}

// Clean applies corrections and whitespace rules to an already extracted
// Triple.
func (n *Normalizer) Clean(t types.Triple) types.Triple {
	t.Script = collapse(t.Script)
	t.Romanization = collapse(t.Romanization)
	t.Translation = collapse(t.Translation)

	for range maxPasses {
		before := t
		for _, c := range n.corrections {
			t.Script = apply(t.Script, c.Script)
			t.Romanization = apply(t.Romanization, c.Romanization)
			t.Translation = apply(t.Translation, c.Translation)
		}
		if t == before {
			break
		}
	}

	t.Script = collapse(t.Script)
	t.Romanization = collapse(t.Romanization)
	t.Translation = collapse(t.Translation)
	return t
}

func apply(s string, r Rule) string {
	if r.empty() || s == "" {
		return s
	}
	return strings.ReplaceAll(s, r.From, r.To)
}

// collapse trims s and folds every whitespace run (including the
// ideographic space) into a single ASCII space.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func pick(m map[string]any, aliases []string) string {
	for _, k := range aliases {
		if v, ok := m[k]; ok && v != nil {
			if s := stringify(v); strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	// Generators sometimes capitalize keys.
	for k, v := range m {
		lk := strings.ToLower(k)
		for _, a := range aliases {
			if lk == a && v != nil {
				return stringify(v)
			}
		}
	}
	return ""
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	default:
		return ""
	}
}

var (
	paragraphSep = regexp.MustCompile(`\n\s*\n`)
	labelScript  = regexp.MustCompile(`(?m)^(?:JP:|日本語:)\s*(.+)$`)
	labelRomaji  = regexp.MustCompile(`(?m)^(?:ROMAJI:|ローマ字:)\s*(.+)$`)
	labelTrans   = regexp.MustCompile(`(?m)^(?:ID:|インドネシア語:)\s*(.+)$`)
)

// ParseText splits free text into a Triple. Three or more blank-line
// separated paragraphs map to script, romanization and translation in
// order. Otherwise labelled lines ("JP:", "ROMAJI:", "ID:") are used.
// Failing both, the whole text is the script.
func ParseText(s string) types.Triple {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.Triple{}
	}

	var parts []string
	for _, p := range paragraphSep.Split(s, -1) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) >= 3 {
		return types.Triple{Script: parts[0], Romanization: parts[1], Translation: parts[2]}
	}

	m1, m2, m3 := labelScript.FindStringSubmatch(s), labelRomaji.FindStringSubmatch(s), labelTrans.FindStringSubmatch(s)
	if m1 != nil || m2 != nil || m3 != nil {
		return types.Triple{
			Script:       group(m1),
			Romanization: group(m2),
			Translation:  group(m3),
		}
	}
	return types.Triple{Script: s}
}

func group(m []string) string {
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}
