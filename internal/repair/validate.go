package repair

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/kaigo/pkg/types"
)

// Limits bound the agent reply for one plan tier.
type Limits struct {
	MaxChars     int
	MaxSentences int
	MaxTokens    int
}

// validate returns the structural violations of turn. Bad romanization or
// translation fields are not violations; they are backfilled.
func validate(turn *types.Turn, malformed bool, limits Limits, markers []string) []Violation {
	var vs []Violation
	if malformed {
		vs = append(vs, Violation{Reason: ReasonMalformed})
	}
	for _, ref := range turn.Triples() {
		if types.BadField(ref.Triple.Script) {
			vs = append(vs, Violation{Reason: ReasonBadScript, Field: ref.ID})
		}
	}

	agent := turn.Agent.Script
	if n := utf8.RuneCountInString(agent); limits.MaxChars > 0 && n > limits.MaxChars {
		vs = append(vs, Violation{
			Reason: ReasonTooLong, Field: types.IDAgent,
			Detail: fmt.Sprintf("%d characters, limit %d", n, limits.MaxChars),
		})
	}
	if n := countSentences(agent); limits.MaxSentences > 0 && n > limits.MaxSentences {
		vs = append(vs, Violation{
			Reason: ReasonTooManySentences, Field: types.IDAgent,
			Detail: fmt.Sprintf("%d sentences, limit %d", n, limits.MaxSentences),
		})
	}

	for _, ref := range turn.Triples() {
		if m := leaked(markers, ref.Triple.Script, ref.Triple.Romanization, ref.Triple.Translation); m != "" {
			vs = append(vs, Violation{Reason: ReasonLeakedMarker, Field: ref.ID, Detail: m})
		}
	}
	if m := leaked(markers, turn.Feedback); m != "" {
		vs = append(vs, Violation{Reason: ReasonLeakedMarker, Field: "feedback", Detail: m})
	}
	return vs
}

func leaked(markers []string, fields ...string) string {
	for _, m := range markers {
		for _, f := range fields {
			if strings.Contains(f, m) {
				return m
			}
		}
	}
	return ""
}

// severity orders candidate turns: fewer bad scripts first, then fewer
// violations.
func severity(vs []Violation) (badScripts, total int) {
	for _, v := range vs {
		if v.Reason == ReasonBadScript || v.Reason == ReasonMalformed {
			badScripts++
		}
	}
	return badScripts, len(vs)
}

func reasons(vs []Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.String())
	}
	return out
}

func isTerminator(r rune) bool {
	switch r {
	case '。', '！', '？', '!', '?', '.':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '」', '』', '）', ')', '"':
		return true
	}
	return false
}

// splitSentences splits s after each run of terminators (and any closing
// brackets that follow). A trailing fragment without terminator is a
// sentence too. Fragments without letters or digits are dropped.
func splitSentences(s string) []string {
	runes := []rune(s)
	var out []string
	start := 0
	flush := func(end int) {
		part := string(runes[start:end])
		if hasContent(part) {
			out = append(out, part)
		}
		start = end
	}
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		j := i + 1
		for j < len(runes) && (isTerminator(runes[j]) || isCloser(runes[j])) {
			j++
		}
		flush(j)
		i = j - 1
	}
	if start < len(runes) {
		flush(len(runes))
	}
	return out
}

func hasContent(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func countSentences(s string) int {
	return len(splitSentences(s))
}

// clampSentences keeps the first n sentences of s.
func clampSentences(s string, n int) string {
	parts := splitSentences(s)
	if n <= 0 || len(parts) <= n {
		return s
	}
	return strings.TrimSpace(strings.Join(parts[:n], ""))
}

// clampChars shortens s to at most limit runes, cutting after the last
// sentence terminator that fits. Without such a terminator the cut is hard.
func clampChars(s string, limit int) string {
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s
	}
	head := runes[:limit]
	for i := len(head) - 1; i > 0; i-- {
		if isTerminator(head[i]) {
			if cut := strings.TrimSpace(string(head[:i+1])); hasContent(cut) {
				return cut
			}
			break
		}
	}
	return strings.TrimSpace(string(head))
}

// stripMarkers removes every marker from s and collapses whitespace.
func stripMarkers(s string, markers []string) string {
	for _, m := range markers {
		s = strings.ReplaceAll(s, m, " ")
	}
	return strings.Join(strings.Fields(s), " ")
}
