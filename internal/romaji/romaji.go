// Package romaji converts Japanese kana into Hepburn-style romaji.
//
// [Romanize] is the deterministic fallback used by the repair pipeline when
// the generator fails to supply a usable romanization. It is pure and total:
// unmapped characters (kanji, latin text, digits) pass through unchanged.
//
// Two contextual rules apply on top of the lookup tables:
//
//   - っ/ッ (gemination) emits nothing and doubles the first letter of the
//     next segment when that segment starts with a consonant.
//   - ん/ン (moraic nasal) renders "n'" when the next non-whitespace segment
//     starts with a vowel or "y", and "n" otherwise.
//
// [Transliterator] adds a kanji reading pre-pass on top of Romanize.
package romaji

import (
	"strings"
	"unicode"
)

type segmentKind int

const (
	segKana segmentKind = iota
	segSokuon
	segNasal
	segProlonged
	segSpace
	segOther
)

type segment struct {
	kind segmentKind
	text string
}

// Romanize returns the romaji rendering of script.
func Romanize(script string) string {
	if script == "" {
		return ""
	}
	return render(tokenize(script))
}

// tokenize splits s into segments. Digraphs win over single kana.
func tokenize(s string) []segment {
	runes := []rune(s)
	segs := make([]segment, 0, len(runes))
	for i := 0; i < len(runes); i++ {
		r := foldKatakana(runes[i])

		if i+1 < len(runes) {
			pair := string([]rune{r, foldKatakana(runes[i+1])})
			if seg, ok := digraphs[pair]; ok {
				segs = append(segs, segment{kind: segKana, text: seg})
				i++
				continue
			}
		}

		switch {
		case r == sokuon:
			segs = append(segs, segment{kind: segSokuon})
		case r == nasal:
			segs = append(segs, segment{kind: segNasal})
		case r == prolonged:
			segs = append(segs, segment{kind: segProlonged})
		default:
			if seg, ok := singles[r]; ok {
				segs = append(segs, segment{kind: segKana, text: seg})
			} else if p, ok := punctuation[r]; ok {
				kind := segOther
				if p == " " {
					kind = segSpace
				}
				segs = append(segs, segment{kind: kind, text: p})
			} else if unicode.IsSpace(r) {
				segs = append(segs, segment{kind: segSpace, text: string(r)})
			} else {
				// Pass through the original rune, not the folded one.
				segs = append(segs, segment{kind: segOther, text: string(runes[i])})
			}
		}
	}
	return segs
}

func render(segs []segment) string {
	var b strings.Builder
	geminate := false
	for i, seg := range segs {
		switch seg.kind {
		case segSokuon:
			geminate = true
			continue
		case segNasal:
			if next := nextSpoken(segs, i+1); next != "" && startsVowelOrGlide(next) {
				b.WriteString("n'")
			} else {
				b.WriteString("n")
			}
		case segProlonged:
			if v, ok := lastVowel(b.String()); ok {
				b.WriteByte(v)
			} else {
				b.WriteByte('-')
			}
		case segKana:
			if geminate && startsConsonant(seg.text) {
				b.WriteByte(seg.text[0])
			}
			b.WriteString(seg.text)
		default:
			b.WriteString(seg.text)
		}
		geminate = false
	}
	return b.String()
}

// nextSpoken returns the text of the next kana segment at or after i,
// skipping whitespace and gemination markers. It returns "" when the next
// meaningful segment is not kana.
func nextSpoken(segs []segment, i int) string {
	for ; i < len(segs); i++ {
		switch segs[i].kind {
		case segSpace, segSokuon:
			continue
		case segKana:
			return segs[i].text
		default:
			return ""
		}
	}
	return ""
}

func isVowel(c byte) bool {
	switch c {
	case 'a', 'i', 'u', 'e', 'o':
		return true
	}
	return false
}

func startsVowelOrGlide(s string) bool {
	return s != "" && (isVowel(s[0]) || s[0] == 'y')
}

func startsConsonant(s string) bool {
	return s != "" && s[0] >= 'a' && s[0] <= 'z' && !isVowel(s[0])
}

func lastVowel(s string) (byte, bool) {
	if s == "" {
		return 0, false
	}
	c := s[len(s)-1]
	return c, isVowel(c)
}

// ContainsKana reports whether s contains any hiragana or katakana.
func ContainsKana(s string) bool {
	for _, r := range s {
		if unicode.In(r, unicode.Hiragana, unicode.Katakana) && r != '・' {
			return true
		}
	}
	return false
}

// IsJapanese reports whether s contains kana or kanji.
func IsJapanese(s string) bool {
	for _, r := range s {
		if unicode.In(r, unicode.Hiragana, unicode.Katakana, unicode.Han) && r != '・' {
			return true
		}
	}
	return false
}
