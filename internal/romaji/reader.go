package romaji

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ikawaha/kagome-dict/ipa"
	"github.com/ikawaha/kagome/v2/tokenizer"
)

// Reader rewrites kanji-bearing text into katakana readings using the
// kagome morphological analyser with the IPA dictionary. Tokens without
// kanji, and tokens the dictionary has no reading for, are kept verbatim.
//
// A Reader is safe for concurrent use.
type Reader struct {
	tok *tokenizer.Tokenizer
}

// NewReader builds a Reader. Loading the IPA dictionary takes a noticeable
// moment and a few tens of megabytes, so construct one per process.
func NewReader() (*Reader, error) {
	t, err := tokenizer.New(ipa.Dict(), tokenizer.OmitBosEos())
	if err != nil {
		return nil, fmt.Errorf("romaji: create tokenizer: %w", err)
	}
	return &Reader{tok: t}, nil
}

// Kana returns s with every kanji-bearing token replaced by its reading.
func (r *Reader) Kana(s string) string {
	if !hasHan(s) {
		return s
	}
	var b strings.Builder
	for _, tk := range r.tok.Tokenize(s) {
		if !hasHan(tk.Surface) {
			b.WriteString(tk.Surface)
			continue
		}
		if reading, ok := tk.Reading(); ok && reading != "" && reading != "*" {
			b.WriteString(reading)
			continue
		}
		b.WriteString(tk.Surface)
	}
	return b.String()
}

func hasHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

// Transliterator is the romanizer used by the pipeline: an optional kanji
// reading pre-pass followed by [Romanize].
type Transliterator struct {
	reader *Reader
}

// NewTransliterator returns a Transliterator. A nil reader disables the
// kanji pre-pass; kanji then pass through unchanged.
func NewTransliterator(reader *Reader) *Transliterator {
	return &Transliterator{reader: reader}
}

// Romanize converts script to romaji.
func (t *Transliterator) Romanize(script string) string {
	if t != nil && t.reader != nil {
		script = t.reader.Kana(script)
	}
	return Romanize(script)
}
