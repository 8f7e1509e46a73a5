package normalize_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/kaigo/internal/normalize"
	"github.com/MrWong99/kaigo/pkg/types"
)

func newNormalizer(t *testing.T) *normalize.Normalizer {
	t.Helper()
	n, err := normalize.New(normalize.DefaultCorrections())
	if err != nil {
		t.Fatalf("New(DefaultCorrections()): %v", err)
	}
	return n
}

func TestNormalize_Aliases(t *testing.T) {
	t.Parallel()

	n := newNormalizer(t)
	tests := []struct {
		name string
		raw  any
		want types.Triple
	}{
		{
			name: "canonical keys",
			raw:  map[string]any{"script": "はい", "romanization": "hai", "translation": "Ya"},
			want: types.Triple{Script: "はい", Romanization: "hai", Translation: "Ya"},
		},
		{
			name: "short keys",
			raw:  map[string]any{"jp": "はい", "romaji": "hai", "id": "Ya"},
			want: types.Triple{Script: "はい", Romanization: "hai", Translation: "Ya"},
		},
		{
			name: "capitalized keys",
			raw:  map[string]any{"Japanese": "はい", "Reading": "hai", "Meaning": "Ya"},
			want: types.Triple{Script: "はい", Romanization: "hai", Translation: "Ya"},
		},
		{
			name: "empty alias falls through",
			raw:  map[string]any{"script": "  ", "text": "はい"},
			want: types.Triple{Script: "はい"},
		},
		{
			name: "numeric translation kept as text",
			raw:  map[string]any{"script": "はい", "romanization": "hai", "translation": float64(1)},
			want: types.Triple{Script: "はい", Romanization: "hai", Translation: "1"},
		},
		{
			name: "nil",
			raw:  nil,
			want: types.Triple{},
		},
		{
			name: "unsupported shape",
			raw:  []any{"はい"},
			want: types.Triple{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := n.Normalize(tt.raw); got != tt.want {
				t.Errorf("Normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNormalize_Corrections(t *testing.T) {
	t.Parallel()

	n := newNormalizer(t)
	got := n.Normalize(map[string]any{
		"script":       "おばあちゃん、だいじょうぶですか？",
		"romanization": "obaachan, daijoubu desu ka?",
		"translation":  "Nenek, apakah baik-baik saja?",
	})
	want := types.Triple{
		Script:       "さとうさん、だいじょうぶですか？",
		Romanization: "satou-san, daijoubu desu ka?",
		Translation:  "Bu Sato, apakah baik-baik saja?",
	}
	if got != want {
		t.Errorf("Normalize() = %+v, want %+v", got, want)
	}
}

func TestNormalize_MedicalTerms(t *testing.T) {
	t.Parallel()

	n := newNormalizer(t)
	tests := []struct {
		in   string
		want string
	}{
		{"低血糖 かもしれません", "ていけっとう かもしれません"},
		{"SpO2 を はかります", "えすぴーおーつー を はかります"},
		{"呼吸苦 が あります", "いきが くるしい が あります"},
		{"けっとう  が　ひくい です", "ていけっとう の うたがい です"},
	}
	for _, tt := range tests {
		got := n.Normalize(map[string]any{"script": tt.in})
		if got.Script != tt.want {
			t.Errorf("Normalize(%q).Script = %q, want %q", tt.in, got.Script, tt.want)
		}
	}
}

func TestNormalize_Whitespace(t *testing.T) {
	t.Parallel()

	n := newNormalizer(t)
	got := n.Normalize(map[string]any{
		"script":       "  はい　　わかりました \n",
		"romanization": "hai\t\twakarimashita",
		"translation":  "\n",
	})
	want := types.Triple{Script: "はい わかりました", Romanization: "hai wakarimashita"}
	if got != want {
		t.Errorf("Normalize() = %+v, want %+v", got, want)
	}
	if !types.BadField(got.Translation) {
		t.Errorf("whitespace-only translation should be bad, got %q", got.Translation)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	n := newNormalizer(t)
	inputs := []any{
		map[string]any{"script": "おばあちゃん  低血糖 です", "romaji": " obaachan ", "id": "Nenek"},
		map[string]any{"jp": "SpO2 は 90 です", "translation": "42"},
		"JP: おじいちゃん\nROMAJI: ojiichan\nID: Kakek",
		"はい\n\nhai\n\nYa",
		types.Triple{Script: "  けっとう が ひくい  "},
	}
	for _, in := range inputs {
		once := n.Normalize(in)
		twice := n.Normalize(once)
		if once != twice {
			t.Errorf("not idempotent for %v: %+v then %+v", in, once, twice)
		}
	}
}

func TestValidate_RejectsSelfFeedingRule(t *testing.T) {
	t.Parallel()

	bad := []normalize.Correction{
		{Script: normalize.Rule{From: "さん", To: "さとうさん"}},
	}
	if _, err := normalize.New(bad); err == nil {
		t.Fatal("expected error for replacement containing its own search phrase")
	}

	crossed := []normalize.Correction{
		{Translation: normalize.Rule{From: "Nenek", To: "Ibu"}},
		{Translation: normalize.Rule{From: "Ibu", To: "Bu Sato"}},
	}
	err := normalize.Validate(crossed)
	if err == nil {
		t.Fatal("expected error for replacement containing another rule's search phrase")
	}
	if !strings.Contains(err.Error(), "translation") {
		t.Errorf("error should name the field: %v", err)
	}

	if err := normalize.Validate([]normalize.Correction{{}}); err == nil {
		t.Fatal("expected error for empty correction")
	}
}

func TestParseText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want types.Triple
	}{
		{
			name: "paragraphs",
			in:   "だいじょうぶですか？\n\ndaijoubu desu ka?\n \nApakah baik-baik saja?",
			want: types.Triple{Script: "だいじょうぶですか？", Romanization: "daijoubu desu ka?", Translation: "Apakah baik-baik saja?"},
		},
		{
			name: "labels",
			in:   "JP: はい\nROMAJI: hai\nID: Ya",
			want: types.Triple{Script: "はい", Romanization: "hai", Translation: "Ya"},
		},
		{
			name: "japanese labels partial",
			in:   "日本語: はい\nインドネシア語: Ya",
			want: types.Triple{Script: "はい", Translation: "Ya"},
		},
		{
			name: "plain",
			in:   "  はい  ",
			want: types.Triple{Script: "はい"},
		},
		{
			name: "empty",
			in:   "",
			want: types.Triple{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := normalize.ParseText(tt.in); got != tt.want {
				t.Errorf("ParseText() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
