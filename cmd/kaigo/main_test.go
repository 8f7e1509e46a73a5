package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/MrWong99/kaigo/internal/config"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRomanize_Args(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "", "romanize", "--kana-only", "すし", "きって")
	if err != nil {
		t.Fatalf("romanize: %v", err)
	}
	if out != "sushi\nkitte\n" {
		t.Errorf("output = %q", out)
	}
}

func TestRomanize_Stdin(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "すし\n\nきって\n", "romanize", "--kana-only")
	if err != nil {
		t.Fatalf("romanize: %v", err)
	}
	if out != "sushi\nkitte\n" {
		t.Errorf("output = %q", out)
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "", "check", "--config", "../../configs/example.yaml")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	for _, want := range []string{"configuration OK", "openai / gpt-4o-mini", "trainee_lite"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	if _, err := execute(t, "", "check", "--config", "does-not-exist.yaml"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("missing config err = %v", err)
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	got := reg.LLMNames()
	for _, name := range config.ValidProviderNames {
		found := false
		for _, g := range got {
			if g == name {
				found = true
			}
		}
		if !found {
			t.Errorf("provider %q not registered", name)
		}
	}
}

func TestOptString(t *testing.T) {
	t.Parallel()

	opts := map[string]any{"organization": "org-1", "timeout": 30}
	if got := optString(opts, "organization"); got != "org-1" {
		t.Errorf("organization = %q", got)
	}
	if got := optString(opts, "timeout"); got != "" {
		t.Errorf("non-string value = %q, want empty", got)
	}
	if got := optString(nil, "x"); got != "" {
		t.Errorf("nil map = %q", got)
	}
}
