package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/kaigo/internal/guardrail"
	"github.com/MrWong99/kaigo/internal/normalize"
	"github.com/MrWong99/kaigo/pkg/types"
)

// ValidProviderNames lists known LLM provider names. Used by [Validate] to
// warn about unrecognised names.
var ValidProviderNames = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// DefaultPlans are used when the configuration declares no plans. The keys
// follow the subscription tiers of the trainee front-end.
func DefaultPlans() map[string]PlanConfig {
	return map[string]PlanConfig{
		"trainee_lite":     {MaxChars: 60, MaxSentences: 2, MaxTokens: 700},
		"trainee_standard": {MaxChars: 90, MaxSentences: 3, MaxTokens: 900},
		"ssw_standard":     {MaxChars: 120, MaxSentences: 3, MaxTokens: 1100},
		"ssw_pro":          {MaxChars: 160, MaxSentences: 4, MaxTokens: 1400},
	}
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.AllowOrigin == "" {
		cfg.Server.AllowOrigin = "*"
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	g := &cfg.Generator
	if g.Timeout <= 0 {
		g.Timeout = 20 * time.Second
	}
	if g.Temperature == nil {
		g.Temperature = ptr(0.3)
	}
	if g.StrictSchema == nil {
		g.StrictSchema = ptr(true)
	}
	if g.CapabilityTTL <= 0 {
		g.CapabilityTTL = time.Hour
	}
	if g.RateLimit.RPS > 0 && g.RateLimit.Burst <= 0 {
		g.RateLimit.Burst = 1
	}
	if g.BackfillMaxTokens <= 0 {
		g.BackfillMaxTokens = 400
	}

	if len(cfg.Plans) == 0 {
		cfg.Plans = DefaultPlans()
	}
	if cfg.DefaultPlan == "" {
		cfg.DefaultPlan = "trainee_lite"
	}

	if cfg.Translation.Language == "" {
		cfg.Translation.Language = "Indonesian"
	}
	if cfg.Translation.Sentinel == "" {
		cfg.Translation.Sentinel = "(terjemahan belum tersedia)"
	}
	if cfg.Romaji.KanjiReading == nil {
		cfg.Romaji.KanjiReading = ptr(true)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	validateProviderName("providers.llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.Fallbacks {
		prefix := fmt.Sprintf("providers.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		validateProviderName(prefix, fb.Name)
	}

	// Generator
	g := cfg.Generator
	if g.Temperature != nil && (*g.Temperature < 0 || *g.Temperature > 2) {
		errs = append(errs, fmt.Errorf("generator.temperature %.2f is out of range [0, 2]", *g.Temperature))
	}
	if g.RateLimit.RPS < 0 || g.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("generator.rate_limit values must not be negative"))
	}

	// Plans
	for _, name := range sortedKeys(cfg.Plans) {
		p := cfg.Plans[name]
		if p.MaxChars <= 0 {
			errs = append(errs, fmt.Errorf("plans.%s.max_chars must be positive", name))
		}
		if p.MaxSentences <= 0 {
			errs = append(errs, fmt.Errorf("plans.%s.max_sentences must be positive", name))
		}
		if p.MaxTokens < 0 {
			errs = append(errs, fmt.Errorf("plans.%s.max_tokens must not be negative", name))
		}
	}
	if _, ok := cfg.Plans[cfg.DefaultPlan]; !ok {
		errs = append(errs, fmt.Errorf("default_plan %q is not declared in plans", cfg.DefaultPlan))
	}

	// Translation
	if types.BadField(cfg.Translation.Sentinel) {
		errs = append(errs, fmt.Errorf("translation.sentinel %q must not be empty or numeric", cfg.Translation.Sentinel))
	}
	if p := cfg.Translation.Plausibility; p < 0 || p > 1 {
		errs = append(errs, fmt.Errorf("translation.plausibility %.2f is out of range [0, 1]", p))
	}

	// Guardrails
	tightPlan, tightChars := "", 0
	for _, name := range sortedKeys(cfg.Plans) {
		if n := cfg.Plans[name].MaxChars; n > 0 && (tightChars == 0 || n < tightChars) {
			tightPlan, tightChars = name, n
		}
	}
	seen := make(map[guardrail.Key]int, len(cfg.Guardrails))
	for i, gr := range cfg.Guardrails {
		prefix := fmt.Sprintf("guardrails[%d]", i)
		key := guardrail.Key{Scene: gr.Scene, Persona: gr.Persona}
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("%s duplicates guardrails[%d] (%s/%s)", prefix, prev, gr.Scene, gr.Persona))
		}
		seen[key] = i
		if len(cfg.Scenes) > 0 && gr.Scene != "" {
			if _, ok := cfg.Scenes[gr.Scene]; !ok {
				errs = append(errs, fmt.Errorf("%s.scene %q is not declared in scenes", prefix, gr.Scene))
			}
		}
		if len(cfg.Personas) > 0 && gr.Persona != "" {
			if _, ok := cfg.Personas[gr.Persona]; !ok {
				errs = append(errs, fmt.Errorf("%s.persona %q is not declared in personas", prefix, gr.Persona))
			}
		}
		// A substituted reply must fit every plan it can be served on.
		if shortest := shortestRunes(gr.Fallbacks); tightChars > 0 && shortest > tightChars {
			errs = append(errs, fmt.Errorf("%s.fallbacks: shortest entry has %d characters, plans.%s.max_chars is %d", prefix, shortest, tightPlan, tightChars))
		}
	}
	if _, err := guardrail.New(cfg.GuardrailRules()); err != nil {
		errs = append(errs, err)
	}

	// Corrections
	if len(cfg.Corrections) > 0 {
		if err := normalize.Validate(cfg.NormalizeCorrections()); err != nil {
			errs = append(errs, fmt.Errorf("corrections: %w", err))
		}
	}

	if len(cfg.Entitlement.UnrestrictedKeys) == 0 {
		slog.Info("entitlement.unrestricted_keys is empty; every caller is served on the default plan", "default_plan", cfg.DefaultPlan)
	}

	return errors.Join(errs...)
}

// GuardrailRules converts the guardrail section to the enforcer's rule map.
func (c *Config) GuardrailRules() map[guardrail.Key]guardrail.Rule {
	rules := make(map[guardrail.Key]guardrail.Rule, len(c.Guardrails))
	for _, g := range c.Guardrails {
		rules[guardrail.Key{Scene: g.Scene, Persona: g.Persona}] = guardrail.Rule{
			Keywords:  slices.Clone(g.Keywords),
			Fallbacks: slices.Clone(g.Fallbacks),
		}
	}
	return rules
}

// NormalizeCorrections converts the corrections section. An empty section
// selects the built-in list.
func (c *Config) NormalizeCorrections() []normalize.Correction {
	if len(c.Corrections) == 0 {
		return normalize.DefaultCorrections()
	}
	out := make([]normalize.Correction, len(c.Corrections))
	for i, cc := range c.Corrections {
		out[i] = normalize.Correction{
			Script:       normalize.Rule{From: cc.Script.From, To: cc.Script.To},
			Romanization: normalize.Rule{From: cc.Romanization.From, To: cc.Romanization.To},
			Translation:  normalize.Rule{From: cc.Translation.From, To: cc.Translation.To},
		}
	}
	return out
}

// validateProviderName logs a warning if name is non-empty and unknown.
func validateProviderName(field, name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", ValidProviderNames,
	)
}

// shortestRunes returns the rune count of the shortest string in ss, or 0
// when ss is empty.
func shortestRunes(ss []string) int {
	shortest := 0
	for i, s := range ss {
		if n := utf8.RuneCountInString(s); i == 0 || n < shortest {
			shortest = n
		}
	}
	return shortest
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func ptr[T any](v T) *T { return &v }
