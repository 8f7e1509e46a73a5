// Package config provides the configuration schema, loader, and provider
// registry for the kaigo role-play service.
//
// Static tables (plans, scenes, personas, guardrails, corrections) are
// loaded once at startup and handed to the pipeline by reference; nothing
// in this package is mutated after [Load] returns.
package config

import "time"

// LogLevel controls log verbosity for the kaigo server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for kaigo.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig          `yaml:"server"`
	Providers   ProvidersConfig       `yaml:"providers"`
	Generator   GeneratorConfig       `yaml:"generator"`
	Plans       map[string]PlanConfig `yaml:"plans"`
	DefaultPlan string                `yaml:"default_plan"`
	Translation TranslationConfig     `yaml:"translation"`
	Romaji      RomajiConfig          `yaml:"romaji"`
	Scenes      map[string]Labelled   `yaml:"scenes"`
	Personas    map[string]Labelled   `yaml:"personas"`
	Categories  map[string]Labelled   `yaml:"categories"`
	Guardrails  []GuardrailConfig     `yaml:"guardrails"`
	Corrections []CorrectionConfig    `yaml:"corrections"`
	Entitlement EntitlementConfig     `yaml:"entitlement"`
}

// ServerConfig holds network and logging settings for the kaigo server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowOrigin is sent as Access-Control-Allow-Origin. Default: "*".
	AllowOrigin string `yaml:"allow_origin"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the LLM backend and its failover chain.
type ProvidersConfig struct {
	// LLM is the primary generator backend.
	LLM ProviderEntry `yaml:"llm"`

	// Fallbacks are tried in order when the primary fails or its circuit
	// breaker is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// CircuitBreaker tunes the breaker placed in front of each backend.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ProviderEntry is the configuration block of one LLM backend. The Name
// field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "anthropic").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// CircuitBreakerConfig mirrors resilience.CircuitBreakerConfig. Zero values
// select the breaker's defaults.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// GeneratorConfig tunes outbound generator calls.
type GeneratorConfig struct {
	// Timeout bounds a single outbound call. Default: 20s.
	Timeout time.Duration `yaml:"timeout"`

	// Temperature for turn generation. Default: 0.3.
	Temperature *float64 `yaml:"temperature"`

	// StrictSchema requests schema-constrained output from backends that
	// support it. Default: true.
	StrictSchema *bool `yaml:"strict_schema"`

	// CapabilityTTL is how long a schema rejection is remembered per model.
	// Default: 1h.
	CapabilityTTL time.Duration `yaml:"capability_ttl"`

	// RateLimit caps outbound calls across the process. Zero RPS disables it.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// BackfillMaxTokens caps the backfill completion. Default: 400.
	BackfillMaxTokens int `yaml:"backfill_max_tokens"`
}

// RateLimitConfig configures a token bucket.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// PlanConfig holds the reply limits of one plan tier.
type PlanConfig struct {
	MaxChars     int `yaml:"max_chars"`
	MaxSentences int `yaml:"max_sentences"`
	MaxTokens    int `yaml:"max_tokens"`
}

// TranslationConfig configures the target language.
type TranslationConfig struct {
	// Language is the target language name used in prompts. Default: Indonesian.
	Language string `yaml:"language"`

	// Sentinel replaces translations that could not be obtained.
	Sentinel string `yaml:"sentinel"`

	// Plausibility is the minimum similarity between a generator-supplied
	// romanization and the deterministic one. Zero selects the default.
	Plausibility float64 `yaml:"plausibility"`
}

// RomajiConfig configures the transliterator.
type RomajiConfig struct {
	// KanjiReading enables the dictionary-based kanji reading pre-pass.
	// Default: true.
	KanjiReading *bool `yaml:"kanji_reading"`
}

// Labelled is a scene, persona or category entry.
type Labelled struct {
	Label       string `yaml:"label"`
	Description string `yaml:"description"`
}

// GuardrailConfig is the topic rule of one (scene, persona) pair.
type GuardrailConfig struct {
	Scene     string   `yaml:"scene"`
	Persona   string   `yaml:"persona"`
	Keywords  []string `yaml:"keywords"`
	Fallbacks []string `yaml:"fallbacks"`
}

// CorrectionConfig is one literal phrase correction applied consistently
// across the three fields of a triple.
type CorrectionConfig struct {
	Script       RuleConfig `yaml:"script"`
	Romanization RuleConfig `yaml:"romanization"`
	Translation  RuleConfig `yaml:"translation"`
}

// RuleConfig is a from/to literal replacement.
type RuleConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// EntitlementConfig lists bearer keys with unrestricted plan access.
type EntitlementConfig struct {
	UnrestrictedKeys []string `yaml:"unrestricted_keys"`
}

// Plan returns the limits for name. Unknown names resolve to the default plan.
func (c *Config) Plan(name string) (string, PlanConfig) {
	if p, ok := c.Plans[name]; ok {
		return name, p
	}
	return c.DefaultPlan, c.Plans[c.DefaultPlan]
}
