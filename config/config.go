// Package config loads and validates process configuration. Settings come
// from a TOML file with environment variables supplying credentials, so that
// secrets never live in the checked-in config. Validation runs once at
// startup; a missing required credential is a core.ErrConfiguration and must
// abort the process before it accepts connections.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/hupe1980/sentinelmesh/core"
)

// Config is the immutable process configuration. It is constructed once in
// main and passed by reference through the call chain; nothing mutates it
// after Load returns.
type Config struct {
	Server        ServerConfig        `toml:"server"`
	Store         StoreConfig         `toml:"store"`
	Knowledge     KnowledgeConfig     `toml:"knowledge"`
	WebSearch     WebSearchConfig     `toml:"web_search"`
	Models        ModelsConfig        `toml:"models"`
	Routing       RoutingConfig       `toml:"routing"`
	Collaboration CollaborationConfig `toml:"collaboration"`
	Confidence    ConfidenceConfig    `toml:"confidence"`
	Session       SessionConfig       `toml:"session"`
	Logging       LoggingConfig       `toml:"logging"`
}

// ServerConfig configures the realtime channel listener.
type ServerConfig struct {
	Addr         string   `toml:"addr"`
	ReadTimeout  duration `toml:"read_timeout"`
	WriteTimeout duration `toml:"write_timeout"`
	PingInterval duration `toml:"ping_interval"`
}

// StoreConfig configures the durable session store.
type StoreConfig struct {
	// Path is the sqlite database file. An empty path selects the volatile
	// in-memory store (tests and demos only).
	Path string `toml:"path"`
}

// KnowledgeConfig configures the pgvector knowledge base searcher.
type KnowledgeConfig struct {
	// DSN is the Postgres connection string. Empty disables knowledge-base
	// retrieval; agents then answer model-only with capped confidence.
	DSN string `toml:"dsn"`
	// TopK bounds results per vector search.
	TopK int `toml:"top_k"`
	// RelevanceFloor below which web search is attempted as a complement.
	RelevanceFloor float64 `toml:"relevance_floor"`
	// TokenBudget caps the concatenated retrieved context handed to agents.
	TokenBudget int `toml:"token_budget"`
}

// WebSearchConfig configures live web retrieval.
type WebSearchConfig struct {
	// APIKeyEnv names the environment variable holding the Tavily key.
	// An unset variable disables web search; retrieval degrades to the
	// knowledge base only.
	APIKeyEnv  string `toml:"api_key_env"`
	MaxResults int    `toml:"max_results"`
	// TrustedDomains is the allow-list of authoritative sources; results
	// from any other domain are dropped.
	TrustedDomains []string `toml:"trusted_domains"`
}

// ModelsConfig selects models for the distinct roles in a query workflow.
type ModelsConfig struct {
	// Default is used for answering when the client does not pick a model.
	Default string `toml:"default"`
	// Router is the (typically small/cheap) model used for classification
	// assists and follow-up detection.
	Router string `toml:"router"`
	// Summarizer collapses old history turns under token pressure.
	Summarizer string `toml:"summarizer"`
	// OpenAIKeyEnv / AnthropicKeyEnv name the env vars holding provider
	// credentials. At least one must resolve unless Default is "mock".
	OpenAIKeyEnv    string   `toml:"openai_key_env"`
	AnthropicKeyEnv string   `toml:"anthropic_key_env"`
	Timeout         duration `toml:"timeout"`
}

// RoutingConfig tunes the Router.
type RoutingConfig struct {
	// ConfidenceFloor below which the Router yields the generalist fallback
	// candidate instead of a specialist.
	ConfidenceFloor float64 `toml:"confidence_floor"`
}

// CollaborationConfig tunes the Coordinator.
type CollaborationConfig struct {
	// Threshold is T: primary confidence below it triggers consultation.
	Threshold float64 `toml:"threshold"`
	// ConsultTimeout bounds each consulting agent invocation.
	ConsultTimeout duration `toml:"consult_timeout"`
}

// ConfidenceConfig tunes the score blend. The right weighting depends on the
// deployment's knowledge-base quality, so it is configuration rather than a
// constant.
type ConfidenceConfig struct {
	RetrievalWeight  float64 `toml:"retrieval_weight"`
	SelfRatingWeight float64 `toml:"self_rating_weight"`
	// NoRetrievalCeiling caps confidence when an answer is ungrounded.
	NoRetrievalCeiling float64 `toml:"no_retrieval_ceiling"`
}

// SessionConfig tunes conversation-state handling.
type SessionConfig struct {
	// TokenBudget for a session's history before prefix summarization.
	TokenBudget int `toml:"token_budget"`
	// KeepRecent turns are never summarized away.
	KeepRecent int `toml:"keep_recent"`
	// MaxHistoryTurns included in an agent prompt.
	MaxHistoryTurns int `toml:"max_history_turns"`
}

// LoggingConfig selects log output.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// duration wraps time.Duration so TOML values can be written as "30s".
type duration struct{ time.Duration }

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the baseline configuration used when keys are absent from
// the file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  duration{60 * time.Second},
			WriteTimeout: duration{10 * time.Second},
			PingInterval: duration{30 * time.Second},
		},
		Store: StoreConfig{Path: "data/sessions.db"},
		Knowledge: KnowledgeConfig{
			TopK:           5,
			RelevanceFloor: 0.45,
			TokenBudget:    2000,
		},
		WebSearch: WebSearchConfig{
			APIKeyEnv:  "TAVILY_API_KEY",
			MaxResults: 4,
			TrustedDomains: []string{
				"nist.gov", "cisa.gov", "sans.org", "mitre.org",
				"owasp.org", "cisecurity.org", "us-cert.gov",
				"nvd.nist.gov", "attack.mitre.org",
			},
		},
		Models: ModelsConfig{
			Default:         "openai",
			Router:          "openai",
			Summarizer:      "openai",
			OpenAIKeyEnv:    "OPENAI_API_KEY",
			AnthropicKeyEnv: "ANTHROPIC_API_KEY",
			Timeout:         duration{30 * time.Second},
		},
		Routing:       RoutingConfig{ConfidenceFloor: 0.35},
		Collaboration: CollaborationConfig{Threshold: 0.6, ConsultTimeout: duration{45 * time.Second}},
		Confidence: ConfidenceConfig{
			RetrievalWeight:    0.6,
			SelfRatingWeight:   0.4,
			NoRetrievalCeiling: 0.5,
		},
		Session: SessionConfig{TokenBudget: 3000, KeepRecent: 4, MaxHistoryTurns: 10},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads the TOML file at path, overlays it onto the defaults and
// validates the result. A missing file is not an error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: parse %s: %v", core.ErrConfiguration, path, err)
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces startup invariants. Violations wrap
// core.ErrConfiguration and are fatal to process initialization.
func (c *Config) Validate() error {
	if c.Collaboration.Threshold < 0 || c.Collaboration.Threshold > 1 {
		return fmt.Errorf("%w: collaboration.threshold %v outside [0,1]", core.ErrConfiguration, c.Collaboration.Threshold)
	}
	if c.Routing.ConfidenceFloor < 0 || c.Routing.ConfidenceFloor > 1 {
		return fmt.Errorf("%w: routing.confidence_floor %v outside [0,1]", core.ErrConfiguration, c.Routing.ConfidenceFloor)
	}
	if w := c.Confidence.RetrievalWeight + c.Confidence.SelfRatingWeight; w <= 0 {
		return fmt.Errorf("%w: confidence weights must sum to a positive value", core.ErrConfiguration)
	}
	if c.Knowledge.TokenBudget <= 0 {
		return fmt.Errorf("%w: knowledge.token_budget must be positive", core.ErrConfiguration)
	}
	if c.Session.TokenBudget <= 0 {
		return fmt.Errorf("%w: session.token_budget must be positive", core.ErrConfiguration)
	}
	if c.Models.Default == "" {
		return fmt.Errorf("%w: models.default is required", core.ErrConfiguration)
	}
	if c.Models.Default != "mock" && c.OpenAIKey() == "" && c.AnthropicKey() == "" {
		return fmt.Errorf("%w: no model provider credentials (set %s or %s)",
			core.ErrConfiguration, c.Models.OpenAIKeyEnv, c.Models.AnthropicKeyEnv)
	}
	return nil
}

// OpenAIKey resolves the OpenAI credential from the environment.
func (c *Config) OpenAIKey() string { return os.Getenv(c.Models.OpenAIKeyEnv) }

// AnthropicKey resolves the Anthropic credential from the environment.
func (c *Config) AnthropicKey() string { return os.Getenv(c.Models.AnthropicKeyEnv) }

// TavilyKey resolves the web search credential from the environment.
func (c *Config) TavilyKey() string { return os.Getenv(c.WebSearch.APIKeyEnv) }

// ModelTimeout returns the bounded per-call model timeout.
func (c *Config) ModelTimeout() time.Duration { return c.Models.Timeout.Duration }

// ConsultTimeout returns the per-consultation timeout.
func (c *Config) ConsultTimeout() time.Duration { return c.Collaboration.ConsultTimeout.Duration }
