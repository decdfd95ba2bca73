package model

import "time"

// Config is the full engine configuration. Values are resolved by the
// CLI layer with the hierarchy flags > env (CONCORD_*) > config file >
// defaults.
type Config struct {
	Cluster     ClusterConfig     `yaml:"cluster" mapstructure:"cluster"`
	Gate        GateConfig        `yaml:"gate" mapstructure:"gate"`
	Verify      VerifyConfig      `yaml:"verify" mapstructure:"verify"`
	HTTP        HTTPConfig        `yaml:"http" mapstructure:"http"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Session     SessionConfig     `yaml:"session" mapstructure:"session"`
	LLM         LLMConfig         `yaml:"llm" mapstructure:"llm"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Interaction InteractionConfig `yaml:"interaction" mapstructure:"interaction"`
}

// ClusterConfig tunes the clustering signals.
type ClusterConfig struct {
	// LineWindow is the positional window for the same-location rule:
	// findings in the same file within this many lines share a cluster.
	LineWindow int `yaml:"line_window" mapstructure:"line_window"`
}

// GateConfig holds the confidence gate thresholds. These mirror the
// reconciliation protocol and are not meant to be tuned casually.
type GateConfig struct {
	ConfirmedThreshold   float64 `yaml:"confirmed_threshold" mapstructure:"confirmed_threshold"`     // 0.7
	UnconfirmedThreshold float64 `yaml:"unconfirmed_threshold" mapstructure:"unconfirmed_threshold"` // 0.3
	SingleSourceCeiling  float64 `yaml:"single_source_ceiling" mapstructure:"single_source_ceiling"` // 0.6
}

// VerifyConfig tunes adversarial cross-validation.
type VerifyConfig struct {
	// ComplexityThreshold is the minimum confidence-times-severity-weight
	// product above which a finding earns a counter-search.
	ComplexityThreshold float64 `yaml:"complexity_threshold" mapstructure:"complexity_threshold"`
	// Channels maps a channel name to a query URL template containing
	// a %s placeholder for the escaped query.
	Channels map[string]string `yaml:"channels" mapstructure:"channels"`
	// CounterQueries is the minimum number of counter-queries before a
	// SURVIVES verdict.
	CounterQueries int           `yaml:"counter_queries" mapstructure:"counter_queries"`
	MaxConcurrent  int           `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	QueryTimeout   time.Duration `yaml:"query_timeout" mapstructure:"query_timeout"`
	RatePerSecond  float64       `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	RateBurst      int           `yaml:"rate_burst" mapstructure:"rate_burst"`
	SkipCitations  bool          `yaml:"skip_citations" mapstructure:"skip_citations"`
	SkipRobots     bool          `yaml:"skip_robots" mapstructure:"skip_robots"`
}

// HTTPConfig configures outbound fetches.
type HTTPConfig struct {
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent    string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	HTTPProxy    string        `yaml:"http_proxy" mapstructure:"http_proxy"`
	HTTPSProxy   string        `yaml:"https_proxy" mapstructure:"https_proxy"`
	NoProxy      string        `yaml:"no_proxy" mapstructure:"no_proxy"`
}

// CacheConfig configures the layered fetch cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir     string        `yaml:"dir" mapstructure:"dir"`
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// SessionConfig configures the journal store.
type SessionConfig struct {
	Dir        string        `yaml:"dir" mapstructure:"dir"`
	StaleAfter time.Duration `yaml:"stale_after" mapstructure:"stale_after"` // archive eligibility
}

// LLMConfig configures the optional counter-query phrasing provider.
// The LLM never contributes to scoring; it only rewords negation
// queries when the heuristic phrasing is judged too crude.
type LLMConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"` // "openai" or "" (disabled)
	Model     string `yaml:"model" mapstructure:"model"`
	APIKey    string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutS  int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // text or json
}

// InteractionConfig tunes elevation.
type InteractionConfig struct {
	// ElevationMinLocations is the number of distinct locations a pattern
	// must recur in before the individual findings elevate.
	ElevationMinLocations int `yaml:"elevation_min_locations" mapstructure:"elevation_min_locations"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Cluster: ClusterConfig{LineWindow: 10},
		Gate: GateConfig{
			ConfirmedThreshold:   0.7,
			UnconfirmedThreshold: 0.3,
			SingleSourceCeiling:  0.6,
		},
		Verify: VerifyConfig{
			ComplexityThreshold: 3.0,
			CounterQueries:      2,
			MaxConcurrent:       8,
			QueryTimeout:        20 * time.Second,
			RatePerSecond:       2,
			RateBurst:           4,
		},
		HTTP: HTTPConfig{
			Timeout:      30 * time.Second,
			UserAgent:    "Concord/0.1 (evidence verification)",
			MaxBodyBytes: 2_000_000,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     6 * time.Hour,
		},
		Session: SessionConfig{
			StaleAfter: 14 * 24 * time.Hour,
		},
		LLM: LLMConfig{
			TimeoutS:  30,
			MaxTokens: 200,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Interaction: InteractionConfig{
			ElevationMinLocations: 3,
		},
	}
}
