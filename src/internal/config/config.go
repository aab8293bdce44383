package config

import "time"

// Config is the complete service configuration.
type Config struct {
	Logging   *LogConfig      `toml:"logging"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Backend   BackendConfig   `toml:"backend"`
	FileSink  FileSinkConfig  `toml:"file_sink"`
	Server    ServerConfig    `toml:"server"`
	Ingest    IngestConfig    `toml:"ingest"`
	Identity  IdentityConfig  `toml:"identity"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

// PipelineConfig tunes the application log pipeline.
type PipelineConfig struct {
	// Minimum level delivered: debug, info, warn, error, fatal
	MinLevel string `toml:"min_level"`

	BatchSize       int64 `toml:"batch_size"`
	FlushIntervalMS int64 `toml:"flush_interval_ms"`
	SinkTimeoutMS   int64 `toml:"sink_timeout_ms"`
	MaxRetryDelayMS int64 `toml:"max_retry_delay_ms"`

	// Delivery attempts before a batch is dropped (0 = never drop)
	MaxAttempts int64 `toml:"max_attempts"`

	// Source stamped on the service's own entries
	Source string `toml:"source"`

	// Mirror entries to stderr as "[LEVEL] message {context}"
	Mirror bool `toml:"mirror"`

	// Applied in order after the level check; all must pass
	Filters []FilterConfig `toml:"filters"`
}

func (p PipelineConfig) FlushInterval() time.Duration {
	return time.Duration(p.FlushIntervalMS) * time.Millisecond
}

func (p PipelineConfig) SinkTimeout() time.Duration {
	return time.Duration(p.SinkTimeoutMS) * time.Millisecond
}

func (p PipelineConfig) MaxRetryDelay() time.Duration {
	return time.Duration(p.MaxRetryDelayMS) * time.Millisecond
}

// BackendConfig points at the hosted table API.
type BackendConfig struct {
	URL       string `toml:"url"`
	APIKey    string `toml:"api_key"`
	LogsTable string `toml:"logs_table"`
	TimeoutMS int64  `toml:"timeout_ms"`
}

func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutMS) * time.Millisecond
}

// FileSinkConfig enables a local JSON-lines copy of every delivered batch.
type FileSinkConfig struct {
	Enabled        bool    `toml:"enabled"`
	Directory      string  `toml:"directory"`
	Name           string  `toml:"name"`
	MaxSizeMB      int64   `toml:"max_size_mb"`
	MaxTotalSizeMB int64   `toml:"max_total_size_mb"`
	RetentionHours float64 `toml:"retention_hours"`
}

// ServerConfig is the HTTP API listener.
type ServerConfig struct {
	Enabled            bool   `toml:"enabled"`
	Host               string `toml:"host"`
	Port               int64  `toml:"port"`
	ReadTimeoutMS      int64  `toml:"read_timeout_ms"`
	WriteTimeoutMS     int64  `toml:"write_timeout_ms"`
	MaxRequestBodySize int64  `toml:"max_request_body_size"`
}

// IngestConfig controls the client log relays.
type IngestConfig struct {
	// bcrypt hash of the key clients present; empty accepts anonymous logs
	APIKeyHash string `toml:"api_key_hash"`

	// Source for relayed entries that do not set one
	DefaultSource string `toml:"default_source"`

	HTTP IngestHTTPConfig `toml:"http"`
	TCP  IngestTCPConfig  `toml:"tcp"`
}

type IngestHTTPConfig struct {
	Enabled bool `toml:"enabled"`
}

type IngestTCPConfig struct {
	Enabled       bool   `toml:"enabled"`
	Host          string `toml:"host"`
	Port          int64  `toml:"port"`
	MaxLineLength int64  `toml:"max_line_length"`
}

// IdentityConfig verifies user tokens to tag request logs with user_id.
type IdentityConfig struct {
	JWTSecret string `toml:"jwt_secret"`
	Issuer    string `toml:"issuer"`
	Audience  string `toml:"audience"`
}

// RateLimitConfig is the per-client request limit on the HTTP API.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int64   `toml:"burst"`
	CleanupIntervalS  int64   `toml:"cleanup_interval_s"`
	TrustProxy        bool    `toml:"trust_proxy"`
}

// Filter types and pattern logic for PipelineConfig.Filters
const (
	FilterTypeInclude = "include"
	FilterTypeExclude = "exclude"

	FilterLogicOr  = "or"
	FilterLogicAnd = "and"
)

// FilterConfig drops or keeps entries by regex before they are queued.
type FilterConfig struct {
	// "include" keeps only matching entries, "exclude" drops them
	Type string `toml:"type"`

	// "or": any pattern matches, "and": all patterns match
	Logic string `toml:"logic"`

	// Text matched: "message", "source", "stack_trace", "context", or
	// empty for "<source> <LEVEL> <message>"
	Field string `toml:"field"`

	Patterns []string `toml:"patterns"`
}
