package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"dealflow/src/internal/core"

	lconfig "github.com/lixenwraith/config"
)

// ValidateConfig checks the whole configuration.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if err := validateLogConfig(cfg.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if err := validatePipeline(&cfg.Pipeline); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}
	if err := validateBackend(&cfg.Backend); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}
	if err := validateFileSink(&cfg.FileSink); err != nil {
		return fmt.Errorf("file_sink config: %w", err)
	}

	// Track used ports across listeners
	allPorts := make(map[int64]string)
	if err := validateServer(&cfg.Server, allPorts); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := validateIngest(&cfg.Ingest, allPorts); err != nil {
		return fmt.Errorf("ingest config: %w", err)
	}
	if err := validateRateLimit(&cfg.RateLimit); err != nil {
		return fmt.Errorf("rate_limit config: %w", err)
	}

	return nil
}

func validatePipeline(p *PipelineConfig) error {
	if _, err := core.ParseLevel(p.MinLevel); err != nil {
		return err
	}
	if p.BatchSize < 1 {
		return fmt.Errorf("batch_size must be positive: %d", p.BatchSize)
	}
	if p.FlushIntervalMS < 10 {
		return fmt.Errorf("flush_interval_ms too small: %d ms", p.FlushIntervalMS)
	}
	if p.SinkTimeoutMS < 1 {
		return fmt.Errorf("sink_timeout_ms must be positive: %d", p.SinkTimeoutMS)
	}
	if p.MaxRetryDelayMS < p.FlushIntervalMS {
		return fmt.Errorf("max_retry_delay_ms (%d) must not be less than flush_interval_ms (%d)",
			p.MaxRetryDelayMS, p.FlushIntervalMS)
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts cannot be negative: %d", p.MaxAttempts)
	}
	if err := lconfig.NonEmpty(p.Source); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	for i, f := range p.Filters {
		if err := validateFilter(f); err != nil {
			return fmt.Errorf("filters[%d]: %w", i, err)
		}
	}
	return nil
}

func validateFilter(f FilterConfig) error {
	switch f.Type {
	case "", FilterTypeInclude, FilterTypeExclude:
	default:
		return fmt.Errorf("invalid filter type: %s", f.Type)
	}
	switch f.Logic {
	case "", FilterLogicOr, FilterLogicAnd:
	default:
		return fmt.Errorf("invalid filter logic: %s", f.Logic)
	}
	switch f.Field {
	case "", "message", "source", "stack_trace", "context":
	default:
		return fmt.Errorf("invalid filter field: %s", f.Field)
	}
	for i, pattern := range f.Patterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid regex pattern[%d] '%s': %w", i, pattern, err)
		}
	}
	return nil
}

func validateBackend(b *BackendConfig) error {
	if err := lconfig.NonEmpty(b.URL); err != nil {
		return fmt.Errorf("backend requires 'url'")
	}

	parsedURL, err := url.Parse(b.URL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("URL must use http or https scheme")
	}

	if err := lconfig.NonEmpty(b.APIKey); err != nil {
		return fmt.Errorf("backend requires 'api_key'")
	}
	if err := lconfig.NonEmpty(b.LogsTable); err != nil {
		return fmt.Errorf("logs_table: %w", err)
	}

	if b.TimeoutMS <= 0 {
		b.TimeoutMS = 10000
	}
	return nil
}

func validateFileSink(f *FileSinkConfig) error {
	if !f.Enabled {
		return nil
	}
	if err := lconfig.NonEmpty(f.Directory); err != nil {
		return fmt.Errorf("file sink requires 'directory'")
	}
	if strings.Contains(f.Directory, "..") {
		return fmt.Errorf("directory contains directory traversal")
	}
	if err := lconfig.NonEmpty(f.Name); err != nil {
		return fmt.Errorf("file sink requires 'name'")
	}
	if f.MaxSizeMB < 0 || f.MaxTotalSizeMB < 0 {
		return fmt.Errorf("size limits cannot be negative")
	}
	return nil
}

func validateServer(s *ServerConfig, allPorts map[int64]string) error {
	if !s.Enabled {
		return nil
	}
	if err := lconfig.Port(s.Port); err != nil {
		return err
	}
	if s.Host == "" {
		s.Host = "0.0.0.0"
	}
	if s.Host != "0.0.0.0" {
		if err := lconfig.IPAddress(s.Host); err != nil {
			return err
		}
	}
	if s.ReadTimeoutMS <= 0 {
		s.ReadTimeoutMS = 10000
	}
	if s.WriteTimeoutMS <= 0 {
		s.WriteTimeoutMS = 10000
	}
	if s.MaxRequestBodySize <= 0 {
		s.MaxRequestBodySize = 1 * 1024 * 1024
	}

	allPorts[s.Port] = "server"
	return nil
}

func validateIngest(in *IngestConfig, allPorts map[int64]string) error {
	if in.APIKeyHash != "" && !strings.HasPrefix(in.APIKeyHash, "$2") {
		return fmt.Errorf("api_key_hash must be a bcrypt hash")
	}
	if in.DefaultSource == "" {
		in.DefaultSource = core.SourceFrontend
	}

	if !in.TCP.Enabled {
		return nil
	}
	if err := lconfig.Port(in.TCP.Port); err != nil {
		return fmt.Errorf("tcp: %w", err)
	}
	if owner, taken := allPorts[in.TCP.Port]; taken {
		return fmt.Errorf("tcp port %d already used by %s", in.TCP.Port, owner)
	}
	if in.TCP.Host == "" {
		in.TCP.Host = "127.0.0.1"
	}
	if err := lconfig.IPAddress(in.TCP.Host); err != nil {
		return fmt.Errorf("tcp: %w", err)
	}
	if in.TCP.MaxLineLength <= 0 {
		in.TCP.MaxLineLength = 1 * 1024 * 1024
	}

	allPorts[in.TCP.Port] = "ingest.tcp"
	return nil
}

func validateRateLimit(r *RateLimitConfig) error {
	if !r.Enabled {
		return nil
	}
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive when enabled")
	}
	if r.Burst < 1 {
		return fmt.Errorf("burst must be at least 1")
	}
	if r.CleanupIntervalS <= 0 {
		r.CleanupIntervalS = 60
	}
	return nil
}
