package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"memlog/internal/domain"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// Unwrap lets callers match domain.ErrConfigLoad.
func (v *ValidationError) Unwrap() error { return domain.ErrConfigLoad }

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a
// *ValidationError listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateStore(cfg, ve)
	validateEmbedding(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateAudit(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// appIDPattern mirrors the entry "source" rule.
var appIDPattern = regexp.MustCompile(`^[a-z0-9]+(\.[a-z0-9]+)+$`)

func validateStore(cfg *Config, ve *ValidationError) {
	if !appIDPattern.MatchString(cfg.Store.AppID) {
		ve.Add("store.app_id %q must be reverse-domain (e.g. com.example.app)", cfg.Store.AppID)
	}
	if cfg.Store.Path == "" {
		ve.Add("store.path must not be empty")
	}
	if cfg.Store.LockTimeout <= 0 {
		ve.Add("store.lock_timeout must be > 0")
	}
}

var validEmbeddingProviders = map[string]bool{
	"":        true,
	"ollama":  true,
	"openai":  true,
	"gemini":  true,
	"bedrock": true,
}

func validateEmbedding(cfg *Config, ve *ValidationError) {
	e := cfg.Embedding
	if !validEmbeddingProviders[e.Provider] {
		ve.Add("embedding.provider %q is not one of ollama, openai, gemini, bedrock", e.Provider)
		return
	}
	if e.Provider == "" {
		if e.AutoEmbed {
			ve.Add("embedding.auto_embed requires embedding.provider")
		}
		return
	}
	if e.Provider == "gemini" && e.APIKey == "" {
		ve.Add("embedding.api_key is required for provider gemini")
	}
	if strings.HasPrefix(e.APIKey, encPrefix) {
		ve.Add("embedding.api_key is encrypted but MEMLOG_CONFIG_KEY is not set")
	}
	if e.BaseURL != "" {
		if u, err := url.Parse(e.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			ve.Add("embedding.base_url %q is not an absolute URL", e.BaseURL)
		}
	}
	if e.Dimensions < 0 {
		ve.Add("embedding.dimensions must be >= 0")
	}
	if e.CacheSize < 0 {
		ve.Add("embedding.cache_size must be >= 0")
	}
	if e.RateLimit < 0 {
		ve.Add("embedding.rate_limit must be >= 0")
	}
	if e.CircuitBreaker.Timeout < 0 || e.CircuitBreaker.Interval < 0 {
		ve.Add("embedding.circuit_breaker durations must be >= 0")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logger.Level)); err != nil {
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q must be noop or stdout", cfg.Tracer.Exporter)
	}
	if r := cfg.Tracer.SampleRatio; r < 0 || r > 1 {
		ve.Add("tracer.sample_ratio must be between 0 and 1")
	}
}

var auditSizePattern = regexp.MustCompile(`(?i)^\s*\d+\s*(b|kb|mb|gb)?\s*$`)

func validateAudit(cfg *Config, ve *ValidationError) {
	a := cfg.Audit
	if a.MaxAge < 0 {
		ve.Add("audit.max_age must be >= 0")
	}
	if a.MaxSize != "" && !auditSizePattern.MatchString(a.MaxSize) {
		ve.Add("audit.max_size %q must be a size such as 512KB or 10MB", a.MaxSize)
	}
}
