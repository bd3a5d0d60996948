// Package config loads memlog settings from a YAML file, MEMLOG_* environment
// variables and built-in defaults, in increasing order of precedence from
// defaults to environment.
package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"memlog/internal/domain"
)

// encPrefix marks a secret encrypted with EncryptValue.
const encPrefix = "enc:"

// Config is the root configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Audit     AuditConfig     `yaml:"audit"`
}

// StoreConfig configures the memory log.
type StoreConfig struct {
	AppID         string        `yaml:"app_id"`
	Path          string        `yaml:"path"`
	LockTimeout   time.Duration `yaml:"lock_timeout"`
	Debug         bool          `yaml:"debug"`
	AtomicRewrite bool          `yaml:"atomic_rewrite"`
	// ConsentFile, when set, gates access behind a persisted user consent.
	ConsentFile string `yaml:"consent_file"`
	// OverwriteOnly emulates append as read-then-write, for mounts (some
	// network and sync folders) that do not support O_APPEND.
	OverwriteOnly bool `yaml:"overwrite_only"`
}

// EmbeddingConfig selects the embedding backend used for semantic search.
// An empty Provider disables semantic search.
type EmbeddingConfig struct {
	Provider       string               `yaml:"provider"` // "", "ollama", "openai", "gemini", "bedrock"
	Model          string               `yaml:"model"`
	BaseURL        string               `yaml:"base_url"`
	APIKey         string               `yaml:"api_key"`
	Region         string               `yaml:"region"` // bedrock only
	Dimensions     int                  `yaml:"dimensions"`
	AutoEmbed      bool                 `yaml:"auto_embed"`
	CacheSize      int                  `yaml:"cache_size"`
	RateLimit      float64              `yaml:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst      int                  `yaml:"rate_burst"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig configures the breaker in front of remote embedders.
type CircuitBreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AuditConfig enables the change audit trail. An empty File disables it.
type AuditConfig struct {
	File    string        `yaml:"file"`
	MaxAge  time.Duration `yaml:"max_age"`  // 0 = keep forever
	MaxSize string        `yaml:"max_size"` // e.g. "10MB"; empty = unbounded
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	SampleRatio float64 `yaml:"sample_ratio"` // 0 or 1 = every trace
}

// DefaultLogPath returns $HOME/.memlog/memory.jsonl, or a path relative to
// the working directory when $HOME cannot be determined.
func DefaultLogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".memlog", "memory.jsonl")
	}
	return filepath.Join(home, ".memlog", "memory.jsonl")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Store: StoreConfig{
			AppID:         "local.memlog.cli",
			Path:          DefaultLogPath(),
			LockTimeout:   5 * time.Second,
			AtomicRewrite: true,
		},
		Embedding: EmbeddingConfig{
			CacheSize: 256,
			RateBurst: 1,
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts
// secrets. A missing file yields the defaults with overrides applied.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("%w: read config: %v", domain.ErrConfigLoad, err)
	default:
		if err := validatePermissions(path); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse config: %v", domain.ErrConfigLoad, err)
		}
	}

	ApplyEnvOverrides(cfg)
	if cfg.Store.Debug {
		cfg.Logger.Level = "debug"
	}

	if passphrase := os.Getenv("MEMLOG_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps MEMLOG_* env vars to config fields. Unparseable
// durations and booleans are ignored.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MEMLOG_APP_ID"); v != "" {
		cfg.Store.AppID = v
	}
	if v := os.Getenv("MEMLOG_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("MEMLOG_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Store.LockTimeout = d
		}
	}
	if v, err := strconv.ParseBool(os.Getenv("MEMLOG_DEBUG")); err == nil {
		cfg.Store.Debug = v
	}
	if v := os.Getenv("MEMLOG_CONSENT_FILE"); v != "" {
		cfg.Store.ConsentFile = v
	}
	if v := os.Getenv("MEMLOG_AUDIT_FILE"); v != "" {
		cfg.Audit.File = v
	}
	if v := os.Getenv("MEMLOG_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("MEMLOG_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("MEMLOG_EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("MEMLOG_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("MEMLOG_EMBEDDING_REGION"); v != "" {
		cfg.Embedding.Region = v
	}
	if v := os.Getenv("MEMLOG_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("MEMLOG_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("MEMLOG_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("MEMLOG_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// decryptSecrets decrypts every "enc:"-prefixed secret in place.
func decryptSecrets(cfg *Config, passphrase string) error {
	if !strings.HasPrefix(cfg.Embedding.APIKey, encPrefix) {
		return nil
	}
	plain, err := DecryptValue(strings.TrimPrefix(cfg.Embedding.APIKey, encPrefix), passphrase)
	if err != nil {
		return fmt.Errorf("embedding api_key: %w", err)
	}
	cfg.Embedding.APIKey = plain
	return nil
}

// EncryptValue encrypts plaintext with AES-256-GCM under a key derived from
// passphrase. The result is "enc:" + hex(salt) + ":" + hex(nonce+ciphertext).
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + hex.EncodeToString(salt) + ":" + hex.EncodeToString(sealed), nil
}

// DecryptValue reverses EncryptValue. The "enc:" prefix is optional.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(strings.TrimPrefix(encrypted, encPrefix), ":")
	if !ok {
		return "", fmt.Errorf("%w: invalid encrypted format", domain.ErrDecryption)
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("%w: decode salt: %v", domain.ErrDecryption, err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("%w: decode ciphertext: %v", domain.ErrDecryption, err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", domain.ErrDecryption)
	}

	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase and salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects config files writable by group or others,
// since they may hold API keys.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: stat config: %v", domain.ErrConfigLoad, err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("%w: config file %s has insecure permissions %o (want 0600 or 0644)", domain.ErrConfigLoad, path, mode)
	}
	return nil
}
