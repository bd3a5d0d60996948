// Package integration holds end-to-end tests that exercise memlog against
// real processes and, when credentials are present, real embedding
// backends. Run them with -tags integration.
package integration

import (
	"context"
	"os"
	"testing"
	"time"
)

// Config holds integration test configuration from the environment.
type Config struct {
	OllamaURL   string
	OpenAIKey   string
	GeminiKey   string
	TestTimeout time.Duration
	SkipSlow    bool
}

// LoadConfig loads integration test configuration from the environment.
func LoadConfig() *Config {
	return &Config{
		OllamaURL:   os.Getenv("MEMLOG_TEST_OLLAMA_URL"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		GeminiKey:   os.Getenv("GEMINI_API_KEY"),
		TestTimeout: 60 * time.Second,
		SkipSlow:    os.Getenv("SKIP_SLOW_TESTS") == "1",
	}
}

// SkipIfUnset skips the test when value is empty.
func SkipIfUnset(t *testing.T, value, env string) {
	t.Helper()
	if value == "" {
		t.Skipf("skipping: %s not set", env)
	}
}

// SkipIfShort skips integration tests in short mode.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests.
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
