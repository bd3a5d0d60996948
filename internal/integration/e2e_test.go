//go:build integration
// +build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"memlog/internal/adapter/embedding"
	"memlog/internal/adapter/fsio"
	"memlog/internal/infra/config"
	"memlog/internal/infra/logger"
	"memlog/internal/usecase/memlog"
)

const helperEnv = "MEMLOG_HELPER_WRITER"

// TestHelperWriter is not a real test: the multi-process tests re-exec the
// test binary into it so each writer is a separate OS process.
func TestHelperWriter(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		t.Skip("helper process only")
	}
	path := os.Getenv("MEMLOG_HELPER_PATH")
	app := os.Getenv("MEMLOG_HELPER_APP")
	count, _ := strconv.Atoi(os.Getenv("MEMLOG_HELPER_COUNT"))

	ctx := context.Background()
	store, err := memlog.New(fsio.NewOS(), memlog.Options{
		AppID:       app,
		Path:        path,
		LockTimeout: 10 * time.Second,
		Logger:      logger.Discard(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	for i := range count {
		if _, err := store.Write(ctx, memlog.WriteInput{Content: fmt.Sprintf("%s #%d", app, i), Tags: []string{"e2e"}}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
}

func spawnWriter(t *testing.T, path, app string, count int) *exec.Cmd {
	t.Helper()
	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperWriter$", "-test.count=1")
	cmd.Env = append(os.Environ(),
		helperEnv+"=1",
		"MEMLOG_HELPER_PATH="+path,
		"MEMLOG_HELPER_APP="+app,
		"MEMLOG_HELPER_COUNT="+strconv.Itoa(count),
	)
	return cmd
}

func TestE2E_MultiProcessWriters(t *testing.T) {
	SkipIfShort(t)
	ctx := NewTestContext(t, LoadConfig().TestTimeout)

	const (
		processes = 6
		perProc   = 20
	)
	path := filepath.Join(t.TempDir(), "memory.jsonl")

	var wg sync.WaitGroup
	errs := make(chan error, processes)
	for p := range processes {
		cmd := spawnWriter(t, path, fmt.Sprintf("com.example.proc%d", p), perProc)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if out, err := cmd.CombinedOutput(); err != nil {
				errs <- fmt.Errorf("%v: %s", err, out)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("writer failed: %v", err)
	}

	// Every line must be a complete entry: no interleaved partial writes.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != processes*perProc {
		t.Fatalf("got %d lines, want %d", len(lines), processes*perProc)
	}
	for i, line := range lines {
		if !json.Valid([]byte(line)) {
			t.Fatalf("line %d is not valid JSON: %q", i+1, line)
		}
	}

	if _, err := os.Stat(path + ".lock"); !os.IsNotExist(err) {
		t.Errorf("lock file left behind: %v", err)
	}

	store, err := memlog.New(fsio.NewOS(), memlog.Options{AppID: "com.example.reader", Path: path, Logger: logger.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Count != processes*perProc {
		t.Errorf("Count = %d", stats.Count)
	}
	for p := range processes {
		if got := stats.BySource[fmt.Sprintf("com.example.proc%d", p)]; got != perProc {
			t.Errorf("proc%d wrote %d entries, want %d", p, got, perProc)
		}
	}
}

func TestE2E_RealEmbedding(t *testing.T) {
	SkipIfShort(t)
	cfg := LoadConfig()

	backends := []struct {
		name string
		env  string
		emb  config.EmbeddingConfig
	}{
		{"ollama", "MEMLOG_TEST_OLLAMA_URL", config.EmbeddingConfig{Provider: "ollama", BaseURL: cfg.OllamaURL}},
		{"openai", "OPENAI_API_KEY", config.EmbeddingConfig{Provider: "openai", APIKey: cfg.OpenAIKey}},
		{"gemini", "GEMINI_API_KEY", config.EmbeddingConfig{Provider: "gemini", APIKey: cfg.GeminiKey}},
	}
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			value := map[string]string{"ollama": cfg.OllamaURL, "openai": cfg.OpenAIKey, "gemini": cfg.GeminiKey}[b.name]
			SkipIfUnset(t, value, b.env)
			ctx := NewTestContext(t, cfg.TestTimeout)

			b.emb.CacheSize = 16
			b.emb.CircuitBreaker = config.Defaults().Embedding.CircuitBreaker
			sim, err := embedding.New(b.emb, logger.Discard())
			if err != nil {
				t.Fatal(err)
			}

			store, err := memlog.New(fsio.NewOS(), memlog.Options{
				AppID:      "com.example.e2e",
				Path:       filepath.Join(t.TempDir(), "memory.jsonl"),
				Similarity: sim,
				AutoEmbed:  true,
				Logger:     logger.Discard(),
			})
			if err != nil {
				t.Fatal(err)
			}
			if err := store.Initialize(ctx); err != nil {
				t.Fatal(err)
			}
			for _, content := range []string{
				"The user's cat is called Miso and loves tuna",
				"Quarterly revenue grew eight percent",
				"Flight to Lisbon departs Friday morning",
			} {
				if _, err := store.Write(ctx, memlog.WriteInput{Content: content}); err != nil {
					t.Fatalf("write: %v", err)
				}
			}

			results, err := store.SemanticSearch(ctx, "what pet does the user have?", 1, memlog.Filter{})
			if err != nil {
				t.Fatalf("SemanticSearch: %v", err)
			}
			if len(results) != 1 || !strings.Contains(results[0].Entry.Content, "Miso") {
				t.Errorf("top result = %+v", results)
			}
		})
	}
}
