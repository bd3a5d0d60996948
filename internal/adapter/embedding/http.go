// Package embedding provides embedding and similarity providers for semantic
// search over the memory log: HTTP backends (Ollama, OpenAI-compatible,
// Gemini), AWS Bedrock when built with -tags bedrock, and decorators for
// caching, rate limiting and circuit breaking.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"memlog/internal/domain"
)

// maxResponseBytes caps how much of a provider response is read.
const maxResponseBytes = 10 * 1024 * 1024

var defaultHTTPClient = &http.Client{Timeout: 30 * time.Second}

// postJSON sends reqBody to url and decodes a 200 response into respBody.
// Every failure wraps domain.ErrEmbeddingFailed.
func postJSON(ctx context.Context, client *http.Client, url string, header http.Header, reqBody, respBody any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("%w: marshal request: %v", domain.ErrEmbeddingFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", domain.ErrEmbeddingFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: http request: %v", domain.ErrEmbeddingFailed, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrEmbeddingFailed, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: API error %d: %s", domain.ErrEmbeddingFailed, httpResp.StatusCode, string(raw))
	}
	if err := json.Unmarshal(raw, respBody); err != nil {
		return fmt.Errorf("%w: unmarshal response: %v", domain.ErrEmbeddingFailed, err)
	}
	return nil
}

// checkCount verifies a provider returned one vector per input text.
func checkCount(provider string, got, want int) error {
	if got != want {
		return fmt.Errorf("%w: %s returned %d embeddings for %d texts", domain.ErrEmbeddingFailed, provider, got, want)
	}
	return nil
}
