// Package adapters speaks the wire protocols of upstream model providers and
// exposes them as llm streams.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/af-corp/scout/internal/config"
	"github.com/af-corp/scout/internal/llm"
)

// ProviderAdapter streams completions from one upstream provider.
type ProviderAdapter interface {
	Name() string
	// HasCredentials reports whether an API key is configured.
	HasCredentials() bool
	Stream(ctx context.Context, model string, req *llm.Request) (llm.Stream, error)
}

// StatusError is returned when a provider answers with a non-2xx status.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable reports whether the failure is worth counting against provider health.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

const maxErrorBody = 4 << 10

// postStream sends a JSON body and returns the open response on 2xx.
func postStream(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", provider, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send %s request: %w", provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Provider: provider, StatusCode: resp.StatusCode, Body: string(msg)}
	}
	return resp, nil
}

// New builds the adapter for a provider entry. Unknown types speak the
// OpenAI-compatible protocol.
func New(name string, cfg config.ProviderConfig, client *http.Client) ProviderAdapter {
	switch cfg.Protocol() {
	case config.ProtocolAnthropic:
		return NewAnthropicAdapter(name, cfg, client)
	default:
		return NewOpenAIAdapter(name, cfg, client)
	}
}
