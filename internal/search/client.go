// Package search holds clients for the external retrieval APIs the tools
// call: Tavily and Exa web search, oEmbed video metadata, and market data.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// ErrNotConfigured is returned by clients constructed without a key or URL.
var ErrNotConfigured = errors.New("search client not configured")

const maxResponseBytes = 8 << 20

// StatusError is returned when an upstream answers with a non-2xx status.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s request failed with status %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s request failed with status %d: %s", e.Service, e.StatusCode, e.Body)
}

// shouldRetry retries network errors, 429 and 5xx; caller cancellation and
// other statuses are final.
func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return true
}

// NewExecutor builds the retry executor shared by all clients.
func NewExecutor(maxRetries int) failsafe.Executor[[]byte] {
	if maxRetries < 0 {
		maxRetries = 0
	}
	retry := retrypolicy.NewBuilder[[]byte]().
		HandleIf(func(_ []byte, err error) bool { return shouldRetry(err) }).
		WithBackoff(200*time.Millisecond, 2*time.Second).
		WithJitterFactor(0.1).
		WithMaxRetries(maxRetries).
		ReturnLastFailure().
		Build()
	return failsafe.With(retry)
}

// transport is the HTTP plumbing shared by the clients.
type transport struct {
	service  string
	client   *http.Client
	executor failsafe.Executor[[]byte]
}

func newTransport(service string, client *http.Client, executor failsafe.Executor[[]byte]) transport {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if executor == nil {
		executor = NewExecutor(0)
	}
	return transport{service: service, client: client, executor: executor}
}

// do sends one request per attempt and decodes a JSON response into out.
func (t transport) do(ctx context.Context, method, url string, headers map[string]string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", t.service, err)
		}
	}

	data, err := t.executor.WithContext(ctx).Get(func() ([]byte, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, fmt.Errorf("create %s request: %w", t.service, err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			if v != "" {
				req.Header.Set(k, v)
			}
		}

		resp, err := t.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s request failed: %w", t.service, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("read %s response: %w", t.service, err)
		}
		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			if len(raw) > 512 {
				raw = raw[:512]
			}
			return nil, &StatusError{Service: t.service, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(raw))}
		}
		return raw, nil
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", t.service, err)
	}
	return nil
}
