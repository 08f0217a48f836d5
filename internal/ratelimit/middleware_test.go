package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/af-corp/scout/internal/auth"
	"github.com/af-corp/scout/internal/httputil"
)

type stubAdmitter struct {
	decision Decision
	err      error
	keys     []string
}

func (s *stubAdmitter) Admit(_ context.Context, key string) (Decision, error) {
	s.keys = append(s.keys, key)
	return s.decision, s.err
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_Allowed(t *testing.T) {
	s := &stubAdmitter{decision: Decision{Allowed: true, Limit: 10, Remaining: 9, ResetAt: time.Unix(1_700_000_060, 0)}}
	var called bool
	h := auth.Middleware(Middleware(s, nil)(okHandler(&called)))

	req := httptest.NewRequest(http.MethodPost, "/search", nil)
	req.Header.Set(auth.HeaderUserID, "u1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected handler to be called")
	}
	if rec.Header().Get("X-RateLimit-Limit") != "10" {
		t.Errorf("expected limit header 10, got %q", rec.Header().Get("X-RateLimit-Limit"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "9" {
		t.Errorf("expected remaining header 9, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
	if rec.Header().Get("X-RateLimit-Reset") != "1700000060" {
		t.Errorf("expected reset header, got %q", rec.Header().Get("X-RateLimit-Reset"))
	}
	if len(s.keys) != 1 || s.keys[0] != "user:u1" {
		t.Errorf("expected key user:u1, got %v", s.keys)
	}
}

func TestMiddleware_Rejected(t *testing.T) {
	s := &stubAdmitter{decision: Decision{Allowed: false, Limit: 10, RetryAfter: 42 * time.Second, ResetAt: time.Now().Add(42 * time.Second)}}
	var called bool
	h := Middleware(s, nil)(okHandler(&called))

	req := httptest.NewRequest(http.MethodPost, "/search/web", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if called {
		t.Fatal("handler should not run when rate limited")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "42" {
		t.Errorf("expected Retry-After 42, got %q", rec.Header().Get("Retry-After"))
	}

	var body httputil.APIError
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != httputil.RateLimitMessage {
		t.Errorf("expected rate limit message, got %q", body.Error)
	}
	if len(s.keys) != 1 || s.keys[0][:3] != "ip:" {
		t.Errorf("expected ip-derived key, got %v", s.keys)
	}
}

func TestMiddleware_ErrorFailsOpen(t *testing.T) {
	s := &stubAdmitter{decision: Decision{Allowed: true, Limit: 10, Remaining: 10}, err: errors.New("redis down")}
	var called bool
	h := Middleware(s, nil)(okHandler(&called))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/search", nil))

	if !called || rec.Code != http.StatusOK {
		t.Errorf("expected request admitted on limiter error, got %d", rec.Code)
	}
}

func TestMiddleware_OptionsBypass(t *testing.T) {
	s := &stubAdmitter{}
	var called bool
	h := Middleware(s, nil)(okHandler(&called))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/search", nil))

	if !called {
		t.Error("expected preflight to pass through")
	}
	if len(s.keys) != 0 {
		t.Error("preflight should not consume quota")
	}
}

func TestMiddleware_MemoryLimiterEndToEnd(t *testing.T) {
	l := NewMemoryLimiter(2, time.Hour)
	var called bool
	h := auth.Middleware(Middleware(l, nil)(okHandler(&called)))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/search", nil)
		req.Header.Set(auth.HeaderClientID, "c1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("expected [200 200 429], got %v", codes)
	}
}
