package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/af-corp/scout/internal/auth"
	"github.com/af-corp/scout/internal/httputil"
	"github.com/af-corp/scout/internal/telemetry"
)

const (
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
	headerRetryAfter         = "Retry-After"
)

// Middleware rejects over-limit clients with 429 before the handler runs.
// It expects auth.Middleware to have set an identity; without one the
// remote address is used.
func Middleware(admitter Admitter, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			reqID := w.Header().Get("X-Request-ID")

			id, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				id = auth.Resolve(r)
			}

			result, err := admitter.Admit(r.Context(), id.ClientKey)
			if err != nil {
				slog.Warn("rate limit check failed, admitting", "request_id", reqID, "error", err)
			}

			w.Header().Set(headerRateLimitLimit, strconv.Itoa(result.Limit))
			w.Header().Set(headerRateLimitRemaining, strconv.Itoa(result.Remaining))
			w.Header().Set(headerRateLimitReset, strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				slog.Warn("rate limit exceeded",
					"request_id", reqID,
					"client", id.ClientKey,
					"client_from_header", id.FromHeader,
					"limit", result.Limit,
				)
				metrics.RecordRateLimit("rejected")
				w.Header().Set(headerRetryAfter, strconv.Itoa(int(result.RetryAfter.Seconds())))
				httputil.WriteRateLimitError(w, reqID)
				return
			}

			metrics.RecordRateLimit("admitted")
			next.ServeHTTP(w, r)
		})
	}
}
