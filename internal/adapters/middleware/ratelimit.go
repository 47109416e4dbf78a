package middleware

import (
	"net"
	"net/http"
	"strconv"

	"github.com/resumely/collab-service/internal/application"
	"github.com/resumely/collab-service/internal/domain"
)

// RateLimitMiddleware counts each request against the caller's rate-limit
// window and rejects with 429 once the window's maximum is exceeded. Every
// response carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset; rejections also carry Retry-After in whole seconds.
//
// The caller identity is the API key when present, otherwise the client IP,
// so authenticated and anonymous callers get separate windows.
func RateLimitMiddleware(limiter *application.RateLimiter, logger domain.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := limiter.Check(r.Context(), clientIdentity(r))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				retryAfter := int(decision.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				logger.Debug(r.Context(), "Request rate limited", "path", r.URL.Path)
				errResp := domain.NewErrorResponse(domain.ErrRateLimitExceeded, "Too many requests", "Retry after the indicated delay.")
				errResp.WriteJSON(w, http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIdentity(r *http.Request) string {
	if key := r.Header.Get(apiKeyHeaderName); key != "" {
		return key
	}
	if key := r.URL.Query().Get(apiKeyQueryParam); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
