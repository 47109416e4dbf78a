package middleware

import (
	"bytes"
	"net/http"

	"github.com/resumely/collab-service/internal/application"
	"github.com/resumely/collab-service/internal/domain"
)

// ResponseCacheMiddleware memoizes successful GET responses through the
// response cache. A fresh entry is served directly with X-Cache: HIT and the
// wrapped handler never runs; a miss runs the handler, stores 2xx responses
// under the supplied tags, and marks the response X-Cache: MISS. Non-GET
// requests bypass the cache entirely. Cache failures degrade to misses.
func ResponseCacheMiddleware(rc *application.ResponseCache, logger domain.Logger, tags []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			key := r.URL.RequestURI()
			if cached, ok := rc.Lookup(r.Context(), key); ok {
				if cached.ContentType != "" {
					w.Header().Set("Content-Type", cached.ContentType)
				}
				w.Header().Set("X-Cache", "HIT")
				w.WriteHeader(cached.Status)
				_, _ = w.Write(cached.Body)
				return
			}

			rec := &recordingResponseWriter{ResponseWriter: w, status: http.StatusOK}
			rec.Header().Set("X-Cache", "MISS")
			next.ServeHTTP(rec, r)

			if rec.status >= 200 && rec.status < 300 {
				rc.Store(r.Context(), key, application.CachedResponse{
					Status:      rec.status,
					ContentType: rec.Header().Get("Content-Type"),
					Body:        rec.body.Bytes(),
				}, tags)
			}
		})
	}
}

// recordingResponseWriter tees the response body so it can be stored after
// being streamed to the client.
type recordingResponseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (rw *recordingResponseWriter) WriteHeader(status int) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *recordingResponseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}
