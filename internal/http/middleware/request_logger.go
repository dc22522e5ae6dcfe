package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kestrelhealth/dentalbridge/pkg/logging"
)

// RequestLogger emits structured logs for every HTTP request. Completed
// requests carry the practice id the bridge routed on, so one practice's
// traffic can be followed across the executor and dispatcher logs.
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			logger.Info("request started",
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", reqID,
				"remote_ip", r.RemoteAddr,
			)
			next.ServeHTTP(w, r)
			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", reqID,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			// The route context is populated by the time the handler returns.
			if practice := chi.URLParam(r, "practiceID"); practice != "" {
				fields = append(fields, "practice", practice)
			}
			logger.Info("request completed", fields...)
		})
	}
}
