// Package middleware holds HTTP middleware for the status API
package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/phil777/paperwork/pkg/auth"
	"github.com/phil777/paperwork/pkg/logging"
)

// RequireAPIKey rejects requests without a valid "Authorization: Bearer <key>"
// header: 401 when it is missing, 403 when it does not match.
func RequireAPIKey(v *auth.Verifier, logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			err := v.Verify(strings.TrimSpace(key))
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, auth.ErrMissingKey):
				http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			default:
				logger.Warn("Rejected API key", map[string]interface{}{
					"path":   r.URL.Path,
					"remote": r.RemoteAddr,
				})
				http.Error(w, "Invalid API key", http.StatusForbidden)
			}
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Logging logs every request at debug level, and server errors at error level
func Logging(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			fields := map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start).String(),
			}
			if rec.status >= http.StatusInternalServerError {
				logger.Error("Request failed", fields)
				return
			}
			logger.Debug("Request", fields)
		})
	}
}
