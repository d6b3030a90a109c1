package httpx

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// responseCapture remembers the status and body size written through it.
type responseCapture struct {
	http.ResponseWriter
	status  int
	written int64
}

func (rc *responseCapture) WriteHeader(code int) {
	if rc.status == 0 {
		rc.status = code
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(p []byte) (int, error) {
	if rc.status == 0 {
		rc.status = http.StatusOK
	}
	n, err := rc.ResponseWriter.Write(p)
	rc.written += int64(n)
	return n, err
}

func (rc *responseCapture) Unwrap() http.ResponseWriter { return rc.ResponseWriter }

func (rc *responseCapture) code() int {
	if rc.status == 0 {
		return http.StatusOK
	}
	return rc.status
}

func isProbe(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

// accessLevel keeps probes out of info logs and raises server errors, which
// on the push path mean the broker will redeliver.
func accessLevel(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelWarn
	case isProbe(path):
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func WithAccessLog(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rc := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rc, r)

			status := rc.code()
			attrs := []any{
				"request_id", RequestIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", rc.written,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if ua := r.UserAgent(); ua != "" && !strings.HasPrefix(ua, "kube-probe") {
				attrs = append(attrs, "user_agent", ua)
			}
			logger.Log(r.Context(), accessLevel(r.URL.Path, status), "http request", attrs...)
		})
	}
}
