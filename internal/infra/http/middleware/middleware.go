// Package middleware provides the HTTP middleware chain guarding every route:
// request identity, structured logging, panic recovery, and the ordered
// access-control pipeline built in guard.go.
package middleware

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/driveport/api/pkg/apierror"
	"github.com/driveport/api/pkg/logger"
)

// RequestID attaches a unique request ID to each request.
// Honors an incoming X-Request-ID header, otherwise generates a UUID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), logger.ContextKeyRequestID, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(logger.ContextKeyRequestID).(string); ok {
		return id
	}
	return ""
}

// responseWriter wraps http.ResponseWriter to capture the status code.
// The guard's failure-counting hook reads the status after the handler runs.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.written {
		return
	}
	rw.statusCode = code
	rw.written = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.written = true
	return rw.ResponseWriter.Write(b)
}

// Status returns the response status code, defaulting to 200.
func (rw *responseWriter) Status() int {
	return rw.statusCode
}

// Hijack implements http.Hijacker for handlers that upgrade the connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("responseWriter: underlying ResponseWriter does not implement http.Hijacker")
}

// LoggerConfig configures the request logging middleware.
type LoggerConfig struct {
	// SkipPaths are paths that should not be logged (e.g. health checks).
	SkipPaths []string

	// SlowRequestThreshold marks requests slower than this as warnings.
	// Default: 5 seconds.
	SlowRequestThreshold time.Duration
}

// DefaultLoggerConfig returns the default logger configuration.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		SkipPaths:            []string{"/healthz", "/readyz", "/metrics"},
		SlowRequestThreshold: 5 * time.Second,
	}
}

// Logger logs each request with method, path, status, and duration.
func Logger(log *logger.Logger) func(http.Handler) http.Handler {
	return LoggerWithConfig(log, DefaultLoggerConfig())
}

// LoggerWithConfig logs requests using the given configuration.
func LoggerWithConfig(log *logger.Logger, cfg LoggerConfig) func(http.Handler) http.Handler {
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	if cfg.SlowRequestThreshold == 0 {
		cfg.SlowRequestThreshold = 5 * time.Second
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := newResponseWriter(w)

			next.ServeHTTP(rw, r)

			duration := time.Since(start)
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.Status(),
				"duration_ms", duration.Milliseconds(),
				"ip", ClientIP(r),
				"request_id", GetRequestID(r.Context()),
			}

			switch {
			case rw.Status() >= http.StatusInternalServerError:
				log.Error("request failed", attrs...)
			case rw.Status() >= http.StatusBadRequest:
				log.Warn("request denied", attrs...)
			case duration > cfg.SlowRequestThreshold:
				log.Warn("slow request", attrs...)
			default:
				log.Info("request completed", attrs...)
			}
		})
	}
}

// Recovery recovers from panics and returns a 500 response.
func Recovery(log *logger.Logger, includeStack bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					attrs := []any{
						"panic", rec,
						"method", r.Method,
						"path", r.URL.Path,
						"request_id", GetRequestID(r.Context()),
					}
					if includeStack {
						attrs = append(attrs, "stack", string(debug.Stack()))
					}
					log.Error("panic recovered", attrs...)

					apierror.InternalError(fmt.Errorf("panic: %v", rec)).WriteJSON(w)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the client IP from the request. Behind a trusted proxy
// the proxy must set X-Real-IP or the leftmost X-Forwarded-For entry.
func ClientIP(r *http.Request) string {
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return strings.TrimSpace(xrip)
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
