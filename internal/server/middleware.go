package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"oversounds/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type ctxKey int

const requestIDKey ctxKey = iota

// responseWriter wraps http.ResponseWriter to capture status code & size.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(data)
	rw.size += size
	return size, err
}

// Flush keeps streaming responses (MCP) working through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func wrapWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// requestIDMiddleware propagates X-Request-ID, generating one when absent.
func (ss *StoreServer) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// requestLoggingMiddleware logs HTTP requests (if enabled) with latency & size.
func (ss *StoreServer) requestLoggingMiddleware(next http.Handler) http.Handler {
	if !ss.config.Logging.RequestLogging {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := wrapWriter(w)

		next.ServeHTTP(rw, r)

		if !shouldLogRequest(r.URL.Path) {
			return
		}
		ss.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"remote_addr": r.RemoteAddr,
			"status_code": rw.statusCode,
			"size":        formatBytes(rw.size),
			"duration":    time.Since(start).Round(time.Millisecond),
			"request_id":  requestIDFrom(r.Context()),
		}).Info("Request handled")
	})
}

// metricsMiddleware records every request under its route pattern.
func (ss *StoreServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := wrapWriter(w)

		next.ServeHTTP(rw, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		metrics.RecordRequest(r.Method, endpoint, rw.statusCode, time.Since(start))
	})
}

// shouldLogRequest filters noisy paths from request logging output.
func shouldLogRequest(path string) bool {
	switch path {
	case "/health", "/metrics", "/favicon.ico":
		return false
	}
	return true
}

// formatBytes provides a simple approximate human-readable size.
func formatBytes(bytes int) string {
	if bytes == 0 {
		return "0B"
	}

	const unit = 1024
	if bytes < unit {
		return "< 1KB"
	}

	div, exp := int64(unit), 0
	for n := int64(bytes) / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"KB", "MB", "GB"}
	if exp >= len(units) {
		exp = len(units) - 1
	}

	result := int64(bytes) / div
	return fmt.Sprintf("%d%s", result, units[exp])
}

// panicRecoveryMiddleware intercepts panics returning HTTP 500 without crashing the process.
func (ss *StoreServer) panicRecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				ss.logger.WithFields(logrus.Fields{
					"method":     r.Method,
					"path":       r.URL.Path,
					"panic":      fmt.Sprint(err),
					"request_id": requestIDFrom(r.Context()),
				}).Error("Panic while handling request")
				ss.respondWithError(w, r, http.StatusInternalServerError, "Internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
