package middleware

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/strandkit/strand/core/handler"
)

// LoggingConfig configures the request logging middleware.
type LoggingConfig struct {
	// Skip disables the middleware for specific requests.
	Skip func(ctx handler.Context) bool

	// Logger is the slog logger to use (default: slog.Default()).
	Logger *slog.Logger

	// Level for completed-request log records (default: Info).
	Level slog.Level

	// SlowThreshold logs requests above it at warning level (default: 5s).
	SlowThreshold time.Duration
}

// Logging logs one structured record per completed request with the
// method, path, status, duration, and request ID when present.
func Logging[C handler.Context]() handler.Middleware[C] {
	return LoggingWithConfig[C](LoggingConfig{})
}

// LoggingWithLogger is Logging with a custom logger.
func LoggingWithLogger[C handler.Context](log *slog.Logger) handler.Middleware[C] {
	return LoggingWithConfig[C](LoggingConfig{Logger: log})
}

// LoggingWithConfig is Logging with custom configuration.
func LoggingWithConfig[C handler.Context](cfg LoggingConfig) handler.Middleware[C] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = 5 * time.Second
	}

	return func(next handler.HandlerFunc[C]) handler.HandlerFunc[C] {
		return func(ctx C) handler.Response {
			if cfg.Skip != nil && cfg.Skip(ctx) {
				return next(ctx)
			}

			start := time.Now()
			resp := next(ctx)

			return func(w http.ResponseWriter, r *http.Request) error {
				rec := &statusRecorder{ResponseWriter: w}
				var err error
				if resp != nil {
					err = resp(rec, r)
				}
				elapsed := time.Since(start)

				attrs := []any{
					"method", r.Method,
					"path", r.URL.Path,
					"status", rec.status,
					"duration", elapsed,
				}
				if id := GetRequestID(ctx); id != "" {
					attrs = append(attrs, "request_id", id)
				}
				if err != nil {
					attrs = append(attrs, "error", err)
				}

				level := cfg.Level
				if elapsed > cfg.SlowThreshold {
					level = slog.LevelWarn
					attrs = append(attrs, "slow", true)
				}
				cfg.Logger.Log(r.Context(), level, "request completed", attrs...)
				return err
			}
		}
	}
}

// statusRecorder captures the committed status code for log records.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Hijack passes through to the underlying writer so WebSocket upgrades
// work behind the middleware.
func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	conn, rw, err := h.Hijack()
	if err == nil && w.status == 0 {
		w.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

// Unwrap supports http.ResponseController.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
