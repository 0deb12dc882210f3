package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// RESTRecorder is the minimal contract used by AccessMiddleware.
// *metrics.Metrics satisfies this interface.
type RESTRecorder interface {
	RESTCall(ctx context.Context, path string, status int, elapsed time.Duration)
}

// AccessMiddleware logs every request and feeds the REST metrics. The path
// label is the chi route pattern so that ids in URLs do not explode
// cardinality. Requests no route matched keep their raw path.
func AccessMiddleware(logger *slog.Logger, rec RESTRecorder) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(recorder, r)
			elapsed := time.Since(start)

			path := routePattern(r)
			if rec != nil {
				rec.RESTCall(r.Context(), path, recorder.statusCode, elapsed)
			}
			logger.Log(r.Context(), levelFromStatus(recorder.statusCode), "request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", path),
				slog.Int("status_code", recorder.statusCode),
				slog.Int64("duration_ms", elapsed.Milliseconds()),
				slog.String("request_id", chimw.GetReqID(r.Context())),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.statusCode = statusCode
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

func levelFromStatus(statusCode int) slog.Level {
	switch {
	case statusCode >= 500:
		return slog.LevelError
	case statusCode >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
