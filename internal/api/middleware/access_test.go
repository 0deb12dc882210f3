package middleware_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/matiasleandrokruk/lightspeed/internal/api/middleware"
)

type restCall struct {
	path   string
	status int
}

type fakeRESTRecorder struct {
	mu    sync.Mutex
	calls []restCall
}

func (f *fakeRESTRecorder) RESTCall(_ context.Context, path string, status int, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, restCall{path: path, status: status})
}

func newAccessRouter(logger *slog.Logger, rec middleware.RESTRecorder) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.AccessMiddleware(logger, rec))
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/ok", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func TestAccessMiddleware_RecordsRoutePatternAndStatus(t *testing.T) {
	t.Parallel()

	rec := &fakeRESTRecorder{}
	h := newAccessRouter(nil, rec)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/items/42", nil))

	if len(rec.calls) != 1 {
		t.Fatalf("calls = %d; want 1", len(rec.calls))
	}
	if rec.calls[0].path != "/items/{id}" {
		t.Errorf("path = %q; want route pattern", rec.calls[0].path)
	}
	if rec.calls[0].status != http.StatusTeapot {
		t.Errorf("status = %d; want %d", rec.calls[0].status, http.StatusTeapot)
	}
}

func TestAccessMiddleware_ImplicitOKAndLogLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	rec := &fakeRESTRecorder{}
	h := newAccessRouter(logger, rec)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ok", nil))

	if rec.calls[0].status != http.StatusOK {
		t.Errorf("status = %d; want 200", rec.calls[0].status)
	}
	line := buf.String()
	for _, want := range []string{`"msg":"request"`, `"route":"/ok"`, `"status_code":200`} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %s", line, want)
		}
	}
}

func TestAccessMiddleware_UnmatchedAndNilRecorder(t *testing.T) {
	t.Parallel()

	rec := &fakeRESTRecorder{}
	newAccessRouter(nil, rec).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))
	if len(rec.calls) != 1 || rec.calls[0].status != http.StatusNotFound || rec.calls[0].path != "/nope" {
		t.Fatalf("calls = %+v; want one 404 on /nope", rec.calls)
	}

	// A nil recorder only logs.
	rr := httptest.NewRecorder()
	newAccessRouter(slog.New(slog.DiscardHandler), nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d; want 200", rr.Code)
	}
}
