package httpx

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	deepcasttls "github.com/HatiCode/deepcast/pkg/tls"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	if err := WriteJSON(w, http.StatusCreated, map[string]int{"n": 1}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	if w.Code != http.StatusCreated {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusCreated)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if body := strings.TrimSpace(w.Body.String()); body != `{"n":1}` {
		t.Errorf("body = %q", body)
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusBadRequest, errors.New("bad input"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := strings.TrimSpace(w.Body.String()); body != `{"error":"bad input"}` {
		t.Errorf("body = %q", body)
	}
}

func TestHealthHandlerWithCheck(t *testing.T) {
	w := httptest.NewRecorder()
	HealthHandlerWithCheck(func() error { return errors.New("not ready") })(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	w = httptest.NewRecorder()
	HealthHandlerWithCheck(func() error { return nil })(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Errorf("got %d %q, want 200 OK", w.Code, w.Body.String())
	}
}

func TestMiddlewareChain(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-Id") == "" {
			t.Error("request id should be set before the handler runs")
		}
		panic("boom")
	})

	h := Chain(panicky, RequestIDMiddleware(), LoggingMiddleware(logger), RecoveryMiddleware(logger))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/predict", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Error("response should carry X-Request-Id")
	}
}

func TestRequestIDMiddleware_KeepsClientID(t *testing.T) {
	h := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "abc")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-Id"); got != "abc" {
		t.Errorf("X-Request-Id = %q, want abc", got)
	}
}

func TestNewClient(t *testing.T) {
	cli, err := NewClient(deepcasttls.Config{}, 5*time.Second)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if cli.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cli.Timeout)
	}

	if _, err := NewClient(deepcasttls.Config{Enabled: true}, time.Second); err == nil {
		t.Error("expected error for TLS without files, got nil")
	}
}
