package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	commonerrors "github.com/exchange/emulator/pkg/errors"
	"github.com/exchange/emulator/pkg/logger"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) commonerrors.Error {
	t.Helper()
	var e commonerrors.Error
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return e
}

func TestWriteErrorUsesCodeStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodDelete, "/api/orders/x", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()

	WriteError(rec, req, commonerrors.ErrPermissionDenied)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	e := decodeError(t, rec)
	if e.Code != commonerrors.CodePermissionDenied || e.RequestID != "req-1" {
		t.Fatalf("unexpected payload %+v", e)
	}
	if commonerrors.ErrPermissionDenied.RequestID != "" {
		t.Fatal("shared error value must not be mutated")
	}
}

func TestWriteErrorWrapsPlainError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, nil, errors.New("boom"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rec.Header().Get("X-Request-ID") != seen {
		t.Fatalf("expected generated request id, got %q / %q", seen, rec.Header().Get("X-Request-ID"))
	}

	tests := []struct {
		header string
		keep   bool
	}{
		{header: "given", keep: true},
		{header: "client-7:retry.2", keep: true},
		{header: "has space", keep: false},
		{header: "line\nbreak", keep: false},
		{header: strings.Repeat("a", 65), keep: false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, tt.header)
		h.ServeHTTP(httptest.NewRecorder(), req)
		if (seen == tt.header) != tt.keep {
			t.Fatalf("header %q: keep=%v, got %q", tt.header, tt.keep, seen)
		}
		if seen == "" {
			t.Fatalf("header %q: expected a request id", tt.header)
		}
	}
}

func TestRecoveryKeepsHijacker(t *testing.T) {
	var hijackable bool
	h := Recovery(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hijackable = w.(http.Hijacker)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ws", nil))
	if !hijackable {
		t.Fatal("expected wrapped writer to expose Hijack")
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != commonerrors.CodeInternal {
		t.Fatalf("expected INTERNAL, got %s", e.Code)
	}
}
