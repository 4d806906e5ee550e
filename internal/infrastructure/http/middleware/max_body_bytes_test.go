package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rezkam/smartflow/internal/infrastructure/http/response"
)

func echoHandler(t *testing.T, gotBody *string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("handler failed to read body: %v", err)
		}
		*gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	})
}

func TestMaxBodyBytesPassesSmallBody(t *testing.T) {
	var gotBody string
	handler := MaxBodyBytes(64)(echoHandler(t, &gotBody))

	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(`{"type":"email"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotBody != `{"type":"email"}` {
		t.Errorf("handler saw body %q, want the original body", gotBody)
	}
}

func TestMaxBodyBytesRejectsByContentLength(t *testing.T) {
	handler := MaxBodyBytes(8)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler should not run for an oversized body")
	}))

	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(strings.Repeat("x", 32)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	var envelope response.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode error envelope: %v", err)
	}
	if envelope.Error.Code != "PAYLOAD_TOO_LARGE" {
		t.Errorf("error code = %q, want PAYLOAD_TOO_LARGE", envelope.Error.Code)
	}
}

func TestMaxBodyBytesRejectsChunkedBody(t *testing.T) {
	handler := MaxBodyBytes(8)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler should not run for an oversized body")
	}))

	// No Content-Length: the limit must hold during the read as well.
	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(strings.Repeat("x", 32)))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}
