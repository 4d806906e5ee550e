// Package middleware holds HTTP middleware shared by the API routes.
package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/rezkam/smartflow/internal/infrastructure/http/response"
)

// MaxBodyBytes rejects request bodies larger than maxBytes with 413. The
// Content-Length header alone is not enough: chunked requests carry none and
// the header is client-controlled, so the body is also read through a
// MaxBytesReader and handed back to the next handler.
func MaxBodyBytes(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				payloadTooLarge(w)
				return
			}

			buf, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
			if err != nil {
				payloadTooLarge(w)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(buf))
			next.ServeHTTP(w, r)
		})
	}
}

func payloadTooLarge(w http.ResponseWriter) {
	response.Error(w, "PAYLOAD_TOO_LARGE", "request body exceeds size limit", http.StatusRequestEntityTooLarge)
}
