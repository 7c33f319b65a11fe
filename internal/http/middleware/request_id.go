// Package middleware holds the HTTP middleware chain for the visus
// API: correlation IDs, request logging, panic recovery, and CORS.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type ctxKey int

const requestIDKey ctxKey = iota

// RequestIDHeader carries the correlation ID on requests and
// responses.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLen caps client-supplied IDs so a hostile header cannot
// bloat every log line that carries it.
const maxRequestIDLen = 64

// RequestID tags every request with a correlation ID. A well-formed
// inbound X-Request-ID is kept so the ID survives proxy hops; anything
// missing or malformed is replaced with a fresh UUID. The ID is echoed
// on the response and stored in the context for the logging and
// recovery layers.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validRequestID accepts non-empty printable ASCII up to
// maxRequestIDLen.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}

// RequestIDFrom returns the correlation ID stored by RequestID, or ""
// outside the middleware chain.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
