package auth

import (
	"context"
	"net/http"
	"os"

	"github.com/google/uuid"
)

// defaultRequestIDHeader is used unless GEV_REQUEST_ID_HEADER is set, which
// lets deployments behind a gateway reuse the gateway's correlation header.
const defaultRequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestIDMiddleware tags every request with a correlation id in the
// context and the response header. A client-supplied id is reused only when
// it parses as a UUID; anything else is replaced with a fresh one so
// arbitrary strings never reach the logs.
func RequestIDMiddleware(next http.Handler) http.Handler {
	header := defaultRequestIDHeader
	if h := os.Getenv("GEV_REQUEST_ID_HEADER"); h != "" {
		header = h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(header)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.New().String()
		}
		w.Header().Set(header, requestID)
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the correlation id from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
