package middleware

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cbodonnell/starminers/pkg/log"
	"github.com/google/uuid"
)

type ContextKey int

const (
	// CredentialContextKey is the key used to store the caller's credential in the request context
	CredentialContextKey ContextKey = iota
	// RequestIDContextKey is the key used to store the request id in the request context
	RequestIDContextKey
)

// RequestIDHeader carries the request id back to the caller
const RequestIDHeader = "X-Request-ID"

// NewCredentialMiddleware stores the raw Authorization header as the
// caller's credential. A missing header is stored as the empty string and
// rejected later by the operation that needs it.
func NewCredentialMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := r.Header.Get("Authorization")
			ctx := context.WithValue(r.Context(), CredentialContextKey, credential)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Credential returns the credential stored by the credential middleware.
func Credential(ctx context.Context) string {
	credential, _ := ctx.Value(CredentialContextKey).(string)
	return credential
}

// NewRequestIDMiddleware tags every request with a fresh id.
func NewRequestIDMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := uuid.NewString()
			w.Header().Set(RequestIDHeader, id)
			ctx := context.WithValue(r.Context(), RequestIDContextKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestID returns the id stored by the request id middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDContextKey).(string)
	return id
}

// NewAccessLogMiddleware logs one line per request at debug level.
// Credentials are never logged.
func NewAccessLogMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.WithField("request_id", RequestID(r.Context())).
				Debug("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the live feed upgrade through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
