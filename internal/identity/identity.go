// Package identity validates client-chosen session ids and carries them in
// the request context.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/ashureev/smartfin/internal/domain"
)

// SessionHeaderName carries the session id on requests without a JSON body.
const SessionHeaderName = "X-Session-ID"

type contextKey int

const sessionIDKey contextKey = iota

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// ErrInvalidSessionID is returned for empty or malformed session ids.
var ErrInvalidSessionID = domain.NewError(domain.KindInvalidInput,
	"Invalid session id, use up to 128 letters, digits, '.', '_', ':' or '-'.")

// ParseSessionID trims and validates a session id.
func ParseSessionID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if !sessionIDPattern.MatchString(id) {
		return "", ErrInvalidSessionID
	}
	return id, nil
}

// WithSessionID stores a session id in ctx.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext extracts the session id from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sid
}

// Middleware injects the session id found in the header or query string.
// Requests without one pass through unchanged; handlers that need a session
// read it from their body.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sid, err := ParseSessionID(sessionIDFromRequest(r)); err == nil {
			r = r.WithContext(WithSessionID(r.Context(), sid))
		}
		next.ServeHTTP(w, r)
	})
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
