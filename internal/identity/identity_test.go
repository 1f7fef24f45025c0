package identity

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseSessionID(t *testing.T) {
	valid := []string{"abc", " tab-1 ", "user:42.x_y"}
	for _, in := range valid {
		if _, err := ParseSessionID(in); err != nil {
			t.Errorf("Expected %q to be valid, got %v", in, err)
		}
	}
	invalid := []string{"", "   ", "a b", "../etc", string(make([]byte, 129))}
	for _, in := range invalid {
		if _, err := ParseSessionID(in); !errors.Is(err, ErrInvalidSessionID) {
			t.Errorf("Expected %q to be invalid, got %v", in, err)
		}
	}
}

func TestMiddleware(t *testing.T) {
	var got string
	h := Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/graphs/x?session_id=q1", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "q1" {
		t.Errorf("Expected session from query, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/graphs/x?session_id=q1", nil)
	req.Header.Set(SessionHeaderName, "h1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "h1" {
		t.Errorf("Expected header to win, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/graphs/x?session_id=bad%20id", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "" {
		t.Errorf("Expected invalid session to be dropped, got %q", got)
	}
}
