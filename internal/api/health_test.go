package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		method string
		err    error
		want   int
	}{
		{"get ok", http.MethodGet, nil, http.StatusOK},
		{"head ok", http.MethodHead, nil, http.StatusOK},
		{"db down", http.MethodGet, errors.New("database is locked"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := chi.NewRouter()
			NewHealthHandler(fakePinger{err: tt.err}, 0).RegisterHealth(r)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(tt.method, "/healthz", nil))
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.method == http.MethodHead && w.Body.Len() != 0 {
				t.Fatal("HEAD response should have no body")
			}
		})
	}
}
