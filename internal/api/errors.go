package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/smartfin/internal/domain"
)

// statusFor maps an error kind to its HTTP status.
func statusFor(k domain.Kind) int {
	switch k {
	case domain.KindCredentialMissing,
		domain.KindUnknownModel,
		domain.KindInvalidContact,
		domain.KindUnsupportedFileType,
		domain.KindMalformedArchive,
		domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindCollaboratorUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError is the single place errors become responses. Client errors carry
// their message verbatim; outages and internal failures only a generic one.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) {
		slog.Debug("Request canceled by client", "error", err)
		return
	}
	if errors.Is(err, context.DeadlineExceeded) && domain.KindOf(err) == domain.KindInternal {
		err = domain.Unavailable(err)
	}

	var de *domain.Error
	if !errors.As(err, &de) {
		slog.Error("Unhandled request error", "error", err)
		Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	status := statusFor(de.Kind)
	switch {
	case status >= http.StatusInternalServerError:
		slog.Error("Request failed", "kind", de.Kind.String(), "error", err)
	default:
		slog.Info("Request rejected", "kind", de.Kind.String(), "error", err)
	}
	Error(w, status, de.Message)
}
