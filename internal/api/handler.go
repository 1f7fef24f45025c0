// Package api provides the HTTP handlers of the orchestration backend.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/smartfin/internal/dataset"
	"github.com/ashureev/smartfin/internal/dispatch"
	"github.com/ashureev/smartfin/internal/domain"
	"github.com/ashureev/smartfin/internal/identity"
	"github.com/ashureev/smartfin/internal/ocr"
	"github.com/go-chi/chi/v5"
)

const (
	maxJSONBodySize = 1 << 20
	// multipartOverhead is allowed on top of the file cap for boundaries and
	// form fields.
	multipartOverhead = 1 << 20
	multipartMemory   = 32 << 20
)

// Facade is the dispatch surface the handlers call into.
type Facade interface {
	SendPrompt(ctx context.Context, sessionID, text string) (domain.StructuredResult, error)
	Upload(ctx context.Context, sessionID string, u dataset.Upload) (*dispatch.UploadResult, error)
	ExtractImage(ctx context.Context, sessionID string, img ocr.Image) (domain.StructuredResult, error)
	ChangeModel(sessionID, task, model string) (domain.ModelDescriptor, error)
	RegisterKey(sessionID, provider, key string) error
	RegisterContact(sessionID, email string) error
	AgentInfo(tasks, defaults bool) any
	Models() map[domain.Provider][]string
	Graph(ctx context.Context, id string) (json.RawMessage, error)
}

// Handler serves the agent endpoints.
type Handler struct {
	facade         Facade
	limiter        *RateLimiter
	maxUploadBytes int64
	maxImageBytes  int64
}

// NewHandler creates a handler. A nil limiter disables throttling.
func NewHandler(facade Facade, limiter *RateLimiter, maxUploadBytes, maxImageBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = dataset.DefaultMaxBytes
	}
	if maxImageBytes <= 0 {
		maxImageBytes = ocr.DefaultMaxImageBytes
	}
	return &Handler{
		facade:         facade,
		limiter:        limiter,
		maxUploadBytes: maxUploadBytes,
		maxImageBytes:  maxImageBytes,
	}
}

// RegisterRoutes registers the agent routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/prompt", h.Prompt)
	r.Post("/upload", h.Upload)
	r.Post("/upload/image", h.UploadImage)
	r.Post("/send-key", h.SendKey)
	r.Post("/send-email", h.SendEmail)
	r.Put("/change-model", h.ChangeModel)
	r.Get("/agent-info", h.AgentInfo)
	r.Get("/models", h.Models)
	r.Get("/graphs/{graph_id}", h.Graph)
}

// PromptRequest is the body of POST /prompt.
type PromptRequest struct {
	SessionID string `json:"session_id"`
	Request   string `json:"request"`
}

// KeyRequest is the body of POST /send-key.
type KeyRequest struct {
	SessionID string `json:"session_id"`
	Provider  string `json:"provider"`
	APIKey    string `json:"api_key"`
}

// EmailRequest is the body of POST /send-email.
type EmailRequest struct {
	SessionID string `json:"session_id"`
	UserEmail string `json:"user_email"`
}

// ModelChangeRequest is the body of PUT /change-model.
type ModelChangeRequest struct {
	SessionID string `json:"session_id"`
	AgentTask string `json:"agent_task"`
	ModelName string `json:"model_name"`
}

// Prompt handles POST /prompt.
func (h *Handler) Prompt(w http.ResponseWriter, r *http.Request) {
	var req PromptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sessionID, ok := h.session(w, r, req.SessionID)
	if !ok || !h.allow(w, sessionID) {
		return
	}

	slog.Info("Prompt request", "session_id", sessionID, "request_length", len(req.Request))
	res, err := h.facade.SendPrompt(r.Context(), sessionID, req.Request)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusCreated, res)
}

// Upload handles POST /upload with a multipart "file" field. The CSV
// separator is read from the form or the query string.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, multipartError(err, h.maxUploadBytes))
		return
	}
	defer removeMultipart(r)

	sessionID, ok := h.session(w, r, r.FormValue("session_id"))
	if !ok {
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		Error(w, http.StatusBadRequest, "A file is required.")
		return
	}
	defer func() { _ = file.Close() }()

	res, err := h.facade.Upload(r.Context(), sessionID, dataset.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
		Separator:   r.FormValue("separator"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if res.Answer != nil {
		JSON(w, http.StatusCreated, map[string]any{"data": res.Answer})
		return
	}
	JSON(w, http.StatusCreated, map[string]any{"data": res.Preview})
}

// UploadImage handles POST /upload/image with a multipart "image_file" field.
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxImageBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, multipartError(err, h.maxImageBytes))
		return
	}
	defer removeMultipart(r)

	sessionID, ok := h.session(w, r, r.FormValue("session_id"))
	if !ok || !h.allow(w, sessionID) {
		return
	}
	file, header, err := r.FormFile("image_file")
	if err != nil {
		Error(w, http.StatusBadRequest, "An image file is required.")
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, h.maxImageBytes+1))
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.facade.ExtractImage(r.Context(), sessionID, ocr.Image{
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusCreated, res)
}

// SendKey handles POST /send-key.
func (h *Handler) SendKey(w http.ResponseWriter, r *http.Request) {
	var req KeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sessionID, ok := h.session(w, r, req.SessionID)
	if !ok {
		return
	}
	if err := h.facade.RegisterKey(sessionID, req.Provider, req.APIKey); err != nil {
		writeError(w, err)
		return
	}
	slog.Info("API key registered", "session_id", sessionID, "provider", req.Provider)
	JSON(w, http.StatusOK, map[string]string{"message": "API key registered."})
}

// SendEmail handles POST /send-email.
func (h *Handler) SendEmail(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sessionID, ok := h.session(w, r, req.SessionID)
	if !ok {
		return
	}
	if err := h.facade.RegisterContact(sessionID, req.UserEmail); err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "Email registered."})
}

// ChangeModel handles PUT /change-model.
func (h *Handler) ChangeModel(w http.ResponseWriter, r *http.Request) {
	var req ModelChangeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sessionID, ok := h.session(w, r, req.SessionID)
	if !ok {
		return
	}
	m, err := h.facade.ChangeModel(sessionID, req.AgentTask, req.ModelName)
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Info("Model changed", "session_id", sessionID, "task", req.AgentTask, "model", m.Name)
	JSON(w, http.StatusOK, map[string]any{"message": "Model changed.", "model": m})
}

// AgentInfo handles GET /agent-info?tasks=&defaults=.
func (h *Handler) AgentInfo(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	JSON(w, http.StatusOK, h.facade.AgentInfo(queryBool(q.Get("tasks")), queryBool(q.Get("defaults"))))
}

// Models handles GET /models.
func (h *Handler) Models(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.facade.Models())
}

// Graph handles GET /graphs/{graph_id}.
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	fig, err := h.facade.Graph(r.Context(), chi.URLParam(r, "graph_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]json.RawMessage{"graph": fig})
}

// session resolves the session id from the body, falling back to the one the
// identity middleware found in the header or query string.
func (h *Handler) session(w http.ResponseWriter, r *http.Request, fromBody string) (string, bool) {
	raw := fromBody
	if raw == "" {
		raw = identity.SessionIDFromContext(r.Context())
	}
	sid, err := identity.ParseSessionID(raw)
	if err != nil {
		writeError(w, err)
		return "", false
	}
	return sid, true
}

func (h *Handler) allow(w http.ResponseWriter, sessionID string) bool {
	if h.limiter == nil || h.limiter.Allow(sessionID) {
		return true
	}
	slog.Warn("Rate limit exceeded", "session_id", sessionID)
	Error(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func multipartError(err error, limit int64) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return domain.NewError(domain.KindFileTooLarge, "Max file size exceeded: "+strconv.FormatInt(limit>>20, 10)+" MB.")
	}
	return domain.WrapError(domain.KindInvalidInput, "Invalid multipart form.", err)
}

func removeMultipart(r *http.Request) {
	if r.MultipartForm != nil {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.Debug("Failed to remove multipart temp files", "error", err)
		}
	}
}

func queryBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
