// Package relay forwards task lookups to ClickUp on behalf of signed-in
// panel users, so the ClickUp token never leaves this process.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/harshmpotenz/SideBar/internal/clickup"
	"github.com/harshmpotenz/SideBar/internal/identity"
	"github.com/harshmpotenz/SideBar/internal/policy"
)

// UserVerifier checks a panel credential with the identity service.
type UserVerifier interface {
	GetUser(ctx context.Context, accessToken string) (*identity.User, error)
}

// TaskSource loads a raw task with the relay's own task service token.
type TaskSource interface {
	GetTask(ctx context.Context, token, taskID string) (json.RawMessage, error)
}

type Observer interface {
	ObserveRelay(outcome string, upstream time.Duration)
}

type Config struct {
	Users    UserVerifier
	Tasks    TaskSource
	Token    string
	Observer Observer
	Logger   *slog.Logger
}

type Handler struct {
	users    UserVerifier
	tasks    TaskSource
	token    string
	observer Observer
	logger   *slog.Logger
}

func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		users:    cfg.Users,
		tasks:    cfg.Tasks,
		token:    strings.TrimSpace(cfg.Token),
		observer: cfg.Observer,
		logger:   logger.With("component", "relay"),
	}
}

// Mount registers POST /callback and GET /task/{taskId}.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/callback", h.handleCallback)
	r.Get("/task/{taskId}", h.handleGetTask)
}

type callbackRequest struct {
	TaskID     string `json:"taskId"`
	Credential string `json:"credential"`
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	if err := dec.Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid_request", "request body must be {taskId, credential}", 0)
		return
	}
	h.relay(w, r, req.TaskID, req.Credential)
}

func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	credential := auth
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		credential = strings.TrimSpace(auth[7:])
	}
	h.relay(w, r, chi.URLParam(r, "taskId"), credential)
}

func (h *Handler) relay(w http.ResponseWriter, r *http.Request, taskID, credential string) {
	taskID = strings.TrimSpace(taskID)
	credential = strings.TrimSpace(credential)
	if taskID == "" {
		h.fail(w, http.StatusBadRequest, "invalid_request", "taskId is required", 0)
		return
	}
	if credential == "" {
		h.fail(w, http.StatusUnauthorized, "unauthorized", "credential is required", 0)
		return
	}
	if h.token == "" || h.tasks == nil || h.users == nil {
		h.fail(w, http.StatusServiceUnavailable, "relay_not_configured", "task relay is not configured", 0)
		return
	}

	user, err := h.users.GetUser(r.Context(), credential)
	if err != nil {
		var se *identity.ServiceError
		if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 {
			h.logger.Info("credential rejected", "credential", policy.RedactToken(credential), "status", se.Status)
			h.fail(w, http.StatusUnauthorized, "unauthorized", "credential rejected", 0)
			return
		}
		h.logger.Warn("credential check failed", "error", err)
		h.fail(w, http.StatusBadGateway, "identity_unavailable", "could not verify credential", 0)
		return
	}

	started := time.Now()
	task, err := h.tasks.GetTask(r.Context(), h.token, taskID)
	upstream := time.Since(started)
	if err != nil {
		var apiErr *clickup.APIError
		if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
			h.fail(w, apiErr.Status, "task_error", apiErr.Error(), upstream)
			return
		}
		h.logger.Warn("task service request failed", "task_id", taskID, "error", err)
		h.fail(w, http.StatusBadGateway, "upstream_error", "Failed to fetch task data", upstream)
		return
	}

	h.logger.Info("task relayed", "task_id", taskID, "user", policy.RedactEmail(user.Email), "upstream_ms", upstream.Milliseconds())
	h.observe("ok", upstream)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(task)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (h *Handler) fail(w http.ResponseWriter, status int, code, message string, upstream time.Duration) {
	h.observe(code, upstream)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message, Code: code})
}

func (h *Handler) observe(outcome string, upstream time.Duration) {
	if h.observer != nil {
		h.observer.ObserveRelay(outcome, upstream)
	}
}
