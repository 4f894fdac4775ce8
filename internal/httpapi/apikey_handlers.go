package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"authcore.dev/internal/auth"
)

type apiKeyHandler struct {
	svc    *auth.Service
	logger *slog.Logger
}

func newAPIKeyHandler(svc *auth.Service, logger *slog.Logger) *apiKeyHandler {
	return &apiKeyHandler{svc: svc, logger: logger.With("handler", "api_keys")}
}

func (h *apiKeyHandler) RegisterRoutes(r chi.Router, guard func(...auth.Guard) func(http.Handler) http.Handler) {
	can := func(action auth.Action) func(http.Handler) http.Handler {
		return guard(h.svc.BearerGuard(), h.svc.RequireAbilities(auth.Ability{
			Subject: auth.SubjectAPIKey,
			Actions: []auth.Action{action},
		}))
	}
	r.Route("/api-keys", func(r chi.Router) {
		r.With(can(auth.ActionCreate)).Post("/", h.create)
		r.With(can(auth.ActionUpdate)).Post("/{id}/rotate", h.rotate)
		r.With(can(auth.ActionUpdate)).Post("/{id}/active", h.setActive)
	})
}

type createAPIKeyRequest struct {
	Name      string     `json:"name"`
	Type      string     `json:"type"`
	StartDate *time.Time `json:"startDate"`
	EndDate   *time.Time `json:"endDate"`
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

type apiKeyResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Type      string     `json:"type"`
	Key       string     `json:"key"`
	Secret    string     `json:"secret,omitempty"`
	Header    string     `json:"header,omitempty"`
	StartDate *time.Time `json:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`
	IsActive  bool       `json:"isActive"`
}

func issuedResponse(k auth.IssuedAPIKey) apiKeyResponse {
	return apiKeyResponse{
		ID:        k.Record.ID,
		Name:      k.Record.Name,
		Type:      string(k.Record.Type),
		Key:       k.Key,
		Secret:    k.Secret,
		Header:    k.Header(),
		StartDate: k.Record.StartDate,
		EndDate:   k.Record.EndDate,
		IsActive:  k.Record.IsActive,
	}
}

func (h *apiKeyHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	issued, err := h.svc.CreateAPIKey(r.Context(), auth.CreateAPIKeyRequest{
		Name:      req.Name,
		Type:      auth.APIKeyType(req.Type),
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	})
	if err != nil {
		h.fail(w, r, "create api key", err)
		return
	}
	writeJSON(w, http.StatusCreated, issuedResponse(issued))
}

func (h *apiKeyHandler) rotate(w http.ResponseWriter, r *http.Request) {
	issued, err := h.svc.RotateAPIKeySecret(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "rotate api key", err)
		return
	}
	writeJSON(w, http.StatusOK, issuedResponse(issued))
}

func (h *apiKeyHandler) setActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := h.svc.SetAPIKeyActive(r.Context(), chi.URLParam(r, "id"), req.Active); err != nil {
		h.fail(w, r, "update api key", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiKeyHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if auth.IsRetryable(err) || auth.KindOf(err) == "" {
		h.logger.ErrorContext(r.Context(), op+" failed", slog.Any("error", err), slog.String("request_id", RequestIDFromContext(r)))
	}
	writeAuthError(w, r, err)
}
