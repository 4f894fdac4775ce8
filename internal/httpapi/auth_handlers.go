package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"authcore.dev/internal/auth"
)

type authHandler struct {
	svc    *auth.Service
	logger *slog.Logger
}

func newAuthHandler(svc *auth.Service, logger *slog.Logger) *authHandler {
	return &authHandler{svc: svc, logger: logger.With("handler", "auth")}
}

// RegisterRoutes mounts /auth. limit wraps the credential-guessing endpoints,
// bearer protects everything that needs a signed-in user.
func (h *authHandler) RegisterRoutes(r chi.Router, limit, bearer func(http.Handler) http.Handler) {
	r.Route("/auth", func(r chi.Router) {
		r.With(limit).Post("/login", h.login)
		r.With(limit).Post("/2fa/verify", h.verifyTwoFactor)
		r.Post("/refresh", h.refresh)

		r.Group(func(r chi.Router) {
			r.Use(bearer)
			r.Post("/logout", h.logout)
			r.Post("/sessions/revoke-all", h.revokeAll)
			r.Get("/me", h.me)
			r.Post("/2fa/setup", h.setupTwoFactor)
			r.Post("/2fa/confirm", h.confirmTwoFactor)
			r.Post("/2fa/disable", h.disableTwoFactor)
			r.Post("/2fa/backup-codes", h.regenerateBackupCodes)
		})
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type twoFactorVerifyRequest struct {
	ChallengeToken string `json:"challengeToken"`
	Code           string `json:"code"`
	BackupCode     string `json:"backupCode"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type meResponse struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	Status    string         `json:"status"`
	RoleType  string         `json:"roleType"`
	Abilities []auth.Ability `json:"abilities"`
	SessionID string         `json:"sessionId"`
}

func (h *authHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	res, err := h.svc.Login(r.Context(), auth.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
		From:     clientIP(r),
	})
	if err != nil {
		h.fail(w, r, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *authHandler) verifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req twoFactorVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	res, err := h.svc.CompleteTwoFactor(r.Context(), auth.TwoFactorRequest{
		ChallengeToken: req.ChallengeToken,
		Code:           req.Code,
		BackupCode:     req.BackupCode,
	})
	if err != nil {
		h.fail(w, r, "2fa verify", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *authHandler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	res, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.fail(w, r, "refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *authHandler) logout(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if err := h.svc.Logout(r.Context(), p.SessionID); err != nil {
		h.fail(w, r, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *authHandler) revokeAll(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	n, err := h.svc.RevokeAllSessions(r.Context(), p.User.ID)
	if err != nil {
		h.fail(w, r, "revoke sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
}

func (h *authHandler) me(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	abilities := p.Abilities()
	if abilities == nil {
		abilities = []auth.Ability{}
	}
	writeJSON(w, http.StatusOK, meResponse{
		ID:        p.User.ID,
		Email:     p.User.Email,
		Status:    string(p.User.Status),
		RoleType:  string(p.RoleType()),
		Abilities: abilities,
		SessionID: p.SessionID,
	})
}

func (h *authHandler) setupTwoFactor(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	setup, err := h.svc.BeginTwoFactorSetup(r.Context(), p.User.ID)
	if err != nil {
		h.fail(w, r, "2fa setup", err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

func (h *authHandler) confirmTwoFactor(w http.ResponseWriter, r *http.Request) {
	h.withCode(w, r, "2fa confirm", func(p auth.Principal, code string) (any, error) {
		return nil, h.svc.ConfirmTwoFactorSetup(r.Context(), p.User.ID, code)
	})
}

func (h *authHandler) disableTwoFactor(w http.ResponseWriter, r *http.Request) {
	h.withCode(w, r, "2fa disable", func(p auth.Principal, code string) (any, error) {
		return nil, h.svc.DisableTwoFactor(r.Context(), p.User.ID, code)
	})
}

func (h *authHandler) regenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	h.withCode(w, r, "2fa backup codes", func(p auth.Principal, code string) (any, error) {
		codes, err := h.svc.RegenerateBackupCodes(r.Context(), p.User.ID, code)
		if err != nil {
			return nil, err
		}
		return map[string]any{"backupCodes": codes}, nil
	})
}

// withCode decodes {"code"} for the signed-in user and writes fn's result,
// or 204 when it returns nothing.
func (h *authHandler) withCode(w http.ResponseWriter, r *http.Request, op string, fn func(auth.Principal, string) (any, error)) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req codeRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	out, err := fn(p, req.Code)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	if out == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *authHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if auth.IsRetryable(err) || auth.KindOf(err) == "" {
		h.logger.ErrorContext(r.Context(), op+" failed", slog.Any("error", err), slog.String("request_id", RequestIDFromContext(r)))
	}
	writeAuthError(w, r, err)
}
