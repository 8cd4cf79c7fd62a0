package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
	"github.com/meridian-rms/meridian-rms/internal/shared"
)

// PermissionSource resolves effective permissions for /auth/me.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	permissions PermissionSource
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, permissions PermissionSource) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, permissions: permissions}
}

// MountPublicRoutes registers the unauthenticated login endpoint.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
}

// MountProtectedRoutes registers endpoints that require a valid bearer token.
func (h *Handler) MountProtectedRoutes(r chi.Router) {
	r.Post("/refresh", h.handleRefresh)
	r.Get("/me", h.handleMe)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type userPayload struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role,omitempty"`
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int64       `json:"expires_in"`
	User        userPayload `json:"user"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Warn("login rejected", slog.String("email", req.Email))
		httpx.ErrorWithCode(w, r, http.StatusUnauthorized, httpx.CodeUnauthorized, "invalid credentials")
		return
	}
	httpx.JSON(w, http.StatusOK, h.tokenResponse(result))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.ErrorWithCode(w, r, http.StatusUnauthorized, httpx.CodeUnauthorized, "missing bearer token")
		return
	}
	result, err := h.service.Refresh(r.Context(), principal.UserID)
	if err != nil {
		httpx.ErrorWithCode(w, r, http.StatusUnauthorized, httpx.CodeUnauthorized, "invalid credentials")
		return
	}
	httpx.JSON(w, http.StatusOK, h.tokenResponse(result))
}

type mePayload struct {
	userPayload
	Permissions []string `json:"permissions"`
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.ErrorWithCode(w, r, http.StatusUnauthorized, httpx.CodeUnauthorized, "missing bearer token")
		return
	}
	user, err := h.service.CurrentUser(r.Context(), principal.UserID)
	if err != nil {
		httpx.Error(w, r, httpx.ErrUnauthorized)
		return
	}
	perms := []string{}
	if h.permissions != nil {
		granted, err := h.permissions.EffectivePermissions(r.Context(), principal.UserID)
		if err != nil {
			h.logger.Error("resolve permissions", slog.Any("error", err))
			httpx.Error(w, r, err)
			return
		}
		if granted != nil {
			perms = granted
		}
	}
	httpx.JSON(w, http.StatusOK, mePayload{
		userPayload: userPayload{ID: user.ID, Email: user.Email, Name: user.Name, Role: principal.Role},
		Permissions: perms,
	})
}

func (h *Handler) tokenResponse(result *LoginResult) tokenResponse {
	return tokenResponse{
		AccessToken: result.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(result.ExpiresAt) / time.Second),
		User: userPayload{
			ID:    result.User.ID,
			Email: result.User.Email,
			Name:  result.User.Name,
			Role:  result.Role,
		},
	}
}
