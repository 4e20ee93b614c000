package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/stylesync/quota-server-go/internal/audit"
	"github.com/stylesync/quota-server-go/internal/auth"
	apperrors "github.com/stylesync/quota-server-go/internal/errors"
	"github.com/stylesync/quota-server-go/internal/service"
	"github.com/stylesync/quota-server-go/internal/util"
)

type AuthAPI interface {
	SignUp(ctx context.Context, input service.SignUpInput) (*service.AuthResult, error)
	SignIn(ctx context.Context, input service.SignInInput) (*service.AuthResult, error)
	SignOut(ctx context.Context, refreshToken string) error
	Refresh(ctx context.Context, refreshToken string) (*service.AuthResult, error)
	GetSession(ctx context.Context, claims *auth.Claims) (*service.SessionInfo, error)
	UpdatePassword(ctx context.Context, userID string, input service.UpdatePasswordInput) error
}

var _ AuthAPI = (*service.AuthService)(nil)

type Middleware = func(http.Handler) http.Handler

type AuthHandler struct {
	auth        AuthAPI
	requireAuth Middleware
	ipLimit     Middleware
}

// NewAuthHandler wires the auth routes. requireAuth guards the session and
// password routes; ipLimit guards sign-in and sign-up.
func NewAuthHandler(authAPI AuthAPI, requireAuth, ipLimit Middleware) *AuthHandler {
	return &AuthHandler{
		auth:        authAPI,
		requireAuth: requireAuth,
		ipLimit:     ipLimit,
	}
}

func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(h.ipLimit).Post("/signup", h.SignUp)
	r.With(h.ipLimit).Post("/signin", h.SignIn)
	r.Post("/signout", h.SignOut)
	r.Post("/refresh", h.Refresh)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/session", h.GetSession)
		r.Post("/password", h.UpdatePassword)
	})

	return r
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// POST /v1/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req service.SignUpInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.auth.SignUp(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSignUp,
		UserID:    result.User.ID,
		AccountID: result.Account.ID,
	})

	writeJSON(w, http.StatusCreated, result)
}

// POST /v1/auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req service.SignInInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.auth.SignIn(r.Context(), req)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeUnauthorized) {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventSignInFailure,
				Details: map[string]interface{}{"email": util.MaskEmail(util.NormalizeEmail(req.Email))},
			})
		}
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSignInSuccess,
		UserID:    result.User.ID,
		AccountID: result.Account.ID,
	})

	writeJSON(w, http.StatusOK, result)
}

// POST /v1/auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.auth.SignOut(r.Context(), req.RefreshToken); err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventSignOut})
	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSessionRefresh,
		UserID:    result.User.ID,
		AccountID: result.Account.ID,
	})

	writeJSON(w, http.StatusOK, result)
}

// GET /v1/auth/session
func (h *AuthHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	info, err := h.auth.GetSession(r.Context(), claims)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// POST /v1/auth/password
func (h *AuthHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	var req service.UpdatePasswordInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.auth.UpdatePassword(r.Context(), claims.UserID, req); err != nil {
		log.Warn().Err(err).Str("userId", claims.UserID).Msg("password update failed")
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventPasswordUpdate,
		UserID:    claims.UserID,
		AccountID: claims.AccountID,
	})

	w.WriteHeader(http.StatusNoContent)
}
