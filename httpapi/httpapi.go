// Package httpapi exposes the session manager over HTTP. Routes and
// response shapes follow the helpdesk API contract: JSON bodies, a
// machine-readable code field on errors, and camelCase keys.
package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/helpdeskd/authkit"
	"github.com/helpdeskd/authkit/middleware"
	"github.com/helpdeskd/authkit/store"
	"github.com/helpdeskd/authkit/token"
)

// Handler serves the auth routes. Dev switches error bodies from generic
// messages to underlying error detail; never enable it in production.
type Handler struct {
	manager *authkit.Manager
	dev     bool
}

// New creates a Handler around a running Manager.
func New(manager *authkit.Manager, dev bool) *Handler {
	return &Handler{manager: manager, dev: dev}
}

// Routes mounts the auth endpoints on a fresh router under /api/auth.
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()
	h.Mount(r.PathPrefix("/api/auth").Subrouter())
	return r
}

// Mount attaches the auth endpoints to an existing subrouter.
func (h *Handler) Mount(r *mux.Router) {
	authed := middleware.Authenticate(h.manager)

	r.HandleFunc("/register", h.register).Methods(http.MethodPost)
	r.HandleFunc("/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/logout", h.logout).Methods(http.MethodPost)
	r.HandleFunc("/refresh", h.refresh).Methods(http.MethodPost)
	r.Handle("/me", authed(http.HandlerFunc(h.me))).Methods(http.MethodGet)
	r.Handle("/change-password", authed(http.HandlerFunc(h.changePassword))).Methods(http.MethodPost)
	r.Handle("/sessions", authed(http.HandlerFunc(h.sessions))).Methods(http.MethodGet)
	r.Handle("/sessions/revoke-all", authed(http.HandlerFunc(h.revokeAll))).Methods(http.MethodPost)
}

func requestMeta(r *http.Request) authkit.RequestMeta {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.RemoteAddr
	}
	return authkit.RequestMeta{
		IP:        ip,
		UserAgent: r.UserAgent(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return false
	}
	return true
}

type userPayload struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
}

func toUserPayload(u *authkit.User) userPayload {
	return userPayload{
		ID:        u.ID,
		Email:     u.Email,
		Role:      u.Role,
		LastLogin: u.LastLogin,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}

	user, err := h.manager.Register(r.Context(), req.Email, req.Password, req.Role, requestMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, authkit.ErrInvalidEmail):
			middleware.WriteError(w, http.StatusBadRequest, "INVALID_EMAIL", "Please provide a valid email address")
		case errors.Is(err, authkit.ErrInvalidRole):
			middleware.WriteError(w, http.StatusBadRequest, "INVALID_ROLE", "Role must be user or admin")
		case errors.Is(err, authkit.ErrWeakPassword):
			middleware.WriteError(w, http.StatusBadRequest, "WEAK_PASSWORD", err.Error())
		case errors.Is(err, authkit.ErrUserExists):
			middleware.WriteError(w, http.StatusConflict, "USER_EXISTS", "An account with this email already exists")
		default:
			h.internalError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "User registered successfully",
		"user":    toUserPayload(user),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token        string      `json:"token"`
	RefreshToken string      `json:"refreshToken,omitempty"`
	SessionID    string      `json:"sessionId"`
	ExpiresIn    int         `json:"expiresIn"`
	User         userPayload `json:"user"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		middleware.WriteError(w, http.StatusBadRequest, "MISSING_CREDENTIALS", "Email and password are required")
		return
	}

	result, err := h.manager.Login(r.Context(), req.Email, req.Password, requestMeta(r))
	if err != nil {
		var locked *authkit.LockedError
		switch {
		case errors.As(err, &locked):
			middleware.WriteLocked(w, retryAfterSeconds(locked.RetryAfter))
		case errors.Is(err, authkit.ErrInvalidCredentials):
			middleware.WriteError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
		default:
			h.internalError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:        result.AccessToken,
		RefreshToken: result.RefreshToken,
		SessionID:    result.SessionID,
		ExpiresIn:    int(result.ExpiresIn.Seconds()),
		User:         toUserPayload(result.User),
	})
}

// logout always reports success. The client's goal is to not be logged in;
// a token that is already dead satisfies that.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	tokenStr := middleware.ExtractToken(r)
	if tokenStr != "" {
		if err := h.manager.Logout(r.Context(), tokenStr, requestMeta(r)); err != nil {
			h.internalError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Logged out successfully",
		"code":    "LOGOUT_SUCCESS",
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decode(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		middleware.WriteError(w, http.StatusBadRequest, "MISSING_REFRESH_TOKEN", "Refresh token is required")
		return
	}

	result, err := h.manager.Refresh(r.Context(), req.RefreshToken, requestMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, authkit.ErrRevokedToken):
			middleware.WriteError(w, http.StatusForbidden, middleware.CodeRevokedToken, "Token has been revoked")
		case errors.Is(err, authkit.ErrInvalidSession):
			middleware.WriteError(w, http.StatusForbidden, middleware.CodeInvalidSession, "Session is no longer valid")
		case errors.Is(err, token.ErrTokenExpired):
			middleware.WriteError(w, http.StatusForbidden, middleware.CodeTokenExpired, "Refresh token has expired")
		case errors.Is(err, token.ErrTokenMalformed):
			middleware.WriteError(w, http.StatusForbidden, middleware.CodeMalformedToken, "Invalid refresh token")
		default:
			h.internalError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":     result.AccessToken,
		"sessionId": result.SessionID,
		"expiresIn": int(result.ExpiresIn.Seconds()),
	})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]string{
			"id":        identity.UserID,
			"email":     identity.Email,
			"role":      identity.Role,
			"sessionId": identity.SessionID,
		},
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decode(w, r, &req) {
		return
	}

	identity := middleware.IdentityFrom(r.Context())
	err := h.manager.ChangePassword(r.Context(), identity.UserID, req.CurrentPassword, req.NewPassword, requestMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, authkit.ErrInvalidCurrentPassword):
			middleware.WriteError(w, http.StatusUnauthorized, "INVALID_CURRENT_PASSWORD", "Current password is incorrect")
		case errors.Is(err, authkit.ErrSamePassword):
			middleware.WriteError(w, http.StatusBadRequest, "SAME_PASSWORD", "New password must be different from current password")
		case errors.Is(err, authkit.ErrWeakPassword):
			middleware.WriteError(w, http.StatusBadRequest, "WEAK_PASSWORD", err.Error())
		default:
			h.internalError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Password changed successfully. All sessions have been revoked.",
		"code":    "PASSWORD_CHANGED",
	})
}

type sessionPayload struct {
	SessionID    string    `json:"sessionId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	UserAgent    string    `json:"userAgent,omitempty"`
	IPAddress    string    `json:"ipAddress,omitempty"`
	Current      bool      `json:"current"`
}

func (h *Handler) sessions(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFrom(r.Context())

	sessions, err := h.manager.ListSessions(r.Context(), identity.UserID)
	if err != nil {
		h.internalError(w, err)
		return
	}

	payload := make([]sessionPayload, 0, len(sessions))
	for _, s := range sessions {
		payload = append(payload, sessionPayload{
			SessionID:    s.SessionID,
			CreatedAt:    s.CreatedAt,
			LastActivity: s.LastActivity,
			UserAgent:    s.UserAgent,
			IPAddress:    s.IPAddress,
			Current:      s.SessionID == identity.SessionID,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":         payload,
		"currentSessionId": identity.SessionID,
	})
}

func (h *Handler) revokeAll(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFrom(r.Context())

	revoked, err := h.manager.RevokeAllSessions(r.Context(), identity.UserID, requestMeta(r))
	if err != nil {
		h.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "All sessions revoked",
		"revokedCount": revoked,
	})
}

func (h *Handler) internalError(w http.ResponseWriter, err error) {
	msg := "Internal server error"
	if h.dev {
		msg = err.Error()
	}
	if errors.Is(err, store.ErrUnavailable) {
		middleware.WriteError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", msg)
		return
	}
	middleware.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", msg)
}

func retryAfterSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
