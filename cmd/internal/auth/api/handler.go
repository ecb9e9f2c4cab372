package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/appenteng/ai-assistant/cmd/identity"
	"github.com/appenteng/ai-assistant/cmd/internal/auth/authn"
)

const (
	codeInvalidCredentials = "invalid_credentials"
	codeUnauthorized       = "unauthorized"
)

// Handler exposes the auth service over HTTP.
type Handler struct {
	log      *slog.Logger
	auditLog *slog.Logger
	cfg      Config

	auth       *authn.Service
	ipThrottle authn.Throttle
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithIPThrottle replaces the in-process per-IP login throttle, e.g. with a
// Redis-backed one shared across instances.
func WithIPThrottle(t authn.Throttle) HandlerOption {
	return func(h *Handler) {
		if t != nil {
			h.ipThrottle = t
		}
	}
}

// WithAuditLogger sends audit events to l instead of the handler logger.
func WithAuditLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.auditLog = l
		}
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, svc *authn.Service, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("authapi: nil auth service")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	h := &Handler{
		log:      log,
		auditLog: log.With("component", "audit"),
		cfg:      cfg,
		auth:     svc,
	}
	if cfg.LoginIPMax > 0 {
		h.ipThrottle = authn.NewMemoryThrottle(cfg.LoginIPMax, cfg.LoginIPWindow)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires auth routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/register", h.handleRegister)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/logout_all", h.handleLogoutAll)
	mux.HandleFunc("/auth/password", h.handleChangePassword)
	mux.HandleFunc("/me", h.handleMe)
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	w.WriteHeader(http.StatusMethodNotAllowed)
	return false
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if !h.cfg.AllowRegistration {
		writeError(w, http.StatusNotFound, "not_found", "registration is disabled")
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	u, err := h.auth.Register(r.Context(), authn.RegisterInput{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		h.writeServiceError(w, err, codeInvalidCredentials)
		return
	}

	h.audit(r, "auth.register", "user_id", u.ID)
	writeJSON(w, http.StatusCreated, registerResponse{User: toUserResponse(u)})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Identifier) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "identifier and password are required")
		return
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)

	retryAfter, err := h.checkLoginIPThrottle(ctx, ip)
	if err != nil {
		h.log.Error("auth.login.throttle_ip.fail", "err", err)
		setRetryAfter(w, h.cfg.UnavailableRetryAfter)
		writeError(w, http.StatusServiceUnavailable, "unavailable", "please retry later")
		return
	}
	if retryAfter > 0 {
		h.audit(r, "auth.login.rate_limited", "scope", "ip")
		writeRateLimited(w, retryAfter)
		return
	}

	s, err := h.auth.Login(ctx, req.Identifier, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, authn.ErrRateLimited):
			h.audit(r, "auth.login.rate_limited", "scope", "identifier")
		case errors.Is(err, authn.ErrUnauthorized):
			h.recordLoginIPFailure(ctx, ip)
			h.audit(r, "auth.login.failed")
		}
		h.writeServiceError(w, err, codeInvalidCredentials)
		return
	}

	h.audit(r, "auth.login.success", "user_id", s.UserID, "session_id", s.SessionID)
	writeJSON(w, http.StatusOK, loginResponse{UserID: s.UserID, Session: toSessionResponse(s)})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	s, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, authn.ErrUnauthorized) {
			h.audit(r, "auth.refresh.rejected")
		}
		h.writeServiceError(w, err, codeUnauthorized)
		return
	}

	h.audit(r, "auth.refresh.success", "session_id", s.SessionID)
	writeJSON(w, http.StatusOK, refreshResponse{Session: toSessionResponse(s)})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing bearer token")
		return
	}

	if err := h.auth.Logout(r.Context(), token); err != nil {
		h.writeServiceError(w, err, codeUnauthorized)
		return
	}
	h.audit(r, "auth.logout")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing bearer token")
		return
	}

	n, err := h.auth.LogoutAll(r.Context(), token)
	if err != nil {
		h.writeServiceError(w, err, codeUnauthorized)
		return
	}
	h.audit(r, "auth.logout_all", "revoked", n)
	writeJSON(w, http.StatusOK, logoutAllResponse{Revoked: n})
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	cu, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	if err := h.auth.ChangePassword(r.Context(), cu.UserID, req.OldPassword, req.NewPassword); err != nil {
		h.writeServiceError(w, err, codeInvalidCredentials)
		return
	}
	h.audit(r, "auth.password.changed", "user_id", cu.UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodPatch:
	default:
		w.Header().Set("Allow", http.MethodGet+", "+http.MethodPatch)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cu, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var (
		u   identity.User
		err error
	)
	if r.Method == http.MethodPatch {
		var req updateProfileRequest
		if derr := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); derr != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
		u, err = h.auth.UpdateProfile(r.Context(), cu.UserID, req.FullName)
		if err == nil {
			h.audit(r, "auth.profile.updated", "user_id", cu.UserID)
		}
	} else {
		u, err = h.auth.Profile(r.Context(), cu.UserID)
	}
	if err != nil {
		// The user vanished between the token check and the read.
		if errors.Is(err, authn.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid credentials")
			return
		}
		h.writeServiceError(w, err, codeUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u), SessionID: cu.SessionID})
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (authn.CurrentUser, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing bearer token")
		return authn.CurrentUser{}, false
	}
	cu, err := h.auth.Authenticate(r.Context(), token)
	if err != nil {
		h.writeServiceError(w, err, codeUnauthorized)
		return authn.CurrentUser{}, false
	}
	return cu, true
}
