package authapi

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/appenteng/ai-assistant/cmd/internal/auth/authn"
	"github.com/appenteng/ai-assistant/cmd/security/password"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}

func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	if d <= 0 {
		return
	}
	secs := int64(math.Ceil(d.Seconds()))
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
}

// writeServiceError maps an authn error to a response. unauthorizedCode is
// the code used for every credential or token failure on this route, so
// callers cannot learn which check failed.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, unauthorizedCode string) {
	switch {
	case errors.Is(err, authn.ErrRateLimited):
		var ae *authn.Error
		if errors.As(err, &ae) {
			setRetryAfter(w, ae.RetryAfter)
		}
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
	case errors.Is(err, authn.ErrUnavailable):
		setRetryAfter(w, h.cfg.UnavailableRetryAfter)
		writeError(w, http.StatusServiceUnavailable, "unavailable", "please retry later")
	case errors.Is(err, authn.ErrInactive) && unauthorizedCode != codeInvalidCredentials:
		writeError(w, http.StatusForbidden, "inactive", "account is inactive")
	case errors.Is(err, authn.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, unauthorizedCode, "invalid credentials")
	case errors.Is(err, authn.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "email or username already exists")
	case errors.Is(err, authn.ErrWeakPassword):
		msg := "password does not meet policy"
		var pe *password.PolicyError
		if errors.As(err, &pe) {
			msg = pe.Error()
		}
		writeError(w, http.StatusBadRequest, "weak_password", msg)
	case errors.Is(err, authn.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
	case errors.Is(err, authn.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	default:
		h.log.Error("auth.http.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
