package authapi

import (
	"context"
	"net"
	"net/http"
	"time"
)

// checkLoginIPThrottle runs before the credential check so a single client
// spraying identifiers is cut off without touching the user store.
func (h *Handler) checkLoginIPThrottle(ctx context.Context, ip net.IP) (time.Duration, error) {
	if ip == nil || h.ipThrottle == nil {
		return 0, nil
	}
	return h.ipThrottle.Blocked(ctx, "ip:"+ip.String())
}

func (h *Handler) recordLoginIPFailure(ctx context.Context, ip net.IP) {
	if ip == nil || h.ipThrottle == nil {
		return
	}
	if err := h.ipThrottle.Fail(ctx, "ip:"+ip.String()); err != nil {
		h.log.Error("auth.login.throttle_ip.fail", "err", err)
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	setRetryAfter(w, retryAfter)
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
