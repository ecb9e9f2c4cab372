package authapi

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// audit writes one security event to the audit logger. Identifiers are
// logged in normalized form; secrets and tokens never are.
func (h *Handler) audit(r *http.Request, action string, attrs ...any) {
	if h == nil || h.auditLog == nil {
		return
	}
	ip := clientIP(r, h.cfg.TrustProxy)
	base := []any{
		slog.String("action", action),
		slog.String("ip", ipString(ip)),
		slog.String("user_agent", truncate(strings.TrimSpace(r.UserAgent()), 256)),
	}
	h.auditLog.Info("audit", append(base, attrs...)...)
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
