package api

import (
	"log/slog"
	"net/http"

	"github.com/alecgard/logdesk/internal/auth"
)

// auditLog emits a structured audit log entry for an admin action.
func auditLog(r *http.Request, action string, detail ...any) {
	attrs := []any{
		"action", action,
		"ip", clientIP(r),
		"request_id", RequestIDFromContext(r.Context()),
	}

	if u := auth.UserFromContext(r.Context()); u != nil {
		attrs = append(attrs, "user_id", u.ID, "username", u.Username, "user_role", u.Role)
	}

	attrs = append(attrs, detail...)
	slog.Info("audit", attrs...)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
