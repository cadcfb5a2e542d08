package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey int

const userContextKey contextKey = iota

// ContextWithUser returns a new context carrying the given user.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext extracts the user from the context, or nil if not present.
func UserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(userContextKey).(*User)
	return user
}

// FailureFunc is notified when a request is rejected, with the reason code.
type FailureFunc func(reason string)

// RequireUser authenticates the bearer API key and injects the user into the
// request context. Any role is accepted.
func RequireUser(svc *Service, onFail FailureFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				reject(w, onFail, http.StatusUnauthorized, "missing or malformed authorization header")
				return
			}

			user, err := svc.Authenticate(r.Context(), token)
			if err != nil {
				reject(w, onFail, http.StatusUnauthorized, "invalid api key")
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// RequireAdmin rejects requests whose context user is not an admin. It must
// run after RequireUser.
func RequireAdmin(onFail FailureFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !UserFromContext(r.Context()).IsAdmin() {
				reject(w, onFail, http.StatusForbidden, "admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// envelope mirrors the API reply shape so auth failures decode like any
// other backend-reported failure.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func reject(w http.ResponseWriter, onFail FailureFunc, status int, message string) {
	if onFail != nil {
		reason := "unauthorized"
		if status == http.StatusForbidden {
			reason = "forbidden"
		}
		onFail(reason)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Message: message})
}
