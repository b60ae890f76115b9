package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/infinite-studio/internal/apperror"
	"github.com/sakif/infinite-studio/internal/model"
	"github.com/sakif/infinite-studio/internal/respond"
)

// contextKey is unexported so no other package can read or shadow the values
// stored here.
type contextKey string

const (
	userIDKey    contextKey = "userID"
	sessionIDKey contextKey = "sessionID"
)

var errAuthRequired = apperror.Unauthorized("authentication required")

// Session resolves the session cookie on every request. It never rejects a
// request for being anonymous; RequireSession does that. A Redis failure is a
// 500 because the request's identity cannot be known.
//
// The raw cookie value is kept in the context even when it no longer maps to
// a user, so logout and session rotation can still delete it.
func Session(sessions *SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid := sessions.cookieValue(r)
			if sid == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), sessionIDKey, sid)

			userID, err := sessions.Get(ctx, sid)
			if err != nil {
				slog.Error("session lookup failed", slog.String("error", err.Error()))
				respond.Error(w, err)
				return
			}
			if userID != "" {
				ctx = context.WithValue(ctx, userIDKey, userID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession rejects requests without a resolved user with 401.
// It must run after Session.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserIDFromContext(r.Context()); !ok {
			respond.Error(w, errAuthRequired)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserLookup is the slice of the credential store RequireAdmin needs.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// RequireAdmin lets through only sessions whose user has the admin flag.
// Anonymous requests get 401, authenticated non-admins 403.
func RequireAdmin(users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				respond.Error(w, errAuthRequired)
				return
			}

			user, err := users.GetUserByID(r.Context(), userID)
			switch {
			case errors.Is(err, apperror.ErrNotFound):
				respond.Error(w, errAuthRequired)
				return
			case err != nil:
				slog.Error("admin check failed", slog.String("user_id", userID), slog.String("error", err.Error()))
				respond.Error(w, err)
				return
			case !user.IsAdmin:
				respond.Error(w, apperror.Forbidden("admin access required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext returns the authenticated user's id, or ("", false) for
// anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// SessionIDFromContext returns the session id the request presented, resolved
// or not.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}

// ContextWithUserID is used by tests that exercise handlers without a real
// session store.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}
