package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/infinite-studio/internal/apperror"
	"github.com/sakif/infinite-studio/internal/model"
)

// echoIdentity writes the resolved user and session id.
var echoIdentity = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	w.Header().Set("X-User", userID)
	w.Header().Set("X-Session", SessionIDFromContext(r.Context()))
	w.WriteHeader(http.StatusOK)
})

func TestSession_ResolvesCookie(t *testing.T) {
	_, sessions := newTestSessions(t)
	sid, err := sessions.Create(context.Background(), "user-1")
	require.NoError(t, err)

	tests := []struct {
		name        string
		cookie      string
		wantUser    string
		wantSession string
	}{
		{name: "no cookie"},
		{name: "valid session", cookie: sid, wantUser: "user-1", wantSession: sid},
		{name: "stale session", cookie: "stale", wantSession: "stale"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "sid", Value: tt.cookie})
			}
			rec := httptest.NewRecorder()

			Session(sessions)(echoIdentity).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.wantUser, rec.Header().Get("X-User"))
			assert.Equal(t, tt.wantSession, rec.Header().Get("X-Session"))
		})
	}
}

func TestSession_RedisFailureIs500(t *testing.T) {
	mr, sessions := newTestSessions(t)
	mr.Close()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "whatever"})
	rec := httptest.NewRecorder()

	Session(sessions)(echoIdentity).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal_error","message":"An internal error occurred"}`, rec.Body.String())
}

func TestRequireSession(t *testing.T) {
	rec := httptest.NewRecorder()
	RequireSession(echoIdentity).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(ContextWithUserID(req.Context(), "user-1"))
	rec = httptest.NewRecorder()
	RequireSession(echoIdentity).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", rec.Header().Get("X-User"))
}

type stubUsers map[string]*model.User

func (s stubUsers) GetUserByID(_ context.Context, id string) (*model.User, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return nil, apperror.NotFound("user", id)
}

func TestRequireAdmin(t *testing.T) {
	users := stubUsers{
		"admin": {ID: "admin", IsAdmin: true},
		"plain": {ID: "plain"},
	}

	tests := []struct {
		name      string
		userID    string
		want      int
		errorType string
	}{
		{name: "anonymous", want: http.StatusUnauthorized, errorType: "unauthorized"},
		{name: "deleted user", userID: "ghost", want: http.StatusUnauthorized, errorType: "unauthorized"},
		{name: "non-admin", userID: "plain", want: http.StatusForbidden, errorType: "forbidden"},
		{name: "admin", userID: "admin", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.userID != "" {
				req = req.WithContext(ContextWithUserID(req.Context(), tt.userID))
			}
			rec := httptest.NewRecorder()

			RequireAdmin(users)(echoIdentity).ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.errorType != "" {
				assert.Contains(t, rec.Body.String(), `"error":"`+tt.errorType+`"`)
			}
		})
	}
}
