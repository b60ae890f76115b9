package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/infinite-studio/internal/auth"
	"github.com/sakif/infinite-studio/internal/handler"
	"github.com/sakif/infinite-studio/internal/notify"
	"github.com/sakif/infinite-studio/internal/repository/sqlite"
	"github.com/sakif/infinite-studio/internal/service"
)

const cookieName = "sid"

// mailbox records every message instead of sending it.
type mailbox struct {
	mu   sync.Mutex
	sent []notify.Message
	fail error
}

func (m *mailbox) Send(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mailbox) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

var tokenParam = regexp.MustCompile(`token=([0-9a-f]+)`)

// lastToken pulls the token out of the most recent message's link.
func (m *mailbox) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no mail sent")
	match := tokenParam.FindStringSubmatch(m.sent[len(m.sent)-1].Text)
	require.Len(t, match, 2, "no token in message")
	return match[1]
}

type testEnv struct {
	router   http.Handler
	mr       *miniredis.Miniredis
	db       *sqlite.DB
	sessions *auth.SessionStore
	mail     *mailbox
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	sessions := auth.NewSessionStore(rdb, auth.SessionConfig{TTL: time.Hour, CookieName: cookieName})

	mail := &mailbox{}
	accounts, err := service.NewAuthService(
		db,
		auth.NewPasswordServiceForTest(),
		auth.NewTokenIssuer(time.Hour),
		notify.NewDispatcher(mail, "http://studio.test"),
		logger,
	)
	require.NoError(t, err)

	h := handler.NewAuthHandler(accounts, sessions, logger)

	// Mirrors the production layout without CORS, logging or rate limits.
	r := chi.NewRouter()
	r.Use(auth.Session(sessions))
	r.Post("/api/auth/register", h.HandleRegister)
	r.Post("/api/auth/login", h.HandleLogin)
	r.Post("/api/auth/logout", h.HandleLogout)
	r.Get("/api/auth/verify-email", h.HandleVerifyEmail)
	r.Post("/api/auth/forgot-password", h.HandleForgotPassword)
	r.Post("/api/auth/reset-password", h.HandleResetPassword)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireSession)
		r.Post("/api/auth/resend-verification", h.HandleResendVerification)
		r.Get("/api/auth/me", h.HandleMe)
		r.Put("/api/auth/profile", h.HandleUpdateProfile)
		r.Put("/api/auth/password", h.HandleChangePassword)
	})
	r.Get("/api/admin/users/{id}", h.HandleAdminGetUser)

	return &testEnv{router: r, mr: mr, db: db, sessions: sessions, mail: mail}
}

// do sends a request, attaching the session cookie when sid is non-empty.
func (e *testEnv) do(method, path, body, sid string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: cookieName, Value: sid})
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func sessionCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == cookieName {
			return c
		}
	}
	t.Fatalf("response has no %s cookie", cookieName)
	return nil
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v))
	return v
}

type userBody struct {
	User struct {
		ID            string `json:"id"`
		Username      string `json:"username"`
		Email         string `json:"email"`
		IsAdmin       bool   `json:"isAdmin"`
		EmailVerified bool   `json:"emailVerified"`
	} `json:"user"`
	VerificationSent bool `json:"verificationSent"`
}

// register creates alice and returns her id and session id.
func (e *testEnv) register(t *testing.T) (string, string) {
	t.Helper()
	rr := e.do(http.MethodPost, "/api/auth/register",
		`{"username":"alice","email":"alice@example.com","password":"secret123"}`, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	sid := sessionCookie(t, rr).Value
	return decode[userBody](t, rr).User.ID, sid
}

// =========================================================================
// REGISTER / LOGIN / LOGOUT
// =========================================================================

func TestAuthHandler_Register(t *testing.T) {
	t.Run("creates user and session", func(t *testing.T) {
		env := newTestEnv(t)

		rr := env.do(http.MethodPost, "/api/auth/register",
			`{"username":"alice","email":"alice@example.com","password":"secret123","isAdmin":true}`, "")

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.NotContains(t, rr.Body.String(), "passwordHash")
		assert.NotContains(t, rr.Body.String(), "Token")

		cookie := sessionCookie(t, rr)
		assert.True(t, cookie.HttpOnly)

		body := decode[userBody](t, rr)
		assert.Equal(t, "alice", body.User.Username)
		assert.False(t, body.User.IsAdmin)
		assert.False(t, body.User.EmailVerified)
		assert.True(t, body.VerificationSent)

		userID, err := env.sessions.Get(context.Background(), cookie.Value)
		require.NoError(t, err)
		assert.Equal(t, body.User.ID, userID)
		assert.Equal(t, 1, env.mail.count())
	})

	t.Run("duplicate email", func(t *testing.T) {
		env := newTestEnv(t)
		env.register(t)

		rr := env.do(http.MethodPost, "/api/auth/register",
			`{"username":"bob","email":"alice@example.com","password":"secret123"}`, "")

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		body := decode[handler.ErrorResponse](t, rr)
		assert.Equal(t, "conflict", body.Error)
		assert.Equal(t, "email", body.Field)
	})

	t.Run("mail failure still registers", func(t *testing.T) {
		env := newTestEnv(t)
		env.mail.fail = errors.New("smtp down")

		rr := env.do(http.MethodPost, "/api/auth/register",
			`{"username":"alice","email":"alice@example.com","password":"secret123"}`, "")

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.False(t, decode[userBody](t, rr).VerificationSent)
	})

	t.Run("session failure still returns the account", func(t *testing.T) {
		env := newTestEnv(t)
		env.mr.Close()

		rr := env.do(http.MethodPost, "/api/auth/register",
			`{"username":"alice","email":"alice@example.com","password":"secret123"}`, "")

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.Empty(t, rr.Result().Cookies())
		body := decode[userBody](t, rr)
		assert.NotEmpty(t, body.User.ID)

		_, err := env.db.GetByEmail(context.Background(), "alice@example.com")
		assert.NoError(t, err)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.do(http.MethodPost, "/api/auth/register", `{"username":`, "")

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "validation_error", decode[handler.ErrorResponse](t, rr).Error)
	})

	t.Run("short password", func(t *testing.T) {
		env := newTestEnv(t)
		rr := env.do(http.MethodPost, "/api/auth/register",
			`{"username":"alice","email":"alice@example.com","password":"123"}`, "")

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "password", decode[handler.ErrorResponse](t, rr).Field)
	})
}

func TestAuthHandler_Login(t *testing.T) {
	env := newTestEnv(t)
	userID, registerSID := env.register(t)

	t.Run("wrong password", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/api/auth/login", `{"email":"alice@example.com","password":"nope-nope"}`, "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Empty(t, rr.Result().Cookies())
	})

	t.Run("unknown email", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/api/auth/login", `{"email":"ghost@example.com","password":"secret123"}`, "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("rotates session", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/api/auth/login",
			`{"email":"alice@example.com","password":"secret123"}`, registerSID)

		require.Equal(t, http.StatusOK, rr.Code)
		newSID := sessionCookie(t, rr).Value
		assert.NotEqual(t, registerSID, newSID)

		old, err := env.sessions.Get(context.Background(), registerSID)
		require.NoError(t, err)
		assert.Empty(t, old, "previous session should be gone")

		assert.Equal(t, userID, decode[userBody](t, rr).User.ID)
	})
}

func TestAuthHandler_Logout(t *testing.T) {
	env := newTestEnv(t)
	_, sid := env.register(t)

	rr := env.do(http.MethodPost, "/api/auth/logout", "", sid)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Less(t, sessionCookie(t, rr).MaxAge, 0)
	assert.False(t, env.mr.Exists("session:"+sid))

	rr = env.do(http.MethodGet, "/api/auth/me", "", sid)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// No session at all is still a successful logout.
	rr = env.do(http.MethodPost, "/api/auth/logout", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

// =========================================================================
// EMAIL VERIFICATION
// =========================================================================

func TestAuthHandler_VerifyEmail(t *testing.T) {
	t.Run("verifies, logs in and redirects", func(t *testing.T) {
		env := newTestEnv(t)
		_, sid := env.register(t)
		token := env.mail.lastToken(t)

		rr := env.do(http.MethodGet, "/api/auth/verify-email?token="+token+"&redirect=/courses", "", "")

		assert.Equal(t, http.StatusFound, rr.Code)
		assert.Equal(t, "/courses", rr.Header().Get("Location"))
		newSID := sessionCookie(t, rr).Value
		assert.NotEqual(t, sid, newSID)

		rr = env.do(http.MethodGet, "/api/auth/me", "", newSID)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.True(t, decode[userBody](t, rr).User.EmailVerified)
	})

	t.Run("token is single use", func(t *testing.T) {
		env := newTestEnv(t)
		env.register(t)
		token := env.mail.lastToken(t)

		rr := env.do(http.MethodGet, "/api/auth/verify-email?token="+token, "", "")
		assert.Equal(t, http.StatusFound, rr.Code)
		assert.Equal(t, service.DefaultRedirect, rr.Header().Get("Location"))

		rr = env.do(http.MethodGet, "/api/auth/verify-email?token="+token, "", "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "invalid_token", decode[handler.ErrorResponse](t, rr).Error)
	})

	t.Run("external redirect falls back to dashboard", func(t *testing.T) {
		env := newTestEnv(t)
		env.register(t)
		token := env.mail.lastToken(t)

		rr := env.do(http.MethodGet, "/api/auth/verify-email?token="+token+"&redirect=https://evil.example", "", "")

		assert.Equal(t, http.StatusFound, rr.Code)
		assert.Equal(t, service.DefaultRedirect, rr.Header().Get("Location"))
	})
}

func TestAuthHandler_ResendVerification(t *testing.T) {
	env := newTestEnv(t)
	_, sid := env.register(t)
	first := env.mail.lastToken(t)

	rr := env.do(http.MethodPost, "/api/auth/resend-verification", "", sid)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Verification email sent", decode[handler.MessageResponse](t, rr).Message)

	second := env.mail.lastToken(t)
	assert.NotEqual(t, first, second)

	// The superseded token no longer works.
	rr = env.do(http.MethodGet, "/api/auth/verify-email?token="+first, "", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(http.MethodGet, "/api/auth/verify-email?token="+second, "", "")
	require.Equal(t, http.StatusFound, rr.Code)
	sid = sessionCookie(t, rr).Value

	rr = env.do(http.MethodPost, "/api/auth/resend-verification", "", sid)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Email is already verified", decode[handler.MessageResponse](t, rr).Message)

	rr = env.do(http.MethodPost, "/api/auth/resend-verification", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

// =========================================================================
// PROFILE
// =========================================================================

func TestAuthHandler_Me(t *testing.T) {
	env := newTestEnv(t)
	userID, sid := env.register(t)

	rr := env.do(http.MethodGet, "/api/auth/me", "", sid)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, userID, decode[userBody](t, rr).User.ID)

	rr = env.do(http.MethodGet, "/api/auth/me", "", "not-a-session")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthHandler_Me_UserGone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sid, err := env.sessions.Create(ctx, "ghost-id")
	require.NoError(t, err)

	rr := env.do(http.MethodGet, "/api/auth/me", "", sid)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "unauthorized", decode[handler.ErrorResponse](t, rr).Error)
	assert.Equal(t, -1, sessionCookie(t, rr).MaxAge)

	userID, err := env.sessions.Get(ctx, sid)
	require.NoError(t, err)
	assert.Empty(t, userID)
}

func TestAuthHandler_UpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	_, sid := env.register(t)

	rr := env.do(http.MethodPut, "/api/auth/profile", `{"username":"alice_w"}`, sid)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode[userBody](t, rr)
	assert.Equal(t, "alice_w", body.User.Username)
	assert.Equal(t, "alice@example.com", body.User.Email)

	rr = env.do(http.MethodPost, "/api/auth/register",
		`{"username":"bob","email":"bob@example.com","password":"secret123"}`, "")
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = env.do(http.MethodPut, "/api/auth/profile", `{"email":"bob@example.com"}`, sid)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	errBody := decode[handler.ErrorResponse](t, rr)
	assert.Equal(t, "conflict", errBody.Error)
	assert.Equal(t, "email", errBody.Field)
}

// =========================================================================
// PASSWORDS
// =========================================================================

func TestAuthHandler_ForgotPassword(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)
	before := env.mail.count()

	known := env.do(http.MethodPost, "/api/auth/forgot-password", `{"email":"alice@example.com"}`, "")
	unknown := env.do(http.MethodPost, "/api/auth/forgot-password", `{"email":"ghost@example.com"}`, "")

	assert.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, http.StatusOK, unknown.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())
	assert.Equal(t, before+1, env.mail.count(), "only the registered address gets mail")
}

func TestAuthHandler_ResetPassword(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	rr := env.do(http.MethodPost, "/api/auth/forgot-password", `{"email":"alice@example.com"}`, "")
	require.Equal(t, http.StatusOK, rr.Code)
	token := env.mail.lastToken(t)

	rr = env.do(http.MethodPost, "/api/auth/reset-password", `{"token":"`+token+`","newPassword":"brand-new-pw"}`, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Empty(t, rr.Result().Cookies(), "reset does not log in")

	rr = env.do(http.MethodPost, "/api/auth/login", `{"email":"alice@example.com","password":"brand-new-pw"}`, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(http.MethodPost, "/api/auth/login", `{"email":"alice@example.com","password":"secret123"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(http.MethodPost, "/api/auth/reset-password", `{"token":"`+token+`","newPassword":"another-pw"}`, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_token", decode[handler.ErrorResponse](t, rr).Error)
}

func TestAuthHandler_ChangePassword(t *testing.T) {
	env := newTestEnv(t)
	_, sid := env.register(t)

	rr := env.do(http.MethodPut, "/api/auth/password", `{"currentPassword":"wrong-one","newPassword":"brand-new-pw"}`, sid)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "currentPassword", decode[handler.ErrorResponse](t, rr).Field)

	rr = env.do(http.MethodPut, "/api/auth/password", `{"currentPassword":"secret123","newPassword":"brand-new-pw"}`, sid)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(http.MethodPost, "/api/auth/login", `{"email":"alice@example.com","password":"brand-new-pw"}`, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

// =========================================================================
// ADMIN
// =========================================================================

func TestAuthHandler_AdminGetUser(t *testing.T) {
	env := newTestEnv(t)
	userID, _ := env.register(t)

	rr := env.do(http.MethodGet, "/api/admin/users/"+userID, "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "alice", decode[userBody](t, rr).User.Username)

	rr = env.do(http.MethodGet, "/api/admin/users/missing", "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
