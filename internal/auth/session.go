package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultSessionTTL    = 7 * 24 * time.Hour
	DefaultSessionCookie = "studio_sid"

	sessionKeyPrefix = "session:"
)

// SessionConfig controls session lifetime and the cookie that carries the id.
type SessionConfig struct {
	TTL          time.Duration
	CookieName   string
	CookieSecure bool
}

// SessionStore keeps server-side sessions in Redis as session:<uuid> -> user
// id, each with its own TTL. The session id is the only thing the browser
// holds.
type SessionStore struct {
	rdb *redis.Client
	cfg SessionConfig
}

// NewSessionStore fills zero fields of cfg with the defaults.
func NewSessionStore(rdb *redis.Client, cfg SessionConfig) *SessionStore {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultSessionCookie
	}
	return &SessionStore{rdb: rdb, cfg: cfg}
}

// Create stores a new session for userID and returns its id.
func (s *SessionStore) Create(ctx context.Context, userID string) (string, error) {
	sid := uuid.NewString()
	if err := s.rdb.Set(ctx, sessionKeyPrefix+sid, userID, s.cfg.TTL).Err(); err != nil {
		return "", fmt.Errorf("auth: creating session: %w", err)
	}
	return sid, nil
}

// Get returns the user id for a session, or "" if it does not exist or has
// expired.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", nil
	}
	val, err := s.rdb.Get(ctx, sessionKeyPrefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("auth: reading session: %w", err)
	}
	return val, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.rdb.Del(ctx, sessionKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("auth: deleting session: %w", err)
	}
	return nil
}

// Rotate destroys previousID (if any) and creates a fresh session for userID.
// Every login-like transition goes through here so a session id never
// survives a change of identity.
func (s *SessionStore) Rotate(ctx context.Context, previousID, userID string) (string, error) {
	if err := s.Delete(ctx, previousID); err != nil {
		return "", err
	}
	return s.Create(ctx, userID)
}

// Ping reports whether Redis is reachable.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// SetCookie writes the session cookie. HttpOnly keeps it away from page
// scripts; SameSite=Lax still lets the emailed verification link log the user
// in on a top-level navigation.
func (s *SessionStore) SetCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(s.cfg.TTL / time.Second),
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie in the browser.
func (s *SessionStore) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// cookieValue returns the session id presented by the request, if any.
func (s *SessionStore) cookieValue(r *http.Request) string {
	c, err := r.Cookie(s.cfg.CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
