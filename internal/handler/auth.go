package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/infinite-studio/internal/apperror"
	"github.com/sakif/infinite-studio/internal/auth"
	"github.com/sakif/infinite-studio/internal/model"
	"github.com/sakif/infinite-studio/internal/service"
)

// forgotPasswordMessage is returned for every forgot-password request that
// passes validation, whether or not the address is registered.
const forgotPasswordMessage = "If an account exists for that email, a password reset link has been sent."

var errSessionUserGone = apperror.Unauthorized("authentication required")

// AuthHandler serves /api/auth/* and the admin user lookup.
//
// The service decides what happens to the account; this handler owns the
// session side: Register, Login and VerifyEmail each rotate to a brand-new
// session id, and Logout destroys the current one.
type AuthHandler struct {
	accounts *service.AuthService
	sessions *auth.SessionStore
	logger   *slog.Logger
}

func NewAuthHandler(accounts *service.AuthService, sessions *auth.SessionStore, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, sessions: sessions, logger: logger}
}

// UserResponse wraps a user. model.User hides its hash and tokens from JSON.
type UserResponse struct {
	User *model.User `json:"user"`
}

type RegisterResponse struct {
	User             *model.User `json:"user"`
	VerificationSent bool        `json:"verificationSent"`
}

// startSession replaces whatever session the request carried with a new one
// for userID and sets the cookie.
func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, userID string) error {
	sid, err := h.sessions.Rotate(r.Context(), auth.SessionIDFromContext(r.Context()), userID)
	if err != nil {
		return err
	}
	h.sessions.SetCookie(w, sid)
	return nil
}

// HandleRegister creates an account and logs it in.
//
// The account exists once Register returns, so a failure to start the
// session still answers 201 with the user; the response then carries no
// session cookie and the client has to log in.
//
// HTTP: POST /api/auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username     string `json:"username"`
		Email        string `json:"email"`
		Password     string `json:"password"`
		RedirectPath string `json:"redirectPath"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.accounts.Register(r.Context(), service.RegisterInput{
		Username:     req.Username,
		Email:        req.Email,
		Password:     req.Password,
		RedirectPath: req.RedirectPath,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.startSession(w, r, res.User.ID); err != nil {
		h.logger.Error("session after registration failed",
			slog.String("user_id", res.User.ID),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, http.StatusCreated, RegisterResponse{User: res.User, VerificationSent: res.VerificationSent})
}

// HandleLogin checks credentials and starts a session.
//
// HTTP: POST /api/auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.startSession(w, r, user.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{User: user})
}

// HandleLogout destroys the current session. Calling it without a session
// still succeeds.
//
// HTTP: POST /api/auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.Context(), auth.SessionIDFromContext(r.Context())); err != nil {
		h.logger.Error("logout failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	h.sessions.ClearCookie(w)
	writeMessage(w, http.StatusOK, "Logged out")
}

// HandleVerifyEmail consumes the emailed token, logs the user in and
// redirects into the SPA. The redirect target is allow-listed; anything else
// lands on the dashboard.
//
// HTTP: GET /api/auth/verify-email?token=...&redirect=...
func (h *AuthHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	user, err := h.accounts.VerifyEmail(r.Context(), q.Get("token"))
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.startSession(w, r, user.ID); err != nil {
		writeError(w, err)
		return
	}

	http.Redirect(w, r, service.RedirectOrDefault(q.Get("redirect")), http.StatusFound)
}

// HandleResendVerification sends a fresh verification link to the session's
// user.
//
// HTTP: POST /api/auth/resend-verification (session required)
func (h *AuthHandler) HandleResendVerification(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	already, err := h.accounts.ResendVerification(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if already {
		writeMessage(w, http.StatusOK, "Email is already verified")
		return
	}
	writeMessage(w, http.StatusOK, "Verification email sent")
}

// HandleMe returns the session's user. A session whose user no longer
// exists is dropped and answered like no session at all.
//
// HTTP: GET /api/auth/me (session required)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	user, err := h.accounts.GetUserByID(r.Context(), userID)
	if errors.Is(err, apperror.ErrNotFound) {
		if derr := h.sessions.Delete(r.Context(), auth.SessionIDFromContext(r.Context())); derr != nil {
			h.logger.Warn("dropping orphaned session failed", slog.String("error", derr.Error()))
		}
		h.sessions.ClearCookie(w)
		writeError(w, errSessionUserGone)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{User: user})
}

// HandleUpdateProfile changes username and/or email.
//
// HTTP: PUT /api/auth/profile (session required)
func (h *AuthHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req struct {
		Username *string `json:"username"`
		Email    *string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.accounts.UpdateProfile(r.Context(), userID, service.ProfileInput{
		Username: req.Username,
		Email:    req.Email,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{User: user})
}

// HandleForgotPassword starts a password reset. The response never reveals
// whether the email is registered.
//
// HTTP: POST /api/auth/forgot-password
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.accounts.ForgotPassword(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, forgotPasswordMessage)
}

// HandleResetPassword sets a new password from a reset token. It does not
// log the user in.
//
// HTTP: POST /api/auth/reset-password
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.accounts.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Password has been reset. You can now log in with your new password.")
}

// HandleChangePassword changes the session user's password.
//
// HTTP: PUT /api/auth/password (session required)
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.accounts.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Password updated")
}

// HandleAdminGetUser returns any user by id.
//
// HTTP: GET /api/admin/users/{id} (admin only)
func (h *AuthHandler) HandleAdminGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.GetUserByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{User: user})
}
