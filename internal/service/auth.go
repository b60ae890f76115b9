// Package service holds the account business logic.
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                   ↘ PasswordService, TokenIssuer, Notifier
//
// AuthService owns the account state machine: registration, login, email
// verification and resend, forgot/reset password, password change and profile
// update. It knows nothing about HTTP or cookies; the handler turns a
// successful Register, Login or VerifyEmail into a fresh session.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/infinite-studio/internal/apperror"
	"github.com/sakif/infinite-studio/internal/auth"
	"github.com/sakif/infinite-studio/internal/model"
	"github.com/sakif/infinite-studio/internal/repository"
)

// Notifier sends the account emails. *notify.Dispatcher implements it.
type Notifier interface {
	SendVerification(ctx context.Context, to, username, token, redirect string) error
	SendPasswordReset(ctx context.Context, to, username, token string, validFor time.Duration) error
}

// errInvalidCredentials is the single answer for every failed login, whether
// the email is unknown or the password wrong.
var errInvalidCredentials = apperror.Unauthorized("invalid email or password")

// AuthService handles the account lifecycle.
type AuthService struct {
	users     repository.UserRepository
	passwords *auth.PasswordService
	tokens    *auth.TokenIssuer
	notifier  Notifier
	logger    *slog.Logger

	// dummyHash is compared against when a login email is unknown, so both
	// failure paths spend the same bcrypt time.
	dummyHash string
}

// NewAuthService wires the service. It hashes one throwaway password up
// front for dummyHash.
func NewAuthService(
	users repository.UserRepository,
	passwords *auth.PasswordService,
	tokens *auth.TokenIssuer,
	notifier Notifier,
	logger *slog.Logger,
) (*AuthService, error) {
	dummy, err := passwords.Hash("not-a-real-password")
	if err != nil {
		return nil, fmt.Errorf("service/auth: preparing dummy hash: %w", err)
	}
	return &AuthService{
		users:     users,
		passwords: passwords,
		tokens:    tokens,
		notifier:  notifier,
		logger:    logger,
		dummyHash: dummy,
	}, nil
}

// =========================================================================
// REGISTRATION
// =========================================================================

type RegisterInput struct {
	Username     string
	Email        string
	Password     string
	RedirectPath string
}

type RegisterResult struct {
	User             *model.User
	VerificationSent bool
}

// Register creates an unverified account and tries to send the verification
// email. A failed send does not fail registration; VerificationSent reports it.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	username, err := normalizeUsername(in.Username)
	if err != nil {
		return nil, err
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := checkPassword("password", in.Password); err != nil {
		return nil, err
	}

	// Fast path for a friendly error. The UNIQUE constraints in the store
	// decide the race; Create returns the same conflict errors.
	if err := s.ensureAvailable(ctx, "", username, email); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}
	token, err := s.tokens.VerificationToken()
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Username:          username,
		Email:             email,
		PasswordHash:      hash,
		VerificationToken: &token,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user registered", slog.String("user_id", user.ID))

	redirect, _ := SafeRedirect(in.RedirectPath)
	sent := true
	if err := s.notifier.SendVerification(ctx, user.Email, user.Username, token, redirect); err != nil {
		sent = false
		s.logger.Warn("verification email not sent at registration",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	return &RegisterResult{User: user, VerificationSent: sent}, nil
}

// ensureAvailable returns a conflict if username or email belongs to an
// account other than selfID. An empty value skips its check.
func (s *AuthService) ensureAvailable(ctx context.Context, selfID, username, email string) error {
	if email != "" {
		existing, err := s.users.GetByEmail(ctx, email)
		switch {
		case err == nil && existing.ID != selfID:
			return repository.EmailTaken()
		case err != nil && !errors.Is(err, apperror.ErrNotFound):
			return fmt.Errorf("service/auth: checking email: %w", err)
		}
	}
	if username != "" {
		existing, err := s.users.GetByUsername(ctx, username)
		switch {
		case err == nil && existing.ID != selfID:
			return repository.UsernameTaken()
		case err != nil && !errors.Is(err, apperror.ErrNotFound):
			return fmt.Errorf("service/auth: checking username: %w", err)
		}
	}
	return nil
}

// =========================================================================
// LOGIN
// =========================================================================

// Login checks credentials. Unknown email and wrong password both return the
// same Unauthorized error, after the same amount of bcrypt work.
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, apperror.ValidationFailed("", "email and password are required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, apperror.ErrNotFound) {
		_ = s.passwords.Verify(s.dummyHash, password)
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("service/auth: loading user for login: %w", err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, errInvalidCredentials
		}
		return nil, fmt.Errorf("service/auth: verifying password for %s: %w", user.ID, err)
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	return user, nil
}

// =========================================================================
// EMAIL VERIFICATION
// =========================================================================

// VerifyEmail consumes a verification token and returns the now-verified user.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (*model.User, error) {
	invalid := apperror.InvalidToken("invalid or expired verification link")
	if token == "" {
		return nil, invalid
	}

	user, err := s.users.GetByVerificationToken(ctx, token)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, invalid
	}
	if err != nil {
		return nil, fmt.Errorf("service/auth: looking up verification token: %w", err)
	}

	// Conditional on the token, so a concurrent second click loses here.
	if err := s.users.MarkEmailVerified(ctx, user.ID, token); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, invalid
		}
		return nil, fmt.Errorf("service/auth: marking %s verified: %w", user.ID, err)
	}

	user.EmailVerified = true
	user.VerificationToken = nil
	s.logger.Info("email verified", slog.String("user_id", user.ID))
	return user, nil
}

// ResendVerification issues a new verification token for userID and emails
// it. For an already verified user it does nothing and reports
// alreadyVerified. Unlike registration, a send failure is returned.
func (s *AuthService) ResendVerification(ctx context.Context, userID string) (alreadyVerified bool, err error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if user.EmailVerified {
		return true, nil
	}

	token, err := s.tokens.VerificationToken()
	if err != nil {
		return false, err
	}
	if err := s.users.SetVerificationToken(ctx, user.ID, token); err != nil {
		return false, fmt.Errorf("service/auth: storing verification token: %w", err)
	}

	if err := s.notifier.SendVerification(ctx, user.Email, user.Username, token, ""); err != nil {
		s.logger.Error("verification email resend failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return false, apperror.DependencyFailed("could not send verification email, please try again", err)
	}
	return false, nil
}

// =========================================================================
// PASSWORD RESET
// =========================================================================

// ForgotPassword starts a reset for email if such an account exists. The
// caller answers the same way whether or not it does; the only error besides
// malformed input or a failing store is a reset email that could not be sent.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("service/auth: loading user for reset: %w", err)
	}

	token, expires, err := s.tokens.ResetToken()
	if err != nil {
		return err
	}
	if err := s.users.SetPasswordReset(ctx, user.ID, token, expires); err != nil {
		return fmt.Errorf("service/auth: storing reset token: %w", err)
	}

	if err := s.notifier.SendPasswordReset(ctx, user.Email, user.Username, token, s.tokens.ResetTTL()); err != nil {
		s.logger.Error("password reset email failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return apperror.DependencyFailed("could not send password reset email, please try again", err)
	}

	s.logger.Info("password reset requested", slog.String("user_id", user.ID))
	return nil
}

// ResetPassword consumes a reset token and sets newPassword. An expired token
// is cleared before the error is returned, so it cannot be retried.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := checkPassword("newPassword", newPassword); err != nil {
		return err
	}

	invalid := apperror.InvalidToken("invalid or expired reset link")
	if token == "" {
		return invalid
	}

	user, err := s.users.GetByResetToken(ctx, token)
	if errors.Is(err, apperror.ErrNotFound) {
		return invalid
	}
	if err != nil {
		return fmt.Errorf("service/auth: looking up reset token: %w", err)
	}

	if user.ResetExpired(s.tokens.Now()) {
		if err := s.users.ClearPasswordReset(ctx, user.ID); err != nil && !errors.Is(err, apperror.ErrNotFound) {
			return fmt.Errorf("service/auth: clearing expired reset: %w", err)
		}
		return apperror.InvalidToken("reset link has expired, please request a new one")
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("service/auth: hashing password: %w", err)
	}
	if err := s.users.ResetPassword(ctx, user.ID, token, hash); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return invalid
		}
		return fmt.Errorf("service/auth: resetting password for %s: %w", user.ID, err)
	}

	s.logger.Info("password reset completed", slog.String("user_id", user.ID))
	return nil
}

// =========================================================================
// AUTHENTICATED ACCOUNT CHANGES
// =========================================================================

// ChangePassword replaces the password of userID after checking
// currentPassword. The stored hash is untouched on any failure.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if currentPassword == "" {
		return apperror.ValidationFailed("currentPassword", "current password is required")
	}
	if err := checkPassword("newPassword", newPassword); err != nil {
		return err
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.passwords.Verify(user.PasswordHash, currentPassword); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return apperror.ValidationFailed("currentPassword", "current password is incorrect")
		}
		return fmt.Errorf("service/auth: verifying current password: %w", err)
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("service/auth: hashing password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("service/auth: updating password: %w", err)
	}

	s.logger.Info("password changed", slog.String("user_id", user.ID))
	return nil
}

// ProfileInput carries the optional profile fields; nil means unchanged.
type ProfileInput struct {
	Username *string
	Email    *string
}

// UpdateProfile changes username and/or email. Taking a value that belongs to
// another account is a conflict; re-submitting one's own value is not.
// Changing the email marks the account unverified and mails a new
// verification link to the new address; a failed send does not fail the
// update, the user can ask for a resend.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	username, email := user.Username, user.Email
	var checkUsername, checkEmail string
	if in.Username != nil {
		if username, err = normalizeUsername(*in.Username); err != nil {
			return nil, err
		}
		checkUsername = username
	}
	if in.Email != nil {
		if email, err = normalizeEmail(*in.Email); err != nil {
			return nil, err
		}
		checkEmail = email
	}

	if username == user.Username && email == user.Email {
		return user, nil
	}

	if err := s.ensureAvailable(ctx, user.ID, checkUsername, checkEmail); err != nil {
		return nil, err
	}

	if strings.EqualFold(email, user.Email) {
		if err := s.users.UpdateProfile(ctx, user.ID, username, email); err != nil {
			return nil, err
		}
		return s.users.GetUserByID(ctx, user.ID)
	}

	// A new address has to be proven again before it counts as verified.
	token, err := s.tokens.VerificationToken()
	if err != nil {
		return nil, err
	}
	if err := s.users.ChangeEmail(ctx, user.ID, username, email, token); err != nil {
		return nil, err
	}
	if err := s.notifier.SendVerification(ctx, email, username, token, ""); err != nil {
		s.logger.Error("verification email after email change failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	return s.users.GetUserByID(ctx, user.ID)
}

// GetUserByID returns the account for id.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.Unauthorized("authentication required")
	}
	return s.users.GetUserByID(ctx, id)
}
