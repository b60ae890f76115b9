// Package repository declares the persistence boundary for user credentials.
//
// Implementations live in sub-packages (sqlite, postgres). They own the
// uniqueness guarantees: a duplicate email or username must come back as an
// apperror.Conflict naming the field, whatever the service layer checked first.
package repository

import (
	"context"
	"time"

	"github.com/sakif/infinite-studio/internal/model"
)

// UserRepository is the credential store.
//
// Lookups return apperror.ErrNotFound when nothing matches. The token
// consuming writes (MarkEmailVerified, ResetPassword) are conditional on the
// token still being the stored one and report apperror.ErrNotFound when it is
// not, so a token can be consumed at most once even under concurrent use.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByVerificationToken(ctx context.Context, token string) (*model.User, error)
	GetByResetToken(ctx context.Context, token string) (*model.User, error)

	UpdateProfile(ctx context.Context, id, username, email string) error
	// ChangeEmail stores a new username and email, marks the email unverified
	// and replaces the verification token, in one statement.
	ChangeEmail(ctx context.Context, id, username, email, verificationToken string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	SetVerificationToken(ctx context.Context, id, token string) error
	MarkEmailVerified(ctx context.Context, id, token string) error

	SetPasswordReset(ctx context.Context, id, token string, expires time.Time) error
	ClearPasswordReset(ctx context.Context, id string) error
	ResetPassword(ctx context.Context, id, token, passwordHash string) error

	Ping(ctx context.Context) error
}
