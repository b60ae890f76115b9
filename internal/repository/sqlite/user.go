package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/infinite-studio/internal/apperror"
	"github.com/sakif/infinite-studio/internal/model"
	"github.com/sakif/infinite-studio/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, username, email, password_hash, is_admin, email_verified,
	verification_token, password_reset_token, password_reset_expires,
	created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u            model.User
		verification sql.NullString
		resetToken   sql.NullString
		resetExpires sql.NullTime
	)

	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.IsAdmin,
		&u.EmailVerified,
		&verification,
		&resetToken,
		&resetExpires,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if verification.Valid {
		u.VerificationToken = &verification.String
	}
	if resetToken.Valid {
		u.PasswordResetToken = &resetToken.String
	}
	if resetExpires.Valid {
		t := resetExpires.Time.UTC()
		u.PasswordResetExpires = &t
	}
	return &u, nil
}

// Create inserts a new user. ID and timestamps are assigned here; IsAdmin is
// always written as false regardless of the struct value.
func (db *DB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.IsAdmin = false
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, is_admin, email_verified,
			verification_token, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.EmailVerified,
		nullString(user.VerificationToken),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		user.ID = ""
		return translateWriteError(err, "inserting user")
	}
	return nil
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return db.getOne(ctx, "id", id)
}

func (db *DB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return db.getOne(ctx, "email", email)
}

func (db *DB) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return db.getOne(ctx, "username", username)
}

func (db *DB) GetByVerificationToken(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, apperror.NotFound("user", "verification token")
	}
	return db.getOne(ctx, "verification_token", token)
}

func (db *DB) GetByResetToken(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, apperror.NotFound("user", "reset token")
	}
	return db.getOne(ctx, "password_reset_token", token)
}

// getOne runs a single-row lookup on column. column is always one of the
// literals above, never caller input.
func (db *DB) getOne(ctx context.Context, column, value string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, value)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Token lookups must not echo the token back in the message.
			label := value
			if strings.HasSuffix(column, "_token") {
				label = column
			}
			return nil, apperror.NotFound("user", label)
		}
		return nil, fmt.Errorf("sqlite: getting user by %s: %w", column, err)
	}
	return u, nil
}

func (db *DB) UpdateProfile(ctx context.Context, id, username, email string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET username = ?, email = ?, updated_at = ? WHERE id = ?`,
		username, email, time.Now().UTC(), id,
	)
	if err != nil {
		return translateWriteError(err, "updating profile")
	}
	return requireRow(res, id)
}

func (db *DB) ChangeEmail(ctx context.Context, id, username, email, verificationToken string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET username = ?, email = ?, email_verified = 0, verification_token = ?, updated_at = ?
		 WHERE id = ?`,
		username, email, verificationToken, time.Now().UTC(), id,
	)
	if err != nil {
		return translateWriteError(err, "changing email")
	}
	return requireRow(res, id)
}

func (db *DB) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating password for %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (db *DB) SetVerificationToken(ctx context.Context, id, token string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET verification_token = ?, updated_at = ? WHERE id = ?`,
		token, time.Now().UTC(), id,
	)
	if err != nil {
		return translateWriteError(err, "setting verification token")
	}
	return requireRow(res, id)
}

// MarkEmailVerified flips email_verified and clears the token, but only if
// token is still the stored one.
func (db *DB) MarkEmailVerified(ctx context.Context, id, token string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET email_verified = 1, verification_token = NULL, updated_at = ?
		 WHERE id = ? AND verification_token = ?`,
		time.Now().UTC(), id, token,
	)
	if err != nil {
		return fmt.Errorf("sqlite: marking %s verified: %w", id, err)
	}
	return requireRow(res, id)
}

func (db *DB) SetPasswordReset(ctx context.Context, id, token string, expires time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET password_reset_token = ?, password_reset_expires = ?, updated_at = ?
		 WHERE id = ?`,
		token, expires.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return translateWriteError(err, "setting password reset")
	}
	return requireRow(res, id)
}

func (db *DB) ClearPasswordReset(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET password_reset_token = NULL, password_reset_expires = NULL, updated_at = ?
		 WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: clearing password reset for %s: %w", id, err)
	}
	return requireRow(res, id)
}

// ResetPassword stores the new hash and clears both reset fields in one
// statement, conditional on token still being the outstanding reset token.
func (db *DB) ResetPassword(ctx context.Context, id, token, passwordHash string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, password_reset_token = NULL,
			password_reset_expires = NULL, updated_at = ?
		 WHERE id = ? AND password_reset_token = ?`,
		passwordHash, time.Now().UTC(), id, token,
	)
	if err != nil {
		return fmt.Errorf("sqlite: resetting password for %s: %w", id, err)
	}
	return requireRow(res, id)
}

// SetAdmin grants or revokes the admin flag for the account with email.
// It is the out-of-band provisioning path used by cmd/provision and is not
// part of repository.UserRepository, so no HTTP handler can reach it.
func (db *DB) SetAdmin(ctx context.Context, email string, admin bool) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET is_admin = ?, updated_at = ? WHERE email = ?`,
		admin, time.Now().UTC(), email,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting admin for %s: %w", email, err)
	}
	return requireRow(res, email)
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: reading rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// translateWriteError maps UNIQUE violations on email/username to the shared
// conflict errors and wraps everything else.
func translateWriteError(err error, op string) error {
	var sqlErr *moderncsqlite.Error
	if errors.As(err, &sqlErr) && sqlErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		msg := sqlErr.Error()
		switch {
		case strings.Contains(msg, "users.email"):
			return repository.EmailTaken()
		case strings.Contains(msg, "users.username"):
			return repository.UsernameTaken()
		}
	}
	return fmt.Errorf("sqlite: %s: %w", op, err)
}
