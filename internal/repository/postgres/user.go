package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/xid"

	"github.com/sakif/infinite-studio/internal/apperror"
	"github.com/sakif/infinite-studio/internal/model"
	"github.com/sakif/infinite-studio/internal/repository"
)

var _ repository.UserRepository = (*DB)(nil)

const uniqueViolation = "23505"

const userColumns = `id, username, email, password_hash, is_admin, email_verified,
	verification_token, password_reset_token, password_reset_expires,
	created_at, updated_at`

func scanUser(row *sql.Row) (*model.User, error) {
	var (
		u            model.User
		verification sql.NullString
		resetToken   sql.NullString
		resetExpires sql.NullTime
	)

	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.EmailVerified,
		&verification, &resetToken, &resetExpires,
		&u.CreatedAt, &u.UpdatedAt,
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
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func (db *DB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	id := xid.New().String()

	var token sql.NullString
	if user.VerificationToken != nil {
		token = sql.NullString{String: *user.VerificationToken, Valid: true}
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, is_admin, email_verified,
			verification_token, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, FALSE, $5, $6, $7, $7)`,
		id, user.Username, user.Email, user.PasswordHash, user.EmailVerified, token, now,
	)
	if err != nil {
		return translateWriteError(err, "inserting user")
	}

	user.ID = id
	user.IsAdmin = false
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return db.getOne(ctx, "id", id, id)
}

func (db *DB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return db.getOne(ctx, "email", email, email)
}

func (db *DB) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return db.getOne(ctx, "username", username, username)
}

func (db *DB) GetByVerificationToken(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, apperror.NotFound("user", "verification token")
	}
	return db.getOne(ctx, "verification_token", token, "verification token")
}

func (db *DB) GetByResetToken(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, apperror.NotFound("user", "reset token")
	}
	return db.getOne(ctx, "password_reset_token", token, "reset token")
}

// getOne looks a user up by column. label is what a not-found error reports,
// so token values never end up in messages or logs.
func (db *DB) getOne(ctx context.Context, column, value, label string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = $1`, value)

	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", label)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: getting user by %s: %w", column, err)
	}
	return u, nil
}

func (db *DB) UpdateProfile(ctx context.Context, id, username, email string) error {
	return db.exec(ctx, id, "updating profile",
		`UPDATE users SET username = $1, email = $2, updated_at = NOW() WHERE id = $3`,
		username, email, id)
}

func (db *DB) ChangeEmail(ctx context.Context, id, username, email, verificationToken string) error {
	return db.exec(ctx, id, "changing email",
		`UPDATE users SET username = $1, email = $2, email_verified = FALSE, verification_token = $3,
		 updated_at = NOW() WHERE id = $4`,
		username, email, verificationToken, id)
}

func (db *DB) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return db.exec(ctx, id, "updating password",
		`UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2`,
		passwordHash, id)
}

func (db *DB) SetVerificationToken(ctx context.Context, id, token string) error {
	return db.exec(ctx, id, "setting verification token",
		`UPDATE users SET verification_token = $1, updated_at = NOW() WHERE id = $2`,
		token, id)
}

func (db *DB) MarkEmailVerified(ctx context.Context, id, token string) error {
	return db.exec(ctx, id, "marking email verified",
		`UPDATE users SET email_verified = TRUE, verification_token = NULL, updated_at = NOW()
		 WHERE id = $1 AND verification_token = $2`,
		id, token)
}

func (db *DB) SetPasswordReset(ctx context.Context, id, token string, expires time.Time) error {
	return db.exec(ctx, id, "setting password reset",
		`UPDATE users SET password_reset_token = $1, password_reset_expires = $2, updated_at = NOW()
		 WHERE id = $3`,
		token, expires.UTC(), id)
}

func (db *DB) ClearPasswordReset(ctx context.Context, id string) error {
	return db.exec(ctx, id, "clearing password reset",
		`UPDATE users SET password_reset_token = NULL, password_reset_expires = NULL, updated_at = NOW()
		 WHERE id = $1`,
		id)
}

func (db *DB) ResetPassword(ctx context.Context, id, token, passwordHash string) error {
	return db.exec(ctx, id, "resetting password",
		`UPDATE users SET password_hash = $1, password_reset_token = NULL,
			password_reset_expires = NULL, updated_at = NOW()
		 WHERE id = $2 AND password_reset_token = $3`,
		passwordHash, id, token)
}

// SetAdmin is the provisioning path used by cmd/provision. It is deliberately
// absent from repository.UserRepository.
func (db *DB) SetAdmin(ctx context.Context, email string, admin bool) error {
	return db.exec(ctx, email, "setting admin flag",
		`UPDATE users SET is_admin = $1, updated_at = NOW() WHERE email = $2`,
		admin, email)
}

// exec runs a single-row UPDATE and reports apperror.ErrNotFound when no row
// matched.
func (db *DB) exec(ctx context.Context, key, op, query string, args ...any) error {
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return translateWriteError(err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: %s: reading rows affected: %w", op, err)
	}
	if n == 0 {
		return apperror.NotFound("user", key)
	}
	return nil
}

func translateWriteError(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case "users_email_key":
			return repository.EmailTaken()
		case "users_username_key":
			return repository.UsernameTaken()
		}
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}
