// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered account.
//
// PasswordHash and the two token fields are tagged json:"-" so that a User can
// be written straight to an HTTP response without ever exposing credential
// material. IsAdmin is read-only from the API's point of view: no request
// type carries it and no repository write path except provisioning sets it.
type User struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	IsAdmin       bool      `json:"isAdmin"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`

	// VerificationToken is non-nil exactly while an email verification is outstanding.
	VerificationToken *string `json:"-"`

	// PasswordResetToken and PasswordResetExpires are set and cleared together.
	PasswordResetToken   *string    `json:"-"`
	PasswordResetExpires *time.Time `json:"-"`
}

// ResetPending reports whether a password reset is outstanding.
func (u *User) ResetPending() bool {
	return u.PasswordResetToken != nil
}

// ResetExpired reports whether the outstanding reset token has expired at now.
// A user without a pending reset is never "expired".
func (u *User) ResetExpired(now time.Time) bool {
	if u.PasswordResetExpires == nil {
		return false
	}
	return !now.Before(*u.PasswordResetExpires)
}
