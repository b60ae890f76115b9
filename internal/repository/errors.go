package repository

import "github.com/sakif/infinite-studio/internal/apperror"

// EmailTaken and UsernameTaken are the conflict errors every store and the
// service pre-check return, so a client sees the same body whichever layer
// caught the duplicate.
func EmailTaken() *apperror.AppError {
	return apperror.Conflict("email", "email already registered")
}

func UsernameTaken() *apperror.AppError {
	return apperror.Conflict("username", "username already taken")
}
