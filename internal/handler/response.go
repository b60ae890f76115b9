package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sakif/infinite-studio/internal/apperror"
	"github.com/sakif/infinite-studio/internal/respond"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse = respond.ErrorResponse

// MessageResponse is the body of endpoints that only confirm an action.
type MessageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	respond.JSON(w, status, data)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, MessageResponse{Message: message})
}

// writeError sends err in the standard error shape; see respond.Error.
func writeError(w http.ResponseWriter, err error) {
	respond.Error(w, err)
}

// decodeJSON reads a JSON body into dst. Unknown fields are ignored, so
// clients cannot smuggle isAdmin or token fields into a request; they are
// simply not part of any request type.
func decodeJSON(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.ValidationFailed("", "request body is required")
		}
		return apperror.ValidationFailed("", fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}
