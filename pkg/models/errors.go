package models

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

// NewNotFoundError reports a candidate that does not exist or has been retired.
func NewNotFoundError(id int64) error {
	return httperror.NewHTTPErrorf(http.StatusNotFound, "candidate %d not found", id)
}

// StatusCode returns the HTTP status carried by err or any error it wraps, or 0.
func StatusCode(err error) int {
	var httpErr *httperror.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	return 0
}

func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

func IsConflict(err error) bool {
	return StatusCode(err) == http.StatusConflict
}

func IsValidation(err error) bool {
	return StatusCode(err) == http.StatusBadRequest
}
