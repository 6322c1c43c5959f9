package model

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrConfig = errors.New("configuration error")

	ErrBadRequest     = errors.New("bad request")
	ErrNotFound       = errors.New("not found")
	ErrDownloadFailed = errors.New("download failed")
	ErrTransferFailed = errors.New("transfer failed")
	ErrInternal       = errors.New("internal error")
)

// Error is a failure with a user facing message and one of the kinds above.
type Error struct {
	Kind    error
	Message string
	cause   error
}

func (e *Error) Error() string {
	return e.Message
}

// Is allows errors.Is(err, ErrNotFound) style kind checks.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewError returns an Error of the given kind.
func NewError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError returns an Error of the given kind that keeps cause in the chain.
func WrapError(kind, cause error, msg string) error {
	if cause != nil {
		msg = msg + ": " + cause.Error()
	}

	return &Error{Kind: kind, Message: msg, cause: cause}
}

// StatusCode maps an error kind to the HTTP status reported to callers.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the user facing message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}

	return err.Error()
}
