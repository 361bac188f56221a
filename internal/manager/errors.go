package manager

import (
	"errors"
	"net/http"
)

// modelNotFoundError is returned when a requested model id is not in the
// registry.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string   { return "model not found: " + e.id }
func (e modelNotFoundError) StatusCode() int { return http.StatusNotFound }

func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}

// notReadyError signals that no model is loaded (503).
type notReadyError struct{ state State }

func (e notReadyError) Error() string   { return "model not ready: " + string(e.state) }
func (e notReadyError) StatusCode() int { return http.StatusServiceUnavailable }

// IsNotReady reports whether err was returned because no model is loaded.
func IsNotReady(err error) bool {
	var e notReadyError
	return errors.As(err, &e)
}

// badRequestError rejects a malformed generate request (400).
type badRequestError struct{ msg string }

func (e badRequestError) Error() string   { return e.msg }
func (e badRequestError) StatusCode() int { return http.StatusBadRequest }

// IsBadRequest reports whether err rejects the request payload.
func IsBadRequest(err error) bool {
	var e badRequestError
	return errors.As(err, &e)
}
