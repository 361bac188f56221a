package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"batchgen/internal/decoding"
)

// Kind classifies engine errors.
type Kind int

const (
	KindLoad Kind = iota + 1
	KindDevice
	KindConfiguration
	KindInvalidConfiguration
	KindOverloaded
	KindEngineFailure
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindLoad:
		return "load error"
	case KindDevice:
		return "device error"
	case KindConfiguration:
		return "configuration error"
	case KindInvalidConfiguration:
		return "invalid configuration"
	case KindOverloaded:
		return "overloaded"
	case KindEngineFailure:
		return "engine failure"
	case KindClosed:
		return "engine closed"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned by Open and by the generation entry points.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Sentinels for errors.Is.
var (
	ErrLoad                 = &Error{Kind: KindLoad}
	ErrDevice               = &Error{Kind: KindDevice}
	ErrConfiguration        = &Error{Kind: KindConfiguration}
	ErrInvalidConfiguration = &Error{Kind: KindInvalidConfiguration}
	ErrOverloaded           = &Error{Kind: KindOverloaded}
	ErrEngineFailure        = &Error{Kind: KindEngineFailure}
	ErrClosed               = &Error{Kind: KindClosed}
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// StatusCode maps the error kind to an HTTP status.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindConfiguration, KindInvalidConfiguration:
		return http.StatusBadRequest
	case KindOverloaded:
		return http.StatusTooManyRequests
	case KindLoad, KindDevice, KindClosed:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func newError(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func wrapError(kind Kind, op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// classify turns a replica error into an engine error. Context errors pass
// through unchanged. Prompt tokens the model cannot map are the caller's
// fault and classify as configuration errors.
func classify(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if decoding.IsInvalidConfiguration(err) {
		return wrapError(KindInvalidConfiguration, "generate", err)
	}
	if errors.Is(err, decoding.ErrUnknownToken) {
		return wrapError(KindConfiguration, "generate", err)
	}
	return wrapError(KindEngineFailure, "generate", err)
}

func IsLoadError(err error) bool     { return errors.Is(err, ErrLoad) }
func IsDeviceError(err error) bool   { return errors.Is(err, ErrDevice) }
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }
func IsOverloaded(err error) bool    { return errors.Is(err, ErrOverloaded) }
func IsEngineFailure(err error) bool { return errors.Is(err, ErrEngineFailure) }
func IsClosed(err error) bool        { return errors.Is(err, ErrClosed) }

// IsInvalidConfiguration reports whether err rejects the decoding options.
// The wrapped *decoding.InvalidConfigurationError names the field.
func IsInvalidConfiguration(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) || decoding.IsInvalidConfiguration(err)
}
