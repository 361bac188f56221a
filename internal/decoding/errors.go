package decoding

import (
	"errors"
	"fmt"
)

// ErrInvalidConfiguration is matched by every InvalidConfigurationError.
var ErrInvalidConfiguration = errors.New("invalid decoding configuration")

// ErrUnknownToken is returned when a prompt token is missing from the
// vocabulary and the model has no unknown token to fall back to.
var ErrUnknownToken = errors.New("token is not in the vocabulary")

// InvalidConfigurationError names the option that failed validation.
type InvalidConfigurationError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid decoding configuration: %s: %s", e.Field, e.Reason)
}

func (e *InvalidConfigurationError) Unwrap() error { return ErrInvalidConfiguration }

func invalid(field, format string, args ...any) error {
	return &InvalidConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsInvalidConfiguration reports whether err is a decoding option violation.
func IsInvalidConfiguration(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration)
}
