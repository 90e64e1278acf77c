package domain

import (
	"errors"
	"fmt"
)

// Error kinds raised by the engine. Concrete failures are *ValidationError
// values that unwrap to one of these, so callers can use errors.Is.
var (
	ErrInvalidProfile         = errors.New("invalid profile")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrEmptyProfileSet        = errors.New("empty profile set")
	ErrConfiguration          = errors.New("configuration error")
)

// ValidationError names the parameter that failed validation.
type ValidationError struct {
	Kind   error
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// ProfileError reports a malformed profile field.
func ProfileError(field, format string, args ...any) error {
	return &ValidationError{Kind: ErrInvalidProfile, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConfigError reports an out-of-range configuration parameter.
func ConfigError(field, format string, args ...any) error {
	return &ValidationError{Kind: ErrConfiguration, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ValidateProbability checks that p lies in [0,1].
func ValidateProbability(field string, p float64) error {
	if p < 0 || p > 1 || p != p {
		return ConfigError(field, "must be within [0,1], got %v", p)
	}
	return nil
}
