package model

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration matches any *ConfigurationError via errors.Is.
	ErrConfiguration = errors.New("configuration error")
	// ErrValidation matches any *ValidationError via errors.Is.
	ErrValidation = errors.New("validation error")
	// ErrNotInitialized matches any *NotInitializedError via errors.Is.
	ErrNotInitialized = errors.New("not initialized")
)

// ConfigurationError reports a missing collaborator at construction time.
type ConfigurationError struct {
	Component string
	Missing   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: missing %s", e.Component, e.Missing)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// ValidationError reports a malformed scheduler state or parameter set.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotInitializedError is returned by service methods invoked before
// initialization.
type NotInitializedError struct {
	Operation string
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("%s: service not initialized", e.Operation)
}

func (e *NotInitializedError) Is(target error) bool { return target == ErrNotInitialized }
