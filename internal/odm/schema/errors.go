package schema

import (
	"errors"
	"fmt"
)

// ErrTypeNotFound is wrapped by configuration errors raised for types the
// registry has never seen.
var ErrTypeNotFound = errors.New("type not found")

// ConfigurationError reports a fatal mapping misconfiguration: an unknown
// type, a hook on a non-invocable method, an unknown observer target, or a
// cyclic object graph. It is surfaced immediately and never retried.
type ConfigurationError struct {
	Type   string // mapped type name, when known
	Reason string
	Err    error // optional underlying sentinel
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("odm configuration: %s: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("odm configuration: %s", e.Reason)
}

// Unwrap exposes the underlying sentinel for errors.Is checks.
func (e *ConfigurationError) Unwrap() error { return e.Err }

// NewConfigurationError builds a ConfigurationError for a type.
func NewConfigurationError(typeName, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Type: typeName, Reason: fmt.Sprintf(format, args...)}
}
