package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned when the static configuration is missing
	// required fields or names an unknown auth method.
	ErrInvalidConfig = errors.New("invalid vault configuration")

	// ErrConfigExpired signals that cached connection configuration is stale.
	// Callers purge their caches and retry once.
	ErrConfigExpired = errors.New("vault configuration expired")

	// ErrAuthExpired signals that no valid credential can authenticate the
	// session any more. Callers purge their caches and retry once.
	ErrAuthExpired = errors.New("vault authentication expired")

	// ErrPermissionDenied is returned when Vault or the controller refuses a request.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrExecution wraps unexpected transport or backend response shapes.
	ErrExecution = errors.New("vault command execution failed")

	// ErrEmptyResponse is wrapped into ErrConfigExpired when the controller
	// returned nothing, most commonly because the operation is not published.
	ErrEmptyResponse = errors.New("empty response from controller")

	// ErrCacheMiss is returned by cache backends for absent keys.
	ErrCacheMiss = errors.New("cache miss")
)

// IsRecoverable reports whether err should trigger a cache purge and one retry.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrAuthExpired) ||
		errors.Is(err, ErrConfigExpired) ||
		errors.Is(err, ErrPermissionDenied)
}

// ConfigErrorf returns an ErrInvalidConfig carrying a formatted reason.
func ConfigErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// ExecutionErrorf returns an ErrExecution carrying a formatted reason.
func ExecutionErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrExecution, fmt.Sprintf(format, args...))
}
