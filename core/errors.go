package core

import (
	"errors"
	"fmt"
)

// InvariantError signals coordinator misuse rather than a runtime fault:
// a missing or non-auto-commit transaction at commit/rollback time, or a
// second Execute call on the same handle. It is fatal and non-retryable.
type InvariantError struct {
	Message string
}

func (e *InvariantError) Error() string {
	return e.Message
}

// InvariantErrorf builds an InvariantError from a format string.
func InvariantErrorf(format string, args ...interface{}) *InvariantError {
	return &InvariantError{Message: fmt.Sprintf(format, args...)}
}

// IsInvariantError reports whether err is (or wraps) an InvariantError.
func IsInvariantError(err error) bool {
	var invariant *InvariantError
	return errors.As(err, &invariant)
}
