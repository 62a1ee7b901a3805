package backend

import (
	"errors"
	"fmt"
)

// ConnError marks a failure as connection-level. The coordinator reacts to
// connection failures by entering its reconnect procedure; every other
// backend error is treated as transient and tolerated.
type ConnError struct {
	Err error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("backend connection error: %v", e.Err)
}

func (e *ConnError) Unwrap() error {
	return e.Err
}

// NewConnError wraps err as a connection-level failure.
func NewConnError(err error) error {
	if err == nil {
		return nil
	}
	return &ConnError{Err: err}
}

// IsConnectionError reports whether err is (or wraps) a connection-level
// backend failure.
func IsConnectionError(err error) bool {
	var ce *ConnError
	return errors.As(err, &ce)
}
