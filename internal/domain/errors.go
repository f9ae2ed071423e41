package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the messaging subsystem. Handlers map these onto
// HTTP statuses; services wrap them with context via fmt.Errorf and %w.
var (
	ErrValidation = errors.New("invalid input")
	ErrAuth       = errors.New("no active session")
	ErrPermission = errors.New("not permitted")
	ErrNotFound   = errors.New("resource not found")
)

// BackendError wraps an opaque gateway/store failure together with the
// operation that produced it.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend: %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Backendf wraps err as a BackendError unless it already carries one of the
// domain sentinels, which must stay visible to errors.Is at the call site.
func Backendf(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrAuth) ||
		errors.Is(err, ErrPermission) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &BackendError{Op: op, Err: err}
}
