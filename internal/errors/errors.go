// Package errors provides structured error types for the access engine.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for caller logic failures. These are raised immediately
// and never retried.
var (
	ErrTemplateNotFound    = errors.New("template not found")
	ErrDuplicateTemplate   = errors.New("template already exists")
	ErrRequestNotFound     = errors.New("access request not found")
	ErrRequestNotPending   = errors.New("access request is not pending")
	ErrCircularInheritance = errors.New("inheritance would form a cycle")
	ErrTokenNotFound       = errors.New("token not found")
	ErrTokenExpired        = errors.New("token expired")
	ErrInvalidInput        = errors.New("invalid input")
)

// PersistError represents a failure reading or writing a snapshot collection.
// Save failures must reach the caller: a silent save failure desynchronizes
// memory from durable state.
type PersistError struct {
	Collection string
	Op         string // "load" or "save"
	Err        error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persistence %s failed for collection %q: %v", e.Op, e.Collection, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// NewPersistError creates a persistence error for the given collection and op.
func NewPersistError(collection, op string, err error) *PersistError {
	return &PersistError{Collection: collection, Op: op, Err: err}
}

// IsPersist reports whether err is (or wraps) a persistence failure.
func IsPersist(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}
