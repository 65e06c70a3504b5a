// Package errors augments the standard errors
// provided by fmt (https://golang.org/src/fmt/errors.go)
// with a Wrap() method to wrap errors without resorting
// to fmt.Errorf("%w", err).
//
// It also exports the sentinel errors surfaced by the store.
package errors

import (
	stderr "errors"
)

var _ error = New("")

var (
	// ErrDuplicateClass indicates an attempt to register a class tag
	// with a schema that differs from the one already registered.
	ErrDuplicateClass = New("class already registered with a different schema")

	// ErrDanglingReference indicates a reference field resolved to a key
	// that does not exist in the namespace.
	ErrDanglingReference = New("reference target does not exist")

	// ErrSchemaVersion indicates a stored record carries a schema version
	// the running registry does not support.
	ErrSchemaVersion = New("unsupported schema version")

	// ErrSessionAlreadyOpen indicates a second session was requested while
	// one is already open on the namespace.
	ErrSessionAlreadyOpen = New("a session is already open on this namespace")

	// ErrNoOpenSession indicates a mutation was attempted outside of an
	// open session.
	ErrNoOpenSession = New("no open session on this namespace")

	// ErrDuplicateRemote indicates a remote name collision.
	ErrDuplicateRemote = New("remote already registered")

	// ErrMergeConflict indicates the key diverged on both sides of a sync
	// and awaits explicit resolution.
	ErrMergeConflict = New("object has an unresolved merge conflict")

	// ErrRepository indicates the backing repository operation failed.
	ErrRepository = New("repository operation failed")
)

// New Error
func New(msg string) *Error {
	return &Error{msg: msg}
}

// Error augments the standard error interface with a Wrap method.
//
// The main difference with github.com/pkg/errors is that we are wrapping
// errors from errors, not from text.
type Error struct {
	msg string
	err error
}

// Error message
func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

// Unwrap nested error
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Wrap a nested error. The receiver is left untouched so that sentinel
// errors may be wrapped concurrently.
func (e *Error) Wrap(err error) *Error {
	return &Error{msg: e.msg, err: err}
}

// Is of some error type?
func (e *Error) Is(target error) bool {
	if e == target {
		return true
	}
	t, ok := target.(*Error)
	return ok && e.msg == t.msg
}

// As finds the first error in err's chain that matches target, and if so, sets target to that error value and returns true.
// (a shortcut to standard lib errors.As)
func As(err error, target interface{}) bool {
	return stderr.As(err, target)
}

// Is reports whether any error in err's chain matches target
// (a shortcut to standard lib errors.As)
func Is(err, target error) bool {
	return stderr.Is(err, target)
}
