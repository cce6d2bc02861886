package executor

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes why a recipe failed
type ErrorKind string

const (
	// KindEntityNotFound means a step references a signal the machine does not have
	KindEntityNotFound ErrorKind = "entity_not_found"
	// KindDrinkNotRecognized means the drink is not among the advertised options
	KindDrinkNotRecognized ErrorKind = "drink_not_recognized"
	// KindTimeout means no completion signal arrived in time
	KindTimeout ErrorKind = "timeout"
	// KindUnexpected covers everything else, including recovered panics
	KindUnexpected ErrorKind = "unexpected"
)

var (
	// ErrAborted is returned internally when a run observes cancellation
	ErrAborted = errors.New("recipe aborted")
	// ErrClosed is returned by Brew after Close
	ErrClosed = errors.New("executor closed")
)

// Error is an unrecoverable step failure
type Error struct {
	Kind ErrorKind
	// Step is the 1-based index of the failing step
	Step int
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of an executor error, or "" if err is not one
func KindOf(err error) ErrorKind {
	var execErr *Error
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	return ""
}

// IsKind reports whether err is an executor error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
