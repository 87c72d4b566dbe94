// Package errors defines the error taxonomy shared by every lifecycle command.
//
// All failures surface at the command boundary as a diagnostic line; none of
// them terminate the process. Callers classify an error with IsCategory and
// decide whether a retry makes sense with IsRetryable.
package errors

import (
	"errors"
	"fmt"
)

// Category classifies an error for reporting and retry decisions.
type Category string

const (
	CategoryNotFound              Category = "not_found"
	CategoryAlreadyDeleted        Category = "already_deleted"
	CategoryConfig                Category = "config"
	CategoryUnknownTransformation Category = "unknown_transformation"
	CategoryIO                    Category = "io"
	CategoryStuckWorker           Category = "stuck_worker"
	CategoryInvalidArgument       Category = "invalid_argument"
	CategoryInvalidTransition     Category = "invalid_transition"
)

// Error is the structured error type used throughout the module.
type Error struct {
	Category  Category
	Op        string // operation name, e.g. "registry.add"
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a non-retryable Error.
func New(category Category, op string, err error) *Error {
	return &Error{Category: category, Op: op, Err: err}
}

// Newf creates a non-retryable Error from a format string.
func Newf(category Category, op string, format string, args ...any) *Error {
	return New(category, op, fmt.Errorf(format, args...))
}

// Retryable creates an Error the caller may retry later.
func Retryable(category Category, op string, err error) *Error {
	return &Error{Category: category, Op: op, Err: err, Retryable: true}
}

// Wrap wraps err with a category and operation. A nil err stays nil.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(category, op, err)
}

// IsRetryable reports whether err represents a transient failure.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat Category) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Category == cat
	}
	return false
}

// CategoryOf returns the category of err, or "" if it is not an *Error.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}

// Sentinel errors for common failure modes.
var (
	ErrNotFound              = errors.New("not found")
	ErrAlreadyDeleted        = errors.New("marked for deletion")
	ErrUnknownTransformation = errors.New("unknown transformation")
	ErrStuckWorker           = errors.New("timed out waiting for tasks to finish")
	ErrPoolClosed            = errors.New("worker pool closed")
	ErrBusClosed             = errors.New("message bus closed")
)

// NotFound reports an unknown image or task id.
func NotFound(op string, kind string, id int) *Error {
	return New(CategoryNotFound, op, fmt.Errorf("%s %d: %w", kind, id, ErrNotFound))
}

// AlreadyDeleted reports an operation attempted on an image marked for deletion.
func AlreadyDeleted(op string, id int) *Error {
	return New(CategoryAlreadyDeleted, op, fmt.Errorf("image %d: %w", id, ErrAlreadyDeleted))
}
