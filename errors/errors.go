// Package errors is the error toolkit for nex.
//
// It re-exports github.com/cockroachdb/errors so every package wraps, marks
// and inspects errors the same way, and stack traces survive across layers:
//
//	if err := store.Put(ctx, bucket, key, body); err != nil {
//	    return errors.Wrapf(err, "failed to publish %s", key)
//	}
//
// Classification is always structural (errors.Is against a sentinel, or
// errors.As against a typed error). Never match on message text.
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Join         = crdb.Join
	Mark         = crdb.Mark
)

// Details and hints for operators
var (
	WithHint       = crdb.WithHint
	WithHintf      = crdb.WithHintf
	WithDetail     = crdb.WithDetail
	WithDetailf    = crdb.WithDetailf
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
)

// Inspection
var (
	Is         = crdb.Is
	IsAny      = crdb.IsAny
	As         = crdb.As
	Unwrap     = crdb.Unwrap
	UnwrapOnce = crdb.UnwrapOnce
	UnwrapAll  = crdb.UnwrapAll
)

// GetStack returns the reportable stack trace attached to err, if any.
var GetStack = crdb.GetReportableStackTrace

// AssertionFailedf reports a broken internal invariant.
var AssertionFailedf = crdb.AssertionFailedf

// Sentinels shared across packages. Wrap them to add context; check them
// with Is.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates malformed input
	ErrInvalidRequest = New("invalid request")

	// ErrForbidden indicates the caller is not allowed to perform the operation
	ErrForbidden = New("forbidden")

	// ErrUnavailable indicates a dependency is temporarily unavailable
	ErrUnavailable = New("service unavailable")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")

	// ErrConflict indicates the resource already exists
	ErrConflict = New("resource conflict")
)

// IsNotFoundError reports whether err is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError reports whether err is or wraps ErrInvalidRequest.
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsForbiddenError reports whether err is or wraps ErrForbidden.
func IsForbiddenError(err error) bool {
	return err != nil && Is(err, ErrForbidden)
}

// IsUnavailableError reports whether err is or wraps ErrUnavailable or ErrTimeout.
func IsUnavailableError(err error) bool {
	return err != nil && IsAny(err, ErrUnavailable, ErrTimeout)
}

// IsConflictError reports whether err is or wraps ErrConflict.
func IsConflictError(err error) bool {
	return err != nil && Is(err, ErrConflict)
}

// WrapNotFound marks err as not-found while keeping its message and stack.
func WrapNotFound(err error, context string) error {
	return Wrap(Mark(err, ErrNotFound), context)
}

// WrapInvalidRequest marks err as an invalid request.
func WrapInvalidRequest(err error, context string) error {
	return Wrap(Mark(err, ErrInvalidRequest), context)
}

// WrapUnavailable marks err as a transient dependency failure.
func WrapUnavailable(err error, context string) error {
	return Wrap(Mark(err, ErrUnavailable), context)
}
