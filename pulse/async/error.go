package async

import (
	"context"

	"github.com/teranos/nex/errors"
)

// MaxRetries is how many times a job marked Retryable is re-queued before it fails.
const MaxRetries = 2

// ErrorCode represents the classification of an error
type ErrorCode string

const (
	ErrorCodeNotFound   ErrorCode = "not_found"
	ErrorCodeForbidden  ErrorCode = "forbidden"
	ErrorCodeValidation ErrorCode = "validation_error"
	ErrorCodeConflict   ErrorCode = "conflict"
	ErrorCodeTransient  ErrorCode = "transient"
	ErrorCodeTimeout    ErrorCode = "timeout"
	ErrorCodeCancelled  ErrorCode = "cancelled"
	ErrorCodeNoHandler  ErrorCode = "no_handler"
	ErrorCodeUnknown    ErrorCode = "unknown"
)

// ErrorContext provides structured error information for job failures
type ErrorContext struct {
	Stage     string    // Where the error occurred
	Code      ErrorCode // Error classification
	Message   string    // Human-readable message
	Retryable bool      // Will the pool try again?
}

var errRetryable = errors.New("retryable")

// Retryable marks err so the worker pool re-queues the job instead of failing
// it, up to MaxRetries times. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, errRetryable)
}

// IsRetryable reports whether err, or anything it wraps, was marked Retryable.
func IsRetryable(err error) bool {
	return err != nil && errors.Is(err, errRetryable)
}

var errCommitted = errors.New("committed")

// Committed marks err as coming from a handler that made durable writes before
// failing. The pool never re-runs such a job on its own: not on retry and not
// when shutdown interrupts it. A nil err stays nil.
func Committed(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, errCommitted)
}

// IsCommitted reports whether err, or anything it wraps, was marked Committed.
func IsCommitted(err error) bool {
	return err != nil && errors.Is(err, errCommitted)
}

// ClassifyError categorizes an error by the sentinels it carries.
func ClassifyError(stage string, err error) ErrorContext {
	if err == nil {
		return ErrorContext{Stage: stage, Code: ErrorCodeUnknown, Message: "unknown error"}
	}

	ec := ErrorContext{
		Stage:     stage,
		Message:   err.Error(),
		Retryable: IsRetryable(err) && !IsCommitted(err),
	}

	switch {
	case errors.Is(err, ErrNoHandler):
		ec.Code = ErrorCodeNoHandler
	case errors.Is(err, context.Canceled):
		ec.Code = ErrorCodeCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, errors.ErrTimeout):
		ec.Code = ErrorCodeTimeout
	case errors.IsNotFoundError(err):
		ec.Code = ErrorCodeNotFound
	case errors.IsForbiddenError(err):
		ec.Code = ErrorCodeForbidden
	case errors.IsInvalidRequestError(err):
		ec.Code = ErrorCodeValidation
	case errors.IsConflictError(err):
		ec.Code = ErrorCodeConflict
	case errors.IsUnavailableError(err):
		ec.Code = ErrorCodeTransient
	default:
		ec.Code = ErrorCodeUnknown
	}
	return ec
}
