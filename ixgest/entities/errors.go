package entities

import (
	"fmt"

	"github.com/teranos/nex/errors"
)

// FetchError means the input object could not be read. The invocation is
// aborted and may be retried.
type FetchError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// WriteError means the artifact could not be stored. Nothing was written, so
// the invocation may be retried.
type WriteError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store %s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ParseError means the input was read but is malformed. Retrying cannot help.
type ParseError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsFetchError reports whether err is or wraps a *FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// IsParseError reports whether err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// IsWriteError reports whether err is or wraps a *WriteError.
func IsWriteError(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}
