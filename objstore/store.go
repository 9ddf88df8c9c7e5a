// Package objstore is the bucket/key object storage the pipeline reads from
// and writes to. Backends: in-memory, a local directory per bucket, and S3.
package objstore

import (
	"context"
	"fmt"

	"github.com/teranos/nex/errors"
)

// Store fetches and puts whole objects. Put under an existing key overwrites.
type Store interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, body []byte) error
}

// Lister is implemented by backends that can enumerate a bucket.
type Lister interface {
	List(ctx context.Context, bucket string) ([]string, error)
}

// Notification announces that an object was written.
type Notification struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

func (n Notification) String() string { return n.Bucket + "/" + n.Key }

// Kind classifies an object store failure.
type Kind int

const (
	KindOther Kind = iota
	KindNotFound
	KindDenied
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindDenied:
		return "denied"
	case KindTransient:
		return "transient"
	default:
		return "other"
	}
}

// Error is returned by every backend.
type Error struct {
	Op     string
	Bucket string
	Key    string
	Kind   Kind
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s/%s (%s): %v", e.Op, e.Bucket, e.Key, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op, bucket, key string, kind Kind, err error) error {
	switch kind {
	case KindNotFound:
		err = errors.Mark(err, errors.ErrNotFound)
	case KindDenied:
		err = errors.Mark(err, errors.ErrForbidden)
	case KindTransient:
		err = errors.Mark(err, errors.ErrUnavailable)
	}
	return &Error{Op: op, Bucket: bucket, Key: key, Kind: kind, Err: errors.WithStack(err)}
}

// KindOf returns the Kind carried by err, or KindOther.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindOther
}
