// Package counter holds the durable per-entity counters and the merge protocol
// that folds one extraction result into them.
//
// A Store exposes two write primitives that never read-modify-write from the
// caller's side:
//
//   - IncrementIfExists adds delta to an existing counter atomically at the
//     store, or fails with KindAbsent.
//   - Initialize creates a counter that does not exist yet, or fails with
//     KindExists.
//
// Every failure is a *StoreError carrying a Kind, and callers branch on the
// kind, never on the message.
package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/teranos/nex/errors"
)

// Entry is the stored count for one entity.
type Entry struct {
	Entity    string    `json:"entity"`
	Count     int64     `json:"count"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Store is the counter store boundary. Operations are independent per key;
// there is no cross-key atomicity.
type Store interface {
	// IncrementIfExists atomically adds delta to entity's counter.
	// Returns a KindAbsent StoreError when the counter does not exist.
	IncrementIfExists(ctx context.Context, entity string, delta int64) error

	// Initialize creates entity's counter with value.
	// Returns a KindExists StoreError when the counter already exists.
	Initialize(ctx context.Context, entity string, value int64) error

	// Get returns entity's counter. A missing counter is a KindAbsent
	// StoreError that also matches errors.ErrNotFound.
	Get(ctx context.Context, entity string) (Entry, error)

	// List returns up to limit counters, highest count first.
	List(ctx context.Context, limit int) ([]Entry, error)
}

// Kind classifies a store failure.
type Kind int

const (
	KindOther Kind = iota
	KindAbsent
	KindExists
	KindThrottled
	KindPermission
	KindValidation
	KindUnavailable
	KindContended
)

var kindCodes = map[Kind]string{
	KindOther:       "other",
	KindAbsent:      "attribute_absent",
	KindExists:      "exists",
	KindThrottled:   "throttled",
	KindPermission:  "permission",
	KindValidation:  "validation",
	KindUnavailable: "unavailable",
	KindContended:   "contended",
}

// Code returns the stable string code for k, used in logs, metrics and CLI output.
func (k Kind) Code() string {
	if code, ok := kindCodes[k]; ok {
		return code
	}
	return kindCodes[KindOther]
}

func (k Kind) String() string { return k.Code() }

// Op names the store operation that failed.
type Op string

const (
	OpIncrement  Op = "increment"
	OpInitialize Op = "initialize"
	OpGet        Op = "get"
	OpList       Op = "list"
	OpMerge      Op = "merge"
)

// StoreError is the only error type a Store returns.
type StoreError struct {
	Entity string
	Op     Op
	Kind   Kind
	Err    error
}

func (e *StoreError) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("counter %s failed (%s): %v", e.Op, e.Kind.Code(), e.Err)
	}
	return fmt.Sprintf("counter %s %q failed (%s): %v", e.Op, e.Entity, e.Kind.Code(), e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Code returns the kind's string code.
func (e *StoreError) Code() string { return e.Kind.Code() }

var (
	errAbsent = errors.Mark(errors.New("counter does not exist"), errors.ErrNotFound)
	errExists = errors.Mark(errors.New("counter already exists"), errors.ErrConflict)
)

func absentError(entity string, op Op) error {
	return &StoreError{Entity: entity, Op: op, Kind: KindAbsent, Err: errAbsent}
}

func existsError(entity string, op Op) error {
	return &StoreError{Entity: entity, Op: op, Kind: KindExists, Err: errExists}
}

// newStoreError wraps a backend error with the kind classify assigned it.
// Context cancellation always maps to KindUnavailable.
func newStoreError(entity string, op Op, err error, classify func(error) Kind) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	kind := KindOther
	switch {
	case errors.IsAny(err, context.Canceled, context.DeadlineExceeded):
		kind = KindUnavailable
	case classify != nil:
		kind = classify(err)
	}
	return &StoreError{Entity: entity, Op: op, Kind: kind, Err: errors.WithStack(err)}
}

// KindOf returns the Kind carried by err, or KindOther when err is not a StoreError.
func KindOf(err error) Kind {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindOther
}

// IsAbsent reports whether err is the "no counter yet" signal.
func IsAbsent(err error) bool {
	return err != nil && KindOf(err) == KindAbsent
}

// IsExists reports whether err means the counter was already created.
func IsExists(err error) bool {
	return err != nil && KindOf(err) == KindExists
}

func validateWrite(entity string, op Op, delta int64) error {
	if entity == "" {
		return &StoreError{Op: op, Kind: KindValidation, Err: errors.New("entity name is empty")}
	}
	if delta < 0 {
		return &StoreError{Entity: entity, Op: op, Kind: KindValidation,
			Err: errors.Newf("counters only grow, got delta %d", delta)}
	}
	return nil
}
