package counter

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/teranos/nex/errors"
)

// MemoryStore is an in-process Store used by tests and by `counter.backend = "memory"`.
// It supports fault injection so callers can exercise every error kind.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]Entry
	faults map[faultKey][]Kind
	calls  map[Op]int

	// BeforeInitialize, when set, runs before every Initialize takes the lock.
	// Tests use it to line up concurrent first observations.
	BeforeInitialize func(entity string)
}

type faultKey struct {
	entity string
	op     Op
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counts: make(map[string]Entry),
		faults: make(map[faultKey][]Kind),
		calls:  make(map[Op]int),
	}
}

// Seed sets entity's counter directly, bypassing the write primitives.
func (m *MemoryStore) Seed(entity string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[entity] = Entry{Entity: entity, Count: count, UpdatedAt: time.Now()}
}

// FailNext makes the next op on entity fail with kind. Calls queue up.
func (m *MemoryStore) FailNext(entity string, op Op, kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := faultKey{entity, op}
	m.faults[k] = append(m.faults[k], kind)
}

// Calls returns how many times op was invoked.
func (m *MemoryStore) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// takeFault must be called with mu held.
func (m *MemoryStore) takeFault(entity string, op Op) error {
	m.calls[op]++
	k := faultKey{entity, op}
	queued := m.faults[k]
	if len(queued) == 0 {
		return nil
	}
	kind := queued[0]
	if len(queued) == 1 {
		delete(m.faults, k)
	} else {
		m.faults[k] = queued[1:]
	}
	return &StoreError{Entity: entity, Op: op, Kind: kind, Err: errors.Newf("injected %s fault", kind.Code())}
}

func (m *MemoryStore) IncrementIfExists(ctx context.Context, entity string, delta int64) error {
	if err := validateWrite(entity, OpIncrement, delta); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return newStoreError(entity, OpIncrement, err, nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFault(entity, OpIncrement); err != nil {
		return err
	}
	e, ok := m.counts[entity]
	if !ok {
		return absentError(entity, OpIncrement)
	}
	e.Count += delta
	e.UpdatedAt = time.Now()
	m.counts[entity] = e
	return nil
}

func (m *MemoryStore) Initialize(ctx context.Context, entity string, value int64) error {
	if err := validateWrite(entity, OpInitialize, value); err != nil {
		return err
	}
	if m.BeforeInitialize != nil {
		m.BeforeInitialize(entity)
	}
	if err := ctx.Err(); err != nil {
		return newStoreError(entity, OpInitialize, err, nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFault(entity, OpInitialize); err != nil {
		return err
	}
	if _, ok := m.counts[entity]; ok {
		return existsError(entity, OpInitialize)
	}
	m.counts[entity] = Entry{Entity: entity, Count: value, UpdatedAt: time.Now()}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, entity string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, newStoreError(entity, OpGet, err, nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFault(entity, OpGet); err != nil {
		return Entry{}, err
	}
	e, ok := m.counts[entity]
	if !ok {
		return Entry{}, absentError(entity, OpGet)
	}
	return e, nil
}

func (m *MemoryStore) List(ctx context.Context, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, newStoreError("", OpList, err, nil)
	}
	m.mu.Lock()
	entries := make([]Entry, 0, len(m.counts))
	for _, e := range m.counts {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	sortEntries(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// sortEntries orders by count descending, then entity ascending.
func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Entity < entries[j].Entity
	})
}
