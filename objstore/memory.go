package objstore

import (
	"context"
	"sort"
	"sync"

	"github.com/teranos/nex/errors"
)

// MemoryStore keeps objects in process. Notify, when set, receives every Put.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]map[string][]byte
	faults  map[string]Kind

	Notify func(Notification)
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]map[string][]byte),
		faults:  make(map[string]Kind),
	}
}

// FailGet makes every Get of bucket/key fail with kind until cleared with KindOther.
func (m *MemoryStore) FailGet(bucket, key string, kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if kind == KindOther {
		delete(m.faults, bucket+"/"+key)
		return
	}
	m.faults[bucket+"/"+key] = kind
}

func (m *MemoryStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError("get", bucket, key, KindTransient, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if kind, ok := m.faults[bucket+"/"+key]; ok {
		return nil, newError("get", bucket, key, kind, errors.Newf("injected %s fault", kind))
	}
	body, ok := m.objects[bucket][key]
	if !ok {
		return nil, newError("get", bucket, key, KindNotFound, errors.New("no such key"))
	}
	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}

func (m *MemoryStore) Put(ctx context.Context, bucket, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return newError("put", bucket, key, KindTransient, err)
	}
	stored := make([]byte, len(body))
	copy(stored, body)

	m.mu.Lock()
	if m.objects[bucket] == nil {
		m.objects[bucket] = make(map[string][]byte)
	}
	m.objects[bucket][key] = stored
	notify := m.Notify
	m.mu.Unlock()

	if notify != nil {
		notify(Notification{Bucket: bucket, Key: key})
	}
	return nil
}

func (m *MemoryStore) List(_ context.Context, bucket string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects[bucket]))
	for k := range m.objects[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
