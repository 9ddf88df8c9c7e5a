package counter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/nex/errors"
)

func TestKind_Codes(t *testing.T) {
	assert.Equal(t, "attribute_absent", KindAbsent.Code())
	assert.Equal(t, "contended", KindContended.String())
	assert.Equal(t, "other", Kind(99).Code(), "unknown kinds fall back to other")
}

func TestStoreError_Wrapping(t *testing.T) {
	err := newStoreError("Paris", OpGet, context.DeadlineExceeded, nil)

	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Contains(t, err.Error(), `counter get "Paris" failed (unavailable)`)

	// Wrapping an existing StoreError keeps the original classification.
	again := newStoreError("Paris", OpIncrement, err, func(error) Kind { return KindThrottled })
	assert.Equal(t, KindUnavailable, KindOf(again))

	wrapped := errors.Wrap(absentError("Paris", OpIncrement), "merge")
	assert.True(t, IsAbsent(wrapped))
	assert.False(t, IsExists(wrapped))
	assert.Equal(t, KindOther, KindOf(errors.New("plain")))
	assert.False(t, IsAbsent(nil))
}

func TestMemoryStore_FaultsQueuePerOperation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.FailNext("Paris", OpIncrement, KindThrottled)
	store.FailNext("Paris", OpIncrement, KindPermission)

	assert.Equal(t, KindThrottled, KindOf(store.IncrementIfExists(ctx, "Paris", 1)))
	assert.Equal(t, KindPermission, KindOf(store.IncrementIfExists(ctx, "Paris", 1)))
	assert.True(t, IsAbsent(store.IncrementIfExists(ctx, "Paris", 1)))

	// Faults are scoped to entity and operation.
	require.NoError(t, store.Initialize(ctx, "Paris", 1))
	assert.Equal(t, 3, store.Calls(OpIncrement))
}

func TestMemoryStore_List(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Seed("Rome", 2)
	store.Seed("Paris", 5)
	store.Seed("Athens", 2)

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Paris", "Athens", "Rome"}, entityNames(all))

	top, err := store.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)
}
