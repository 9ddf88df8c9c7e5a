package counter

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/nex/errors"
	nextest "github.com/teranos/nex/internal/testing"
)

func TestSQLiteStore_Primitives(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteStore(nextest.CreateTestDB(t), nil)

	err := store.IncrementIfExists(ctx, "Paris", 1)
	require.Error(t, err)
	assert.True(t, IsAbsent(err), "increment on a missing row reports absent")

	require.NoError(t, store.Initialize(ctx, "Paris", 2))

	err = store.Initialize(ctx, "Paris", 7)
	require.Error(t, err)
	assert.True(t, IsExists(err), "second initialize must not overwrite")

	require.NoError(t, store.IncrementIfExists(ctx, "Paris", 3))

	e, err := store.Get(ctx, "Paris")
	require.NoError(t, err)
	assert.Equal(t, int64(5), e.Count)
	assert.False(t, e.UpdatedAt.IsZero())
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	store := NewSQLiteStore(nextest.CreateTestDB(t), nil)

	_, err := store.Get(context.Background(), "Atlantis")
	require.Error(t, err)
	assert.True(t, IsAbsent(err))
	assert.True(t, errors.IsNotFoundError(err))
}

func TestSQLiteStore_List(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteStore(nextest.CreateTestDB(t), nil)

	require.NoError(t, store.Initialize(ctx, "Rome", 2))
	require.NoError(t, store.Initialize(ctx, "Paris", 5))
	require.NoError(t, store.Initialize(ctx, "Athens", 2))

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"Paris", "Athens", "Rome"}, entityNames(all))

	top, err := store.List(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Paris"}, entityNames(top))
}

func TestSQLiteStore_RejectsNegativeDelta(t *testing.T) {
	store := NewSQLiteStore(nextest.CreateTestDB(t), nil)
	err := store.IncrementIfExists(context.Background(), "Paris", -1)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestSQLiteStore_ErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"busy", sqlite3.Error{Code: sqlite3.ErrBusy}, KindThrottled},
		{"locked", sqlite3.Error{Code: sqlite3.ErrLocked}, KindThrottled},
		{"readonly", sqlite3.Error{Code: sqlite3.ErrReadonly}, KindPermission},
		{"constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, KindValidation},
		{"disk full", sqlite3.Error{Code: sqlite3.ErrFull}, KindUnavailable},
		{"connection done", sql.ErrConnDone, KindUnavailable},
		{"anything else", errors.New("boom"), KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockDB, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer mockDB.Close()

			mock.ExpectExec(regexp.QuoteMeta("UPDATE entity_counts SET count = count + ?")).
				WithArgs(int64(1), sqlmock.AnyArg(), "Paris").
				WillReturnError(tt.err)

			store := NewSQLiteStore(mockDB, nil)
			err = store.IncrementIfExists(context.Background(), "Paris", 1)

			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
			var se *StoreError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, "Paris", se.Entity)
			assert.Equal(t, OpIncrement, se.Op)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLiteStore_InitializeConflictViaMock(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO entity_counts")).
		WithArgs("Paris", int64(1), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewSQLiteStore(mockDB, nil)
	err = store.Initialize(context.Background(), "Paris", 1)
	assert.True(t, IsExists(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func entityNames(entries []Entry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Entity
	}
	return names
}
