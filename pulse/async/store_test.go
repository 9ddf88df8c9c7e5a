package async

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/nex/errors"
	nextest "github.com/teranos/nex/internal/testing"
)

// ============================================================================
// Lost Property Office Test Universe
// ============================================================================
//
// Characters:
//   - Clerk Ines: Files every parcel (job) with a stamped ticket
//   - Mr. Oldham: Only ever asks for whatever has waited longest
//
// Theme: Parcels are filed, found, stamped and eventually thrown out.
// ============================================================================

// newTestJob builds a queued job created at the given offset from base
func newTestJob(t *testing.T, handler, source string, base time.Time, offset time.Duration) *Job {
	t.Helper()
	job, err := NewJobWithPayload(handler, source, []byte(`{"bucket":"b","key":"k"}`), 1)
	require.NoError(t, err)
	job.CreatedAt = base.Add(offset)
	job.UpdatedAt = job.CreatedAt
	return job
}

func TestInesFilesAndFindsParcels(t *testing.T) {
	t.Log("📦 Ines files a parcel")

	db := nextest.CreateTestDB(t)
	store := NewStore(db)

	job := newTestJob(t, "ixgest.entities.extract", "source/a.txt", time.Now(), 0)
	require.NoError(t, store.CreateJob(job))

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "ixgest.entities.extract", got.HandlerName)
	assert.Equal(t, "source/a.txt", got.Source)
	assert.Equal(t, JobStatusQueued, got.Status)
	assert.JSONEq(t, `{"bucket":"b","key":"k"}`, string(got.Payload))
	assert.Nil(t, got.StartedAt)
	assert.Empty(t, got.Error)

	_, err = store.GetJob("no-such-ticket")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	t.Log("✓ Ines found the parcel by its ticket")
}

func TestInesStampsParcels(t *testing.T) {
	db := nextest.CreateTestDB(t)
	store := NewStore(db)

	job := newTestJob(t, "h", "s", time.Now(), 0)
	require.NoError(t, store.CreateJob(job))

	job.Start()
	job.RetryCount = 1
	job.Fail(errors.New("artifact is not JSON"))
	require.NoError(t, store.UpdateJob(job))

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Equal(t, "artifact is not JSON", got.Error)
	assert.Equal(t, 1, got.RetryCount)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	ghost := newTestJob(t, "h", "s", time.Now(), 0)
	err = store.UpdateJob(ghost)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestOldhamGetsTheOldestParcel(t *testing.T) {
	t.Log("👴 Mr. Oldham: 'whatever has waited longest, please'")

	db := nextest.CreateTestDB(t)
	store := NewStore(db)
	base := time.Now().Add(-time.Hour)

	// Filed out of order on purpose.
	middle := newTestJob(t, "h", "middle", base, 2*time.Second)
	newest := newTestJob(t, "h", "newest", base, 3*time.Second)
	oldest := newTestJob(t, "h", "oldest", base, time.Second)
	for _, j := range []*Job{middle, newest, oldest} {
		require.NoError(t, store.CreateJob(j))
	}

	next, err := store.NextQueued()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "oldest", next.Source)

	claimed, err := store.ClaimJob(next)
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second claim on the same parcel loses.
	stale := *next
	claimed, err = store.ClaimJob(&stale)
	require.NoError(t, err)
	assert.False(t, claimed)

	next, err = store.NextQueued()
	require.NoError(t, err)
	assert.Equal(t, "middle", next.Source)

	t.Log("✓ Oldham was served in arrival order")
}

func TestInesListsAndCounts(t *testing.T) {
	db := nextest.CreateTestDB(t)
	store := NewStore(db)
	base := time.Now().Add(-time.Hour)

	a := newTestJob(t, "h", "a", base, time.Second)
	b := newTestJob(t, "h", "b", base, 2*time.Second)
	c := newTestJob(t, "h", "c", base, 3*time.Second)
	for _, j := range []*Job{a, b, c} {
		require.NoError(t, store.CreateJob(j))
	}
	c.Start()
	require.NoError(t, store.UpdateJob(c))

	all, err := store.ListJobs(nil, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Source, "newest first")

	queued := JobStatusQueued
	onlyQueued, err := store.ListJobs(&queued, 10)
	require.NoError(t, err)
	assert.Len(t, onlyQueued, 2)

	active, err := store.ListActiveJobs(10)
	require.NoError(t, err)
	assert.Len(t, active, 3)

	counts, err := store.CountByStatus()
	require.NoError(t, err)
	assert.Equal(t, 2, counts[JobStatusQueued])
	assert.Equal(t, 1, counts[JobStatusRunning])

	found, err := store.FindActiveJobBySourceAndHandler("c", "h")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, c.ID, found.ID)

	none, err := store.FindActiveJobBySourceAndHandler("c", "other")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestInesThrowsOutOldParcels(t *testing.T) {
	db := nextest.CreateTestDB(t)
	store := NewStore(db)

	old := newTestJob(t, "h", "old", time.Now().Add(-48*time.Hour), 0)
	fresh := newTestJob(t, "h", "fresh", time.Now(), 0)
	pending := newTestJob(t, "h", "pending", time.Now().Add(-48*time.Hour), 0)
	for _, j := range []*Job{old, fresh, pending} {
		require.NoError(t, store.CreateJob(j))
	}

	old.Complete()
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.UpdateJob(old))
	fresh.Complete()
	require.NoError(t, store.UpdateJob(fresh))

	n, err := store.CleanupOldJobs(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetJob(old.ID)
	assert.True(t, errors.IsNotFoundError(err))
	_, err = store.GetJob(pending.ID)
	assert.NoError(t, err, "queued jobs are never cleaned up")

	require.NoError(t, store.DeleteJob(fresh.ID))
	assert.True(t, errors.IsNotFoundError(store.DeleteJob(fresh.ID)))
}
