package entities

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/nex/counter"
	"github.com/teranos/nex/errors"
	nextest "github.com/teranos/nex/internal/testing"
	"github.com/teranos/nex/objstore"
	"github.com/teranos/nex/pulse/async"
)

// flakyStore fails the first n Gets with a transient error.
type flakyStore struct {
	*objstore.MemoryStore
	failures atomic.Int32
	gets     atomic.Int32
}

func (s *flakyStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	s.gets.Add(1)
	if s.failures.Add(-1) >= 0 {
		s.MemoryStore.FailGet(bucket, key, objstore.KindTransient)
		defer s.MemoryStore.FailGet(bucket, key, objstore.KindOther)
	}
	return s.MemoryStore.Get(ctx, bucket, key)
}

// stallingCounts lets every key through except stall, whose first increment
// waits for the caller's context to end.
type stallingCounts struct {
	*counter.MemoryStore
	stall   string
	stalled chan struct{}
	once    sync.Once
}

func (s *stallingCounts) IncrementIfExists(ctx context.Context, entity string, delta int64) error {
	if entity == s.stall {
		first := false
		s.once.Do(func() { first = true })
		if first {
			close(s.stalled)
			<-ctx.Done()
			return ctx.Err()
		}
	}
	return s.MemoryStore.IncrementIfExists(ctx, entity, delta)
}

// failingPuts fails the first n Puts with a transient error.
type failingPuts struct {
	*objstore.MemoryStore
	failures atomic.Int32
	puts     atomic.Int32
}

func (s *failingPuts) Put(ctx context.Context, bucket, key string, body []byte) error {
	s.puts.Add(1)
	if s.failures.Add(-1) >= 0 {
		return errors.WrapUnavailable(errors.New("503 slow down"), "put")
	}
	return s.MemoryStore.Put(ctx, bucket, key, body)
}

func startPool(t *testing.T, pipeline *Pipeline) *async.WorkerPool {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	cfg := async.WorkerPoolConfig{Workers: 1, PollInterval: 10 * time.Millisecond, StopTimeout: 5 * time.Second}
	pool := async.NewWorkerPool(context.Background(), nextest.CreateTestDB(t), cfg, log, nil)
	RegisterHandlers(pool.Registry(), pipeline, log)
	pool.Start()
	t.Cleanup(pool.Stop)
	return pool
}

func waitTerminal(t *testing.T, q *async.Queue, id string) *async.Job {
	t.Helper()
	var job *async.Job
	require.Eventually(t, func() bool {
		j, err := q.GetJob(id)
		if err != nil {
			return false
		}
		job = j
		return j.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestNewJob(t *testing.T) {
	job, err := NewJob(StageAggregate, tagsBucket, "parisne.txt")
	require.NoError(t, err)
	assert.Equal(t, AggregateHandlerName, job.HandlerName)
	assert.Equal(t, "nex-tags/parisne.txt", job.Source)

	var p Payload
	require.NoError(t, json.Unmarshal(job.Payload, &p))
	assert.Equal(t, Payload{Bucket: tagsBucket, Key: "parisne.txt"}, p)

	job, err = NewJob(StageExtract, sourceBucket, "paris.txt")
	require.NoError(t, err)
	assert.Equal(t, ExtractHandlerName, job.HandlerName)
}

func TestHandlersRunBothStages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.objects.Put(ctx, sourceBucket, "paris.txt", []byte("Paris is in France")))

	pool := startPool(t, f.pipeline)
	q := pool.GetQueue()

	extract, err := NewJob(StageExtract, sourceBucket, "paris.txt")
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(extract))
	done := waitTerminal(t, q, extract.ID)
	require.Equal(t, async.JobStatusCompleted, done.Status, done.Error)

	aggregate, err := NewJob(StageAggregate, tagsBucket, "parisne.txt")
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(aggregate))
	done = waitTerminal(t, q, aggregate.ID)
	require.Equal(t, async.JobStatusCompleted, done.Status, done.Error)

	assert.Equal(t, int64(1), f.count(t, "Paris"))
	assert.Equal(t, int64(1), f.count(t, "France"))
}

func TestHandlersRetryFetchErrors(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t).Sugar()
	objects := &flakyStore{MemoryStore: objstore.NewMemoryStore()}
	objects.failures.Store(1)
	counts := counter.NewMemoryStore()
	pipeline := NewPipeline(objects, counter.NewAggregator(counts, log), tagsBucket, log)

	require.NoError(t, objects.Put(ctx, sourceBucket, "rome.txt", []byte("Rome")))

	pool := startPool(t, pipeline)
	job, err := NewJob(StageExtract, sourceBucket, "rome.txt")
	require.NoError(t, err)
	require.NoError(t, pool.GetQueue().Enqueue(job))

	done := waitTerminal(t, pool.GetQueue(), job.ID)
	assert.Equal(t, async.JobStatusCompleted, done.Status)
	assert.Equal(t, 1, done.RetryCount)
	assert.EqualValues(t, 2, objects.gets.Load())
}

func TestHandlersDoNotRetryPartialMerges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	body, err := MarshalArtifact(Artifact{Name: "abne", Entities: Mapping{"A": 1, "B": 1}})
	require.NoError(t, err)
	require.NoError(t, f.objects.Put(ctx, tagsBucket, "abne.txt", body))
	f.counts.FailNext("B", counter.OpIncrement, counter.KindPermission)

	pool := startPool(t, f.pipeline)
	job, err := NewJob(StageAggregate, tagsBucket, "abne.txt")
	require.NoError(t, err)
	require.NoError(t, pool.GetQueue().Enqueue(job))

	done := waitTerminal(t, pool.GetQueue(), job.ID)
	assert.Equal(t, async.JobStatusFailed, done.Status)
	assert.Zero(t, done.RetryCount)
	assert.Contains(t, done.Error, "B")
	assert.Equal(t, int64(1), f.count(t, "A"), "A applied exactly once")
}

func TestHandlersFailMalformedPayloads(t *testing.T) {
	f := newFixture(t)
	h := NewStageHandler(StageExtract, f.pipeline, zaptest.NewLogger(t).Sugar())

	err := h.Execute(context.Background(), &async.Job{ID: "j", Payload: []byte(`not json`)})
	assert.True(t, IsParseError(err))
	assert.False(t, async.IsRetryable(err))

	err = h.Execute(context.Background(), &async.Job{ID: "j", Payload: []byte(`{"bucket":"b"}`)})
	assert.True(t, IsParseError(err))
}

func TestShutdownDoesNotReplayPartialMerges(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t).Sugar()
	objects := objstore.NewMemoryStore()
	counts := &stallingCounts{MemoryStore: counter.NewMemoryStore(), stall: "B", stalled: make(chan struct{})}
	agg := counter.NewAggregator(counts, log, counter.WithConcurrency(1))
	pipeline := NewPipeline(objects, agg, tagsBucket, log)

	body, err := MarshalArtifact(Artifact{Name: "abne", Entities: Mapping{"A": 1, "B": 1}})
	require.NoError(t, err)
	require.NoError(t, objects.Put(ctx, tagsBucket, "abne.txt", body))

	pool := startPool(t, pipeline)
	q := pool.GetQueue()
	job, err := NewJob(StageAggregate, tagsBucket, "abne.txt")
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(job))

	select {
	case <-counts.stalled:
	case <-time.After(5 * time.Second):
		t.Fatal("merge never reached B")
	}
	a, err := counts.Get(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, int64(1), a.Count, "A merged before B stalled")

	pool.Stop()

	got, err := q.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, async.JobStatusFailed, got.Status, "a batch that moved counters is not requeued")
	assert.Contains(t, got.Error, "B")

	// A restarted shift finds nothing to run again.
	pool.Start()
	time.Sleep(50 * time.Millisecond)
	pool.Stop()

	active, err := q.ListActiveJobs(10)
	require.NoError(t, err)
	assert.Empty(t, active)

	a, err = counts.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Count, "A applied exactly once")
	_, err = counts.Get(ctx, "B")
	assert.True(t, counter.IsAbsent(err), "B was never applied")
}

func TestHandlersRetryWriteErrors(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t).Sugar()
	objects := &failingPuts{MemoryStore: objstore.NewMemoryStore()}
	counts := counter.NewMemoryStore()
	pipeline := NewPipeline(objects, counter.NewAggregator(counts, log), tagsBucket, log)

	require.NoError(t, objects.MemoryStore.Put(ctx, sourceBucket, "oslo.txt", []byte("Oslo")))
	objects.failures.Store(1)

	h := NewStageHandler(StageExtract, pipeline, log)
	payload, err := json.Marshal(Payload{Bucket: sourceBucket, Key: "oslo.txt"})
	require.NoError(t, err)
	err = h.Execute(ctx, &async.Job{ID: "j", Payload: payload})
	require.Error(t, err)
	assert.True(t, IsWriteError(err))
	assert.True(t, async.IsRetryable(err))
	assert.False(t, async.IsCommitted(err))

	pool := startPool(t, pipeline)
	objects.failures.Store(1)
	job, err := NewJob(StageExtract, sourceBucket, "oslo.txt")
	require.NoError(t, err)
	require.NoError(t, pool.GetQueue().Enqueue(job))

	done := waitTerminal(t, pool.GetQueue(), job.ID)
	assert.Equal(t, async.JobStatusCompleted, done.Status, done.Error)
	assert.Equal(t, 1, done.RetryCount)

	_, err = objects.Get(ctx, tagsBucket, "oslone.txt")
	assert.NoError(t, err, "the artifact lands on the retry")
}
