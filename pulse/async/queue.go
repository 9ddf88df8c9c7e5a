package async

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/teranos/nex/errors"
)

const (
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100

	// maxClaimAttempts bounds how often Dequeue retries after losing a claim race
	maxClaimAttempts = 5
)

// Queue is the async job queue backed by the async_ix_jobs table.
type Queue struct {
	store       *Store
	mu          sync.RWMutex
	subscribers []chan *Job // Channels to notify of job updates
}

// NewQueue creates a new job queue
func NewQueue(db *sql.DB) *Queue {
	return &Queue{
		store:       NewStore(db),
		subscribers: make([]chan *Job, 0),
	}
}

// Store returns the underlying job store.
func (q *Queue) Store() *Store {
	return q.store
}

// Enqueue adds a new job to the queue
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.CreateJob(job); err != nil {
		err = errors.Wrap(err, "failed to enqueue job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		err = errors.WithDetail(err, fmt.Sprintf("Source: %s", job.Source))
		return err
	}

	q.notifySubscribers(job)
	return nil
}

// Dequeue claims the oldest queued job and marks it running.
// Returns nil when nothing is queued.
func (q *Queue) Dequeue() (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		job, err := q.store.NextQueued()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get queued job")
		}
		if job == nil {
			return nil, nil
		}

		claimed, err := q.store.ClaimJob(job)
		if err != nil {
			err = errors.Wrap(err, "failed to mark job as running")
			err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
			err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
			return nil, err
		}
		if claimed {
			q.notifySubscribers(job)
			return job, nil
		}
		// Another process claimed it between select and update.
	}
	return nil, nil
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(id string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.GetJob(id)
}

// UpdateJob updates a job's state
func (q *Queue) UpdateJob(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.UpdateJob(job); err != nil {
		err = errors.Wrap(err, "failed to update job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		err = errors.WithDetail(err, fmt.Sprintf("Status: %s", job.Status))
		return err
	}

	q.notifySubscribers(job)
	return nil
}

// CompleteJob marks a job as completed
func (q *Queue) CompleteJob(id string) error {
	return q.transition(id, "complete", func(job *Job) { job.Complete() })
}

// FailJob marks a job as failed with an error
func (q *Queue) FailJob(id string, jobErr error) error {
	return q.transition(id, "fail", func(job *Job) { job.Fail(jobErr) })
}

// CancelJob cancels a job that has not finished yet
func (q *Queue) CancelJob(id string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return errors.Wrapf(err, "failed to cancel job %s", id)
	}
	if job.Status.IsTerminal() {
		err := errors.Newf("job %s already %s", id, job.Status)
		return errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
	}
	job.Cancel(reason)
	if err := q.store.UpdateJob(job); err != nil {
		return errors.Wrap(err, "failed to cancel job")
	}
	q.notifySubscribers(job)
	return nil
}

// Retry puts a failed or cancelled job back in the queue with a fresh retry count.
func (q *Queue) Retry(id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to retry job %s", id)
	}
	if job.Status != JobStatusFailed && job.Status != JobStatusCancelled {
		return nil, errors.WrapInvalidRequest(
			errors.Newf("job %s is %s", id, job.Status), "only failed or cancelled jobs can be retried")
	}
	job.Requeue()
	job.RetryCount = 0
	job.Error = ""
	job.CompletedAt = nil
	if err := q.store.UpdateJob(job); err != nil {
		return nil, errors.Wrap(err, "failed to requeue job")
	}
	q.notifySubscribers(job)
	return job, nil
}

func (q *Queue) transition(id, verb string, apply func(*Job)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		err = errors.Wrapf(err, "failed to %s job %s", verb, id)
		return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
	}

	apply(job)

	if err := q.store.UpdateJob(job); err != nil {
		err = errors.Wrapf(err, "failed to %s job", verb)
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		err = errors.WithDetail(err, fmt.Sprintf("Source: %s", job.Source))
		return err
	}

	q.notifySubscribers(job)
	return nil
}

// DeleteJob removes a job
func (q *Queue) DeleteJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.DeleteJob(id)
}

// ListJobs returns jobs, optionally filtered by status
func (q *Queue) ListJobs(status *JobStatus, limit int) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.ListJobs(status, limit)
}

// ListActiveJobs returns all queued and running jobs
func (q *Queue) ListActiveJobs(limit int) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.ListActiveJobs(limit)
}

// Subscribe returns a channel that receives job updates.
// The caller is responsible for calling Unsubscribe when done.
// The returned channel is buffered to prevent blocking the notifier.
func (q *Queue) Subscribe() chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel from the queue.
// The channel is NOT closed by this method; callers close it themselves
// after unsubscribing if needed.
func (q *Queue) Unsubscribe(ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers sends a snapshot of job to all subscribers.
// REQUIRES: q.mu must be held by caller (either Lock or RLock).
// Uses non-blocking send to avoid stalling if a subscriber is slow.
func (q *Queue) notifySubscribers(job *Job) {
	if len(q.subscribers) == 0 {
		return
	}
	snapshot := *job
	for _, ch := range q.subscribers {
		select {
		case ch <- &snapshot:
		default:
			// Channel full, skip
		}
	}
}

// Cleanup removes old completed/failed/cancelled jobs
func (q *Queue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.CleanupOldJobs(olderThan)
}

// QueueStats returns statistics about the queue
type QueueStats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`
}

// GetStats returns queue statistics
func (q *Queue) GetStats() (*QueueStats, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	counts, err := q.store.CountByStatus()
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute queue stats")
	}

	stats := &QueueStats{
		Queued:    counts[JobStatusQueued],
		Running:   counts[JobStatusRunning],
		Completed: counts[JobStatusCompleted],
		Failed:    counts[JobStatusFailed],
		Cancelled: counts[JobStatusCancelled],
	}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}

// FindActiveJobBySourceAndHandler finds a queued or running job by source and handler name.
// Returns nil if no active job found for this source.
func (q *Queue) FindActiveJobBySourceAndHandler(source string, handlerName string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.FindActiveJobBySourceAndHandler(source, handlerName)
}
