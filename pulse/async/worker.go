package async

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/nex/am"
	"github.com/teranos/nex/errors"
	"github.com/teranos/nex/logger"
	"github.com/teranos/nex/sym"
)

const (
	// MaxOrphanedJobsToRecover limits how many orphaned jobs we'll attempt to recover
	// on startup
	MaxOrphanedJobsToRecover = 1000

	// DefaultStopTimeout is how long Stop waits for running jobs to return
	DefaultStopTimeout = 30 * time.Second
)

// pulseLogger wraps zap.SugaredLogger with special methods for Pulse operations
// Uses different log levels to create visual distinction:
// - DEBUG level → STARTING (✿ Opening operations)
// - WARN level → CLOSING (❀ Closing operations)
// - INFO level → PULSE (general worker operations)
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw(sym.PulseOpen+" "+msg, keysAndValues...)
}

// Closing logs a Closing (❀) event
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw(sym.PulseClose+" "+msg, keysAndValues...)
}

// Pulse logs general worker operations
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(sym.Pulse+" "+msg, keysAndValues...)
}

// WorkerPool manages a pool of workers that process async IX jobs
type WorkerPool struct {
	queue         *Queue
	poolConfig    WorkerPoolConfig
	workers       int
	parentCtx     context.Context // Parent context from which worker context is derived
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	registry      *HandlerRegistry
	jobsProcessed int // Jobs finished since Start
	activeWorkers int // Workers currently executing a job
	startTime     time.Time
	logger        pulseLogger
	mu            sync.Mutex
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers      int           `json:"workers"`       // Number of concurrent workers
	PollInterval time.Duration `json:"poll_interval"` // How often each worker checks for new jobs
	StopTimeout  time.Duration `json:"stop_timeout"`  // How long Stop waits for workers
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:      1,
		PollInterval: time.Second,
		StopTimeout:  DefaultStopTimeout,
	}
}

// PoolConfigFrom builds a pool config from the [pulse] section.
func PoolConfigFrom(cfg am.PulseConfig) WorkerPoolConfig {
	poolCfg := DefaultWorkerPoolConfig()
	if cfg.Workers > 0 {
		poolCfg.Workers = cfg.Workers
	}
	if cfg.PollIntervalMS > 0 {
		poolCfg.PollInterval = time.Duration(cfg.PollIntervalMS) * time.Millisecond
	}
	return poolCfg
}

// NewWorkerPool creates a worker pool that routes jobs through registry.
// Register handlers before calling Start.
//
// The pool derives its worker context from ctx: cancelling ctx stops the
// workers, and jobs interrupted that way go back to the queue.
func NewWorkerPool(ctx context.Context, db *sql.DB, poolCfg WorkerPoolConfig, log *zap.SugaredLogger, registry *HandlerRegistry) *WorkerPool {
	if log == nil {
		log = logger.Logger
	}
	if registry == nil {
		registry = NewHandlerRegistry()
	}
	if poolCfg.Workers <= 0 {
		poolCfg.Workers = 1
	}
	if poolCfg.PollInterval <= 0 {
		poolCfg.PollInterval = time.Second
	}
	if poolCfg.StopTimeout <= 0 {
		poolCfg.StopTimeout = DefaultStopTimeout
	}

	workerCtx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		queue:      NewQueue(db),
		poolConfig: poolCfg,
		workers:    poolCfg.Workers,
		parentCtx:  ctx,
		ctx:        workerCtx,
		cancel:     cancel,
		registry:   registry,
		logger:     pulseLogger{log.Named("pulse")},
	}
}

// Start recovers orphaned jobs and then starts the workers.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	// A previous Stop cancelled the context; start over from the parent.
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.logger.Starting("Recreated worker context after previous shutdown")
	default:
	}
	wp.startTime = time.Now()
	wp.jobsProcessed = 0
	ctx := wp.ctx
	wp.mu.Unlock()

	if n, err := wp.recoverOrphanedJobs(); err != nil {
		wp.logger.Warnw("Failed to recover orphaned jobs", logger.FieldError, err)
	} else if n > 0 {
		wp.logger.Starting("Opening - re-queued jobs orphaned by previous run", logger.FieldCount, n)
	}

	wp.logger.Pulse("Worker pool started",
		"workers", wp.workers,
		"poll_interval", wp.poolConfig.PollInterval,
		"handlers", wp.registry.Names())

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// recoverOrphanedJobs re-queues jobs stuck in "running" after an ungraceful
// shutdown (crash, kill -9, power loss). This is an at-least-once replay: an
// aggregate job that died mid-merge applies its already-merged keys again.
func (wp *WorkerPool) recoverOrphanedJobs() (int, error) {
	running := JobStatusRunning
	orphaned, err := wp.queue.ListJobs(&running, MaxOrphanedJobsToRecover)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list running jobs")
	}

	recovered := 0
	for _, job := range orphaned {
		job.Requeue()
		if err := wp.queue.UpdateJob(job); err != nil {
			wp.logger.Warnw("Failed to recover orphaned job", logger.FieldJobID, job.ID, logger.FieldError, err)
			continue
		}
		wp.logger.Starting("Recovered orphaned job", logger.FieldJobID, job.ID, logger.FieldHandler, job.HandlerName)
		recovered++
	}
	return recovered, nil
}

// Stop cancels the workers and waits for running jobs to return.
// Interrupted jobs are re-queued by their worker.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	cancel := wp.cancel
	wp.mu.Unlock()
	cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	timeout := wp.poolConfig.StopTimeout
	select {
	case <-done:
		wp.logger.Pulse("WorkerPool.Stop() complete - all workers exited cleanly")
	case <-time.After(timeout):
		wp.logger.Closing("WorkerPool.Stop() timeout - workers may still be running", "timeout", timeout)
	}
}

// worker polls the queue until ctx is cancelled
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.poolConfig.PollInterval)
	defer ticker.Stop()

	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Drain the queue before waiting for the next tick.
		for {
			processed, err := wp.processNextJob(ctx)
			if err == nil {
				if errorCount > 0 {
					wp.logger.Infow("Worker recovered from errors",
						"worker_id", id,
						"previous_error_count", errorCount)
				}
				errorCount = 0
				backoffDuration = time.Second
				if processed && ctx.Err() == nil {
					continue
				}
				break
			}

			if ctx.Err() != nil || errors.Is(err, sql.ErrConnDone) {
				return
			}
			errorCount++
			wp.logger.Errorw("Worker error processing job",
				"worker_id", id,
				logger.FieldError, err,
				"consecutive_errors", errorCount)

			if errorCount >= maxConsecutiveErrors {
				wp.logger.Warnw("Worker backing off due to consecutive errors",
					"worker_id", id,
					"backoff", backoffDuration,
					"consecutive_errors", errorCount)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoffDuration):
				}
				backoffDuration = min(backoffDuration*2, maxBackoff)
			}
			break
		}
	}
}

// processNextJob claims and runs one job. It reports whether a job was claimed.
func (wp *WorkerPool) processNextJob(ctx context.Context) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}

	job, err := wp.queue.Dequeue()
	if err != nil {
		return false, errors.Wrap(err, "failed to dequeue job")
	}
	if job == nil {
		return false, nil
	}

	wp.mu.Lock()
	wp.activeWorkers++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.jobsProcessed++
		wp.mu.Unlock()
	}()

	log := wp.logger.With(
		logger.FieldJobID, job.ID,
		logger.FieldHandler, job.HandlerName,
		"source", job.Source)
	jobCtx := logger.WithJobID(ctx, job.ID)

	start := time.Now()
	execErr := wp.registry.Execute(jobCtx, job)
	if execErr == nil {
		log.Infow(sym.Pulse+" Job completed", logger.FieldDurationMS, time.Since(start).Milliseconds())
		return true, wp.queue.CompleteJob(job.ID)
	}

	// Interrupted by shutdown: the job goes back to the queue unless the
	// handler already wrote something a replay would apply twice.
	if ctx.Err() != nil && !IsCommitted(execErr) {
		wp.logger.Closing("Job cancelled during execution, re-queuing", logger.FieldJobID, job.ID)
		job.Requeue()
		if err := wp.queue.UpdateJob(job); err != nil {
			log.Errorw("Failed to re-queue cancelled job", logger.FieldError, err)
		}
		return true, nil
	}

	ec := ClassifyError(job.HandlerName, execErr)
	if ec.Retryable && job.RetryCount < MaxRetries {
		job.RetryCount++
		job.Error = fmt.Sprintf("retry %d/%d: %v", job.RetryCount, MaxRetries, execErr)
		job.Requeue()
		if err := wp.queue.UpdateJob(job); err != nil {
			return true, errors.Wrapf(err, "failed to schedule retry for job %s", job.ID)
		}
		log.Infow(sym.Pulse+" Retry scheduled",
			"retry_count", job.RetryCount,
			"max_retries", MaxRetries,
			logger.FieldErrorCode, ec.Code,
			logger.FieldError, execErr)
		return true, nil
	}

	log.Warnw(sym.Pulse+" Job failed",
		logger.FieldErrorCode, ec.Code,
		"retry_count", job.RetryCount,
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
		logger.FieldError, execErr)
	return true, wp.queue.FailJob(job.ID, execErr)
}

// GetQueue returns the job queue (useful for enqueuing jobs)
func (wp *WorkerPool) GetQueue() *Queue {
	return wp.queue
}

// Workers returns the number of concurrent workers configured for this pool
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// Registry returns the handler registry for registering job handlers.
// Use this to register handlers before calling Start():
//
//	pool := async.NewWorkerPool(ctx, db, poolCfg, logger, nil)
//	entities.RegisterHandlers(pool.Registry(), pipeline, logger)
//	pool.Start()
func (wp *WorkerPool) Registry() *HandlerRegistry {
	return wp.registry
}

// PoolStats is a point-in-time view of the pool and its queue
type PoolStats struct {
	WorkersActive int           `json:"workers_active"`
	WorkersTotal  int           `json:"workers_total"`
	JobsProcessed int           `json:"jobs_processed"`
	Uptime        time.Duration `json:"uptime"`
	Queue         *QueueStats   `json:"queue"`
}

// Stats returns worker and queue statistics
func (wp *WorkerPool) Stats() (*PoolStats, error) {
	queueStats, err := wp.queue.GetStats()
	if err != nil {
		return nil, err
	}

	wp.mu.Lock()
	defer wp.mu.Unlock()

	stats := &PoolStats{
		WorkersActive: wp.activeWorkers,
		WorkersTotal:  wp.workers,
		JobsProcessed: wp.jobsProcessed,
		Queue:         queueStats,
	}
	if !wp.startTime.IsZero() {
		stats.Uptime = time.Since(wp.startTime)
	}
	return stats, nil
}
