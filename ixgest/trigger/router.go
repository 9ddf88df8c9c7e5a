package trigger

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/nex/am"
	"github.com/teranos/nex/errors"
	"github.com/teranos/nex/ixgest/entities"
	"github.com/teranos/nex/logger"
	"github.com/teranos/nex/objstore"
	"github.com/teranos/nex/pulse/async"
	"github.com/teranos/nex/sym"
)

// ErrUnroutable is returned for notifications from a bucket no stage listens on.
var ErrUnroutable = errors.New("no stage for bucket")

// Enqueuer accepts async jobs. *async.Queue implements it.
type Enqueuer interface {
	Enqueue(job *async.Job) error
}

// Dispatch describes what the Router did with one notification.
type Dispatch struct {
	Notification objstore.Notification `json:"notification"`
	Stage        entities.Stage        `json:"stage"`
	Mode         string                `json:"mode"`
	JobID        string                `json:"job_id,omitempty"` // async mode
	Result       *entities.Result      `json:"result,omitempty"` // direct mode
}

// Router maps buckets to pipeline stages.
type Router struct {
	buckets  am.BucketsConfig
	mode     string
	pipeline *entities.Pipeline
	queue    Enqueuer
	logger   *zap.SugaredLogger
}

// NewRouter creates a router. In am.ModeAsync notifications become jobs on
// queue; in am.ModeDirect they run inline through pipeline.
func NewRouter(buckets am.BucketsConfig, mode string, pipeline *entities.Pipeline, queue Enqueuer, log *zap.SugaredLogger) (*Router, error) {
	if buckets.Source == "" || buckets.Tags == "" {
		return nil, errors.New("router needs both source and tags buckets")
	}
	if buckets.Source == buckets.Tags {
		return nil, errors.Newf("source and tags buckets must differ, both are %q", buckets.Source)
	}
	switch mode {
	case am.ModeAsync:
		if queue == nil {
			return nil, errors.New("async mode needs a job queue")
		}
	case am.ModeDirect:
		if pipeline == nil {
			return nil, errors.New("direct mode needs a pipeline")
		}
	default:
		return nil, errors.Newf("unknown dispatch mode %q", mode)
	}
	if log == nil {
		log = logger.Logger
	}
	return &Router{
		buckets:  buckets,
		mode:     mode,
		pipeline: pipeline,
		queue:    queue,
		logger:   log.Named("trigger"),
	}, nil
}

// Mode returns the dispatch mode.
func (r *Router) Mode() string { return r.mode }

// Route returns the stage that handles objects in bucket.
func (r *Router) Route(bucket string) (entities.Stage, error) {
	switch bucket {
	case r.buckets.Source:
		return entities.StageExtract, nil
	case r.buckets.Tags:
		return entities.StageAggregate, nil
	default:
		return "", errors.Wrapf(ErrUnroutable, "bucket %q", bucket)
	}
}

// Dispatch routes n and either enqueues or runs its stage.
//
// In direct mode a failed stage still returns its Dispatch, so callers can
// report a partially merged batch.
func (r *Router) Dispatch(ctx context.Context, n objstore.Notification) (Dispatch, error) {
	stage, err := r.Route(n.Bucket)
	if err != nil {
		return Dispatch{Notification: n, Mode: r.mode}, err
	}
	d := Dispatch{Notification: n, Stage: stage, Mode: r.mode}

	if r.mode == am.ModeAsync {
		job, err := entities.NewJob(stage, n.Bucket, n.Key)
		if err != nil {
			return d, err
		}
		if err := r.queue.Enqueue(job); err != nil {
			return d, errors.Wrapf(err, "failed to enqueue %s for %s", stage, n)
		}
		d.JobID = job.ID
		r.logger.Infow(sym.IX+" Enqueued stage",
			logger.FieldStage, stage,
			logger.FieldBucket, n.Bucket,
			logger.FieldKey, n.Key,
			logger.FieldJobID, job.ID)
		return d, nil
	}

	var res entities.Result
	switch stage {
	case entities.StageAggregate:
		res, err = r.pipeline.Aggregate(ctx, n.Bucket, n.Key)
	default:
		res, err = r.pipeline.Extract(ctx, n.Bucket, n.Key)
	}
	d.Result = &res
	return d, err
}

// DispatchAll dispatches every notification. Failures are joined; one bad
// notification does not stop the rest.
func (r *Router) DispatchAll(ctx context.Context, ns []objstore.Notification) ([]Dispatch, error) {
	out := make([]Dispatch, 0, len(ns))
	var errs []error
	for _, n := range ns {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		d, err := r.Dispatch(ctx, n)
		out = append(out, d)
		if err != nil {
			r.logger.Warnw("Dispatch failed", logger.FieldBucket, n.Bucket, logger.FieldKey, n.Key, logger.FieldError, err)
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}
