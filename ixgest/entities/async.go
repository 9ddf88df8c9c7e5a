package entities

import (
	"context"
	"encoding/json"
	"path"

	"go.uber.org/zap"

	"github.com/teranos/nex/errors"
	"github.com/teranos/nex/logger"
	"github.com/teranos/nex/pulse/async"
)

// Handler names registered with the worker pool.
const (
	ExtractHandlerName   = "ixgest.entities.extract"
	AggregateHandlerName = "ixgest.entities.aggregate"
)

// Payload is the job payload of both stage handlers.
type Payload struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// HandlerName returns the async handler that runs stage.
func HandlerName(stage Stage) string {
	if stage == StageAggregate {
		return AggregateHandlerName
	}
	return ExtractHandlerName
}

// NewJob builds a queued job that runs stage on bucket/key.
func NewJob(stage Stage, bucket, key string) (*async.Job, error) {
	payload, err := json.Marshal(Payload{Bucket: bucket, Key: key})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode job payload")
	}
	return async.NewJobWithPayload(HandlerName(stage), path.Join(bucket, key), payload, 1)
}

// StageHandler implements async.JobHandler for one pipeline stage
type StageHandler struct {
	stage    Stage
	pipeline *Pipeline
	logger   *zap.SugaredLogger
}

// NewStageHandler creates a handler that runs stage through pipeline
func NewStageHandler(stage Stage, pipeline *Pipeline, log *zap.SugaredLogger) *StageHandler {
	if log == nil {
		log = logger.Logger
	}
	return &StageHandler{stage: stage, pipeline: pipeline, logger: log}
}

// Name returns the handler identifier
func (h *StageHandler) Name() string {
	return HandlerName(h.stage)
}

// Execute decodes the payload and runs the stage.
//
// Fetch and artifact write failures are marked retryable. Parse failures are
// not. A batch that applied any key is marked Committed, so neither a retry
// nor a shutdown requeue replays it.
func (h *StageHandler) Execute(ctx context.Context, job *async.Job) error {
	var payload Payload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return &ParseError{Err: errors.Wrap(err, "failed to decode job payload")}
	}
	if payload.Bucket == "" || payload.Key == "" {
		return &ParseError{Bucket: payload.Bucket, Key: payload.Key, Err: errors.New("job payload needs bucket and key")}
	}

	ctx = logger.WithComponent(ctx, h.Name())

	var res Result
	var err error
	switch h.stage {
	case StageAggregate:
		res, err = h.pipeline.Aggregate(ctx, payload.Bucket, payload.Key)
	default:
		res, err = h.pipeline.Extract(ctx, payload.Bucket, payload.Key)
	}
	if err != nil {
		switch {
		case res.Batch != nil && res.Batch.Applied() > 0:
			// Some counters moved; running the batch again would add them twice.
			return async.Committed(err)
		case IsFetchError(err), IsWriteError(err):
			return async.Retryable(err)
		}
		return err
	}

	job.UpdateProgress(1)
	return nil
}

// RegisterHandlers registers the extract and aggregate handlers.
func RegisterHandlers(registry *async.HandlerRegistry, pipeline *Pipeline, log *zap.SugaredLogger) {
	registry.Register(NewStageHandler(StageExtract, pipeline, log))
	registry.Register(NewStageHandler(StageAggregate, pipeline, log))
}
