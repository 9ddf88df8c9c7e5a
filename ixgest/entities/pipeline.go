package entities

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/nex/counter"
	"github.com/teranos/nex/errors"
	"github.com/teranos/nex/logger"
	"github.com/teranos/nex/objstore"
	"github.com/teranos/nex/sym"
)

// Stage names one half of the pipeline.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageAggregate Stage = "aggregate"
)

// Merger folds a mapping into durable counters. *counter.Aggregator implements it.
type Merger interface {
	Merge(ctx context.Context, mapping map[string]int64) counter.BatchResult
}

// Result describes one stage invocation.
type Result struct {
	Stage    Stage  `json:"stage"`
	Bucket   string `json:"bucket"`
	Key      string `json:"key"`
	Artifact string `json:"artifact,omitempty"`
	// Entities is the number of distinct entities extracted or merged.
	Entities int                  `json:"entities"`
	Batch    *counter.BatchResult `json:"batch,omitempty"`
}

// OK reports whether every entity was applied. Extract results are always OK.
func (r Result) OK() bool { return r.Batch == nil || r.Batch.OK() }

// FailedEntities lists the entities the aggregate stage could not merge.
func (r Result) FailedEntities() []string {
	if r.Batch == nil {
		return nil
	}
	return r.Batch.FailedEntities()
}

// Pipeline runs the extract and aggregate stages against an object store.
type Pipeline struct {
	objects    objstore.Store
	merger     Merger
	tagsBucket string
	logger     *zap.SugaredLogger
}

// NewPipeline creates a pipeline that writes artifacts to tagsBucket and merges
// them through merger.
func NewPipeline(objects objstore.Store, merger Merger, tagsBucket string, log *zap.SugaredLogger) *Pipeline {
	if log == nil {
		log = logger.Logger
	}
	return &Pipeline{
		objects:    objects,
		merger:     merger,
		tagsBucket: tagsBucket,
		logger:     log.Named("ixgest.entities"),
	}
}

// TagsBucket returns the bucket artifacts are written to.
func (p *Pipeline) TagsBucket() string { return p.tagsBucket }

// Extract reads a raw text object, extracts its entities and stores the
// artifact in the tags bucket.
func (p *Pipeline) Extract(ctx context.Context, bucket, key string) (Result, error) {
	start := time.Now()
	log := logger.LoggerFromContext(ctx, p.logger)
	res := Result{Stage: StageExtract, Bucket: bucket, Key: key}

	body, err := p.objects.Get(ctx, bucket, key)
	if err != nil {
		return res, &FetchError{Bucket: bucket, Key: key, Err: err}
	}

	mapping := Extract(string(body))
	name := ArtifactName(key)
	encoded, err := MarshalArtifact(Artifact{Name: name, Entities: mapping})
	if err != nil {
		return res, errors.Wrapf(err, "failed to encode artifact for %s/%s", bucket, key)
	}

	artifactKey := ArtifactKey(name)
	if err := p.objects.Put(ctx, p.tagsBucket, artifactKey, encoded); err != nil {
		return res, &WriteError{Bucket: p.tagsBucket, Key: artifactKey, Err: err}
	}

	res.Artifact = artifactKey
	res.Entities = len(mapping)
	log.Infow(sym.NE+" Extracted named entities",
		logger.FieldStage, StageExtract,
		logger.FieldBucket, bucket,
		logger.FieldKey, key,
		logger.FieldArtifact, artifactKey,
		logger.FieldCount, len(mapping),
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return res, nil
}

// Aggregate reads an artifact and merges its entities into the counter store.
// A batch with failed keys returns the Result alongside an error marked
// counter.ErrPartialMerge; keys that succeeded stay applied.
func (p *Pipeline) Aggregate(ctx context.Context, bucket, key string) (Result, error) {
	start := time.Now()
	log := logger.LoggerFromContext(ctx, p.logger)
	res := Result{Stage: StageAggregate, Bucket: bucket, Key: key, Artifact: key}

	body, err := p.objects.Get(ctx, bucket, key)
	if err != nil {
		return res, &FetchError{Bucket: bucket, Key: key, Err: err}
	}

	artifact, err := ParseArtifact(body)
	if err != nil {
		return res, &ParseError{Bucket: bucket, Key: key, Err: err}
	}

	batch := p.merger.Merge(ctx, artifact.Entities)
	res.Batch = &batch
	res.Entities = len(artifact.Entities)

	fields := []interface{}{
		logger.FieldStage, StageAggregate,
		logger.FieldBucket, bucket,
		logger.FieldKey, key,
		logger.FieldCount, len(artifact.Entities),
		"failed", len(batch.Failed),
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	}
	if !batch.OK() {
		log.Warnw("Aggregated with failures", append(fields, "failed_entities", batch.FailedEntities())...)
		return res, errors.Wrapf(batch.Err(), "aggregate %s/%s", bucket, key)
	}
	log.Infow(sym.NE+" Aggregated named entities", fields...)
	return res, nil
}
