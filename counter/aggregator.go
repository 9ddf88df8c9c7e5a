package counter

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/nex/errors"
	"github.com/teranos/nex/logger"
)

const (
	// DefaultConcurrency bounds the keys merged at once within one batch.
	DefaultConcurrency = 8

	// DefaultMaxAttempts bounds the increment/initialize round trips per key.
	DefaultMaxAttempts = 4
)

// ErrPartialMerge marks a batch where at least one key could not be merged.
// Keys that succeeded stay applied.
var ErrPartialMerge = errors.New("partial merge")

// KeyFailure describes one key that could not be merged.
type KeyFailure struct {
	Entity string `json:"entity"`
	Kind   Kind   `json:"-"`
	Code   string `json:"code"`
	Err    error  `json:"-"`
}

// BatchResult is the outcome of one Merge call, per key.
type BatchResult struct {
	// Merged lists keys added to an existing counter.
	Merged []string `json:"merged"`
	// Initialized lists keys whose counter was created by this merge.
	Initialized []string `json:"initialized"`
	// Failed lists keys that were not applied.
	Failed []KeyFailure `json:"failed,omitempty"`
}

// OK reports whether every key was applied.
func (r BatchResult) OK() bool { return len(r.Failed) == 0 }

// Applied returns how many keys were applied.
func (r BatchResult) Applied() int { return len(r.Merged) + len(r.Initialized) }

// FailedEntities returns the names of the keys that were not applied.
func (r BatchResult) FailedEntities() []string {
	names := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		names = append(names, f.Entity)
	}
	return names
}

// Err joins every key failure into one error marked ErrPartialMerge.
// Returns nil when the batch is OK.
func (r BatchResult) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, f.Err)
	}
	err := errors.Mark(errors.Join(errs...), ErrPartialMerge)
	err = errors.Wrapf(err, "%d of %d entities failed to merge", len(r.Failed), len(r.Failed)+r.Applied())
	return errors.WithDetailf(err, "failed entities: %s", strings.Join(r.FailedEntities(), ", "))
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithConcurrency sets how many keys merge at once. Values below 1 mean 1.
func WithConcurrency(n int) Option {
	return func(a *Aggregator) { a.SetConcurrency(n) }
}

// WithMaxAttempts bounds the increment/initialize round trips per key.
func WithMaxAttempts(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// WithMetrics records merge outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(a *Aggregator) {
		if m != nil {
			a.metrics = m
		}
	}
}

// Aggregator merges extraction results into a Store.
//
// Per key it first tries the atomic IncrementIfExists. Only a KindAbsent
// failure falls back to Initialize, and an Initialize that loses a race
// (KindExists) goes back to the increment. Any other failure is reported for
// that key and never falls back. Keys are independent: one failure does not
// stop or roll back the others.
type Aggregator struct {
	store       Store
	logger      *zap.SugaredLogger
	metrics     *Metrics
	maxAttempts int
	concurrency atomic.Int64
}

// NewAggregator creates an Aggregator on store.
func NewAggregator(store Store, log *zap.SugaredLogger, opts ...Option) *Aggregator {
	if log == nil {
		log = logger.Logger
	}
	a := &Aggregator{
		store:       store,
		logger:      log,
		metrics:     noopMetrics(),
		maxAttempts: DefaultMaxAttempts,
	}
	a.concurrency.Store(DefaultConcurrency)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetConcurrency changes the per-batch key concurrency. Safe to call while
// merges run; it applies to the next Merge.
func (a *Aggregator) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	a.concurrency.Store(int64(n))
}

// Concurrency returns the current per-batch key concurrency.
func (a *Aggregator) Concurrency() int { return int(a.concurrency.Load()) }

// Merge applies every key of mapping to the store. It never stops early:
// each key ends up in exactly one of the result's lists.
func (a *Aggregator) Merge(ctx context.Context, mapping map[string]int64) BatchResult {
	started := time.Now()
	log := logger.LoggerFromContext(ctx, a.logger)

	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		mu     sync.Mutex
		result BatchResult
	)

	// Plain errgroup without WithContext: key goroutines never return an
	// error, so a failing key cannot cancel its siblings.
	var g errgroup.Group
	g.SetLimit(a.Concurrency())

	for _, key := range keys {
		entity, delta := key, mapping[key]
		g.Go(func() error {
			outcome, err := a.mergeKey(ctx, entity, delta)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				kind := KindOf(err)
				result.Failed = append(result.Failed, KeyFailure{
					Entity: entity,
					Kind:   kind,
					Code:   kind.Code(),
					Err:    err,
				})
				a.metrics.recordFailure(ctx, kind)
				log.Warnw("Entity merge failed",
					logger.FieldEntity, entity,
					logger.FieldDelta, delta,
					logger.FieldErrorCode, kind.Code(),
					logger.FieldError, err)
			case outcome == OutcomeInitialize:
				result.Initialized = append(result.Initialized, entity)
				a.metrics.recordOutcome(ctx, outcome)
			default:
				result.Merged = append(result.Merged, entity)
				a.metrics.recordOutcome(ctx, outcome)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(result.Merged)
	sort.Strings(result.Initialized)
	sort.Slice(result.Failed, func(i, j int) bool { return result.Failed[i].Entity < result.Failed[j].Entity })

	a.metrics.recordBatch(ctx, started, !result.OK())
	log.Debugw("Merged batch",
		logger.FieldCount, len(keys),
		"merged", len(result.Merged),
		"initialized", len(result.Initialized),
		"failed", len(result.Failed),
		logger.FieldDurationMS, time.Since(started).Milliseconds())

	return result
}

// mergeKey runs the increment-or-initialize loop for one key and returns the
// outcome that applied it.
func (a *Aggregator) mergeKey(ctx context.Context, entity string, delta int64) (string, error) {
	if err := validateWrite(entity, OpMerge, delta); err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		err := a.store.IncrementIfExists(ctx, entity, delta)
		if err == nil {
			return OutcomeIncrement, nil
		}
		if !IsAbsent(err) {
			return "", err
		}

		a.metrics.Fallbacks.Add(ctx, 1)
		err = a.store.Initialize(ctx, entity, delta)
		if err == nil {
			return OutcomeInitialize, nil
		}
		if !IsExists(err) {
			return "", err
		}

		// Another writer created the counter between our two calls.
		lastErr = err
		logger.LoggerFromContext(ctx, a.logger).Debugw("Initialize lost race, retrying increment",
			logger.FieldEntity, entity,
			logger.FieldAttempt, attempt)
	}

	return "", &StoreError{
		Entity: entity,
		Op:     OpMerge,
		Kind:   KindContended,
		Err:    errors.Wrapf(lastErr, "gave up after %d attempts", a.maxAttempts),
	}
}
