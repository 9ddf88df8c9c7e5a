package commands

import (
	"context"
	"database/sql"

	"go.opentelemetry.io/otel/metric"

	"github.com/teranos/nex/am"
	"github.com/teranos/nex/counter"
	"github.com/teranos/nex/db"
	"github.com/teranos/nex/errors"
	"github.com/teranos/nex/ixgest/entities"
	"github.com/teranos/nex/logger"
	"github.com/teranos/nex/objstore"
)

// loadConfig loads and validates the configuration.
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithHint(errors.Wrap(err, "invalid configuration"), "run 'nex am validate' for details")
	}
	return cfg, nil
}

// openDatabase opens and migrates the configured SQLite database.
// DB_PATH overrides the configuration.
func openDatabase() (*sql.DB, error) {
	dbPath, err := am.GetDatabasePath()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get database path")
	}
	if dbPath == "" {
		dbPath = am.DefaultDatabasePath
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, nil
}

// deps bundles the components one command invocation needs.
type deps struct {
	cfg        *am.Config
	db         *sql.DB
	objects    objstore.Store
	counters   counter.Store
	aggregator *counter.Aggregator
	pipeline   *entities.Pipeline

	closeCounters func()
}

// openDeps wires config, database, object store, counter store and the
// pipeline. meterProvider may be nil.
func openDeps(ctx context.Context, meterProvider metric.MeterProvider) (*deps, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	database, err := openDatabase()
	if err != nil {
		return nil, err
	}

	rt := &deps{cfg: cfg, db: database, closeCounters: func() {}}

	rt.objects, err = objstore.Open(ctx, cfg.ObjectStore)
	if err != nil {
		rt.Close()
		return nil, errors.Wrap(err, "failed to open object store")
	}

	rt.counters, rt.closeCounters, err = counter.Open(ctx, cfg.Counter, cfg.ObjectStore.Region, database, logger.Logger)
	if err != nil {
		rt.Close()
		return nil, errors.Wrap(err, "failed to open counter store")
	}

	opts := []counter.Option{
		counter.WithConcurrency(cfg.Counter.Concurrency),
		counter.WithMaxAttempts(cfg.Counter.MaxAttempts),
	}
	if meterProvider != nil {
		metrics, err := counter.NewMetrics(meterProvider)
		if err != nil {
			rt.Close()
			return nil, err
		}
		opts = append(opts, counter.WithMetrics(metrics))
	}
	rt.aggregator = counter.NewAggregator(rt.counters, logger.Logger, opts...)
	rt.pipeline = entities.NewPipeline(rt.objects, rt.aggregator, cfg.Buckets.Tags, logger.Logger)
	return rt, nil
}

// Close releases the counter backend and the database.
func (rt *deps) Close() {
	if rt.closeCounters != nil {
		rt.closeCounters()
	}
	if rt.db != nil {
		rt.db.Close()
	}
}
