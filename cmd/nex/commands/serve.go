package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/teranos/nex/am"
	"github.com/teranos/nex/errors"
	"github.com/teranos/nex/ixgest/entities"
	"github.com/teranos/nex/ixgest/trigger"
	"github.com/teranos/nex/logger"
	"github.com/teranos/nex/objstore"
	"github.com/teranos/nex/pulse/async"
	"github.com/teranos/nex/sym"
)

// ServeCmd watches the buckets and runs the async workers
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: sym.Pulse + " Watch buckets and process ingestion jobs",
	Long: sym.Pulse + ` serve — run the ingestion pipeline until interrupted.

Writes to the source bucket trigger extract; writes to the tags bucket
trigger aggregate. In async mode each notification becomes a job on the
queue and the worker pool runs it; in direct mode the stage runs inline.

Bucket watching needs the fs object store backend. With s3, deliver
bucket events with 'nex ix event' instead.

Edits to the project am.toml are picked up live for counter concurrency.

Examples:
  nex serve                      # Use configured mode and workers
  nex serve --workers 4          # Four concurrent workers
  nex serve --mode direct        # Run stages inline, no queue`,
	RunE: runServe,
}

func init() {
	ServeCmd.Flags().Int("workers", 0, "Number of concurrent workers (default from config)")
	ServeCmd.Flags().String("mode", "", "Dispatch mode: async or direct (default from config)")
	ServeCmd.Flags().Duration("retention", 7*24*time.Hour, "Delete finished jobs older than this (0 keeps them)")
}

// cleanupInterval is how often serve prunes finished jobs.
const cleanupInterval = time.Hour

// pruneJobs deletes finished jobs older than retention until ctx is done.
func pruneJobs(ctx context.Context, queue *async.Queue, retention time.Duration) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	log := logger.ComponentLogger("serve")
	for {
		n, err := queue.Cleanup(ctx, retention)
		if err != nil && ctx.Err() == nil {
			log.Warnw("Job cleanup failed", logger.FieldError, err)
		} else if n > 0 {
			log.Infow(sym.Pulse+" Pruned finished jobs", logger.FieldCount, n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	d, err := openDeps(ctx, provider)
	if err != nil {
		return err
	}
	defer d.Close()

	pulseCfg := d.cfg.Pulse
	if cmd.Flags().Changed("workers") {
		pulseCfg.Workers, _ = cmd.Flags().GetInt("workers")
	}
	if cmd.Flags().Changed("mode") {
		pulseCfg.Mode, _ = cmd.Flags().GetString("mode")
	}
	if pulseCfg.Mode == "" {
		pulseCfg.Mode = am.ModeAsync
	}

	log := logger.ComponentLogger("serve")

	var pool *async.WorkerPool
	var queue trigger.Enqueuer
	if pulseCfg.Mode == am.ModeAsync {
		registry := async.NewHandlerRegistry()
		entities.RegisterHandlers(registry, d.pipeline, logger.Logger)
		pool = async.NewWorkerPool(ctx, d.db, async.PoolConfigFrom(pulseCfg), logger.Logger, registry)
		queue = pool.GetQueue()
	}

	router, err := trigger.NewRouter(d.cfg.Buckets, pulseCfg.Mode, d.pipeline, queue, logger.Logger)
	if err != nil {
		return err
	}

	var watcher *objstore.Watcher
	if fs, ok := d.objects.(*objstore.FSStore); ok {
		buckets := []string{d.cfg.Buckets.Source, d.cfg.Buckets.Tags}
		watcher, err = objstore.NewWatcher(fs, buckets, func(n objstore.Notification) {
			if _, err := router.Dispatch(ctx, n); err != nil {
				log.Warnw("Notification not handled",
					logger.FieldBucket, n.Bucket,
					logger.FieldKey, n.Key,
					logger.FieldError, err)
			}
		}, logger.Logger)
		if err != nil {
			return errors.Wrap(err, "failed to watch buckets")
		}
	} else {
		pterm.Warning.Printfln("Object store %q cannot be watched; feed bucket events with 'nex ix event'", d.cfg.ObjectStore.Backend)
	}

	var cfgWatcher *am.ConfigWatcher
	if path := am.FindProjectConfig(); path != "" {
		cfgWatcher, err = am.NewConfigWatcher(path, logger.Logger)
		if err != nil {
			log.Warnw("Config hot reload disabled", logger.FieldFile, path, logger.FieldError, err)
		} else {
			cfgWatcher.OnReload(func(next *am.Config) error {
				d.aggregator.SetConcurrency(next.Counter.Concurrency)
				return nil
			})
		}
	}

	if pool != nil {
		pool.Start()
		if retention, _ := cmd.Flags().GetDuration("retention"); retention > 0 {
			go pruneJobs(ctx, pool.GetQueue(), retention)
		}
	}
	if watcher != nil {
		watcher.Start()
	}
	if cfgWatcher != nil {
		cfgWatcher.Start()
	}

	fmt.Printf("%s nex serving\n", sym.Pulse)
	fmt.Printf("  Mode: %s\n", router.Mode())
	if pool != nil {
		fmt.Printf("  Workers: %d\n", pool.Workers())
	}
	fmt.Printf("  Source bucket: %s\n", d.cfg.Buckets.Source)
	fmt.Printf("  Tags bucket: %s\n", d.cfg.Buckets.Tags)
	if fs, ok := d.objects.(*objstore.FSStore); ok {
		fmt.Printf("  Bucket root: %s\n", fs.Root())
	}
	fmt.Printf("  Counter backend: %s\n", d.cfg.Counter.Backend)
	fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Pulse)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	pterm.Info.Println("Shutting down gracefully...")

	// Stop producers before the workers that drain them.
	if cfgWatcher != nil {
		if err := cfgWatcher.Stop(); err != nil {
			log.Warnw("Config watcher stop failed", logger.FieldError, err)
		}
	}
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			log.Warnw("Bucket watcher stop failed", logger.FieldError, err)
		}
	}
	if pool != nil {
		pool.Stop()
	}
	cancel()

	printMetricsSummary(reader)
	pterm.Success.Println("nex stopped")
	return nil
}

// printMetricsSummary prints the counter totals collected during the run.
func printMetricsSummary(reader *sdkmetric.ManualReader) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return
	}

	rows := [][]string{{"Metric", "Attributes", "Value"}}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				var attrs []string
				for _, kv := range dp.Attributes.ToSlice() {
					attrs = append(attrs, fmt.Sprintf("%s=%s", kv.Key, kv.Value.Emit()))
				}
				sort.Strings(attrs)
				rows = append(rows, []string{m.Name, fmt.Sprint(attrs), fmt.Sprint(dp.Value)})
			}
		}
	}
	if len(rows) == 1 {
		return
	}
	pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
