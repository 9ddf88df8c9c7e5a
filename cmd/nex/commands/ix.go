package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/nex/am"
	"github.com/teranos/nex/display"
	"github.com/teranos/nex/errors"
	"github.com/teranos/nex/ixgest/entities"
	"github.com/teranos/nex/ixgest/trigger"
	"github.com/teranos/nex/logger"
	"github.com/teranos/nex/pulse/async"
	"github.com/teranos/nex/sym"
)

// IxCmd groups the ingestion commands
var IxCmd = &cobra.Command{
	Use:   "ix",
	Short: sym.IX + " Run ingestion stages and manage jobs",
	Long: sym.IX + ` ix — named-entity ingestion

Run a stage by hand, feed bucket event payloads, and inspect the async
job queue.

Examples:
  nex ix extract report.txt                # Extract from the source bucket
  nex ix aggregate reportne.txt            # Merge an artifact into counters
  nex ix event < s3-event.json             # Route an S3 event payload
  nex ix ls --status failed                # List failed jobs
  nex ix retry <job-id>                    # Requeue a failed job`,
}

var ixExtractCmd = &cobra.Command{
	Use:   "extract <key>",
	Short: "Extract entities from one source object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStage(cmd, entities.StageExtract, args[0])
	},
}

var ixAggregateCmd = &cobra.Command{
	Use:   "aggregate <key>",
	Short: "Merge one artifact into the counters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStage(cmd, entities.StageAggregate, args[0])
	},
}

var ixEventCmd = &cobra.Command{
	Use:   "event [file]",
	Short: "Route an S3 bucket event payload",
	Long: `Read an S3 event notification (JSON) from a file or stdin and route
every record to its stage. Keys are URL-decoded the way S3 encodes them.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIxEvent,
}

var ixLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List ingestion jobs",
	RunE:  runIxLs,
}

var ixStatusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show queue totals or one job",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIxStatus,
}

var ixRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Requeue a failed or cancelled job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		job, err := async.NewQueue(database).Retry(args[0])
		if err != nil {
			return err
		}
		pterm.Success.Printfln("Requeued %s (%s %s)", job.ID, job.HandlerName, job.Source)
		return nil
	},
}

var ixCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		if err := async.NewQueue(database).CancelJob(args[0], reason); err != nil {
			return err
		}
		pterm.Success.Printfln("Cancelled %s", args[0])
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{ixExtractCmd, ixAggregateCmd} {
		c.Flags().String("bucket", "", "Bucket to read from (default from config)")
		c.Flags().Bool("json", false, "Print the result as JSON")
	}
	ixEventCmd.Flags().String("mode", "", "Dispatch mode: async or direct (default from config)")
	ixLsCmd.Flags().String("status", "", "Filter by status (queued, running, completed, failed, cancelled)")
	ixLsCmd.Flags().Int("limit", 20, "Maximum jobs to list")
	ixLsCmd.Flags().Bool("json", false, "Print jobs as JSON")
	ixCancelCmd.Flags().String("reason", "cancelled by user", "Reason recorded on the job")

	IxCmd.AddCommand(ixExtractCmd)
	IxCmd.AddCommand(ixAggregateCmd)
	IxCmd.AddCommand(ixEventCmd)
	IxCmd.AddCommand(ixLsCmd)
	IxCmd.AddCommand(ixStatusCmd)
	IxCmd.AddCommand(ixRetryCmd)
	IxCmd.AddCommand(ixCancelCmd)
}

func runStage(cmd *cobra.Command, stage entities.Stage, key string) error {
	ctx := context.Background()
	d, err := openDeps(ctx, nil)
	if err != nil {
		return err
	}
	defer d.Close()

	bucket, _ := cmd.Flags().GetString("bucket")
	if bucket == "" {
		bucket = d.cfg.Buckets.Source
		if stage == entities.StageAggregate {
			bucket = d.pipeline.TagsBucket()
		}
	}

	var res entities.Result
	if stage == entities.StageAggregate {
		res, err = d.pipeline.Aggregate(ctx, bucket, key)
	} else {
		res, err = d.pipeline.Extract(ctx, bucket, key)
	}

	if display.ShouldOutputJSON(cmd) {
		if jErr := display.OutputJSON(res); jErr != nil {
			return jErr
		}
		return err
	}

	printResult(res)
	return err
}

func printResult(res entities.Result) {
	switch res.Stage {
	case entities.StageExtract:
		if res.Artifact == "" {
			return
		}
		pterm.Success.Printfln("%s/%s: %d entities -> %s", res.Bucket, res.Key, res.Entities, res.Artifact)
	case entities.StageAggregate:
		if res.Batch == nil {
			return
		}
		if res.OK() {
			pterm.Success.Printfln("%s/%s: merged %d, initialized %d",
				res.Bucket, res.Key, len(res.Batch.Merged), len(res.Batch.Initialized))
			return
		}
		pterm.Warning.Printfln("%s/%s: applied %d, failed %d: %s",
			res.Bucket, res.Key, res.Batch.Applied(), len(res.Batch.Failed),
			strings.Join(res.FailedEntities(), ", "))
	}
}

func runIxEvent(cmd *cobra.Command, args []string) error {
	var body []byte
	var err error
	if len(args) == 1 && args[0] != "-" {
		body, err = os.ReadFile(args[0])
	} else {
		body, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return errors.Wrap(err, "failed to read event")
	}

	notifications, err := trigger.ParseEvent(body)
	if err != nil {
		return err
	}

	ctx := context.Background()
	d, err := openDeps(ctx, nil)
	if err != nil {
		return err
	}
	defer d.Close()

	mode := d.cfg.Pulse.Mode
	if m, _ := cmd.Flags().GetString("mode"); m != "" {
		mode = m
	}
	if mode == "" {
		mode = am.ModeAsync
	}

	var queue trigger.Enqueuer
	if mode == am.ModeAsync {
		queue = async.NewQueue(d.db)
	}
	router, err := trigger.NewRouter(d.cfg.Buckets, mode, d.pipeline, queue, logger.Logger)
	if err != nil {
		return err
	}

	dispatches, err := router.DispatchAll(ctx, notifications)
	for _, dp := range dispatches {
		switch {
		case dp.JobID != "":
			pterm.Info.Printfln("%s %s -> job %s", dp.Stage, dp.Notification, dp.JobID)
		case dp.Result != nil:
			printResult(*dp.Result)
		}
	}
	return err
}

func runIxLs(cmd *cobra.Command, args []string) error {
	statusFlag, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")

	var status *async.JobStatus
	if statusFlag != "" {
		if !async.IsValidStatus(statusFlag) {
			return errors.Newf("unknown status %q", statusFlag)
		}
		s := async.JobStatus(statusFlag)
		status = &s
	}

	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	jobs, err := async.NewQueue(database).ListJobs(status, limit)
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(jobs)
	}
	if len(jobs) == 0 {
		pterm.Info.Println("No jobs")
		return nil
	}

	rows := [][]string{{"ID", "Handler", "Source", "Status", "Retries", "Age", "Error"}}
	for _, j := range jobs {
		rows = append(rows, []string{
			j.ID,
			strings.TrimPrefix(j.HandlerName, "ixgest.entities."),
			j.Source,
			string(j.Status),
			fmt.Sprint(j.RetryCount),
			time.Since(j.CreatedAt).Truncate(time.Second).String(),
			truncate(j.Error, 60),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func runIxStatus(cmd *cobra.Command, args []string) error {
	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()
	queue := async.NewQueue(database)

	if len(args) == 1 {
		job, err := queue.GetJob(args[0])
		if err != nil {
			return err
		}
		return display.OutputJSON(job)
	}

	stats, err := queue.GetStats()
	if err != nil {
		return err
	}
	return pterm.DefaultTable.WithHasHeader().WithData([][]string{
		{"Queued", "Running", "Completed", "Failed", "Cancelled", "Total"},
		{
			fmt.Sprint(stats.Queued), fmt.Sprint(stats.Running), fmt.Sprint(stats.Completed),
			fmt.Sprint(stats.Failed), fmt.Sprint(stats.Cancelled), fmt.Sprint(stats.Total),
		},
	}).Render()
}

// truncate cuts s to at most n runes, ending in "..." when shortened.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
