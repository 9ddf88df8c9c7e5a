package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/nex/am"
	"github.com/teranos/nex/cmd/nex/commands"
	"github.com/teranos/nex/logger"
)

var rootCmd = &cobra.Command{
	Use:   "nex",
	Short: "nex - named-entity ingestion and counting",
	Long: `nex - named-entity ingestion and counting.

Text files land in the source bucket. The extract stage pulls capitalized
words out of each file and writes a small JSON artifact to the tags bucket.
The aggregate stage folds each artifact into durable per-entity counters.

Available commands:
  serve   - Watch buckets and run the async workers
  ix      - Run stages by hand and manage ingestion jobs
  upload  - Bulk-load a directory into the source bucket
  counts  - Read entity counters
  am      - Show and validate configuration ("I am")
  db      - Manage the local database
  version - Show build information

Examples:
  nex upload ./tech               # Load every file in ./tech
  nex serve --workers 4           # Watch buckets and process jobs
  nex counts ls --limit 20        # Top 20 entities
  nex ix ls --status failed       # Jobs that failed`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if !jsonLogs {
			// A broken config is reported by the command itself.
			if cfg, err := am.Load(); err == nil {
				jsonLogs = cfg.Log.JSON
			}
		}
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger.Logger.Debugw("Logger initialized", "level", logger.LevelName(verbosity), "json", jsonLogs)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit JSON logs")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.IxCmd)
	rootCmd.AddCommand(commands.UploadCmd)
	rootCmd.AddCommand(commands.CountsCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
