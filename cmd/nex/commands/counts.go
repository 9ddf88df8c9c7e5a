package commands

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/nex/counter"
	"github.com/teranos/nex/display"
	"github.com/teranos/nex/errors"
	"github.com/teranos/nex/logger"
)

// CountsCmd reads the entity counters
var CountsCmd = &cobra.Command{
	Use:   "counts",
	Short: "Read entity counters",
	Long: `Read the per-entity counters the aggregate stage maintains.

Examples:
  nex counts ls                 # Top 20 entities
  nex counts ls --limit 100
  nex counts get Apple`,
}

var countsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List counters, highest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withCounters(func(ctx context.Context, store counter.Store) error {
			entries, err := store.List(ctx, limit)
			if err != nil {
				return err
			}
			if display.ShouldOutputJSON(cmd) {
				return display.OutputJSON(entries)
			}
			if len(entries) == 0 {
				pterm.Info.Println("No counters yet")
				return nil
			}
			rows := [][]string{{"Entity", "Count"}}
			for _, e := range entries {
				rows = append(rows, []string{e.Entity, fmt.Sprint(e.Count)})
			}
			return pterm.DefaultTable.WithHasHeader().WithRightAlignment().WithData(rows).Render()
		})
	},
}

var countsGetCmd = &cobra.Command{
	Use:   "get <entity>",
	Short: "Show one entity's counter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCounters(func(ctx context.Context, store counter.Store) error {
			entry, err := store.Get(ctx, args[0])
			if counter.IsAbsent(err) {
				return errors.WithHint(err, "entity names are case-sensitive")
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%d\n", entry.Entity, entry.Count)
			return nil
		})
	},
}

func init() {
	countsLsCmd.Flags().Int("limit", 20, "Maximum counters to list")
	countsLsCmd.Flags().Bool("json", false, "Print counters as JSON")
	CountsCmd.AddCommand(countsLsCmd)
	CountsCmd.AddCommand(countsGetCmd)
}

// withCounters opens the configured counter store for the duration of fn.
func withCounters(fn func(ctx context.Context, store counter.Store) error) error {
	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	store, closeStore, err := counter.Open(ctx, cfg.Counter, cfg.ObjectStore.Region, database, logger.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to open counter store")
	}
	defer closeStore()
	return fn(ctx, store)
}
