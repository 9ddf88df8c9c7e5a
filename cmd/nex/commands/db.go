package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/nex/db"
	"github.com/teranos/nex/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the nex database",
	Long: sym.DB + ` db — Manage the local SQLite database

The database holds the async job queue and, with the sqlite counter
backend, the entity counters.

Examples:
  nex db migrate                  # Apply pending migrations
  nex db migrations               # List embedded migrations`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()
		pterm.Success.Println("Database is up to date")
		return nil
	},
}

var dbMigrationsCmd = &cobra.Command{
	Use:   "migrations",
	Short: "List embedded migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := db.MigrationFiles()
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Println(f)
		}
		return nil
	},
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbMigrationsCmd)
}
