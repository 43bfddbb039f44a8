package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/reciperank/internal/config"
	"github.com/dukerupert/reciperank/internal/database"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and print the schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile(cmd))
			if err != nil {
				return err
			}

			// Open migrates on connect.
			db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer db.Close()

			v, err := db.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema at version %d\n", db.Driver, v)
			return nil
		},
	}
}
