package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/reciperank/internal/backup"
	"github.com/dukerupert/reciperank/internal/config"
	"github.com/dukerupert/reciperank/internal/database"
	"github.com/dukerupert/reciperank/internal/logging"
	"github.com/dukerupert/reciperank/internal/upload"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the database to object storage and prune expired snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackupManager(cmd, func(m *backup.Manager, logger *slog.Logger) error {
				key, err := m.Run(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)

				n, err := m.Prune(cmd.Context())
				if err != nil {
					return err
				}
				if n > 0 {
					logger.Info("pruned expired backups", "count", n)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackupManager(cmd, func(m *backup.Manager, _ *slog.Logger) error {
				objects, err := m.List(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "KEY\tSIZE\tCREATED")
				for _, o := range objects {
					fmt.Fprintf(tw, "%s\t%d\t%s\n", o.Key, o.Size, o.LastModified.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore KEY DEST",
		Short: "Download, decrypt and verify a snapshot into a new database file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackupManager(cmd, func(m *backup.Manager, _ *slog.Logger) error {
				return m.Restore(cmd.Context(), args[0], args[1])
			})
		},
	})

	return cmd
}

func withBackupManager(cmd *cobra.Command, fn func(*backup.Manager, *slog.Logger) error) error {
	cfg, err := config.Load(envFile(cmd))
	if err != nil {
		return err
	}
	if !cfg.S3.Enabled() {
		return errors.New("backups need S3_BUCKET, S3_ACCESS_KEY and S3_SECRET_KEY")
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat).With("component", "backup")

	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	client := upload.NewS3Client(upload.Config{
		Endpoint:  cfg.S3.Endpoint,
		Region:    cfg.S3.Region,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
	})
	m := backup.NewManager(db, client, backup.Config{
		Bucket:     cfg.S3.Bucket,
		Prefix:     cfg.Backup.Prefix,
		Passphrase: cfg.Backup.Passphrase,
		Retention:  time.Duration(cfg.Backup.RetentionDays) * 24 * time.Hour,
	}, logger)
	return fn(m, logger)
}
