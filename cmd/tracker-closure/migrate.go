package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/tracker-closure/pkg/database"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the run history schema",
	}

	var dir string
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logr, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logr.Sync() //nolint:errcheck

			db, err := database.NewPostgres(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			count, err := database.MigrateUp(cmd.Context(), db, dir)
			if err != nil {
				return err
			}
			logr.Info("migrations applied", zap.Int("count", count), zap.String("dir", dir))
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", count)
			return nil
		},
	}
	up.Flags().StringVar(&dir, "dir", "db/migrations", "directory holding NNNN_name.up.sql files")

	cmd.AddCommand(up)
	return cmd
}
