package app

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/record-sync/database"
)

func newMigrateDownCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Revert database migrations",
		Long: `Revert database migrations.
WARNING: reverting the first migration drops the record and sync state tables.

Examples:
  # Revert the last migration
  record-sync migrate down --config config.yaml --num-steps 1 --yes

  # Revert every migration
  record-sync migrate down --config config.yaml --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			numSteps, err := cmd.Flags().GetUint("num-steps")
			if err != nil {
				return fmt.Errorf("failed to get num-steps flag: %w", err)
			}
			yes, err := cmd.Flags().GetBool("yes")
			if err != nil {
				return fmt.Errorf("failed to get yes flag: %w", err)
			}

			m, err := openMigrator(v)
			if err != nil {
				return err
			}
			defer closeMigrator(m)

			if !yes {
				prompt := "WARNING: This will revert ALL migrations and drop every table. Continue?"
				if numSteps > 0 {
					prompt = fmt.Sprintf("WARNING: This will revert %d migration(s) and may result in data loss. Continue?", numSteps)
				}
				ok, err := confirm(cmd, prompt)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("migration cancelled by user")
				}
			}

			if numSteps == 0 {
				slog.Warn("Reverting every migration")
			} else {
				slog.Info("Reverting migrations", "steps", numSteps)
			}
			if err := database.Down(m, numSteps); err != nil {
				return err
			}

			if numSteps == 0 {
				slog.Info("Database schema has been removed")
				return nil
			}
			logMigrationVersion(m)
			return nil
		},
	}
}
