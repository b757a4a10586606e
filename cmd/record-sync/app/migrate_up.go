package app

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/record-sync/database"
)

func newMigrateUpCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending database migrations",
		Long: `Apply all pending database migrations to bring the schema up to date.
The connection parameters are read from the database section of the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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
				ok, err := confirm(cmd, "Apply pending migrations?")
				if err != nil {
					return err
				}
				if !ok {
					slog.Info("Migration cancelled by user")
					return nil
				}
			}

			slog.Info("Applying database migrations")
			if err := database.Up(m); err != nil {
				return err
			}
			logMigrationVersion(m)
			return nil
		},
	}
}
