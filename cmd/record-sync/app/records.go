package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/record-sync/internal/app/storage"
	"github.com/stacklok/record-sync/internal/config"
	"github.com/stacklok/record-sync/internal/seed"
)

// withSource opens the configured source store, runs fn and releases the store.
// Memory sources are rejected: their records would vanish when the command exits.
func withSource(ctx context.Context, v *viper.Viper, fn func(context.Context, storage.SourceStore) error) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	if cfg.Source.GetType() == config.StoreTypeMemory {
		return fmt.Errorf("the source store is in memory, use source.seed or a postgres or sqlite source")
	}

	factory, err := storage.NewStorageFactory(cfg)
	if err != nil {
		return err
	}
	defer factory.Cleanup()

	src, err := factory.CreateSource(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, src)
}

func newSeedCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert demo records into the source store",
		Long: `Insert demo records into the source store. The first three are the GE, Exxon and
Google fixtures; any further records are generated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			count, err := cmd.Flags().GetInt("count")
			if err != nil {
				return fmt.Errorf("failed to get count flag: %w", err)
			}
			if count < 1 {
				return fmt.Errorf("count must be positive, got %d", count)
			}

			return withSource(cmd.Context(), v, func(ctx context.Context, src storage.SourceStore) error {
				recs, err := seed.Load(ctx, src, count)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "inserted %d records, ids %s..%s\n",
					len(recs), recs[0].ID, recs[len(recs)-1].ID)
				return err
			})
		},
	}
	cmd.Flags().IntP("count", "n", len(seed.Demo()), "Number of records to insert")
	return cmd
}

func newTouchCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "touch NAME",
		Short: "Change the owner of a source record so the next delta sync picks it up",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSource(cmd.Context(), v, func(ctx context.Context, src storage.SourceStore) error {
				n, err := seed.Touch(ctx, src, args[0])
				if err != nil {
					return err
				}
				slog.InfoContext(ctx, "Touched source records", "name", args[0], "count", n, "owner", seed.TouchedOwner)
				return nil
			})
		},
	}
}

func newInspectCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect NAME",
		Short: "Print the source record with the given name as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSource(cmd.Context(), v, func(ctx context.Context, src storage.SourceStore) error {
				rec, err := src.FindOne(ctx, seed.NameField, args[0])
				if err != nil {
					return fmt.Errorf("failed to find %q: %w", args[0], err)
				}
				return printJSON(cmd, rec)
			})
		},
	}
}
