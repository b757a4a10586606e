package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	syncapp "github.com/stacklok/record-sync/internal/app"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine and its HTTP API",
		Long: `Run the sync engine of the configured pipeline.

On first start, or after a resync request, the whole source is copied page by page.
Afterwards only records changed since the watermark are copied, every poll interval.
The HTTP API serves /health, /readiness, /version, /status, POST /resync and /metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v)
		},
	}

	cmd.Flags().String("address", "", "Address to listen on, overrides server.address")
	if err := v.BindPFlag("address", cmd.Flags().Lookup("address")); err != nil {
		panic(err)
	}
	return cmd
}

func runServe(parent context.Context, v *viper.Viper) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}

	opts := []syncapp.SyncAppOptions{syncapp.WithConfig(cfg)}
	if address := v.GetString("address"); address != "" {
		opts = append(opts, syncapp.WithAddress(address))
	}

	app, err := syncapp.NewSyncApp(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create sync app: %w", err)
	}
	defer app.Close()

	return app.Run(ctx)
}
