// Package app provides application lifecycle management for the sync engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/record-sync/internal/config"
)

// SyncApp encapsulates all components needed to run one sync pipeline and its
// operational HTTP API
type SyncApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server

	shutdownTimeout time.Duration
	cleanup         func()
}

// Run starts the coordinator and the HTTP server and blocks until ctx is
// cancelled or one of them fails. Both are stopped before Run returns.
func (app *SyncApp) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.components.Coordinator.Start(gctx); err != nil {
			return fmt.Errorf("sync coordinator failed: %w", err)
		}
		return nil
	})

	if app.httpServer != nil {
		g.Go(func() error {
			slog.Info("Server listening", "address", app.httpServer.Addr)
			if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return app.shutdownHTTP(context.WithoutCancel(ctx))
		})
	}

	err := g.Wait()
	if stopErr := app.components.Coordinator.Stop(); stopErr != nil {
		slog.Error("Failed to stop sync coordinator", "error", stopErr)
	}
	return err
}

func (app *SyncApp) shutdownHTTP(ctx context.Context) error {
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, app.shutdownTimeout)
	defer cancel()

	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server shutdown complete")
	return nil
}

// Close releases the stores, the state backend and the telemetry providers.
// It must be called once Run has returned.
func (app *SyncApp) Close() {
	if app.cleanup != nil {
		app.cleanup()
		app.cleanup = nil
	}
}

// GetConfig returns the application configuration
func (app *SyncApp) GetConfig() *config.Config {
	return app.config
}

// GetComponents returns the wired components
func (app *SyncApp) GetComponents() *AppComponents {
	return app.components
}

// GetHTTPServer returns the HTTP server, or nil when the API is disabled
func (app *SyncApp) GetHTTPServer() *http.Server {
	return app.httpServer
}
