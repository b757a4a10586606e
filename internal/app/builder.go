package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/record-sync/internal/api"
	"github.com/stacklok/record-sync/internal/app/storage"
	"github.com/stacklok/record-sync/internal/config"
	pkgsync "github.com/stacklok/record-sync/internal/sync"
	"github.com/stacklok/record-sync/internal/sync/coordinator"
	"github.com/stacklok/record-sync/internal/sync/writer"
	"github.com/stacklok/record-sync/internal/telemetry"
)

const (
	defaultRequestTimeout  = 10 * time.Second
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
)

// SyncAppOptions is a function that configures the sync app builder
type SyncAppOptions func(*syncAppConfig) error

// syncAppConfig collects the builder inputs. Overrides are primarily for testing.
type syncAppConfig struct {
	config *config.Config

	storageFactory storage.Factory
	telemetry      *telemetry.Telemetry
	logger         *slog.Logger

	// HTTP server options
	address         string
	middlewares     []func(http.Handler) http.Handler
	requestTimeout  time.Duration
	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration

	coordinatorOpts []coordinator.Option
}

func baseConfig(opts ...SyncAppOptions) (*syncAppConfig, error) {
	cfg := &syncAppConfig{
		requestTimeout:  defaultRequestTimeout,
		readTimeout:     defaultReadTimeout,
		writeTimeout:    defaultWriteTimeout,
		idleTimeout:     defaultIdleTimeout,
		shutdownTimeout: defaultShutdownTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.address == "" {
		cfg.address = cfg.config.Server.GetAddress()
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	return cfg, nil
}

// NewSyncApp wires the stores, the state service, the coordinator and the HTTP
// server of the configured pipeline
func NewSyncApp(ctx context.Context, opts ...SyncAppOptions) (*SyncApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	ownsTelemetry := cfg.telemetry == nil
	if ownsTelemetry {
		cfg.telemetry, err = telemetry.New(ctx,
			telemetry.WithTelemetryConfig(cfg.config.Telemetry),
			telemetry.WithPipeline(cfg.config.GetName()))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}

	if cfg.storageFactory == nil {
		cfg.storageFactory, err = storage.NewStorageFactory(cfg.config)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage factory: %w", err)
		}
	}

	cleanup := func() {
		cfg.storageFactory.Cleanup()
		if ownsTelemetry {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.shutdownTimeout)
			defer cancel()
			if err := cfg.telemetry.Shutdown(shutdownCtx); err != nil {
				slog.Error("Failed to shut down telemetry", "error", err)
			}
		}
	}

	// Ensure cleanup happens on error
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			cleanup()
		}
	}()

	components, err := buildSyncComponents(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync components: %w", err)
	}

	var httpServer *http.Server
	if !cfg.config.Server.Disabled {
		httpServer, err = buildHTTPServer(cfg, components)
		if err != nil {
			return nil, fmt.Errorf("failed to build HTTP server: %w", err)
		}
	}

	cleanupNeeded = false
	return &SyncApp{
		config:          cfg.config,
		components:      components,
		httpServer:      httpServer,
		shutdownTimeout: cfg.shutdownTimeout,
		cleanup:         cleanup,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address, overriding server.address
func WithAddress(addr string) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, err := net.SplitHostPort(addr)
		if err != nil || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}
		if host != "" && host != "localhost" {
			if _, err := netip.ParseAddr(host); err != nil {
				return fmt.Errorf("address host is not an IP address: %w", err)
			}
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares replaces the default HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithStorageFactory allows injecting a custom storage factory (for testing)
func WithStorageFactory(f storage.Factory) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.storageFactory = f
		return nil
	}
}

// WithTelemetry uses already initialized telemetry providers. The caller keeps
// ownership and shuts them down.
func WithTelemetry(t *telemetry.Telemetry) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.telemetry = t
		return nil
	}
}

// WithEventLogger sets the logger receiving target write events
func WithEventLogger(l *slog.Logger) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.logger = l
		return nil
	}
}

// WithCoordinatorOptions passes extra options to the coordinator
func WithCoordinatorOptions(opts ...coordinator.Option) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.coordinatorOpts = append(cfg.coordinatorOpts, opts...)
		return nil
	}
}

// WithShutdownTimeout bounds the graceful HTTP shutdown
func WithShutdownTimeout(d time.Duration) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		if d <= 0 {
			return fmt.Errorf("shutdown timeout must be positive")
		}
		cfg.shutdownTimeout = d
		return nil
	}
}

// buildSyncComponents opens the stores and the state service and creates the coordinator
func buildSyncComponents(ctx context.Context, b *syncAppConfig) (*AppComponents, error) {
	slog.Info("Initializing sync components", "pipeline", b.config.GetName())

	source, err := b.storageFactory.CreateSource(ctx)
	if err != nil {
		return nil, err
	}
	target, err := b.storageFactory.CreateTarget(ctx)
	if err != nil {
		return nil, err
	}
	target = writer.NewTarget(b.config, target, b.logger)

	stateService, err := b.storageFactory.CreateStateService(ctx)
	if err != nil {
		return nil, err
	}

	syncMetrics, err := telemetry.NewSyncMetrics(b.telemetry.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}

	coordOpts := []coordinator.Option{
		coordinator.WithSyncMetrics(syncMetrics),
		coordinator.WithTracer(b.telemetry.Tracer(pkgsync.TracerName)),
	}
	coordOpts = append(coordOpts, b.coordinatorOpts...)

	syncCoordinator := coordinator.New(source, target, stateService, b.config, coordOpts...)
	slog.Info("Sync components initialized successfully",
		"source", b.config.Source.GetType(),
		"target", b.config.Target.GetType(),
		"state", b.config.State.GetType(),
		"events", b.config.Target.EmitEvents)

	return &AppComponents{
		Coordinator:  syncCoordinator,
		Source:       source,
		Target:       target,
		StateService: stateService,
	}, nil
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(b *syncAppConfig, components *AppComponents) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	// Instrumentation wraps everything else so rejected requests are recorded too
	instrument, err := telemetry.HTTPMiddleware(b.telemetry.TracerProvider(), b.telemetry.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP instrumentation: %w", err)
	}
	middlewares := append([]func(http.Handler) http.Handler{instrument}, b.middlewares...)

	router := api.NewServer(
		b.config.GetName(),
		components.Coordinator,
		components.StateService,
		api.WithMiddlewares(middlewares...),
		api.WithMetricsHandler(b.telemetry.MetricsHandler()),
	)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
