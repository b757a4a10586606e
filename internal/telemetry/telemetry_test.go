package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/smithy-go/ptr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		config       *Config
		wantSDKTrace bool
		wantSDKMeter bool
		wantScrape   bool
		wantErr      string
	}{
		{
			name: "nil config",
		},
		{
			name:   "disabled",
			config: &Config{Enabled: false, Tracing: &TracingConfig{Enabled: true}},
		},
		{
			name: "enabled without signals",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: false},
				Metrics: &MetricsConfig{Enabled: false},
			},
		},
		{
			name: "tracing only",
			config: &Config{
				Enabled:  true,
				Insecure: true,
				Tracing:  &TracingConfig{Enabled: true, Sampling: ptr.Float64(1)},
			},
			wantSDKTrace: true,
		},
		{
			name: "otlp metrics are not scraped",
			config: &Config{
				Enabled:  true,
				Insecure: true,
				Metrics:  &MetricsConfig{Enabled: true, Exporter: MetricsExporterOTLP},
			},
			wantSDKMeter: true,
		},
		{
			name: "prometheus metrics",
			config: &Config{
				Enabled: true,
				Metrics: &MetricsConfig{Enabled: true, Exporter: MetricsExporterPrometheus},
			},
			wantSDKMeter: true,
			wantScrape:   true,
		},
		{
			name: "everything",
			config: &Config{
				Enabled:  true,
				Insecure: true,
				Tracing:  &TracingConfig{Enabled: true},
				Metrics:  &MetricsConfig{Enabled: true, Exporter: MetricsExporterBoth},
			},
			wantSDKTrace: true,
			wantSDKMeter: true,
			wantScrape:   true,
		},
		{
			name: "invalid sampling",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: ptr.Float64(1.5)},
			},
			wantErr: "invalid telemetry configuration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			tel, err := New(ctx, WithTelemetryConfig(tt.config), WithPipeline("orders"))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() { _ = tel.Shutdown(ctx) })

			if tt.wantSDKTrace {
				assert.IsType(t, &sdktrace.TracerProvider{}, tel.TracerProvider())
			} else {
				assert.IsType(t, tracenoop.TracerProvider{}, tel.TracerProvider())
			}
			if tt.wantSDKMeter {
				assert.IsType(t, &sdkmetric.MeterProvider{}, tel.MeterProvider())
			} else {
				assert.IsType(t, metricnoop.MeterProvider{}, tel.MeterProvider())
			}
			assert.Equal(t, tt.wantScrape, tel.MetricsHandler() != nil)
			assert.NotNil(t, tel.Tracer("test"))
		})
	}
}

func TestNew_PrometheusScrape(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	reg := prometheus.NewRegistry()
	tel, err := New(ctx,
		WithTelemetryConfig(&Config{
			Enabled: true,
			Metrics: &MetricsConfig{Enabled: true, Exporter: MetricsExporterPrometheus},
		}),
		WithPipeline("orders"),
		WithRegistry(reg),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(ctx) })

	metrics, err := NewSyncMetrics(tel.MeterProvider())
	require.NoError(t, err)
	metrics.RecordRetry(ctx, "orders")

	rr := httptest.NewRecorder()
	tel.MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `record_sync_retries_total{`)
	assert.Contains(t, string(body), `pipeline="orders"`)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestShutdown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("no-op telemetry", func(t *testing.T) {
		t.Parallel()
		tel, err := New(ctx)
		require.NoError(t, err)
		assert.NoError(t, tel.Shutdown(ctx))
	})

	t.Run("repeated shutdown", func(t *testing.T) {
		t.Parallel()
		tel, err := New(ctx, WithTelemetryConfig(&Config{
			Enabled: true,
			Metrics: &MetricsConfig{Enabled: true, Exporter: MetricsExporterPrometheus},
		}))
		require.NoError(t, err)
		require.NoError(t, tel.Shutdown(ctx))
		assert.NoError(t, tel.Shutdown(ctx))
	})
}
