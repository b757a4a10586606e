package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/record-sync/internal/config"
)

func TestPoolConfig(t *testing.T) {
	t.Setenv(config.DatabasePasswordEnv, "s3cr3t/with?chars")

	valid := func() *config.DatabaseConfig {
		return &config.DatabaseConfig{
			Host:     "db.internal",
			Port:     5432,
			User:     "sync",
			Database: "records",
			SSLMode:  "disable",
		}
	}

	tests := []struct {
		name         string
		mutate       func(*config.DatabaseConfig) *config.DatabaseConfig
		wantErr      string
		wantMaxConns int32
		wantMinConns int32
		wantLifetime time.Duration
	}{
		{
			name:         "defaults",
			mutate:       func(c *config.DatabaseConfig) *config.DatabaseConfig { return c },
			wantMaxConns: defaultMaxOpenConns,
			wantMinConns: defaultMaxIdleConns,
			wantLifetime: defaultConnMaxLifetime,
		},
		{
			name: "explicit pool settings",
			mutate: func(c *config.DatabaseConfig) *config.DatabaseConfig {
				c.MaxOpenConns = 4
				c.MaxIdleConns = 2
				c.ConnMaxLifetime = "1h"
				return c
			},
			wantMaxConns: 4,
			wantMinConns: 2,
			wantLifetime: time.Hour,
		},
		{
			name: "min conns capped by max conns",
			mutate: func(c *config.DatabaseConfig) *config.DatabaseConfig {
				c.MaxOpenConns = 2
				return c
			},
			wantMaxConns: 2,
			wantMinConns: 2,
			wantLifetime: defaultConnMaxLifetime,
		},
		{
			name:    "nil config",
			mutate:  func(*config.DatabaseConfig) *config.DatabaseConfig { return nil },
			wantErr: "database configuration is required",
		},
		{
			name: "missing host",
			mutate: func(c *config.DatabaseConfig) *config.DatabaseConfig {
				c.Host = ""
				return c
			},
			wantErr: "database host is required",
		},
		{
			name: "invalid lifetime",
			mutate: func(c *config.DatabaseConfig) *config.DatabaseConfig {
				c.ConnMaxLifetime = "forever"
				return c
			},
			wantErr: "invalid connection max lifetime",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := poolConfig(tt.mutate(valid()))
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMaxConns, cfg.MaxConns)
			assert.Equal(t, tt.wantMinConns, cfg.MinConns)
			assert.Equal(t, tt.wantLifetime, cfg.MaxConnLifetime)
			assert.Equal(t, "db.internal", cfg.ConnConfig.Host)
			assert.Equal(t, "s3cr3t/with?chars", cfg.ConnConfig.Password)
		})
	}
}
