package coordinator

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/record-sync/internal/config"
	pkgsync "github.com/stacklok/record-sync/internal/sync"
)

// settings are the resolved tuning knobs of one pipeline
type settings struct {
	pipeline     string
	batchSize    int
	pollInterval time.Duration
	jitter       time.Duration
	overlap      time.Duration
	partitions   int
	maxAttempts  uint
	retryInitial time.Duration
	retryMax     time.Duration
}

func newSettings(cfg *config.Config) settings {
	return settings{
		pipeline:     cfg.GetName(),
		batchSize:    cfg.Sync.GetBatchSize(),
		pollInterval: cfg.Sync.GetPollInterval(),
		jitter:       cfg.Sync.GetJitter(),
		overlap:      cfg.Sync.GetOverlapWindow(),
		partitions:   cfg.Sync.GetPartitions(),
		maxAttempts:  cfg.Sync.Retry.GetMaxAttempts(),
		retryInitial: cfg.Sync.Retry.GetInitialInterval(),
		retryMax:     cfg.Sync.Retry.GetMaxInterval(),
	}
}

// validate rejects settings the engine cannot run with. These are fatal at startup.
func (s settings) validate() error {
	switch {
	case s.batchSize <= 0:
		return pkgsync.NewConfigurationError("batchSize", "must be positive, got %d", s.batchSize)
	case s.pollInterval <= 0:
		return pkgsync.NewConfigurationError("pollInterval", "must be positive, got %s", s.pollInterval)
	case s.overlap < 0:
		return pkgsync.NewConfigurationError("overlapWindow", "must not be negative, got %s", s.overlap)
	case s.jitter < 0 || (s.jitter > 0 && s.jitter >= s.pollInterval):
		return pkgsync.NewConfigurationError("jitter", "must be in [0, pollInterval), got %s", s.jitter)
	case s.partitions < 1:
		return pkgsync.NewConfigurationError("fullSyncPartitions", "must be at least 1, got %d", s.partitions)
	case s.maxAttempts == 0:
		return pkgsync.NewConfigurationError("retry.maxAttempts", "must be positive")
	}
	return nil
}

// nextInterval returns the poll interval with a random offset in [-jitter, +jitter)
func (s settings) nextInterval() time.Duration {
	if s.jitter <= 0 {
		return s.pollInterval
	}
	//nolint:gosec // G404: Non-cryptographic randomness is sufficient for polling jitter
	offset := time.Duration(rand.Int64N(int64(2*s.jitter))) - s.jitter
	return s.pollInterval + offset
}

func (s settings) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInitial
	b.MaxInterval = s.retryMax
	return b
}
