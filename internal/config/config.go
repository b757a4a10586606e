// Package config provides configuration loading and validation for record-sync.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/record-sync/internal/telemetry"
	"github.com/stacklok/record-sync/internal/validators"
)

const (
	// EnvPrefix is the prefix of every environment variable read by record-sync
	EnvPrefix = "RECORD_SYNC"

	// DatabasePasswordEnv holds the database password when no password file is configured
	DatabasePasswordEnv = EnvPrefix + "_DATABASE_PASSWORD"

	// DefaultPipelineName is used when the configuration does not name the pipeline
	DefaultPipelineName = "default"
)

// Store backends
const (
	// StoreTypeMemory keeps records in process memory
	StoreTypeMemory = "memory"

	// StoreTypePostgres keeps records in a PostgreSQL table
	StoreTypePostgres = "postgres"

	// StoreTypeSQLite keeps records in a SQLite database file
	StoreTypeSQLite = "sqlite"
)

// State backends
const (
	// StateTypeFile persists sync state as JSON files
	StateTypeFile = "file"

	// StateTypeDatabase persists sync state in PostgreSQL
	StateTypeDatabase = "database"

	// StateTypeBolt persists sync state in a bbolt file
	StateTypeBolt = "bolt"

	// StateTypeS3 persists sync state as JSON objects in an S3 bucket
	StateTypeS3 = "s3"
)

// Sync defaults
const (
	DefaultBatchSize     = 100
	DefaultPollInterval  = 5 * time.Second
	DefaultOverlapWindow = 3 * time.Second
	DefaultMaxAttempts   = 5
	DefaultRetryInitial  = 500 * time.Millisecond
	DefaultRetryMax      = 30 * time.Second
	DefaultServerAddress = ":8080"
	DefaultStatePath     = "./data/state"
	DefaultSourceTable   = "source_records"
	DefaultTargetTable   = "target_records"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Name identifies the sync pipeline in persisted state, logs and metrics.
	// Defaults to "default" if not specified
	Name string `yaml:"name,omitempty"`

	Sync      SyncConfig        `yaml:"sync"`
	Source    StoreConfig       `yaml:"source"`
	Target    StoreConfig       `yaml:"target"`
	State     StateConfig       `yaml:"state"`
	Server    ServerConfig      `yaml:"server"`
	Database  *DatabaseConfig   `yaml:"database,omitempty"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// SyncConfig tunes the synchronization engine
type SyncConfig struct {
	// BatchSize is the page size of a full sync
	BatchSize int `yaml:"batchSize,omitempty"`

	// PollInterval is the delay between the end of one cycle and the start of the next
	PollInterval Duration `yaml:"pollInterval,omitempty"`

	// OverlapWindow is how far below the watermark each delta query starts
	OverlapWindow *Duration `yaml:"overlapWindow,omitempty"`

	// Jitter is the maximum random offset added to or removed from PollInterval
	Jitter Duration `yaml:"jitter,omitempty"`

	// FullSyncPartitions splits a full sync into disjoint ID ranges copied concurrently.
	// 0 or 1 disables partitioning
	FullSyncPartitions int `yaml:"fullSyncPartitions,omitempty"`

	// Retry bounds the retries of a single page or delta cycle
	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig configures exponential backoff
type RetryConfig struct {
	MaxAttempts     uint     `yaml:"maxAttempts,omitempty"`
	InitialInterval Duration `yaml:"initialInterval,omitempty"`
	MaxInterval     Duration `yaml:"maxInterval,omitempty"`
}

// StoreConfig selects and configures a record store
type StoreConfig struct {
	// Type is one of memory, postgres or sqlite
	Type string `yaml:"type"`

	// Table is the PostgreSQL table holding the records
	Table string `yaml:"table,omitempty"`

	// Path is the SQLite database file
	Path string `yaml:"path,omitempty"`

	// EmitEvents logs one structured event per record written. Only meaningful for the target
	EmitEvents bool `yaml:"emitEvents,omitempty"`

	// Seed inserts that many demo records into a memory source at startup
	Seed int `yaml:"seed,omitempty"`
}

// StateConfig selects where the sync state is persisted
type StateConfig struct {
	// Type is one of file, database, bolt or s3. Defaults to file
	Type string `yaml:"type,omitempty"`

	// Path is the directory holding the status files (file) or state.db (bolt)
	Path string `yaml:"path,omitempty"`

	// S3 configures the s3 backend
	S3 *S3Config `yaml:"s3,omitempty"`
}

// S3Config configures the S3 state backend
type S3Config struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix,omitempty"`
	Region string `yaml:"region,omitempty"`

	// Endpoint overrides the S3 endpoint, for MinIO or LocalStack
	Endpoint string `yaml:"endpoint,omitempty"`

	// UsePathStyle addresses buckets by path instead of virtual host
	UsePathStyle bool `yaml:"usePathStyle,omitempty"`
}

// ServerConfig configures the operational HTTP API
type ServerConfig struct {
	// Address is the listen address, defaults to ":8080"
	Address string `yaml:"address,omitempty"`

	// Disabled turns the HTTP API off
	Disabled bool `yaml:"disabled,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password
	// This is the recommended approach for production deployments
	// The file should contain only the password with optional trailing whitespace
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the minimum number of idle connections kept in the pool
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// Duration is a time.Duration read from a YAML duration string such as "5s"
type Duration time.Duration

// UnmarshalYAML parses a duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration as a string
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from RECORD_SYNC_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(DatabasePasswordEnv); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s environment variable", DatabasePasswordEnv,
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User,
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)

	return connString, nil
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates a YAML configuration document
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetName returns the pipeline name, using "default" if not specified
func (c *Config) GetName() string {
	if c.Name == "" {
		return DefaultPipelineName
	}
	return c.Name
}

// GetBatchSize returns the configured page size or DefaultBatchSize
func (s *SyncConfig) GetBatchSize() int {
	if s.BatchSize == 0 {
		return DefaultBatchSize
	}
	return s.BatchSize
}

// GetPollInterval returns the configured poll interval or DefaultPollInterval
func (s *SyncConfig) GetPollInterval() time.Duration {
	if s.PollInterval == 0 {
		return DefaultPollInterval
	}
	return time.Duration(s.PollInterval)
}

// GetOverlapWindow returns the configured overlap or DefaultOverlapWindow.
// An explicit "0s" disables the overlap.
func (s *SyncConfig) GetOverlapWindow() time.Duration {
	if s.OverlapWindow == nil {
		return DefaultOverlapWindow
	}
	return time.Duration(*s.OverlapWindow)
}

// GetJitter returns the configured jitter
func (s *SyncConfig) GetJitter() time.Duration {
	return time.Duration(s.Jitter)
}

// GetPartitions returns the number of full-sync partitions, at least 1
func (s *SyncConfig) GetPartitions() int {
	if s.FullSyncPartitions < 1 {
		return 1
	}
	return s.FullSyncPartitions
}

// GetMaxAttempts returns the retry budget of one page or cycle
func (r *RetryConfig) GetMaxAttempts() uint {
	if r.MaxAttempts == 0 {
		return DefaultMaxAttempts
	}
	return r.MaxAttempts
}

// GetInitialInterval returns the first backoff delay
func (r *RetryConfig) GetInitialInterval() time.Duration {
	if r.InitialInterval == 0 {
		return DefaultRetryInitial
	}
	return time.Duration(r.InitialInterval)
}

// GetMaxInterval returns the longest backoff delay
func (r *RetryConfig) GetMaxInterval() time.Duration {
	if r.MaxInterval == 0 {
		return DefaultRetryMax
	}
	return time.Duration(r.MaxInterval)
}

// GetType returns the store type, defaulting to memory
func (s *StoreConfig) GetType() string {
	if s.Type == "" {
		return StoreTypeMemory
	}
	return s.Type
}

// GetTable returns the configured table or fallback
func (s *StoreConfig) GetTable(fallback string) string {
	if s.Table == "" {
		return fallback
	}
	return s.Table
}

// GetType returns the state backend type, defaulting to file
func (s *StateConfig) GetType() string {
	if s.Type == "" {
		return StateTypeFile
	}
	return s.Type
}

// GetPath returns the state path, defaulting to ./data/state
func (s *StateConfig) GetPath() string {
	if s.Path == "" {
		return DefaultStatePath
	}
	return s.Path
}

// GetAddress returns the HTTP listen address
func (s *ServerConfig) GetAddress() string {
	if s.Address == "" {
		return DefaultServerAddress
	}
	return s.Address
}

// UsesDatabase reports whether any component needs the PostgreSQL pool
func (c *Config) UsesDatabase() bool {
	return c.Source.GetType() == StoreTypePostgres ||
		c.Target.GetType() == StoreTypePostgres ||
		c.State.GetType() == StateTypeDatabase
}

func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var errs []error
	if c.Name != "" {
		if err := validators.ValidatePipelineName(c.Name); err != nil {
			errs = append(errs, fmt.Errorf("name: %w", err))
		}
	}
	errs = append(errs, c.Sync.validate())
	errs = append(errs, validateStore("source", &c.Source))
	errs = append(errs, validateStore("target", &c.Target))
	errs = append(errs, c.State.validate())

	if c.Target.Seed > 0 {
		errs = append(errs, fmt.Errorf("target.seed is not supported, the target is write-only"))
	}
	if c.Source.Seed > 0 && c.Source.GetType() != StoreTypeMemory {
		errs = append(errs, fmt.Errorf("source.seed is only supported for memory stores, use the seed command"))
	}
	if c.Source.GetType() == c.Target.GetType() && c.Source.GetType() == StoreTypePostgres &&
		c.Source.GetTable(DefaultSourceTable) == c.Target.GetTable(DefaultTargetTable) {
		errs = append(errs, fmt.Errorf("source and target must use different tables"))
	}
	if c.Source.GetType() == StoreTypeSQLite && c.Target.GetType() == StoreTypeSQLite && c.Source.Path == c.Target.Path {
		errs = append(errs, fmt.Errorf("source and target must use different sqlite files"))
	}

	if c.UsesDatabase() && c.Database == nil {
		errs = append(errs, fmt.Errorf("database: configuration is required by the selected store or state backend"))
	}

	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (s *SyncConfig) validate() error {
	var errs []error
	if s.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("sync.batchSize must be positive, got %d", s.BatchSize))
	}
	if s.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("sync.pollInterval must be positive, got %s", time.Duration(s.PollInterval)))
	}
	if s.OverlapWindow != nil && *s.OverlapWindow < 0 {
		errs = append(errs, fmt.Errorf("sync.overlapWindow must not be negative, got %s", time.Duration(*s.OverlapWindow)))
	}
	if s.Jitter < 0 {
		errs = append(errs, fmt.Errorf("sync.jitter must not be negative, got %s", time.Duration(s.Jitter)))
	}
	if s.Jitter > 0 && s.Jitter >= Duration(s.GetPollInterval()) {
		errs = append(errs, fmt.Errorf("sync.jitter must be smaller than sync.pollInterval"))
	}
	if s.FullSyncPartitions < 0 {
		errs = append(errs, fmt.Errorf("sync.fullSyncPartitions must not be negative, got %d", s.FullSyncPartitions))
	}
	if s.Retry.InitialInterval < 0 || s.Retry.MaxInterval < 0 {
		errs = append(errs, fmt.Errorf("sync.retry intervals must not be negative"))
	}
	return errors.Join(errs...)
}

func validateStore(name string, s *StoreConfig) error {
	if s.Seed < 0 {
		return fmt.Errorf("%s.seed must not be negative, got %d", name, s.Seed)
	}
	switch s.GetType() {
	case StoreTypeMemory:
		return nil
	case StoreTypePostgres:
		if s.Table != "" && !isIdentifier(s.Table) {
			return fmt.Errorf("%s.table %q is not a valid table name", name, s.Table)
		}
		return nil
	case StoreTypeSQLite:
		if s.Path == "" {
			return fmt.Errorf("%s.path is required for sqlite stores", name)
		}
		return nil
	default:
		return fmt.Errorf("%s.type must be one of %s, %s or %s, got %q",
			name, StoreTypeMemory, StoreTypePostgres, StoreTypeSQLite, s.Type)
	}
}

func (s *StateConfig) validate() error {
	switch s.GetType() {
	case StateTypeFile, StateTypeDatabase, StateTypeBolt:
		return nil
	case StateTypeS3:
		if s.S3 == nil || s.S3.Bucket == "" {
			return fmt.Errorf("state.s3.bucket is required for the s3 state backend")
		}
		return nil
	default:
		return fmt.Errorf("state.type must be one of %s, %s, %s or %s, got %q",
			StateTypeFile, StateTypeDatabase, StateTypeBolt, StateTypeS3, s.Type)
	}
}

// isIdentifier accepts lower-case SQL identifiers, optionally schema-qualified
func isIdentifier(name string) bool {
	for _, part := range strings.Split(name, ".") {
		if part == "" {
			return false
		}
		for i, r := range part {
			switch {
			case r >= 'a' && r <= 'z', r == '_':
			case r >= '0' && r <= '9' && i > 0:
			default:
				return false
			}
		}
	}
	return true
}
