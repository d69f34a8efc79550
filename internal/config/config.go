// Package config defines service and device configuration structures and
// loading hooks.
//
// Conventions:
// - Provide New(...) initializers that build a Config with defaults.
// - Validation failures wrap ErrInvalidConfig; provider failures wrap ErrLoadConfig.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Bucket drivers.
const (
	BucketMemory = "memory"
	BucketGCS    = "gcs"
)

// Reconciliation policies understood by the device client.
const (
	PolicyRemote = "remote"
	PolicyLocal  = "local"
)

// Config contains server process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the logger backend: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreDriver selects the spot/vote store: memory or postgres.
	StoreDriver string `koanf:"store_driver"`

	// DatabaseURL is the pgx connection string used by the postgres driver.
	DatabaseURL string `koanf:"database_url"`

	// RedisURL enables the vote summary cache when set.
	RedisURL string `koanf:"redis_url"`

	// SummaryTTLMS bounds how long a cached vote summary lives.
	SummaryTTLMS int `koanf:"summary_ttl_ms"`

	// BucketDriver selects the photo bucket: memory or gcs.
	BucketDriver string `koanf:"bucket_driver"`

	// BucketName names the GCS bucket.
	BucketName string `koanf:"bucket_name"`

	// GCSCredentials is a base64 encoded service account key. Empty uses
	// application default credentials.
	GCSCredentials string `koanf:"gcs_credentials"`

	// GCSEndpoint overrides the storage endpoint (emulators).
	GCSEndpoint string `koanf:"gcs_endpoint"`

	// PublicBaseURL prefixes photo keys for the memory bucket.
	PublicBaseURL string `koanf:"public_base_url"`

	// AdminToken enables the admin endpoints. Empty disables them.
	AdminToken string `koanf:"admin_token"`

	// PhotoBudgetBytes is the target size of a compressed photo.
	PhotoBudgetBytes int `koanf:"photo_budget_bytes"`

	// MaxListLimit caps GET /spots?limit.
	MaxListLimit int `koanf:"max_list_limit"`

	// JanitorSchedule is the cron spec for retrying photo deletions.
	JanitorSchedule string `koanf:"janitor_schedule"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":9080",
		StoreDriver:      StoreMemory,
		SummaryTTLMS:     30_000,
		BucketDriver:     BucketMemory,
		PublicBaseURL:    "http://localhost:9080/photos",
		PhotoBudgetBytes: 380 * 1024,
		MaxListLimit:     500,
		JanitorSchedule:  "@every 10m",
	}
}

// SummaryTTL returns the cache TTL as a duration.
func (c *Config) SummaryTTL() time.Duration {
	return time.Duration(c.SummaryTTLMS) * time.Millisecond
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	switch strings.ToLower(c.StoreDriver) {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: database_url is required for the postgres store", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	}
	switch strings.ToLower(c.BucketDriver) {
	case BucketMemory:
	case BucketGCS:
		if c.BucketName == "" {
			return fmt.Errorf("%w: bucket_name is required for the gcs bucket", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown bucket_driver %q", ErrInvalidConfig, c.BucketDriver)
	}
	if c.PhotoBudgetBytes <= 0 {
		return fmt.Errorf("%w: photo_budget_bytes must be positive", ErrInvalidConfig)
	}
	if c.MaxListLimit <= 0 {
		return fmt.Errorf("%w: max_list_limit must be positive", ErrInvalidConfig)
	}
	return nil
}

// DeviceConfig contains configuration for the device client.
type DeviceConfig struct {
	LogLevel string `koanf:"log_level"`

	// ServerURL is the base URL of the remote vote store.
	ServerURL string `koanf:"server_url"`

	// StatePath is the sqlite file holding device-local state.
	StatePath string `koanf:"state_path"`

	// Policy selects reconciliation: remote or local.
	Policy string `koanf:"policy"`

	// RequestTimeoutMS bounds one remote action including retries.
	RequestTimeoutMS int `koanf:"request_timeout_ms"`

	// RetryMax caps retries of transient remote failures.
	RetryMax int `koanf:"retry_max"`

	// MirrorWorkers and MirrorQueueSize size the local-policy mirror pipeline.
	MirrorWorkers   int `koanf:"mirror_workers"`
	MirrorQueueSize int `koanf:"mirror_queue_size"`
}

// NewDevice creates a DeviceConfig populated with defaults.
func NewDevice() *DeviceConfig {
	return &DeviceConfig{
		LogLevel:         "warn",
		ServerURL:        "http://localhost:9080",
		StatePath:        "mtw-device.db",
		Policy:           PolicyRemote,
		RequestTimeoutMS: 10_000,
		RetryMax:         3,
		MirrorWorkers:    2,
		MirrorQueueSize:  256,
	}
}

// RequestTimeout returns the action timeout as a duration.
func (c *DeviceConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// Validate checks device constraints.
func (c *DeviceConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("%w: server_url must not be empty", ErrInvalidConfig)
	}
	if c.StatePath == "" {
		return fmt.Errorf("%w: state_path must not be empty", ErrInvalidConfig)
	}
	switch c.Policy {
	case PolicyRemote, PolicyLocal:
	default:
		return fmt.Errorf("%w: unknown policy %q", ErrInvalidConfig, c.Policy)
	}
	if c.RequestTimeoutMS <= 0 {
		return fmt.Errorf("%w: request_timeout_ms must be positive", ErrInvalidConfig)
	}
	if c.RetryMax < 0 {
		return fmt.Errorf("%w: retry_max must not be negative", ErrInvalidConfig)
	}
	if c.MirrorWorkers <= 0 || c.MirrorQueueSize <= 0 {
		return fmt.Errorf("%w: mirror pipeline must have workers and capacity", ErrInvalidConfig)
	}
	return nil
}
