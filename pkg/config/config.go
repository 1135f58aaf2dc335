// Package config provides configuration structures and loading logic for the
// relay.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalhouse/relay/pkg/processor"
)

// Config holds the global configuration for the relay.
type Config struct {
	Channel    ChannelConfig      `yaml:"channel"`
	Processors []processor.Config `yaml:"processors"`
	Telemetry  TelemetryConfig    `yaml:"telemetry"`
	Logging    LoggingConfig      `yaml:"logging"`
}

// ChannelConfig holds configuration for the export channel.
type ChannelConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	MaxBatchSize      int           `yaml:"max_batch_size"`
	FlushInterval     time.Duration `yaml:"flush_interval"`
	StorageFolder     string        `yaml:"storage_folder"`
	DiskCapacityMB    int           `yaml:"disk_capacity_mb"`
	MaxInstantRetries int           `yaml:"max_instant_retries"`
	DisableThrottling bool          `yaml:"disable_throttling"`
	BackoffPolicy     string        `yaml:"backoff_policy"`
	BackoffInterval   time.Duration `yaml:"backoff_interval"`
	NetworkWorkers    int           `yaml:"network_workers"`
	LoaderWorkers     int           `yaml:"loader_workers"`
	MaxRedirects      int           `yaml:"max_redirects"`
}

// Backoff policy names accepted in ChannelConfig.BackoffPolicy.
const (
	BackoffExponential = "exponential"
	BackoffStatic      = "static"
)

// TelemetryConfig holds configuration for the relay's own OpenTelemetry
// export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Load reads configuration from a file and applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		// Defaults
		Channel: ChannelConfig{
			MaxBatchSize:   500,
			FlushInterval:  15 * time.Second,
			StorageFolder:  defaultStorageFolder(),
			DiskCapacityMB: 10,
			BackoffPolicy:  BackoffExponential,
			NetworkWorkers: 1,
			LoaderWorkers:  1,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func defaultStorageFolder() string {
	return os.TempDir() + string(os.PathSeparator) + "relay-transmissions"
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("RELAY_ENDPOINT"); val != "" {
		cfg.Channel.Endpoint = val
	}
	if val := os.Getenv("RELAY_STORAGE_FOLDER"); val != "" {
		cfg.Channel.StorageFolder = val
	}
	if val := os.Getenv("RELAY_MAX_BATCH_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Channel.MaxBatchSize = n
		}
	}
	if val := os.Getenv("RELAY_FLUSH_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Channel.FlushInterval = d
		}
	}
	if val := os.Getenv("RELAY_DISK_CAPACITY_MB"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Channel.DiskCapacityMB = n
		}
	}
	if val := os.Getenv("RELAY_DISABLE_THROTTLING"); val == "true" {
		cfg.Channel.DisableThrottling = true
	}

	if val := os.Getenv("RELAY_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("RELAY_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("RELAY_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
}

// Validate performs validation of the entire configuration.
func (c *Config) Validate() error {
	if err := c.Channel.Validate(); err != nil {
		return fmt.Errorf("channel configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	return nil
}

// Validate normalizes and checks the channel configuration.
func (c *ChannelConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("endpoint is required")
	}
	if strings.TrimSpace(c.StorageFolder) == "" {
		c.StorageFolder = defaultStorageFolder()
	}

	if c.MaxBatchSize < 1 {
		c.MaxBatchSize = 500
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 15 * time.Second
	}

	// Disk capacity is clamped rather than rejected.
	if c.DiskCapacityMB < 1 {
		c.DiskCapacityMB = 1
	}
	if c.DiskCapacityMB > 1000 {
		c.DiskCapacityMB = 1000
	}

	if c.MaxInstantRetries < 0 {
		c.MaxInstantRetries = 0
	}
	if c.NetworkWorkers < 1 {
		c.NetworkWorkers = 1
	}
	if c.LoaderWorkers < 1 {
		c.LoaderWorkers = 1
	}

	policy := strings.TrimSpace(strings.ToLower(c.BackoffPolicy))
	switch policy {
	case "":
		c.BackoffPolicy = BackoffExponential
	case BackoffExponential:
		c.BackoffPolicy = BackoffExponential
	case BackoffStatic:
		c.BackoffPolicy = BackoffStatic
		if c.BackoffInterval <= 0 {
			c.BackoffInterval = 10 * time.Second
		}
	default:
		return fmt.Errorf("invalid backoff policy %q, supported policies: %s, %s",
			c.BackoffPolicy, BackoffExponential, BackoffStatic)
	}

	return nil
}

// Validate performs validation of logging configuration.
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
}
