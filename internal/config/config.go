package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete application configuration for a
// union filesystem mount or balance run.
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Sources    []string         `yaml:"sources"`
	Mount      MountOptions     `yaml:"mount"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	MetricsAddr string `yaml:"metrics_addr"`
	MetricsPort int    `yaml:"metrics_port"`
	HealthPort  int    `yaml:"health_port"`
}

// MountOptions represents the `-o key=value,...` mount options
// recognized by cmd/unionfs-mount. Known keys get typed fields; anything
// else passes through Extra unmodified to the go-fuse mount options,
// except `multithreaded`, which internal/fuse consumes to turn off
// single-threaded serving.
type MountOptions struct {
	AllowOther         bool              `yaml:"allow_other"`
	AllowRoot          bool              `yaml:"allow_root"`
	ReadOnly           bool              `yaml:"ro"`
	Debug              bool              `yaml:"debug"`
	DefaultPermissions bool              `yaml:"default_permissions"`
	DirectIO           bool              `yaml:"direct_io"`
	Extra              map[string]string `yaml:"extra"`
}

// ResilienceConfig controls the retry/circuit-breaker behavior applied
// to balancer moves and cross-device fallback copies.
type ResilienceConfig struct {
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig represents retry settings
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig represents circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics      MetricsConfig      `yaml:"metrics"`
	HealthChecks HealthChecksConfig `yaml:"health_checks"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Prometheus   bool              `yaml:"prometheus"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// HealthChecksConfig represents health check settings
type HealthChecksConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoggingConfig represents logging settings
type LoggingConfig struct {
	Structured bool           `yaml:"structured"`
	Format     string         `yaml:"format"`
	Sampling   SamplingConfig `yaml:"sampling"`
}

// SamplingConfig represents log sampling settings
type SamplingConfig struct {
	Enabled bool `yaml:"enabled"`
	Rate    int  `yaml:"rate"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFile:     "",
			MetricsAddr: ":9400",
			MetricsPort: 9400,
			HealthPort:  9401,
		},
		Sources: nil,
		Mount: MountOptions{
			DefaultPermissions: true,
			Extra:              make(map[string]string),
		},
		Resilience: ResilienceConfig{
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   1 * time.Second,
				MaxDelay:    30 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          60 * time.Second,
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:    true,
				Prometheus: true,
				CustomLabels: map[string]string{
					"service": "unionfs",
				},
			},
			HealthChecks: HealthChecksConfig{
				Enabled:  true,
				Interval: 30 * time.Second,
				Timeout:  5 * time.Second,
			},
			Logging: LoggingConfig{
				Structured: true,
				Format:     "json",
				Sampling: SamplingConfig{
					Enabled: false,
					Rate:    1,
				},
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("UNIONFS_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("UNIONFS_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("UNIONFS_METRICS_ADDR"); val != "" {
		c.Global.MetricsAddr = val
	}
	if val := os.Getenv("UNIONFS_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.MetricsPort = port
		}
	}
	if val := os.Getenv("UNIONFS_HEALTH_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.HealthPort = port
		}
	}
	if val := os.Getenv("UNIONFS_SOURCES"); val != "" {
		c.Sources = strings.Split(val, string(os.PathListSeparator))
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if len(c.Sources) < 1 {
		return fmt.Errorf("at least one source is required, got %d", len(c.Sources))
	}

	seen := make(map[string]bool, len(c.Sources))
	for _, src := range c.Sources {
		clean := filepath.Clean(src)
		if !filepath.IsAbs(clean) {
			return fmt.Errorf("source path must be absolute: %s", src)
		}
		if seen[clean] {
			return fmt.Errorf("duplicate source path: %s", src)
		}
		seen[clean] = true
	}

	if c.Global.MetricsPort == c.Global.HealthPort {
		return fmt.Errorf("metrics_port and health_port cannot be the same")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}

// ParseMountOptions parses a comma-separated `-o` option string
// (e.g. "allow_other,ro,uid=1000") into a MountOptions value.
func ParseMountOptions(spec string) MountOptions {
	opts := MountOptions{Extra: make(map[string]string)}
	if spec == "" {
		return opts
	}

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		key, value, hasValue := strings.Cut(part, "=")
		switch key {
		case "allow_other":
			opts.AllowOther = true
		case "allow_root":
			opts.AllowRoot = true
		case "ro":
			opts.ReadOnly = true
		case "debug":
			opts.Debug = true
		case "default_permissions":
			opts.DefaultPermissions = true
		case "direct_io":
			opts.DirectIO = true
		default:
			if hasValue {
				opts.Extra[key] = value
			} else {
				opts.Extra[key] = ""
			}
		}
	}

	return opts
}
