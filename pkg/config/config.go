package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for batchrun
type Config struct {
	// Runner limits and checkpointing
	Batch BatchConfig `yaml:"batch" json:"batch"`

	// Per-item work behaviour
	Work WorkConfig `yaml:"work" json:"work"`

	// Notification preferences
	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// BatchConfig holds the runner settings
type BatchConfig struct {
	Name               string        `yaml:"name" json:"name"`
	MaxWorkers         int           `yaml:"max_workers" json:"max_workers"`
	MemoryLimitMB      float64       `yaml:"memory_limit_mb" json:"memory_limit_mb"`
	CheckpointInterval int           `yaml:"checkpoint_interval" json:"checkpoint_interval"`
	CheckpointPath     string        `yaml:"checkpoint_path" json:"checkpoint_path"`
	MemoryPollInterval time.Duration `yaml:"memory_poll_interval" json:"memory_poll_interval"`
}

// WorkConfig holds the decorators applied around each work item
type WorkConfig struct {
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay" json:"retry_delay"`
	MaxRetryDelay     time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	ItemsPerMinute    int           `yaml:"items_per_minute" json:"items_per_minute"`
	BurstSize         int           `yaml:"burst_size" json:"burst_size"`
}

// NotificationConfig holds notification preferences
type NotificationConfig struct {
	Enabled          bool   `yaml:"enabled" json:"enabled"`
	OnComplete       bool   `yaml:"on_complete" json:"on_complete"`
	OnError          bool   `yaml:"on_error" json:"on_error"`
	ProgressInterval int    `yaml:"progress_interval" json:"progress_interval"`
	NotificationType string `yaml:"notification_type" json:"notification_type"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
	JSON  bool   `yaml:"json" json:"json"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Batch: BatchConfig{
			Name:               "default",
			MaxWorkers:         4,
			MemoryLimitMB:      2000,
			CheckpointInterval: 10,
			MemoryPollInterval: time.Second,
		},
		Work: WorkConfig{
			Timeout:           0, // no deadline
			MaxRetries:        0,
			RetryDelay:        time.Second,
			MaxRetryDelay:     30 * time.Second,
			BackoffMultiplier: 2.0,
			ItemsPerMinute:    0, // unlimited
			BurstSize:         1,
		},
		Notifications: NotificationConfig{
			Enabled:          true,
			OnComplete:       true,
			OnError:          true,
			ProgressInterval: 10,
			NotificationType: "terminal",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if name := os.Getenv("BATCHRUN_NAME"); name != "" {
		c.Batch.Name = name
	}
	if v, ok, err := envInt("BATCHRUN_MAX_WORKERS"); err != nil {
		errs = append(errs, err)
	} else if ok {
		c.Batch.MaxWorkers = v
	}
	if v := os.Getenv("BATCHRUN_MEMORY_LIMIT_MB"); v != "" {
		limit, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("BATCHRUN_MEMORY_LIMIT_MB: %w", err))
		} else {
			c.Batch.MemoryLimitMB = limit
		}
	}
	if v, ok, err := envInt("BATCHRUN_CHECKPOINT_INTERVAL"); err != nil {
		errs = append(errs, err)
	} else if ok {
		c.Batch.CheckpointInterval = v
	}
	if path := os.Getenv("BATCHRUN_CHECKPOINT_PATH"); path != "" {
		c.Batch.CheckpointPath = path
	}
	if v, ok, err := envDuration("BATCHRUN_MEMORY_POLL_INTERVAL"); err != nil {
		errs = append(errs, err)
	} else if ok {
		c.Batch.MemoryPollInterval = v
	}

	// Work decorators
	if v, ok, err := envDuration("BATCHRUN_TIMEOUT"); err != nil {
		errs = append(errs, err)
	} else if ok {
		c.Work.Timeout = v
	}
	if v, ok, err := envInt("BATCHRUN_MAX_RETRIES"); err != nil {
		errs = append(errs, err)
	} else if ok {
		c.Work.MaxRetries = v
	}
	if v, ok, err := envInt("BATCHRUN_ITEMS_PER_MINUTE"); err != nil {
		errs = append(errs, err)
	} else if ok {
		c.Work.ItemsPerMinute = v
	}

	// Notifications
	if notifEnabled := os.Getenv("BATCHRUN_NOTIFICATIONS_ENABLED"); notifEnabled != "" {
		c.Notifications.Enabled = strings.ToLower(notifEnabled) == "true"
	}

	// Logging
	if logLevel := os.Getenv("BATCHRUN_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFile := os.Getenv("BATCHRUN_LOG_FILE"); logFile != "" {
		c.Logging.File = logFile
	}

	return errors.Join(errs...)
}

func envInt(key string) (int, bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return v, true, nil
}

func envDuration(key string) (time.Duration, bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return v, true, nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".batchrun.yaml",
		".batchrun.yml",
		filepath.Join(home, ".config", "batchrun", "config.yaml"),
		filepath.Join(home, ".config", "batchrun", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Batch.MaxWorkers <= 0 {
		errs = append(errs, errors.New("max workers must be positive"))
	}
	if c.Batch.MemoryLimitMB < 0 {
		errs = append(errs, errors.New("memory limit cannot be negative"))
	}
	if c.Batch.CheckpointInterval <= 0 {
		errs = append(errs, errors.New("checkpoint interval must be positive"))
	}
	if c.Batch.MemoryPollInterval <= 0 {
		errs = append(errs, errors.New("memory poll interval must be positive"))
	}

	if c.Work.Timeout < 0 {
		errs = append(errs, errors.New("timeout cannot be negative"))
	}
	if c.Work.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}
	if c.Work.MaxRetries > 0 && c.Work.BackoffMultiplier < 1 {
		errs = append(errs, errors.New("backoff multiplier must be at least 1"))
	}
	if c.Work.ItemsPerMinute < 0 {
		errs = append(errs, errors.New("items per minute cannot be negative"))
	}
	if c.Work.ItemsPerMinute > 0 && c.Work.BurstSize <= 0 {
		errs = append(errs, errors.New("burst size must be positive when rate limiting"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}

	validNotifTypes := map[string]bool{
		"terminal": true, "desktop": true, "none": true,
	}
	if !validNotifTypes[strings.ToLower(c.Notifications.NotificationType)] {
		errs = append(errs, fmt.Errorf("invalid notification type %q", c.Notifications.NotificationType))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Keys match the flag names of the run command; zero values are ignored.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if name, ok := flags["name"].(string); ok && name != "" {
		c.Batch.Name = name
	}
	if workers, ok := flags["workers"].(int); ok && workers > 0 {
		c.Batch.MaxWorkers = workers
	}
	if limit, ok := flags["memory-limit"].(float64); ok && limit >= 0 {
		c.Batch.MemoryLimitMB = limit
	}
	if interval, ok := flags["checkpoint-interval"].(int); ok && interval > 0 {
		c.Batch.CheckpointInterval = interval
	}
	if path, ok := flags["checkpoint"].(string); ok && path != "" {
		c.Batch.CheckpointPath = path
	}
	if timeout, ok := flags["timeout"].(time.Duration); ok && timeout > 0 {
		c.Work.Timeout = timeout
	}
	if retries, ok := flags["retries"].(int); ok && retries > 0 {
		c.Work.MaxRetries = retries
	}
	if rate, ok := flags["rate-limit"].(int); ok && rate > 0 {
		c.Work.ItemsPerMinute = rate
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFile, ok := flags["log-file"].(string); ok && logFile != "" {
		c.Logging.File = logFile
	}
	if notify, ok := flags["notify"].(bool); ok {
		c.Notifications.Enabled = notify
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".batchrun.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
