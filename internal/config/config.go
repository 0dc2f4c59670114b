// Package config loads and validates service configuration from file,
// environment and defaults via viper.
package config

import (
	"fmt"
	"time"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Driver    DriverConfig    `mapstructure:"driver"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Delays    DelaysConfig    `mapstructure:"delays"`
	Workflows WorkflowsConfig `mapstructure:"workflows"`
	Content   ContentConfig   `mapstructure:"content"`
	State     StateConfig     `mapstructure:"state"`
	Blocking  BlockingConfig  `mapstructure:"blocking"`
	Log       LogConfig       `mapstructure:"log"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// DriverConfig points at the browser-automation sidecar.
type DriverConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SchedulerConfig bounds job concurrency.
type SchedulerConfig struct {
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

// RetryConfig bounds the act/probe validation loops.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// DelaysConfig holds the pacing intervals of the fill workflow.
type DelaysConfig struct {
	PreFill       time.Duration `mapstructure:"pre_fill"`
	BetweenScenes time.Duration `mapstructure:"between_scenes"`
	SaveFallback  time.Duration `mapstructure:"save_fallback"`
	PostReload    time.Duration `mapstructure:"post_reload"`
	Confirm       time.Duration `mapstructure:"confirm"`
}

// WorkflowsConfig locates the workflow library.
type WorkflowsConfig struct {
	Dir string `mapstructure:"dir"`
}

// ContentConfig locates scene data.
type ContentConfig struct {
	CSVPath string `mapstructure:"csv_path"`
}

// StateConfig locates the snapshot database.
type StateConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// BlockingConfig declares which report categories block the terminal
// generate/final_submit steps.
type BlockingConfig struct {
	Categories []string `mapstructure:"categories"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// NotifyConfig configures the notification sink.
type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig enables Telegram notifications when a token is set.
type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

// Validate checks invariants the rest of the system relies on.
func (c *Config) Validate() error {
	if c.Scheduler.MaxConcurrency < 1 {
		return fmt.Errorf("scheduler.max_concurrency must be >= 1, got %d", c.Scheduler.MaxConcurrency)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Driver.URL == "" {
		return fmt.Errorf("driver.url is required")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}
