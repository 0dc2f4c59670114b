package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:    ServerConfig{Addr: ":8787"},
		Driver:    DriverConfig{URL: "http://127.0.0.1:9333", Timeout: 2 * time.Minute},
		Scheduler: SchedulerConfig{MaxConcurrency: 2},
		Retry:     RetryConfig{MaxAttempts: 3},
		Delays: DelaysConfig{
			PreFill:       1500 * time.Millisecond,
			BetweenScenes: 1500 * time.Millisecond,
			SaveFallback:  7 * time.Second,
			PostReload:    1500 * time.Millisecond,
			Confirm:       10 * time.Second,
		},
		Workflows: WorkflowsConfig{Dir: "workflows"},
		Content:   ContentConfig{CSVPath: "scenarios.csv"},
		State:     StateConfig{DBPath: "state/scenesmith.db"},
		Blocking: BlockingConfig{Categories: []string{
			"validation_missing",
			"broll_errors",
			"broll_no_results",
		}},
		Log: LogConfig{Level: "info", Format: "auto"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("driver.url", d.Driver.URL)
	v.SetDefault("driver.timeout", d.Driver.Timeout)
	v.SetDefault("scheduler.max_concurrency", d.Scheduler.MaxConcurrency)
	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("delays.pre_fill", d.Delays.PreFill)
	v.SetDefault("delays.between_scenes", d.Delays.BetweenScenes)
	v.SetDefault("delays.save_fallback", d.Delays.SaveFallback)
	v.SetDefault("delays.post_reload", d.Delays.PostReload)
	v.SetDefault("delays.confirm", d.Delays.Confirm)
	v.SetDefault("workflows.dir", d.Workflows.Dir)
	v.SetDefault("content.csv_path", d.Content.CSVPath)
	v.SetDefault("state.db_path", d.State.DBPath)
	v.SetDefault("blocking.categories", d.Blocking.Categories)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}
