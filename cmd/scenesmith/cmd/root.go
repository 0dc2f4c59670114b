package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"scenesmith/internal/config"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	serverURL string

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string
)

var rootCmd = &cobra.Command{
	Use:   "scenesmith",
	Short: "Scene-filling orchestrator for templated video jobs",
	Long: `scenesmith schedules and supervises browser-driven scene-filling jobs:
it loads scene rows per collection, runs a declarative step workflow for
every part, validates each action against the live editor and keeps every
job pausable and stoppable at any point.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .scenesmith.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8787",
		"running scenesmith server to talk to (status, submit)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// loadConfig builds the effective configuration with flag bindings applied.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader = loader.WithConfigFile(cfgFile)
	}
	return loader.Load()
}
