// Package main is the contribution evaluator command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/app"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/config"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/monitoring"
)

var rootCmd = &cobra.Command{
	Use:           "evaluator",
	Short:         "Score contributions from Jira, Confluence and GitHub",
	Long:          "evaluator fetches a team's Jira issues, Confluence pages and GitHub pull requests and issues, scores them on six weighted dimensions and renders a report.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("env-file", "", "Path to a .env file (default .env when present)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error (overrides LOG_LEVEL)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and applies the persistent flag overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	return cfg, nil
}

// newApp builds the application with logs on stderr, keeping stdout for reports
func newApp(cfg *config.Config) (*app.App, error) {
	logger := monitoring.NewLoggerTo(os.Stderr, monitoring.ParseLevel(cfg.LogLevel))
	return app.New(cfg, logger)
}
