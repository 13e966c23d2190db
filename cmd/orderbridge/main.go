package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"orderbridge/internal/buildinfo"
	"orderbridge/internal/config"
	"orderbridge/internal/logging"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "orderbridge",
		Short:         "orderbridge - delivery provider order ingestion",
		Version:       buildinfo.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("ORDERBRIDGE_CONFIG"), "path to the YAML config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(circuitsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the config, then builds the logger it asks for.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config:\n%w", err)
	}
	log, err := logging.New(cfg.App.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	log = log.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))
	return cfg, log, nil
}
