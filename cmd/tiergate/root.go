package main

import (
	"fmt"

	"github.com/aman-churiwal/tier-gate/internal/config"
	"github.com/aman-churiwal/tier-gate/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "tiergate",
	Short:         "Tiered rate limit and daily quota gate",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (JSON or YAML); defaults and GATE_* environment otherwise")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(adminCmd)
}

// setup loads .env, the configuration and the process logger
func setup() (*config.Config, *zap.Logger, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return cfg, logger, nil
}
