package main

import (
	"fmt"
	"os"

	"oversounds/internal/config"
	"oversounds/internal/database"
	"oversounds/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "oversounds",
	Short: "OverSounds storefront aggregation service",
	Long:  "Serves the OverSounds storefront by aggregating songs, albums and merch from the Themes & Authors catalog service.",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.toml", "Path to the TOML configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger. The returned closer
// releases the log file, if any.
func setup() (*config.Config, *logrus.Logger, func() error, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error loading configuration: %w", err)
	}

	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, err
	}

	return cfg, logger, closeLog, nil
}

// openRunLog opens the run log when it is enabled. A nil database with a nil
// error means the run log is off.
func openRunLog(cfg *config.Config, logger *logrus.Logger) (*database.Database, error) {
	if !cfg.Database.Enabled {
		logger.Info("Run log disabled")
		return nil, nil
	}

	db, err := database.NewDatabase(cfg.Database.Path, cfg.Database.MaxConnections, logger)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	return db, nil
}
