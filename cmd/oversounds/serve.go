package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"oversounds/internal/server"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the storefront HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, closeLog, err := setup()
	if err != nil {
		return err
	}
	defer closeLog()

	db, err := openRunLog(cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	storeServer, err := server.NewStoreServer(cfg, configPath, db, logger)
	if err != nil {
		return err
	}

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	errs := make(chan error, 1)
	go func() {
		errs <- storeServer.Start()
	}()

	select {
	case err := <-errs:
		return err
	case <-c:
		logger.Info("Received shutdown signal")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := storeServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
		return err
	}
	return <-errs
}
