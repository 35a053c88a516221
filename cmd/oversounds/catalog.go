package main

import (
	"encoding/json"
	"fmt"
	"os"

	"oversounds/internal/store"
	"oversounds/pkg/models"

	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Build the storefront once and print it as JSON",
	RunE:  runCatalog,
}

func init() {
	catalogCmd.Flags().String("kind", "", "Only print one kind: song, album or merch")
	rootCmd.AddCommand(catalogCmd)
}

func runCatalog(cmd *cobra.Command, args []string) error {
	cfg, logger, closeLog, err := setup()
	if err != nil {
		return err
	}
	defer closeLog()

	var kind models.ProductKind
	if v, _ := cmd.Flags().GetString("kind"); v != "" {
		if kind, err = models.ParseProductKind(v); err != nil {
			return err
		}
	}

	db, err := openRunLog(cfg, logger)
	if err != nil {
		return err
	}
	var recorder store.RunRecorder
	if db != nil {
		defer db.Close()
		recorder = db
	}

	products, err := store.FromConfig(cfg, recorder, logger).Products(cmd.Context())
	if err != nil {
		return fmt.Errorf("error building storefront: %w", err)
	}
	if kind != 0 {
		products = store.FilterKind(products, kind)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(products)
}
