package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"presence/internal/config"
	"presence/internal/logging"
	"presence/internal/store"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"

	cfg config.App
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "attendctl",
	Short: "attendctl - operate the attendance service",
	Long: `attendctl manages the attendance database and drives the rotating
code display from an instructor's machine.

Configuration comes from the same environment variables (or .env file)
as the api and worker binaries.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		logging.Init(logging.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON, Output: os.Stderr})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(presentCmd)
}

// openDB connects with the configured driver.
func openDB() (*store.DB, error) {
	db, err := store.NewDB(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}
