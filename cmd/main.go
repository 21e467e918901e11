package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/1F47E/geo-viewport-cache/pkg/config"
	"github.com/1F47E/geo-viewport-cache/pkg/logging"
)

var (
	configFile string
	envFile    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "viewcache",
	Short: "Viewport location cache",
	Long: `Answers "which records are visible in this map viewport" queries,
ordered by importance, from a cache of previously queried bounding boxes.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file path (default $VIEWCACHE_CONFIG or ./viewcache.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file with VIEWCACHE_* overrides, skipped when absent")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(generateCmd, queryCmd, serveCmd, loadPostGISCmd)
}

// loadConfig reads the configuration and initialises logging from it.
// Variables from the dotenv file never override the real environment.
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	logging.Init(cfg.Log)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
