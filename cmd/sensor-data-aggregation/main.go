package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/i474232898/sensor-data-aggregation/internal/config"
	"github.com/i474232898/sensor-data-aggregation/internal/logger"
)

// cfg is loaded once by the root command before any subcommand runs.
var cfg *config.AppConfig

var rootCmd = &cobra.Command{
	Use:   "sensor-data-aggregation",
	Short: "Retrieve, reconcile and serve environmental sensor data",
	Long: `sensor-data-aggregation pulls observations from HOBOlink, LI-COR,
Tellus and SenseCAP, splitting requests that hit a vendor's per-call cap,
and merges them onto one schema.

Available commands:
  serve    - Run the HTTP API with a periodic vendor sync
  fetch    - Retrieve a time range once and write it to CSV
  smooth   - Resample and filter a CSV export
  nightly  - Average readings inside a nightly time window per day

Examples:
  sensor-data-aggregation serve
  sensor-data-aggregation fetch --vendor tellus --from 2025-09-01T00:00:00Z --to 2025-09-02T00:00:00Z --out day.csv.gz
  sensor-data-aggregation smooth --in day.csv.gz --out day-smooth.csv --method sma --window 15
  sensor-data-aggregation nightly --month 2025-09 --window-start 02:00 --window-end 04:00`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envErr := config.LoadEnv()

		loaded, err := config.Load()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}
		cfg = loaded

		if err := logger.Initialize(logger.Options{
			JSON:  cfg.Log.Format == "json",
			Level: cfg.Log.Level,
			File:  cfg.Log.File,
		}); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		if envErr != nil {
			logger.Logger.Debugw("no .env file loaded", logger.FieldError, envErr)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(smoothCmd)
	rootCmd.AddCommand(nightlyCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if hint := errors.FlattenHints(err); hint != "" {
			fmt.Fprintln(os.Stderr, "Hint:", hint)
		}
		_ = logger.Logger.Sync()
		os.Exit(1)
	}
	_ = logger.Logger.Sync()
}
