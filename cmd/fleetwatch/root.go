package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rickgao/fleet-live/internal/config"
)

var (
	cfgFile string         // Path to config file (optional)
	cfg     *config.Config // Loaded configuration
	logger  *slog.Logger
)

// rootCmd is the fleetwatch entry point.
var rootCmd = &cobra.Command{
	Use:   "fleetwatch",
	Short: "Follow live fleet telemetry",
	Long:  `fleetwatch connects to the fleet real-time service, watches vehicles and reports their live state.`,
	Example: `
  fleetwatch watch 64f1c2 64f1c3 --config configs/fleetwatch.yaml
  fleetwatch vehicles --page 2 --limit 20 --api-url https://fleet.example.com/api
  fleetwatch version`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for version command
		if cmd.Name() == "version" {
			return nil
		}

		var err error
		if cfgFile != "" {
			cfg, err = config.LoadWithDefaults(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
		} else {
			cfg = config.Default()
		}

		// Override config with command line flags if specified
		flags := cmd.Flags()
		if flags.Changed("url") {
			cfg.Realtime.URL, _ = flags.GetString("url")
		}
		if flags.Changed("api-url") {
			cfg.API.BaseURL, _ = flags.GetString("api-url")
		}
		if flags.Changed("log-level") {
			cfg.Logging.Level, _ = flags.GetString("log-level")
		}
		if flags.Changed("log-format") {
			cfg.Logging.Format, _ = flags.GetString("log-format")
		}
		if flags.Changed("metrics-port") {
			cfg.Metrics.Port, _ = flags.GetInt("metrics-port")
			cfg.Metrics.Enabled = true
		}

		logger = newLogger(cfg.Logging)
		slog.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command with the provided context.
func Execute(ctx context.Context) error {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

func init() {
	// Add persistent flags (inherited by all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to config file (optional)")
	rootCmd.PersistentFlags().String("url", "", "Real-time service URL")
	rootCmd.PersistentFlags().String("api-url", "", "REST API base URL")
	rootCmd.PersistentFlags().String("log-level", config.DefaultLogLevel, "Logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", config.DefaultLogFormat, "Log output format (text or json)")
	rootCmd.PersistentFlags().Int("metrics-port", config.DefaultMetricsPort, "Port for the health and metrics server")

	rootCmd.AddCommand(newWatchCmd(), newVehiclesCmd(), newVersionCmd())
}

// newLogger builds the process logger from the logging section.
func newLogger(c config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
