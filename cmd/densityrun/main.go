package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/densityrun/internal/config"
	applog "github.com/sawpanic/densityrun/internal/log"
)

const (
	appName = "DensityRun"
	version = "v1.0.0"
)

// cfg is loaded once by the root command before any subcommand runs
var cfg *config.Config

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:     "densityrun",
		Short:   "Order-book density scanner",
		Version: version,
		Long: `DensityRun polls order books on KuCoin, Hyperliquid and BingX, finds
large resting liquidity walls near the mid price and alerts when they appear,
grow or persist.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("DENSITYRUN_CONFIG")
			}
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				loaded.Logging.Level = logLevel
			}
			if err := applog.Setup(loaded.Logging); err != nil {
				return err
			}
			cfg = loaded

			log.Debug().
				Str("config", configPath).
				Strs("exchanges", cfg.EnabledExchanges()).
				Msg("Configuration loaded")
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config (defaults to $DENSITYRUN_CONFIG, then built-in defaults)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug|info|warn|error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the continuous scanner",
		Long:  "Scans every enabled exchange in a loop, streams priority symbols and delivers alerts to the configured sinks",
		RunE:  runScanner,
	}
	runCmd.Flags().Bool("no-http", false, "Disable the health and metrics server")
	runCmd.Flags().Bool("no-stream", false, "Disable websocket watchers for priority symbols")

	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single scan cycle and print the accepted alerts",
		RunE:  runOnce,
	}
	onceCmd.Flags().Bool("send", false, "Deliver accepted alerts to the configured sinks")
	onceCmd.Flags().String("csv", "", "Write accepted alerts to this CSV file")
	onceCmd.Flags().String("json", "", "Write the cycle summary and alerts to this JSON file")
	onceCmd.Flags().String("progress", "auto", "Progress output mode (auto|on|off)")

	marketsCmd := &cobra.Command{
		Use:   "markets <exchange>",
		Short: "List the symbols scanned on an exchange with their thresholds",
		Args:  cobra.ExactArgs(1),
		RunE:  runMarkets,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and summarise it",
		RunE:  runConfigValidate,
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE:  runConfigShow,
	})

	rootCmd.AddCommand(runCmd, onceCmd, marketsCmd, configCmd)
	return rootCmd
}
