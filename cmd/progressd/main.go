package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	configPath string

	logger *zap.Logger
	opts   = defaultOptions()
)

var rootCmd = &cobra.Command{
	Use:   "progressd",
	Short: "Progressive disclosure engine: check, inspect and run progression configurations",
	Long: `progressd loads a progression configuration (YAML or JSON), decides which interface
elements are visible from recorded usage, and evaluates progression rules on an interval.

Notifications are written to stdout as JSON lines; logs go to stderr.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if strings.TrimSpace(configPath) == "" {
			return nil
		}
		cfg, err := loadRuntimeConfig(configPath)
		if err != nil {
			return err
		}
		return applyRuntimeConfig(cfg, &opts, cmd.Flags().Changed)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML/JSON runtime config file")

	checkCmd.Flags().StringVar(&opts.Unsafe, "unsafe", opts.Unsafe, "Report unsafe conditions as (warn, error, ignore)")

	graphCmd.Flags().StringVar(&opts.GraphFormat, "format", opts.GraphFormat, "Output format (json, dot)")

	simulateCmd.Flags().StringVar(&opts.Events, "events", "", "JSON lines file of {\"element\", \"count\"} steps (stdin when empty)")
	simulateCmd.Flags().Float64Var(&opts.Acceleration, "acceleration", opts.Acceleration, "Clock acceleration factor during the simulation")
	simulateCmd.Flags().IntVar(&opts.Ticks, "ticks", opts.Ticks, "Rule ticks to run after the simulation")
	simulateCmd.Flags().StringVar(&opts.Subject, "subject", "", "Subject key for experiment assignment (random when empty)")

	runCmd.Flags().BoolVar(&opts.Watch, "watch", false, "Reload the configuration when the file changes")
	runCmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "Address to expose Prometheus metrics (disabled when empty)")
	runCmd.Flags().DurationVar(&opts.TickInterval, "interval", opts.TickInterval, "Rule evaluation interval")
	runCmd.Flags().StringVar(&opts.Subject, "subject", "", "Subject key for experiment assignment (random when empty)")

	rootCmd.AddCommand(checkCmd, graphCmd, simulateCmd, runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
