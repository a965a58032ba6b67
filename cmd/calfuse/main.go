package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"calfuse/internal/config"
	"calfuse/internal/logging"
	"calfuse/internal/registry"
)

var (
	// Global flags
	verbose    bool
	configPath string
	sourceDir  string
	dbPath     string

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "calfuse",
	Short: "calfuse - layered calibration fusion engine",
	Long: `calfuse combines independent evidence layers about a method's quality
into a single bounded score via a 2-additive Choquet integral, resolves
weights through an eight-tier configuration cascade, and issues a
content-addressed audit certificate for every computation.

Certificates are persisted for offline re-verification; the policy layer
turns scores into execution and weighting decisions and watches score
history for drift.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.Initialize(logger)

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		// Flags beat config file and environment.
		if sourceDir != "" {
			cfg.SourceDir = sourceDir
		}
		if dbPath != "" {
			cfg.DatabasePath = dbPath
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

// openRegistry builds the configuration registry from the configured source
// directory, or from the embedded defaults when none is set.
func openRegistry() (*registry.Registry, error) {
	if cfg.SourceDir != "" {
		return registry.Open(cfg.SourceDir)
	}
	logging.Get(logging.CategoryBoot).Debug("no source directory configured, using embedded defaults")
	return registry.New(registry.DefaultSources())
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "calfuse.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&sourceDir, "sources", "", "Calibration source directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Certificate database path (overrides config)")

	rootCmd.AddCommand(calibrateCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(driftCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
