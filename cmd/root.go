package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"serial-tool/pkg/config"
	"serial-tool/pkg/logging"
	"serial-tool/pkg/serial"
)

var (
	// Root command flags
	cfgFile string
	verbose bool

	// Loaded by initConfig before any subcommand runs
	appConfig *config.Config
	logger    = zap.NewNop()

	// Replaced in tests; nil selects the platform implementation
	portEnumerator serial.EnumerateFunc
	portOpener     serial.Opener

	// Root command
	rootCmd = &cobra.Command{
		Use:               "serial-tool",
		Short:             "A cross-platform serial port communication tool",
		Version:           "1.0.0",
		PersistentPreRunE: initConfig,
		RunE:              runRoot,
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
)

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() {
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./serial-tool.yaml or "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose diagnostics")

	// Add subcommands
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(connectCmd)
}

// initConfig reads the config file and SERIAL_TOOL_* variables and sets up
// diagnostic logging
func initConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	l, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}

	appConfig = cfg
	logger = l.With(zap.String("command", cmd.Name()))
	logger.Debug("Configuration loaded", zap.String("path", cfg.Path()))
	return nil
}

// runRoot shows help when no subcommand is given
func runRoot(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}
