package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"serial-tool/pkg/app"
	"serial-tool/pkg/codec"
	"serial-tool/pkg/config"
	"serial-tool/pkg/serial"
)

var (
	connectPort     portFlags
	connectHex      bool
	connectLineFeed bool
	connectLogDir   string
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect <port|profile>",
	Short: "Connect to a serial port",
	Long: `Connect to a serial port directly or using a saved profile.

Each line typed is sent to the port and everything received is printed
with a timestamp. Lines starting with ':' are commands, see :help.
All traffic is written to a session log under the configured log directory.

Examples:
  # Connect to COM3 with the default settings
  serial-tool connect COM3

  # Connect to /dev/ttyUSB0 at 9600 baud, sending hex
  serial-tool connect /dev/ttyUSB0 -b 9600 --hex

  # Connect using a saved profile, overriding its baud rate
  serial-tool connect bench -b 57600`,
	Args:    cobra.ExactArgs(1),
	Aliases: []string{"open", "c"},
	RunE:    runConnect,
}

func init() {
	connectPort.register(connectCmd.Flags())
	connectCmd.Flags().BoolVar(&connectHex, "hex", false, "send and display data as hex")
	connectCmd.Flags().BoolVar(&connectLineFeed, "lf", false, "append a line feed to every line sent")
	connectCmd.Flags().StringVar(&connectLogDir, "log-dir", "", "directory for the session log (default from config)")
}

// resolveTarget returns the port and settings for a port name or profile
func resolveTarget(cmd *cobra.Command, target string) (string, serial.PortConfig, error) {
	port := target
	base := appConfig.Defaults

	profile, err := appConfig.Profile(target)
	switch {
	case err == nil:
		port = profile.Port
		base = profile.PortSettings
		logger.Debug("Using saved profile", zap.String("profile", target), zap.String("port", port))
	case !errors.Is(err, config.ErrProfileNotFound):
		return "", serial.PortConfig{}, err
	}

	cfg, err := connectPort.apply(cmd.Flags(), base).PortConfig()
	if err != nil {
		return "", serial.PortConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return port, cfg, nil
}

func runConnect(cmd *cobra.Command, args []string) error {
	port, portCfg, err := resolveTarget(cmd, args[0])
	if err != nil {
		return err
	}

	mode := appConfig.Mode()
	if connectHex {
		mode = codec.ModeHex
	}

	opts := app.OptionsFromConfig(appConfig, logger)
	if connectLogDir != "" {
		opts.LogDir = connectLogDir
	}
	opts.Opener = portOpener
	opts.Enumerator = portEnumerator

	session, err := app.NewSession(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in := cmd.InOrStdin()
	runner := app.NewRunner(session, app.RunOptions{
		Port:     port,
		Config:   portCfg,
		Mode:     mode,
		LineFeed: connectLineFeed || appConfig.Session.LineFeed,
		Prompt:   isTerminal(in),
	}, in, cmd.OutOrStdout())

	runErr := runner.Run(ctx)
	if err := session.Shutdown(); err != nil {
		logger.Warn("Session shutdown failed", zap.Error(err))
	}

	if runErr != nil {
		return connectHint(runErr)
	}
	return nil
}

// connectHint adds advice for the failures users most often run into
func connectHint(err error) error {
	switch {
	case errors.Is(err, serial.ErrPlatformFailure):
		return fmt.Errorf("%w\n\nPossible solutions:\n"+
			"  - Check that the port exists: serial-tool list\n"+
			"  - Check that you have permission to access it (on Linux, the 'dialout' group)\n"+
			"  - Close other programs that may be using the port", err)
	case errors.Is(err, serial.ErrInvalidConfig):
		return fmt.Errorf("%w\n\nSupported baud rates range from %d to %d", err, serial.MinBaudRate, serial.MaxBaudRate)
	default:
		return err
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
