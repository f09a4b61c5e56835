package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"serial-tool/pkg/app"
	"serial-tool/pkg/event"
	"serial-tool/pkg/serial"
)

var (
	listUSBOnly bool
	listFormat  string
	listWatch   bool
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available serial ports",
	Long: `List all available serial ports on the system.

USB ports are shown with their vendor and product IDs, serial number and
product name when the platform reports them. With --watch the command
keeps running and prints the port set whenever a port appears or goes away.`,
	Aliases: []string{"ls", "ports"},
	Args:    cobra.NoArgs,
	RunE:    runList,
}

func init() {
	listCmd.Flags().BoolVar(&listUSBOnly, "usb", false, "only show USB ports")
	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format (table, json)")
	listCmd.Flags().BoolVarP(&listWatch, "watch", "w", false, "keep running and report port changes")
}

func portRegistry(usbOnly bool) *serial.PortRegistry {
	opts := []serial.RegistryOption{serial.WithRegistryLogger(logger)}
	if usbOnly {
		opts = append(opts, serial.WithUSBOnly())
	}
	if portEnumerator != nil {
		opts = append(opts, serial.WithEnumerator(portEnumerator))
	}
	return serial.NewPortRegistry(opts...)
}

func runList(cmd *cobra.Command, args []string) error {
	usbOnly := listUSBOnly || appConfig.Session.USBOnly

	if listWatch {
		return watchPorts(cmd, usbOnly)
	}

	ports, err := portRegistry(usbOnly).ListPorts()
	if err != nil {
		return fmt.Errorf("error listing ports: %w", err)
	}

	out := cmd.OutOrStdout()
	switch listFormat {
	case "json":
		return printPortsJSON(out, ports)
	case "table":
		printPortsTable(out, ports)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", listFormat)
	}
}

func printPortsTable(out io.Writer, ports []serial.PortDescriptor) {
	if len(ports) == 0 {
		fmt.Fprintln(out, "No serial ports found.")
		return
	}

	fmt.Fprintf(out, "Found %d serial port(s):\n\n", len(ports))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tUSB\tVID:PID\tSERIAL\tPRODUCT")
	for _, p := range ports {
		usb, ids := "no", ""
		if p.IsUSB {
			usb = "yes"
			ids = p.VID + ":" + p.PID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.Name, usb, ids, p.SerialNumber, p.Product)
	}
	w.Flush()

	fmt.Fprintln(out, "\nUse 'serial-tool connect <port>' to connect.")
}

func printPortsJSON(out io.Writer, ports []serial.PortDescriptor) error {
	if ports == nil {
		ports = []serial.PortDescriptor{}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(ports)
}

// watchPorts prints the port set until interrupted
func watchPorts(cmd *cobra.Command, usbOnly bool) error {
	session, err := app.NewSession(app.Options{
		USBOnly:       usbOnly,
		WatchInterval: appConfig.Session.WatchInterval,
		Logger:        logger,
		Enumerator:    portEnumerator,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sub := session.Subscribe(event.PortsChanged)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range sub.C() {
			fmt.Fprintln(cmd.OutOrStdout(), app.FormatEvent(ev))
		}
	}()

	session.WatchPorts(ctx)

	err = session.Shutdown()
	<-printed
	return err
}
