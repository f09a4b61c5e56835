package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"serial-tool/pkg/config"
	"serial-tool/pkg/serial"
)

var (
	// Config command flags
	configPort        string
	configDescription string
	configSettings    portFlags
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage saved port profiles",
	Long: `Manage named port profiles stored in the configuration file.

A profile remembers a port and its settings so 'serial-tool connect <name>'
can open it without repeating every flag.`,
	Aliases: []string{"profile"},
}

// saveCmd saves a profile
var saveCmd = &cobra.Command{
	Use:   "save <name>",
	Short: "Save a port profile",
	Long: `Save a port and its settings under a name. Settings not given on the
command line are taken from the configured defaults.

Example:
  serial-tool config save bench -p /dev/ttyUSB0 -b 57600 --parity even`,
	Args: cobra.ExactArgs(1),
	RunE: runSaveConfig,
}

// listConfigCmd lists all profiles
var listConfigCmd = &cobra.Command{
	Use:   "list [query]",
	Short: "List saved profiles",
	Long:  `Display the saved profiles, optionally only those whose name, port or description contains query.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runListConfigs,
}

// deleteCmd deletes a profile
var deleteCmd = &cobra.Command{
	Use:     "delete <name>",
	Short:   "Delete a saved profile",
	Aliases: []string{"rm", "remove"},
	Args:    cobra.ExactArgs(1),
	RunE:    runDeleteConfig,
}

// showCmd shows details of a profile
var showCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show details of a saved profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowConfig,
}

// pathCmd prints the configuration file location
var pathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), appConfig.Path())
		return nil
	},
}

func init() {
	// Add subcommands to config
	configCmd.AddCommand(saveCmd)
	configCmd.AddCommand(listConfigCmd)
	configCmd.AddCommand(deleteCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(pathCmd)

	// Add flags for save command
	saveCmd.Flags().StringVarP(&configPort, "port", "p", "", "serial port")
	saveCmd.Flags().StringVar(&configDescription, "description", "", "free-form description")
	configSettings.register(saveCmd.Flags())
	_ = saveCmd.MarkFlagRequired("port")
}

func runSaveConfig(cmd *cobra.Command, args []string) error {
	name := args[0]

	profile := config.Profile{
		Port:         configPort,
		Description:  configDescription,
		PortSettings: configSettings.apply(cmd.Flags(), appConfig.Defaults),
	}
	if err := appConfig.SetProfile(name, profile); err != nil {
		return err
	}
	if err := appConfig.Save(); err != nil {
		return fmt.Errorf("error saving profile: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Profile '%s' saved to %s.\n", name, appConfig.Path())
	printProfile(cmd, profile)
	return nil
}

func runListConfigs(cmd *cobra.Command, args []string) error {
	names := appConfig.ProfileNames()
	if len(args) == 1 {
		names = appConfig.SearchProfiles(args[0])
	}

	out := cmd.OutOrStdout()
	if len(names) == 0 {
		fmt.Fprintln(out, "No saved profiles found.")
		fmt.Fprintln(out, "\nUse 'serial-tool config save <name> -p <port>' to save one.")
		return nil
	}

	fmt.Fprintf(out, "Found %d saved profile(s):\n\n", len(names))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPORT\tSETTINGS\tDESCRIPTION")
	for _, name := range names {
		p := appConfig.Profiles[name]
		settings := "invalid"
		if cfg, err := p.PortConfig(); err == nil {
			settings = cfg.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, p.Port, settings, p.Description)
	}
	return w.Flush()
}

func runShowConfig(cmd *cobra.Command, args []string) error {
	profile, err := appConfig.Profile(args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Profile: %s\n", strings.ToLower(args[0]))
	printProfile(cmd, profile)
	return nil
}

func runDeleteConfig(cmd *cobra.Command, args []string) error {
	if err := appConfig.DeleteProfile(args[0]); err != nil {
		return err
	}
	if err := appConfig.Save(); err != nil {
		return fmt.Errorf("error saving configuration: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Profile '%s' deleted.\n", args[0])
	return nil
}

func printProfile(cmd *cobra.Command, p config.Profile) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "  Port: %s\n", p.Port)
	if p.Description != "" {
		fmt.Fprintf(out, "  Description: %s\n", p.Description)
	}
	fmt.Fprintf(out, "  Baud Rate: %d\n", p.BaudRate)
	fmt.Fprintf(out, "  Data Bits: %d\n", p.DataBits)
	fmt.Fprintf(out, "  Stop Bits: %d\n", p.StopBits)
	fmt.Fprintf(out, "  Parity: %s\n", p.Parity)
	fmt.Fprintf(out, "  Flow Control: %s\n", p.FlowControl)
	fmt.Fprintf(out, "  Read Timeout: %v\n", p.ReadTimeout)
	if !isCommonBaudRate(p.BaudRate) {
		fmt.Fprintf(out, "  Note: %d is not a common baud rate\n", p.BaudRate)
	}
}

func isCommonBaudRate(rate int) bool {
	for _, r := range serial.CommonBaudRates {
		if r == rate {
			return true
		}
	}
	return false
}
