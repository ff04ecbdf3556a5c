// commander is the realtime hub between agent executors and observers.
//
// Usage:
//
//	commander serve --config commander.yaml
//	commander serve --listen :9090 --log-format console
//	commander version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "commander",
		Short: "Realtime distribution and notification hub for agent sessions",
		Long: `commander accepts executor connections from hosts running agent sessions,
fans their events out to subscribed observers, routes commands back to
executors, and sends throttled alerts to external channels.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
