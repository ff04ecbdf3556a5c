// commanderctl is a CLI for inspecting and driving a commander hub.
//
// Installation:
//
//	go build -o commanderctl ./cmd/commanderctl
//	mv commanderctl /usr/local/bin/
//
// Usage:
//
//	commanderctl status
//	commanderctl hosts -o json
//	commanderctl dispatch host-1 restart --arg session=s1
//	commanderctl publish sessions.updated -f payload.json
//	commanderctl watch --topic sessions --topic approvals
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
	token     string
	outputFmt string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "commanderctl",
		Short: "Inspect and drive a commander hub",
		Long: `commanderctl talks to a commander hub over its HTTP API and observer
websocket. The token is read from --token or COMMANDER_TOKEN.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("COMMANDER_SERVER", "http://localhost:8080"), "Base URL of the commander hub.")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("COMMANDER_TOKEN"), "Bearer token.")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(hostsCmd())
	rootCmd.AddCommand(observersCmd())
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(publishCmd())
	rootCmd.AddCommand(watchCmd())
	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
