package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/cvsloane/agent-commander/internal/api"
)

const requestTimeout = 30 * time.Second

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show hub connection and notification counters",
		Long: `Show a summary of the hub: connected observers and executors, commands
in flight, and the state of the notification pipeline.

Examples:
  # Show status
  commanderctl status

  # Output as JSON
  commanderctl status -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp api.StatusResponse
			return fetchAndPrint(cmd, "/api/v1/status", &resp)
		},
	}
}

func hostsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hosts",
		Short: "List connected executors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp api.HostsResponse
			return fetchAndPrint(cmd, "/api/v1/hosts", &resp)
		},
	}
}

func observersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "observers",
		Short: "List connected observers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp api.ObserversResponse
			return fetchAndPrint(cmd, "/api/v1/observers", &resp)
		},
	}
}

// fetchAndPrint GETs path into out and prints the dereferenced value.
func fetchAndPrint[T any](cmd *cobra.Command, path string, out *T) error {
	c, err := getClient(requestTimeout)
	if err != nil {
		return err
	}
	if err := c.get(cmd.Context(), path, out); err != nil {
		return err
	}
	return outputResult(cmd.OutOrStdout(), *out, outputFmt)
}
