package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cvsloane/agent-commander/internal/api"
)

func dispatchCmd() *cobra.Command {
	var (
		args     []string
		argsJSON string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "dispatch HOST COMMAND",
		Short: "Run a command on an executor and wait for its result",
		Long: `Send a command to the executor connected for HOST and wait for the
reply. Needs an operator or admin token.

Examples:
  # Capture a session's terminal
  commanderctl dispatch host-1 capture --arg sessionId=s-42

  # Pass structured arguments
  commanderctl dispatch host-1 send_keys --args-json '{"sessionId":"s-42","keys":["Enter"]}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, positional []string) error {
			body := api.CommandBody{
				Command:   positional[1],
				TimeoutMs: timeout.Milliseconds(),
			}
			var err error
			if body.Args, err = parseArgs(args, argsJSON); err != nil {
				return err
			}

			c, err := getClient(timeout + requestTimeout)
			if err != nil {
				return err
			}
			var resp api.CommandResponse
			path := "/api/v1/hosts/" + url.PathEscape(positional[0]) + "/commands"
			err = c.post(cmd.Context(), path, body, &resp)

			var apiErr *APIError
			if err != nil && !(errors.As(err, &apiErr) && resp.CorrelationID != "") {
				return err
			}
			if outErr := outputResult(cmd.OutOrStdout(), resp, outputFmt); outErr != nil {
				return outErr
			}
			if !resp.Result.OK {
				return commandFailure(resp)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&args, "arg", nil, "Command argument as key=value (repeatable).")
	cmd.Flags().StringVar(&argsJSON, "args-json", "", "Command arguments as a JSON object. Merged under --arg.")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "How long the hub waits for the executor. Zero uses the server default.")
	return cmd
}

// parseArgs merges a JSON object with key=value pairs. Pairs win.
func parseArgs(pairs []string, rawJSON string) (map[string]any, error) {
	out := map[string]any{}
	if rawJSON != "" {
		if err := json.Unmarshal([]byte(rawJSON), &out); err != nil {
			return nil, fmt.Errorf("--args-json: %w", err)
		}
		if out == nil {
			out = map[string]any{}
		}
	}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("--arg %q: want key=value", p)
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func commandFailure(resp api.CommandResponse) error {
	if resp.Result.Error == nil {
		return errors.New("command failed")
	}
	return fmt.Errorf("command failed: %s: %s", resp.Result.Error.Code, resp.Result.Error.Message)
}
