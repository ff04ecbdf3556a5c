package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cvsloane/agent-commander/internal/api"
	"github.com/cvsloane/agent-commander/internal/types"
)

func publishCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "publish KIND",
		Short: "Publish a domain event to subscribed observers",
		Long: `Publish one event of KIND with the JSON payload read from --file
(or stdin when --file is "-"). Needs a service or admin token.

Known kinds: sessions.updated, approval.created, approval.decided,
session.event, console.output, session.snapshot, tool.activity,
usage.updated.

Examples:
  commanderctl publish sessions.updated -f sessions.json
  echo '{"approval":{"id":"a1","sessionId":"s1","status":"pending"}}' | commanderctl publish approval.created -f -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := types.EventKind(args[0])
			if kind.Topic() == "" {
				return fmt.Errorf("unknown event kind %q", args[0])
			}
			payload, err := readPayload(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			c, err := getClient(requestTimeout)
			if err != nil {
				return err
			}
			req := api.IngestRequest{IngestEvent: api.IngestEvent{Type: kind, Payload: payload}}
			var resp api.IngestResponse
			if err := c.post(cmd.Context(), "/api/v1/events", req, &resp); err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), resp, outputFmt)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON payload file, or - for stdin.")
	return cmd
}

func readPayload(stdin io.Reader, file string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(io.LimitReader(stdin, api.MaxIngestBodyBytes))
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}
