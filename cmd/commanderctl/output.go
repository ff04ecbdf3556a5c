package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/cvsloane/agent-commander/internal/api"
	"github.com/cvsloane/agent-commander/internal/util"
)

// maxCellWidth bounds free-form values in table output.
const maxCellWidth = 60

// outputResult writes result in the requested format.
func outputResult(w io.Writer, result any, format string) error {
	switch format {
	case "json":
		return outputJSON(w, result)
	case "yaml":
		return outputYAML(w, result)
	case "table", "":
		return outputTable(w, result)
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

func outputJSON(w io.Writer, result any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func outputYAML(w io.Writer, result any) error {
	data, err := yaml.Marshal(result)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func outputTable(out io.Writer, result any) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	switch r := result.(type) {
	case api.StatusResponse:
		outputStatusTable(w, r)
	case api.HostsResponse:
		outputHostsTable(w, r)
	case api.ObserversResponse:
		outputObserversTable(w, r)
	case api.CommandResponse:
		outputCommandTable(w, r)
	case api.IngestResponse:
		fmt.Fprintf(w, "PUBLISHED:\t%d\n", r.Published)
	default:
		// Fall back to JSON for unknown types
		return outputJSON(out, result)
	}
	return nil
}

func outputStatusTable(w *tabwriter.Writer, r api.StatusResponse) {
	fmt.Fprintf(w, "VERSION:\t%s\n", r.Version)
	fmt.Fprintf(w, "UP SINCE:\t%s\n", r.UpSince)
	fmt.Fprintf(w, "OBSERVERS:\t%d\n", r.Observers)
	fmt.Fprintf(w, "EXECUTORS:\t%d\n", r.Executors)
	fmt.Fprintf(w, "PENDING COMMANDS:\t%d\n", r.PendingCommands)
	fmt.Fprintf(w, "CODECS:\t%s\n\n", strings.Join(r.Codecs, ", "))

	fmt.Fprintln(w, "NOTIFICATIONS:")
	fmt.Fprintf(w, "  RECIPIENTS:\t%d\n", r.Notifications.Recipients)
	fmt.Fprintf(w, "  QUEUED:\t%d\n", r.Notifications.Queued)
	fmt.Fprintf(w, "  TRACKED:\t%d\n", r.Notifications.Tracked)
}

func outputHostsTable(w *tabwriter.Writer, r api.HostsResponse) {
	if len(r.Hosts) == 0 {
		fmt.Fprintln(w, "No executors connected.")
		return
	}
	fmt.Fprintln(w, "HOST\tLAST ACKED SEQ\tCONNECTED")
	for _, h := range r.Hosts {
		fmt.Fprintf(w, "%s\t%d\t%s\n", h.HostID, h.LastAckedSeq, age(h.ConnectedAt))
	}
}

func outputObserversTable(w *tabwriter.Writer, r api.ObserversResponse) {
	if len(r.Observers) == 0 {
		fmt.Fprintln(w, "No observers connected.")
		return
	}
	fmt.Fprintln(w, "ID\tSUBJECT\tROLE\tSUBSCRIPTIONS\tCONNECTED")
	for _, o := range r.Observers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", o.ID, o.Subject, o.Role, o.Subscriptions, age(o.ConnectedAt))
	}
}

func outputCommandTable(w *tabwriter.Writer, r api.CommandResponse) {
	status := "OK"
	if !r.Result.OK {
		status = "FAILED"
	}
	fmt.Fprintf(w, "CORRELATION ID:\t%s\n", r.CorrelationID)
	fmt.Fprintf(w, "STATUS:\t%s\n", status)
	if r.Result.Error != nil {
		fmt.Fprintf(w, "ERROR:\t%s: %s\n", r.Result.Error.Code, util.Truncate(r.Result.Error.Message, maxCellWidth))
	}

	if len(r.Result.Result) > 0 {
		fmt.Fprintln(w, "\nRESULT:")
		keys := make([]string, 0, len(r.Result.Result))
		for k := range r.Result.Result {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s\t%s\n", k, util.Truncate(cell(r.Result.Result[k]), maxCellWidth))
		}
	}
}

// cell renders an arbitrary JSON value on one line.
func cell(v any) string {
	if s, ok := v.(string); ok {
		return strings.ReplaceAll(s, "\n", " ")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// age renders how long ago t was, rounded to the second.
func age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Round(time.Second).String()
}

// jsonLine encodes v compactly followed by a newline.
func jsonLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
