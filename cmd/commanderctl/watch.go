package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/cvsloane/agent-commander/internal/codec"
	"github.com/cvsloane/agent-commander/internal/types"
	"github.com/cvsloane/agent-commander/internal/util"
)

type watchOptions struct {
	topics  []string
	filters []string
	codec   string
	count   int
}

func watchCmd() *cobra.Command {
	opts := watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream events from the observer websocket",
		Long: `Open an observer connection, subscribe to the given topics and print
every event as it arrives. Stops on Ctrl-C or after --count events.

Every --filter applies to each subscribed topic.

Examples:
  # Follow session state and approvals
  commanderctl watch

  # Follow sessions on one host that need attention, as JSON lines
  commanderctl watch --topic sessions --filter hostId=host-1 --filter needsAttention=true -o json

  # Tail one session's console
  commanderctl watch --topic console --filter sessionId=s-42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.topics, "topic", []string{string(types.TopicSessions), string(types.TopicApprovals)}, "Topic to subscribe to (repeatable).")
	cmd.Flags().StringArrayVar(&opts.filters, "filter", nil, "Filter as key=value (repeatable).")
	cmd.Flags().StringVar(&opts.codec, "codec", codec.NameJSON, "Wire codec: json, msgpack or cbor.")
	cmd.Flags().IntVar(&opts.count, "count", 0, "Exit after this many events. Zero streams until interrupted.")
	return cmd
}

func buildSubscriptions(topics, filters []string) ([]types.Subscription, error) {
	filter := map[string]any{}
	for _, f := range filters {
		k, v, ok := strings.Cut(f, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("--filter %q: want key=value", f)
		}
		filter[k] = v
	}
	if len(filter) == 0 {
		filter = nil
	}

	topics = util.UniqueStrings(topics)
	subs := make([]types.Subscription, 0, len(topics))
	for _, t := range topics {
		topic := types.Topic(strings.TrimSpace(t))
		if !topic.Valid() {
			return nil, fmt.Errorf("unknown topic %q", t)
		}
		subs = append(subs, types.Subscription{Topic: topic, Filter: filter})
	}
	if len(subs) == 0 {
		return nil, errors.New("at least one --topic is required")
	}
	return subs, nil
}

func runWatch(ctx context.Context, out io.Writer, opts watchOptions) error {
	subs, err := buildSubscriptions(opts.topics, opts.filters)
	if err != nil {
		return err
	}
	wire, err := codec.Lookup(opts.codec)
	if err != nil {
		return err
	}
	c, err := getClient(requestTimeout)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	ws, _, err := websocket.Dial(dialCtx, c.websocketURL("/ws/observer"), &websocket.DialOptions{
		HTTPHeader:   http.Header{"Authorization": {"Bearer " + c.token}},
		Subprotocols: []string{codec.SubprotocolPrefix + wire.Name()},
	})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")
	ws.SetReadLimit(16 << 20)

	s := &stream{ws: ws, codec: codec.ForSubprotocol(ws.Subprotocol())}

	welcome, err := s.expect(ctx, types.MsgWelcome)
	if err != nil {
		return err
	}
	var w types.Welcome
	if err := welcome.DecodePayload(&w); err != nil {
		return err
	}

	req := types.NewEnvelope(types.MsgSubscribe, types.SubscribeRequest{Subscriptions: subs})
	req.ID = "watch"
	if err := s.send(ctx, req); err != nil {
		return err
	}
	if _, err := s.expect(ctx, types.MsgSubscribed); err != nil {
		return err
	}
	if outputFmt == "table" || outputFmt == "" {
		fmt.Fprintf(out, "# observer %s via %s, %d subscription(s)\n", w.ObserverID, s.codec.Name(), len(subs))
	}

	seen := 0
	for opts.count == 0 || seen < opts.count {
		frame, err := s.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if frame.Type == types.MsgError {
			var info types.ErrorInfo
			_ = frame.DecodePayload(&info)
			return fmt.Errorf("server error: %s: %s", info.Code, info.Message)
		}
		evt, err := frame.Event()
		if err != nil {
			// Control frames this client does not render.
			continue
		}
		if err := printEvent(out, frame.Timestamp, evt, outputFmt); err != nil {
			return err
		}
		seen++
	}
	return nil
}

type stream struct {
	ws    *websocket.Conn
	codec codec.Codec
}

func (s *stream) send(ctx context.Context, env types.Envelope) error {
	data, err := s.codec.Encode(env)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.ws.Write(writeCtx, s.codec.MessageType(), data)
}

func (s *stream) next(ctx context.Context) (codec.Frame, error) {
	_, data, err := s.ws.Read(ctx)
	if err != nil {
		return codec.Frame{}, err
	}
	return s.codec.Decode(data)
}

func (s *stream) expect(ctx context.Context, msgType string) (codec.Frame, error) {
	frame, err := s.next(ctx)
	if err != nil {
		return codec.Frame{}, err
	}
	if frame.Type == types.MsgError {
		var info types.ErrorInfo
		_ = frame.DecodePayload(&info)
		return codec.Frame{}, fmt.Errorf("server error: %s: %s", info.Code, info.Message)
	}
	if frame.Type != msgType {
		return codec.Frame{}, fmt.Errorf("expected %s frame, got %s", msgType, frame.Type)
	}
	return frame, nil
}

// watchedEvent is the printed form of one event.
type watchedEvent struct {
	Type      types.EventKind `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   any             `json:"payload"`
}

func printEvent(out io.Writer, ts time.Time, evt types.Event, format string) error {
	record := watchedEvent{Type: evt.Kind, Timestamp: ts, Payload: evt.Payload}
	switch format {
	case "json":
		data, err := jsonLine(record)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	case "yaml":
		data, err := yaml.Marshal(record)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "---\n%s", data)
		return err
	default:
		_, err := fmt.Fprintf(out, "%s  %-17s %s\n", ts.Local().Format("15:04:05"), evt.Kind, util.Truncate(summarize(evt), 100))
		return err
	}
}

// summarize renders the parts of an event worth a glance.
func summarize(evt types.Event) string {
	switch p := evt.Payload.(type) {
	case types.SessionsUpdated:
		parts := make([]string, 0, len(p.Sessions)+len(p.Deleted))
		for _, s := range p.Sessions {
			parts = append(parts, fmt.Sprintf("%s@%s=%s", s.ID, s.HostID, s.Status))
		}
		for _, id := range p.Deleted {
			parts = append(parts, id+" deleted")
		}
		return strings.Join(parts, " ")
	case types.ApprovalPayload:
		return fmt.Sprintf("%s session=%s tool=%s %s", p.Approval.ID, p.Approval.SessionID, p.Approval.Tool, p.Approval.Status)
	case types.SessionEvent:
		return fmt.Sprintf("session=%s %s", p.SessionID, p.Type)
	case types.ConsoleOutput:
		return fmt.Sprintf("session=%s %q", p.SessionID, p.Data)
	case types.SessionSnapshot:
		return fmt.Sprintf("session=%s %d bytes", p.SessionID, len(p.Content))
	case types.ToolActivity:
		return fmt.Sprintf("session=%s %s %s", p.SessionID, p.Tool, p.Phase)
	case types.UsageUpdate:
		return fmt.Sprintf("session=%s in=%d out=%d", p.SessionID, p.InputTokens, p.OutputTokens)
	default:
		return ""
	}
}
