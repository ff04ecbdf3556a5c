package correlator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cvsloane/agent-commander/internal/registry"
	"github.com/cvsloane/agent-commander/internal/types"
)

// DefaultTimeout applies when Dispatch is called with a zero timeout.
const DefaultTimeout = 10 * time.Second

var (
	ErrNotConnected         = errors.New("host not connected")
	ErrTimeout              = errors.New("command timed out")
	ErrCanceled             = errors.New("command canceled")
	ErrHostDisconnected     = errors.New("host disconnected")
	ErrDuplicateCorrelation = errors.New("correlation id already in flight")
)

// RemoteError is an executor-reported failure, propagated verbatim.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return "executor error: " + e.Message
	}
	return fmt.Sprintf("executor error %s: %s", e.Code, e.Message)
}

// Hosts finds the live executor connection for a host.
type Hosts interface {
	Executor(hostID string) (*registry.Executor, bool)
}

// Options configures the Correlator.
type Options struct {
	// DefaultTimeout is used when Dispatch gets a zero timeout.
	DefaultTimeout time.Duration
	// FailPendingOnDisconnect makes HostDisconnected fail in-flight calls
	// immediately instead of letting them run into their timeout.
	FailPendingOnDisconnect bool
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{DefaultTimeout: DefaultTimeout}
}

type outcome struct {
	result types.CommandResult
	err    error
}

type pendingCommand struct {
	hostID    string
	command   string
	startedAt time.Time
	timer     *time.Timer
	done      chan outcome // buffered 1, written once by the settling owner
}

// Correlator tracks in-flight executor commands.
type Correlator struct {
	hosts  Hosts
	logger *zap.Logger
	opts   Options

	mu      sync.Mutex
	pending map[string]*pendingCommand
}

// New creates a Correlator.
func New(hosts Hosts, logger *zap.Logger, opts Options) *Correlator {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	return &Correlator{
		hosts:   hosts,
		logger:  logger.Named("correlator"),
		opts:    opts,
		pending: make(map[string]*pendingCommand),
	}
}

// NewCorrelationID returns a globally unique, lexicographically sortable id.
func NewCorrelationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Dispatch sends env to hostID's executor and blocks until the matching
// reply, the timeout, or ctx ends. An empty correlationID gets a fresh one.
// On a RemoteError the executor's result is returned alongside the error.
func (c *Correlator) Dispatch(ctx context.Context, hostID string, env types.Envelope, correlationID string, timeout time.Duration) (types.CommandResult, error) {
	exec, ok := c.hosts.Executor(hostID)
	if !ok {
		commandsTotal.WithLabelValues(outcomeNotConnected).Inc()
		return types.CommandResult{}, fmt.Errorf("%w: %s", ErrNotConnected, hostID)
	}
	if timeout <= 0 {
		timeout = c.opts.DefaultTimeout
	}
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	env.CorrelationID = correlationID

	p := &pendingCommand{
		hostID:    hostID,
		command:   commandName(env),
		startedAt: time.Now(),
		done:      make(chan outcome, 1),
	}

	c.mu.Lock()
	if _, exists := c.pending[correlationID]; exists {
		c.mu.Unlock()
		return types.CommandResult{}, fmt.Errorf("%w: %s", ErrDuplicateCorrelation, correlationID)
	}
	c.pending[correlationID] = p
	p.timer = time.AfterFunc(timeout, func() {
		c.settle(correlationID, outcome{err: fmt.Errorf("%w after %s", ErrTimeout, timeout)})
	})
	c.mu.Unlock()
	pendingGauge.Inc()

	if err := exec.Conn().Send(ctx, env); err != nil {
		c.settle(correlationID, outcome{err: fmt.Errorf("send to %s: %w", hostID, err)})
	}

	select {
	case out := <-p.done:
		return out.result, out.err
	case <-ctx.Done():
		if c.settle(correlationID, outcome{err: fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())}) {
			c.logger.Debug("Command canceled by caller",
				zap.String("correlationId", correlationID),
				zap.String("host", hostID))
		}
		out := <-p.done
		return out.result, out.err
	}
}

// Resolve settles the pending call for correlationID with the executor's
// reply. Returns false when nothing was pending (late or unknown reply).
func (c *Correlator) Resolve(correlationID string, res types.CommandResult) bool {
	out := outcome{result: res}
	if !res.OK {
		remote := &RemoteError{Message: "executor reported failure"}
		if res.Error != nil {
			remote.Code = res.Error.Code
			remote.Message = res.Error.Message
		}
		out.err = remote
	}
	if !c.settle(correlationID, out) {
		c.logger.Debug("Reply for unknown or settled command dropped",
			zap.String("correlationId", correlationID))
		return false
	}
	return true
}

// HostDisconnected fails every call pending on hostID when
// FailPendingOnDisconnect is set. Returns how many calls were failed.
func (c *Correlator) HostDisconnected(hostID string) int {
	if !c.opts.FailPendingOnDisconnect {
		return 0
	}

	c.mu.Lock()
	var ids []string
	for id, p := range c.pending {
		if p.hostID == hostID {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()

	failed := 0
	for _, id := range ids {
		if c.settle(id, outcome{err: fmt.Errorf("%w: %s", ErrHostDisconnected, hostID)}) {
			failed++
		}
	}
	if failed > 0 {
		c.logger.Info("Failed pending commands for disconnected host",
			zap.String("host", hostID),
			zap.Int("count", failed))
	}
	return failed
}

// Pending returns the number of in-flight calls.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// settle removes the entry and delivers out. Only the caller that removes
// the entry delivers, so each call settles at most once.
func (c *Correlator) settle(correlationID string, out outcome) bool {
	c.mu.Lock()
	p, ok := c.pending[correlationID]
	if ok {
		delete(c.pending, correlationID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}

	p.timer.Stop()
	pendingGauge.Dec()
	commandsTotal.WithLabelValues(outcomeLabel(out.err)).Inc()
	commandDuration.Observe(time.Since(p.startedAt).Seconds())
	if errors.Is(out.err, ErrTimeout) {
		c.logger.Warn("Command timed out",
			zap.String("correlationId", correlationID),
			zap.String("host", p.hostID),
			zap.String("command", p.command))
	}
	p.done <- out
	return true
}

func commandName(env types.Envelope) string {
	if cmd, ok := env.Payload.(types.Command); ok && cmd.Command != "" {
		return cmd.Command
	}
	return env.Type
}

func outcomeLabel(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return outcomeOK
	case errors.As(err, &remote):
		return outcomeRemoteError
	case errors.Is(err, ErrTimeout):
		return outcomeTimeout
	case errors.Is(err, ErrCanceled):
		return outcomeCanceled
	case errors.Is(err, ErrHostDisconnected):
		return outcomeDisconnected
	default:
		return outcomeSendFailed
	}
}

// Wire error codes for Dispatch failures.
const (
	CodeNotConnected     = "not_connected"
	CodeTimeout          = "timeout"
	CodeCanceled         = "canceled"
	CodeHostDisconnected = "host_disconnected"
	CodeDuplicate        = "duplicate_correlation"
	CodeRemote           = "remote_error"
	CodeDispatchFailed   = "dispatch_failed"
)

// ErrorInfo converts a Dispatch error to its wire form. Executor errors
// keep their code and message.
func ErrorInfo(err error) *types.ErrorInfo {
	if err == nil {
		return nil
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		code := remote.Code
		if code == "" {
			code = CodeRemote
		}
		return &types.ErrorInfo{Code: code, Message: remote.Message}
	}
	code := CodeDispatchFailed
	switch {
	case errors.Is(err, ErrNotConnected):
		code = CodeNotConnected
	case errors.Is(err, ErrTimeout):
		code = CodeTimeout
	case errors.Is(err, ErrCanceled):
		code = CodeCanceled
	case errors.Is(err, ErrHostDisconnected):
		code = CodeHostDisconnected
	case errors.Is(err, ErrDuplicateCorrelation):
		code = CodeDuplicate
	}
	return &types.ErrorInfo{Code: code, Message: err.Error()}
}
