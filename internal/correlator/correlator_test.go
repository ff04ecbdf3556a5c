package correlator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cvsloane/agent-commander/internal/registry"
	"github.com/cvsloane/agent-commander/internal/testutil"
	"github.com/cvsloane/agent-commander/internal/types"
)

func setup(t *testing.T, opts Options) (*Correlator, *registry.Registry, *testutil.FakeConn) {
	t.Helper()
	reg := registry.New(nil)
	conn := testutil.NewFakeConn()
	reg.RegisterExecutor("host-1", conn)
	return New(reg, zap.NewNop(), opts), reg, conn
}

func commandEnvelope() types.Envelope {
	return types.NewEnvelope(types.MsgCommand, types.Command{Command: "send_input", Args: map[string]any{"text": "y"}})
}

type dispatchResult struct {
	res types.CommandResult
	err error
}

func dispatchAsync(c *Correlator, ctx context.Context, correlationID string, timeout time.Duration) <-chan dispatchResult {
	ch := make(chan dispatchResult, 1)
	go func() {
		res, err := c.Dispatch(ctx, "host-1", commandEnvelope(), correlationID, timeout)
		ch <- dispatchResult{res, err}
	}()
	return ch
}

func TestDispatch_NotConnected(t *testing.T) {
	c := New(registry.New(nil), zap.NewNop(), DefaultOptions())

	_, err := c.Dispatch(context.Background(), "host-x", commandEnvelope(), "cmd-1", time.Second)

	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Zero(t, c.Pending())
}

func TestDispatch_TimesOut(t *testing.T) {
	c, _, conn := setup(t, DefaultOptions())

	start := time.Now()
	_, err := c.Dispatch(context.Background(), "host-1", commandEnvelope(), "cmd-42", 200*time.Millisecond)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
	assert.Zero(t, c.Pending())

	sent := conn.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "cmd-42", sent[0].CorrelationID)
}

func TestDispatch_ResolvedSuccess(t *testing.T) {
	c, _, conn := setup(t, DefaultOptions())

	done := dispatchAsync(c, context.Background(), "cmd-1", 5*time.Second)
	conn.WaitForSent(t, 1, time.Second)

	ok := c.Resolve("cmd-1", types.CommandResult{OK: true, Result: map[string]any{"exit": float64(0)}})
	require.True(t, ok)

	out := <-done
	require.NoError(t, out.err)
	assert.True(t, out.res.OK)
	assert.Equal(t, float64(0), out.res.Result["exit"])
	assert.Zero(t, c.Pending())
}

func TestDispatch_RemoteFailurePropagatedVerbatim(t *testing.T) {
	c, _, conn := setup(t, DefaultOptions())

	done := dispatchAsync(c, context.Background(), "cmd-1", 5*time.Second)
	conn.WaitForSent(t, 1, time.Second)

	c.Resolve("cmd-1", types.CommandResult{
		OK:    false,
		Error: &types.ErrorInfo{Code: "SESSION_NOT_FOUND", Message: "no tmux pane %7"},
	})

	out := <-done
	var remote *RemoteError
	require.True(t, errors.As(out.err, &remote))
	assert.Equal(t, "SESSION_NOT_FOUND", remote.Code)
	assert.Equal(t, "no tmux pane %7", remote.Message)
	assert.False(t, out.res.OK)
}

func TestDispatch_RemoteFailureWithoutDetail(t *testing.T) {
	c, _, conn := setup(t, DefaultOptions())

	done := dispatchAsync(c, context.Background(), "cmd-1", 5*time.Second)
	conn.WaitForSent(t, 1, time.Second)
	c.Resolve("cmd-1", types.CommandResult{OK: false})

	var remote *RemoteError
	require.ErrorAs(t, (<-done).err, &remote)
	assert.NotEmpty(t, remote.Message)
}

func TestResolve_LateReplyIsNoop(t *testing.T) {
	c, _, _ := setup(t, DefaultOptions())

	_, err := c.Dispatch(context.Background(), "host-1", commandEnvelope(), "cmd-late", 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	assert.False(t, c.Resolve("cmd-late", types.CommandResult{OK: true}))
	assert.False(t, c.Resolve("never-sent", types.CommandResult{OK: true}))
}

func TestResolve_AtMostOnce(t *testing.T) {
	c, _, conn := setup(t, DefaultOptions())

	done := dispatchAsync(c, context.Background(), "cmd-1", 5*time.Second)
	conn.WaitForSent(t, 1, time.Second)

	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _i := 0; _i < 20; _i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Resolve("cmd-1", types.CommandResult{OK: true}) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	require.NoError(t, (<-done).err)
}

func TestDispatch_ContextCanceled(t *testing.T) {
	c, _, conn := setup(t, DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())

	done := dispatchAsync(c, ctx, "cmd-1", 5*time.Second)
	conn.WaitForSent(t, 1, time.Second)
	cancel()

	out := <-done
	assert.ErrorIs(t, out.err, ErrCanceled)
	assert.ErrorIs(t, out.err, context.Canceled)
	assert.Zero(t, c.Pending())
	assert.False(t, c.Resolve("cmd-1", types.CommandResult{OK: true}))
}

func TestDispatch_SendFailure(t *testing.T) {
	reg := registry.New(nil)
	reg.RegisterExecutor("host-1", testutil.NewFailingConn())
	c := New(reg, zap.NewNop(), DefaultOptions())

	_, err := c.Dispatch(context.Background(), "host-1", commandEnvelope(), "cmd-1", time.Second)

	assert.ErrorIs(t, err, testutil.ErrSendFailed)
	assert.Zero(t, c.Pending())
}

func TestDispatch_DuplicateCorrelationID(t *testing.T) {
	c, _, conn := setup(t, DefaultOptions())

	done := dispatchAsync(c, context.Background(), "cmd-1", 5*time.Second)
	conn.WaitForSent(t, 1, time.Second)

	_, err := c.Dispatch(context.Background(), "host-1", commandEnvelope(), "cmd-1", time.Second)
	assert.ErrorIs(t, err, ErrDuplicateCorrelation)

	c.Resolve("cmd-1", types.CommandResult{OK: true})
	require.NoError(t, (<-done).err)
}

func TestDispatch_GeneratesCorrelationID(t *testing.T) {
	c, _, conn := setup(t, DefaultOptions())

	done := dispatchAsync(c, context.Background(), "", 5*time.Second)
	sent := conn.WaitForSent(t, 1, time.Second)
	id := sent[0].CorrelationID
	require.NotEmpty(t, id)

	require.True(t, c.Resolve(id, types.CommandResult{OK: true}))
	require.NoError(t, (<-done).err)
}

func TestDispatch_ConcurrentCallsSettleIndependently(t *testing.T) {
	c, _, conn := setup(t, DefaultOptions())

	const n = 10
	results := make([]<-chan dispatchResult, n)
	for i := 0; i < n; i++ {
		results[i] = dispatchAsync(c, context.Background(), "", 5*time.Second)
	}
	sent := conn.WaitForSent(t, n, time.Second)

	for _, env := range sent {
		require.True(t, c.Resolve(env.CorrelationID, types.CommandResult{OK: true}))
	}
	for _, ch := range results {
		require.NoError(t, (<-ch).err)
	}
	assert.Zero(t, c.Pending())
}

func TestHostDisconnected(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		c, _, conn := setup(t, DefaultOptions())
		done := dispatchAsync(c, context.Background(), "cmd-1", 5*time.Second)
		conn.WaitForSent(t, 1, time.Second)

		assert.Zero(t, c.HostDisconnected("host-1"))
		assert.Equal(t, 1, c.Pending())

		c.Resolve("cmd-1", types.CommandResult{OK: true})
		<-done
	})

	t.Run("fails pending calls when enabled", func(t *testing.T) {
		c, _, conn := setup(t, Options{FailPendingOnDisconnect: true})
		a := dispatchAsync(c, context.Background(), "cmd-a", 5*time.Second)
		b := dispatchAsync(c, context.Background(), "cmd-b", 5*time.Second)
		conn.WaitForSent(t, 2, time.Second)

		assert.Equal(t, 2, c.HostDisconnected("host-1"))
		assert.ErrorIs(t, (<-a).err, ErrHostDisconnected)
		assert.ErrorIs(t, (<-b).err, ErrHostDisconnected)
		assert.Zero(t, c.HostDisconnected("host-1"))
	})
}

func TestNewCorrelationID_SortableAndUnique(t *testing.T) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = NewCorrelationID()
	}
	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.True(t, sort.StringsAreSorted(ids), "v7 ids generated in sequence sort in time order")
}

func TestRemoteError_Error(t *testing.T) {
	assert.Equal(t, "executor error E1: boom", (&RemoteError{Code: "E1", Message: "boom"}).Error())
	assert.Equal(t, "executor error: boom", (&RemoteError{Message: "boom"}).Error())
}

func TestErrorInfo(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
		msg  string
	}{
		{"remote", &RemoteError{Code: "ENOENT", Message: "no such session"}, "ENOENT", "no such session"},
		{"remote no code", &RemoteError{Message: "boom"}, CodeRemote, "boom"},
		{"not connected", fmt.Errorf("dispatch: %w", ErrNotConnected), CodeNotConnected, ""},
		{"timeout", ErrTimeout, CodeTimeout, ""},
		{"canceled", fmt.Errorf("%w: %w", ErrCanceled, context.Canceled), CodeCanceled, ""},
		{"disconnected", ErrHostDisconnected, CodeHostDisconnected, ""},
		{"duplicate", ErrDuplicateCorrelation, CodeDuplicate, ""},
		{"other", errors.New("write: broken pipe"), CodeDispatchFailed, "write: broken pipe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := ErrorInfo(tt.err)
			require.NotNil(t, info)
			assert.Equal(t, tt.code, info.Code)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, info.Message)
			}
		})
	}
	assert.Nil(t, ErrorInfo(nil))
}
