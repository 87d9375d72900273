package bridge_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tomyan/wdio-electron/internal/bridge"
	"github.com/tomyan/wdio-electron/internal/cdp"
	"github.com/tomyan/wdio-electron/internal/endpoint"
	"github.com/tomyan/wdio-electron/internal/log"
	"github.com/tomyan/wdio-electron/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

var errRefused = errors.New("connection refused")

// electronMain answers like the main process inspector of an Electron app.
func electronMain(method string, _ json.RawMessage) (testutil.Reply, []testutil.Event) {
	switch method {
	case "Runtime.enable":
		return testutil.Reply{}, []testutil.Event{testutil.ContextCreated(7)}
	case "Runtime.evaluate":
		return testutil.Reply{Result: testutil.ValueResult(2)}, nil
	}
	return testutil.Reply{}, nil
}

func endpointOf(insp *testutil.Inspector) endpoint.Endpoint {
	return endpoint.Endpoint{Host: insp.Host(), Port: insp.Port()}
}

// flakyDialer fails the first n dials, then dials for real.
func flakyDialer(n int32, dials *atomic.Int32) bridge.Dialer {
	return func(ctx context.Context, ep endpoint.Endpoint, logger *log.Logger) (*cdp.Client, error) {
		if dials.Add(1) <= n {
			return nil, errRefused
		}
		return cdp.Connect(ctx, ep.Host, ep.Port, logger)
	}
}

// fakeTime returns a mock clock and a sleep func advancing it.
func fakeTime() (*clock.Mock, *[]time.Duration, bridge.Option, bridge.Option) {
	mock := clock.NewMock()
	var sleeps []time.Duration
	sleep := func(d time.Duration) {
		sleeps = append(sleeps, d)
		mock.Add(d)
	}
	return mock, &sleeps, bridge.WithClock(mock), bridge.WithSleep(sleep)
}

func connectCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestManager_DefaultOptions(t *testing.T) {
	t.Parallel()

	m := bridge.NewManager(endpoint.Endpoint{Host: "localhost", Port: 9229}, bridge.Options{})

	assert.Equal(t, bridge.Options{
		Timeout:      bridge.DefaultTimeout,
		WaitInterval: bridge.DefaultWaitInterval,
		RetryCount:   bridge.DefaultRetryCount,
	}, m.Options())
	assert.Equal(t, bridge.Disconnected, m.State())
	assert.Nil(t, m.Client())
}

func TestManager_Connect_Handshake(t *testing.T) {
	t.Parallel()

	// Given an inspector that announces the main context on Runtime.enable
	insp := testutil.NewInspector(t, electronMain)
	m := bridge.NewManager(endpointOf(insp), bridge.Options{})
	t.Cleanup(func() { m.Close() })

	// When connecting
	client, err := m.Connect(connectCtx(t))

	// Then the manager is connected with the announced context
	require.NoError(t, err)
	assert.Same(t, client, m.Client())
	assert.Equal(t, bridge.Connected, m.State())
	assert.EqualValues(t, 7, m.ContextID())
	assert.Equal(t, 1, m.Attempts())
	assert.Equal(t, []string{"Runtime.enable"}, insp.Methods())
}

func TestManager_Connect_WhenConnectedReturnsSameClient(t *testing.T) {
	t.Parallel()

	insp := testutil.NewInspector(t, electronMain)
	m := bridge.NewManager(endpointOf(insp), bridge.Options{})
	t.Cleanup(func() { m.Close() })

	first, err := m.Connect(connectCtx(t))
	require.NoError(t, err)
	second, err := m.Connect(connectCtx(t))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, []string{"Runtime.enable"}, insp.Methods())
}

func TestManager_Connect_RetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	// Given the app needs three dials before its inspector is up
	insp := testutil.NewInspector(t, electronMain)
	var dials atomic.Int32
	_, sleeps, withClock, withSleep := fakeTime()
	m := bridge.NewManager(endpointOf(insp),
		bridge.Options{WaitInterval: 200 * time.Millisecond, RetryCount: 5},
		bridge.WithDialer(flakyDialer(2, &dials)), withClock, withSleep)
	t.Cleanup(func() { m.Close() })

	// When connecting
	_, err := m.Connect(connectCtx(t))

	// Then it connected on the third attempt after two waits
	require.NoError(t, err)
	assert.Equal(t, bridge.Connected, m.State())
	assert.Equal(t, 3, m.Attempts())
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 200 * time.Millisecond}, *sleeps)
}

func TestManager_Connect_ExhaustsRetryCount(t *testing.T) {
	t.Parallel()

	var dials atomic.Int32
	_, sleeps, withClock, withSleep := fakeTime()
	m := bridge.NewManager(endpoint.Endpoint{Host: "localhost", Port: 9229},
		bridge.Options{Timeout: 10 * time.Second, WaitInterval: 100 * time.Millisecond, RetryCount: 4},
		bridge.WithDialer(flakyDialer(100, &dials)), withClock, withSleep)

	_, err := m.Connect(connectCtx(t))

	var connErr *bridge.ConnectionError
	require.True(t, errors.As(err, &connErr), "got %v", err)
	assert.Equal(t, 4, connErr.Attempts)
	assert.Equal(t, "localhost:9229", connErr.Endpoint)
	assert.Equal(t, 300*time.Millisecond, connErr.Elapsed)
	assert.ErrorIs(t, err, errRefused)
	assert.ErrorContains(t, err, "4 attempt(s)")
	assert.Len(t, *sleeps, 3)
	assert.Equal(t, bridge.Failed, m.State())
	assert.EqualValues(t, 4, dials.Load())
}

func TestManager_Connect_TimeoutCutsAttemptsShort(t *testing.T) {
	t.Parallel()

	var dials atomic.Int32
	_, _, withClock, withSleep := fakeTime()
	m := bridge.NewManager(endpoint.Endpoint{Host: "localhost", Port: 9229},
		bridge.Options{Timeout: 250 * time.Millisecond, WaitInterval: 100 * time.Millisecond, RetryCount: 10},
		bridge.WithDialer(flakyDialer(100, &dials)), withClock, withSleep)

	_, err := m.Connect(connectCtx(t))

	var connErr *bridge.ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, 3, connErr.Attempts)
	assert.Equal(t, bridge.Failed, m.State())
}

func TestManager_Connect_FailedIsTerminal(t *testing.T) {
	t.Parallel()

	var dials atomic.Int32
	_, _, withClock, withSleep := fakeTime()
	m := bridge.NewManager(endpoint.Endpoint{Host: "localhost", Port: 9229},
		bridge.Options{RetryCount: 1},
		bridge.WithDialer(flakyDialer(1, &dials)), withClock, withSleep)

	_, err := m.Connect(connectCtx(t))
	require.Error(t, err)

	_, err = m.Connect(connectCtx(t))
	assert.ErrorIs(t, err, bridge.ErrClosed)
	assert.EqualValues(t, 1, dials.Load())
	assert.Equal(t, bridge.Failed, m.State())
}

func TestManager_Connect_HandshakeFailureRetries(t *testing.T) {
	t.Parallel()

	// Given an inspector that rejects Runtime.enable
	insp := testutil.NewInspector(t, func(method string, _ json.RawMessage) (testutil.Reply, []testutil.Event) {
		return testutil.Reply{Error: &testutil.ReplyError{Code: -32601, Message: "'Runtime.enable' wasn't found"}}, nil
	})
	_, _, withClock, withSleep := fakeTime()
	m := bridge.NewManager(endpointOf(insp), bridge.Options{RetryCount: 2}, withClock, withSleep)

	// When connecting
	_, err := m.Connect(connectCtx(t))

	// Then both attempts ran the handshake and failed
	assert.ErrorIs(t, err, cdp.ErrProtocolError)
	assert.Equal(t, []string{"Runtime.enable", "Runtime.enable"}, insp.Methods())
	assert.Equal(t, bridge.Failed, m.State())
}

func TestManager_Connect_HandshakeWaitUsesClock(t *testing.T) {
	t.Parallel()

	// Given an inspector that never reports an execution context
	insp := testutil.NewInspector(t, nil)
	mock, _, withClock, withSleep := fakeTime()
	m := bridge.NewManager(endpointOf(insp), bridge.Options{RetryCount: 1}, withClock, withSleep)

	// When connecting and only the mock clock moves
	ctx := connectCtx(t)
	done := make(chan error, 1)
	go func() {
		_, err := m.Connect(ctx)
		done <- err
	}()

	var err error
	require.Eventually(t, func() bool {
		mock.Add(500 * time.Millisecond)
		select {
		case err = <-done:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	// Then the context wait expired on the mock clock
	assert.ErrorIs(t, err, bridge.ErrNoExecutionContext)
	assert.Equal(t, []string{"Runtime.enable"}, insp.Methods())
}

func TestManager_Connect_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := bridge.NewManager(endpoint.Endpoint{Host: "localhost", Port: 9229}, bridge.Options{})
	_, err := m.Connect(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, bridge.Failed, m.State())
}

func TestManager_ConnectionLostMovesToClosed(t *testing.T) {
	t.Parallel()

	insp := testutil.NewInspector(t, electronMain)
	m := bridge.NewManager(endpointOf(insp), bridge.Options{})
	t.Cleanup(func() { m.Close() })

	_, err := m.Connect(connectCtx(t))
	require.NoError(t, err)

	// When the app exits
	insp.DropConnections()

	assert.Eventually(t, func() bool { return m.State() == bridge.Closed }, 2*time.Second, 10*time.Millisecond)
	assert.Nil(t, m.Client())
	_, err = m.Connect(connectCtx(t))
	assert.ErrorIs(t, err, bridge.ErrClosed)
}

func TestManager_Close(t *testing.T) {
	t.Parallel()

	insp := testutil.NewInspector(t, electronMain)
	m := bridge.NewManager(endpointOf(insp), bridge.Options{})

	client, err := m.Connect(connectCtx(t))
	require.NoError(t, err)

	require.NoError(t, m.Close())

	assert.Equal(t, bridge.Closed, m.State())
	assert.Nil(t, m.Client())
	<-client.Done()
}

func TestManager_CloseBeforeConnect(t *testing.T) {
	t.Parallel()

	m := bridge.NewManager(endpoint.Endpoint{Host: "localhost", Port: 9229}, bridge.Options{})

	assert.NoError(t, m.Close())
	assert.Equal(t, bridge.Closed, m.State())
}

func TestManager_Ping(t *testing.T) {
	t.Parallel()

	insp := testutil.NewInspector(t, electronMain)
	m := bridge.NewManager(endpointOf(insp), bridge.Options{})
	t.Cleanup(func() { m.Close() })

	assert.ErrorIs(t, m.Ping(connectCtx(t)), bridge.ErrNotConnected)

	_, err := m.Connect(connectCtx(t))
	require.NoError(t, err)

	assert.NoError(t, m.Ping(connectCtx(t)))
	assert.Contains(t, insp.Methods(), "Runtime.evaluate")
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "connecting", bridge.Connecting.String())
	assert.True(t, bridge.Failed.Terminal())
	assert.True(t, bridge.Closed.Terminal())
	assert.False(t, bridge.Connected.Terminal())
}
