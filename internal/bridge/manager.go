// Package bridge owns the lifecycle of the debugger connection to the
// Electron main process.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/runtime"

	"github.com/tomyan/wdio-electron/internal/cdp"
	"github.com/tomyan/wdio-electron/internal/endpoint"
	"github.com/tomyan/wdio-electron/internal/log"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultWaitInterval = 100 * time.Millisecond
	DefaultRetryCount   = 3
)

var eventContextCreated = string(cdproto.EventRuntimeExecutionContextCreated)

// contextWait bounds how long the handshake waits for
// Runtime.executionContextCreated once Runtime.enable has returned.
var contextWait = 2 * time.Second

// Options tune the connect loop. Zero values take the defaults.
type Options struct {
	Timeout      time.Duration // overall deadline across attempts
	WaitInterval time.Duration // delay between attempts
	RetryCount   int           // maximum number of attempts
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = DefaultWaitInterval
	}
	if o.RetryCount <= 0 {
		o.RetryCount = DefaultRetryCount
	}
	return o
}

// Dialer opens a protocol client to an inspector endpoint.
type Dialer func(ctx context.Context, ep endpoint.Endpoint, logger *log.Logger) (*cdp.Client, error)

func dialInspector(ctx context.Context, ep endpoint.Endpoint, logger *log.Logger) (*cdp.Client, error) {
	return cdp.Connect(ctx, ep.Host, ep.Port, logger)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used to measure the connect budget.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithSleep sets the function used to wait between attempts.
func WithSleep(sleep func(time.Duration)) Option {
	return func(m *Manager) { m.sleep = sleep }
}

// WithDialer replaces the inspector dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dial = d }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager holds at most one live connection for a session. Its states run
// Disconnected -> Connecting -> Connected -> Closed, or Connecting -> Failed.
type Manager struct {
	ep     endpoint.Endpoint
	opts   Options
	logger *log.Logger
	clock  clock.Clock
	sleep  func(time.Duration)
	dial   Dialer

	connectMu sync.Mutex // held across the whole attempt loop

	mu        sync.Mutex
	state     State
	client    *cdp.Client
	contextID runtime.ExecutionContextID
	attempts  int
}

// NewManager returns a Manager in the Disconnected state.
func NewManager(ep endpoint.Endpoint, opts Options, options ...Option) *Manager {
	m := &Manager{
		ep:     ep,
		opts:   opts.withDefaults(),
		logger: log.NewNullLogger(),
		clock:  clock.New(),
		dial:   dialInspector,
	}
	for _, o := range options {
		o(m)
	}
	if m.sleep == nil {
		m.sleep = m.clock.Sleep
	}
	return m
}

// Endpoint returns the inspector endpoint this manager connects to.
func (m *Manager) Endpoint() endpoint.Endpoint {
	return m.ep
}

// Options returns the effective options.
func (m *Manager) Options() Options {
	return m.opts
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns how many connection attempts the last Connect made.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Client returns the live client, or nil unless Connected.
func (m *Manager) Client() *cdp.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected {
		return nil
	}
	return m.client
}

// ContextID returns the main-process execution context id recorded during
// the handshake.
func (m *Manager) ContextID() runtime.ExecutionContextID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contextID
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()
	if prev != s {
		m.logger.Debugf("Manager:setState", "endpoint:%s %s -> %s", m.ep, prev, s)
	}
}

// Connect establishes the connection, retrying up to RetryCount attempts
// within Timeout. Calling it while Connected returns the live client.
// Exhausting attempts moves the manager to Failed for good.
func (m *Manager) Connect(ctx context.Context) (*cdp.Client, error) {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	switch state := m.State(); state {
	case Connected:
		return m.Client(), nil
	case Failed, Closed:
		return nil, fmt.Errorf("%w (state %s)", ErrClosed, state)
	}

	m.setState(Connecting)
	start := m.clock.Now()
	deadline := start.Add(m.opts.Timeout)

	var (
		attempts int
		lastErr  error
	)
	for attempts < m.opts.RetryCount {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		attempts++
		m.setAttempts(attempts)

		attemptCtx, cancel := context.WithTimeout(ctx, deadline.Sub(m.clock.Now()))
		client, contextID, err := m.attempt(attemptCtx)
		cancel()
		if err == nil {
			m.logger.Infof("Manager:Connect", "endpoint:%s connected after %d attempt(s)", m.ep, attempts)
			m.connected(client, contextID)
			return client, nil
		}

		lastErr = err
		m.logger.Debugf("Manager:Connect", "endpoint:%s attempt:%d failed: %v", m.ep, attempts, err)

		if attempts >= m.opts.RetryCount {
			break
		}
		if m.clock.Since(start)+m.opts.WaitInterval >= m.opts.Timeout {
			break
		}
		m.sleep(m.opts.WaitInterval)
	}

	m.setState(Failed)
	connErr := &ConnectionError{
		Endpoint: m.ep.String(),
		Attempts: attempts,
		Elapsed:  m.clock.Since(start),
		Err:      lastErr,
	}
	m.logger.Errorf("Manager:Connect", "%v", connErr)
	return nil, connErr
}

func (m *Manager) setAttempts(n int) {
	m.mu.Lock()
	m.attempts = n
	m.mu.Unlock()
}

// attempt dials once and performs the handshake. A client that fails the
// handshake is closed and never reused.
func (m *Manager) attempt(ctx context.Context) (*cdp.Client, runtime.ExecutionContextID, error) {
	client, err := m.dial(ctx, m.ep, m.logger)
	if err != nil {
		return nil, 0, err
	}

	contextID, err := m.handshake(ctx, client)
	if err != nil {
		client.Close()
		return nil, 0, fmt.Errorf("handshake: %w", err)
	}
	return client, contextID, nil
}

// handshake enables the Runtime domain and waits for the main context.
func (m *Manager) handshake(ctx context.Context, client *cdp.Client) (runtime.ExecutionContextID, error) {
	created := client.Subscribe(eventContextCreated)
	defer client.Unsubscribe(eventContextCreated, created)

	if _, err := client.Call(ctx, runtime.CommandEnable, nil); err != nil {
		return 0, err
	}

	timer := m.clock.Timer(contextWait)
	defer timer.Stop()

	select {
	case raw, ok := <-created:
		if !ok {
			return 0, cdp.ErrConnectionClosed
		}
		var ev runtime.EventExecutionContextCreated
		if err := json.Unmarshal(raw, &ev); err != nil {
			return 0, fmt.Errorf("decoding %s: %w", eventContextCreated, err)
		}
		if ev.Context == nil {
			return 0, ErrNoExecutionContext
		}
		return ev.Context.ID, nil
	case <-client.Done():
		return 0, cdp.ErrConnectionClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-timer.C:
		return 0, ErrNoExecutionContext
	}
}

func (m *Manager) connected(client *cdp.Client, contextID runtime.ExecutionContextID) {
	m.mu.Lock()
	m.client = client
	m.contextID = contextID
	m.mu.Unlock()
	m.setState(Connected)

	go m.watch(client)
}

// watch moves the manager to Closed when the connection goes away.
func (m *Manager) watch(client *cdp.Client) {
	<-client.Done()

	m.mu.Lock()
	current := m.client == client && m.state == Connected
	m.mu.Unlock()
	if current {
		m.logger.Warnf("Manager:watch", "endpoint:%s connection lost", m.ep)
		m.setState(Closed)
	}
}

// Ping evaluates a trivial expression to check the connection is usable.
func (m *Manager) Ping(ctx context.Context) error {
	client := m.Client()
	if client == nil {
		return ErrNotConnected
	}

	raw, err := client.Call(ctx, runtime.CommandEvaluate,
		runtime.Evaluate("1 + 1").WithReturnByValue(true))
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	var res runtime.EvaluateReturns
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("ping: decoding result: %w", err)
	}
	if res.ExceptionDetails != nil {
		return fmt.Errorf("ping: %s", res.ExceptionDetails.Text)
	}
	if res.Result == nil || string(res.Result.Value) != "2" {
		return fmt.Errorf("ping: unexpected result")
	}
	return nil
}

// Close tears the connection down. The manager is Closed afterwards,
// whatever state it was in, except Failed which stays Failed.
func (m *Manager) Close() error {
	m.mu.Lock()
	client := m.client
	state := m.state
	if state != Failed {
		m.state = Closed
	}
	m.mu.Unlock()

	if state != Failed && state != Closed {
		m.logger.Debugf("Manager:Close", "endpoint:%s %s -> %s", m.ep, state, Closed)
	}
	if client != nil {
		return client.Close()
	}
	return nil
}
