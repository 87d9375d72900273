// Package service implements the WebdriverIO lifecycle hooks and the
// browser.electron API on top of the bridge, script and mock packages.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/afero"

	"github.com/tomyan/wdio-electron/internal/bridge"
	"github.com/tomyan/wdio-electron/internal/config"
	"github.com/tomyan/wdio-electron/internal/endpoint"
	"github.com/tomyan/wdio-electron/internal/fuses"
	"github.com/tomyan/wdio-electron/internal/log"
	"github.com/tomyan/wdio-electron/internal/mock"
	"github.com/tomyan/wdio-electron/internal/script"
	"github.com/tomyan/wdio-electron/internal/webdriver"
)

// Mode is how scripts reach the main process.
type Mode string

const (
	ModeNone Mode = "none"
	ModeCDP  Mode = "cdp"
	ModeIPC  Mode = "ipc"
)

// Session identifies the runner's WebDriver session, needed only by the
// IPC bridge.
type Session struct {
	WebDriverURL string `json:"webdriverUrl"`
	SessionID    string `json:"sessionId"`
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithFs sets the filesystem the fuse check reads binaries from.
func WithFs(fs afero.Fs) Option {
	return func(s *Service) { s.fs = fs }
}

// WithBridgeOptions passes options to the connection manager.
func WithBridgeOptions(opts ...bridge.Option) Option {
	return func(s *Service) { s.bridgeOpts = append(s.bridgeOpts, opts...) }
}

// WithDefaults sets service options that capabilities override.
func WithDefaults(o config.ServiceOptions) Option {
	return func(s *Service) { s.defaults = o }
}

// WithStore sets the mock registry. By default each Service has its own.
func WithStore(store *mock.Store) Option {
	return func(s *Service) { s.store = store }
}

// Service is one test session's view of an Electron app.
type Service struct {
	logger     *log.Logger
	fs         afero.Fs
	bridgeOpts []bridge.Option
	defaults   config.ServiceOptions
	store      *mock.Store

	options  config.ServiceOptions
	executor *script.Executor
	mocks    *mock.Manager
	syncer   *mock.Syncer
	conn     *bridge.Manager
	mode     Mode
}

// New returns a service ready for Before.
func New(opts ...Option) *Service {
	s := &Service{
		logger: log.NewNullLogger(),
		fs:     afero.NewOsFs(),
		mode:   ModeNone,
	}
	for _, o := range opts {
		o(s)
	}
	if s.store == nil {
		s.store = mock.NewStore()
	}

	s.executor = script.NewExecutor(s.logger)
	s.mocks = mock.NewManager(s.store, s.executor, s.logger)
	s.syncer = mock.NewSyncer(s.mocks, s.logger)
	s.executor.SetObserver(s.syncer.Observe)
	return s
}

// Before connects to the app described by caps. It runs the fuse check,
// resolves the inspector endpoint, connects and installs the mock runtime.
// sess may be nil when no IPC fallback is wanted.
func (s *Service) Before(ctx context.Context, caps *config.Capabilities, sess *Session) error {
	if caps == nil {
		caps = &config.Capabilities{}
	}
	if err := s.disconnect(); err != nil {
		return err
	}
	s.conn = nil
	s.options = s.defaults.Apply(caps.ServiceOptions)

	if !s.options.CdpBridgeEnabled() {
		s.logger.Infof("Service:Before", "CDP bridge disabled by options, using IPC bridge")
		return s.useIPC(ctx, sess)
	}

	if binary := caps.BinaryPath(); binary != "" {
		res := fuses.CheckInspectFuse(s.fs, binary)
		if res.Error != "" {
			s.logger.Warnf("Service:Before", "fuse check for %s: %s", binary, res.Error)
		}
		if !res.CanUseCdpBridge {
			fuseErr := &FuseDisabledError{Binary: binary, Value: *res.FuseValue}
			if sess == nil {
				return fuseErr
			}
			s.logger.Warnf("Service:Before", "%v; falling back to IPC bridge", fuseErr)
			return s.useIPC(ctx, sess)
		}
	}

	ep, err := endpoint.FromCapabilities(caps)
	if err != nil {
		return err
	}

	conn := bridge.NewManager(ep, bridge.Options{
		Timeout:      s.options.ConnectionTimeout(),
		WaitInterval: s.options.ConnectionWaitInterval(),
		RetryCount:   s.options.ConnectionRetryCount(),
	}, append([]bridge.Option{bridge.WithLogger(s.logger)}, s.bridgeOpts...)...)
	s.conn = conn

	client, err := conn.Connect(ctx)
	if err != nil {
		return err
	}

	s.executor.SetChannel(script.NewCDPChannel(client, conn.ContextID(), s.logger))
	s.mode = ModeCDP
	return s.mocks.Install(ctx)
}

func (s *Service) useIPC(ctx context.Context, sess *Session) error {
	if sess == nil || sess.WebDriverURL == "" || sess.SessionID == "" {
		return ErrNoSession
	}
	wd := webdriver.NewSession(sess.WebDriverURL, sess.SessionID, s.logger)
	s.executor.SetChannel(script.NewIPCChannel(wd))
	s.mode = ModeIPC
	return s.mocks.Install(ctx)
}

// BeforeCommand is called before every WebdriverIO command.
func (s *Service) BeforeCommand(name string, args []any) {
	s.logger.Tracef("Service:BeforeCommand", "command:%s args:%d", name, len(args))
}

// AfterCommand refreshes mocks after input commands.
func (s *Service) AfterCommand(ctx context.Context, name string, args []any) error {
	if !s.executor.Ready() {
		return nil
	}
	return s.syncer.AfterCommand(ctx, name, args)
}

// BeforeTest applies the clearMocks, resetMocks and restoreMocks options.
func (s *Service) BeforeTest(ctx context.Context) error {
	if !s.executor.Ready() {
		return nil
	}
	var errs []error
	if s.options.ClearMocks.Bool {
		errs = append(errs, s.mocks.ClearAll(ctx, ""))
	}
	if s.options.ResetMocks.Bool {
		errs = append(errs, s.mocks.ResetAll(ctx, ""))
	}
	if s.options.RestoreMocks.Bool {
		errs = append(errs, s.mocks.RestoreAll(ctx, ""))
	}
	return errors.Join(errs...)
}

// After restores every mock, best effort, and closes the connection.
func (s *Service) After(ctx context.Context) error {
	if s.executor.Ready() && s.store.Len() > 0 {
		if err := s.mocks.RestoreAll(ctx, ""); err != nil {
			s.logger.Warnf("Service:After", "restoring mocks: %v", err)
		}
	}
	return s.disconnect()
}

// disconnect detaches the executor and closes the debugger connection.
// The manager stays readable through Connection until the next Before.
func (s *Service) disconnect() error {
	s.executor.SetChannel(nil)
	s.mode = ModeNone

	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("closing debugger connection: %w", err)
	}
	return nil
}

// Execute runs script in the main process.
func (s *Service) Execute(ctx context.Context, src any, args ...any) (json.RawMessage, error) {
	return s.executor.Execute(ctx, src, args...)
}

// Mock mocks electron.<apiName>.<methodName>.
func (s *Service) Mock(ctx context.Context, apiName, methodName string) (*mock.Mock, error) {
	return s.mocks.Mock(ctx, apiName, methodName)
}

// MockAll mocks every function of electron.<apiName>.
func (s *Service) MockAll(ctx context.Context, apiName string) (map[string]*mock.Mock, error) {
	return s.mocks.MockAll(ctx, apiName)
}

// ClearAllMocks clears calls of all mocks, or of apiName's mocks.
func (s *Service) ClearAllMocks(ctx context.Context, apiName string) error {
	return s.mocks.ClearAll(ctx, apiName)
}

// ResetAllMocks resets all mocks, or apiName's mocks.
func (s *Service) ResetAllMocks(ctx context.Context, apiName string) error {
	return s.mocks.ResetAll(ctx, apiName)
}

// RestoreAllMocks restores all mocks, or apiName's mocks.
func (s *Service) RestoreAllMocks(ctx context.Context, apiName string) error {
	return s.mocks.RestoreAll(ctx, apiName)
}

// IsMockFunction reports whether v is one of this session's mocks.
func (s *Service) IsMockFunction(v any) bool {
	return s.mocks.IsMockFunction(v)
}

// Mocks returns the mock manager.
func (s *Service) Mocks() *mock.Manager {
	return s.mocks
}

// Mode returns how scripts currently reach the main process.
func (s *Service) Mode() Mode {
	return s.mode
}

// Options returns the effective service options after Before.
func (s *Service) Options() config.ServiceOptions {
	return s.options
}

// Connection returns the connection manager, or nil outside CDP mode.
func (s *Service) Connection() *bridge.Manager {
	return s.conn
}

// Ping checks the debugger connection.
func (s *Service) Ping(ctx context.Context) error {
	if s.conn == nil {
		return bridge.ErrNotConnected
	}
	return s.conn.Ping(ctx)
}
