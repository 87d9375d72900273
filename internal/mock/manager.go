// Package mock replaces Electron API functions in the main process with
// recording spies and mirrors their call history into the test process.
package mock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tomyan/wdio-electron/internal/log"
)

// Manager creates and tracks mocks for one session.
type Manager struct {
	store  *Store
	remote remote
	logger *log.Logger
}

// NewManager returns a manager registering mocks in store and driving the
// main process through exec.
func NewManager(store *Store, exec Executor, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &Manager{store: store, remote: remote{exec: exec}, logger: logger}
}

// Store returns the registry.
func (m *Manager) Store() *Store {
	return m.store
}

// Install puts the mock runtime into the main process. Installing twice is
// harmless; the original functions are snapshotted only the first time.
func (m *Manager) Install(ctx context.Context) error {
	installed, err := m.remote.install(ctx)
	if err != nil {
		return err
	}
	m.logger.Debugf("Manager:Install", "fresh:%t", installed)
	return nil
}

// Mock intercepts electron.<apiName>.<methodName>. Mocking a function that
// is already mocked clears its calls and returns the existing mock.
func (m *Manager) Mock(ctx context.Context, apiName, methodName string) (*Mock, error) {
	if apiName == "" || methodName == "" {
		return nil, fmt.Errorf("mock: api and method names are required, got %q and %q", apiName, methodName)
	}

	var reply mockReply
	if err := m.remote.call(ctx, &reply, "mock", apiName, methodName); err != nil {
		return nil, err
	}

	key := Key(apiName, methodName)
	if mk, err := m.store.Get(key); err == nil {
		mk.clearLocal()
		mk.generation = reply.Generation
		m.logger.Debugf("Manager:Mock", "key:%s reused", key)
		return mk, nil
	}

	mk := newMock(m, apiName, methodName)
	mk.generation = reply.Generation
	if err := m.store.Put(mk); err != nil {
		return nil, err
	}
	m.logger.Debugf("Manager:Mock", "key:%s created remote:%t", key, reply.Created)
	return mk, nil
}

// Methods lists the function names on electron.<apiName>, sorted.
func (m *Manager) Methods(ctx context.Context, apiName string) ([]string, error) {
	var methods []string
	if err := m.remote.call(ctx, &methods, "methods", apiName); err != nil {
		return nil, err
	}
	return methods, nil
}

// MockAll mocks every function currently on electron.<apiName>, keyed by
// method name.
func (m *Manager) MockAll(ctx context.Context, apiName string) (map[string]*Mock, error) {
	methods, err := m.Methods(ctx, apiName)
	if err != nil {
		return nil, err
	}

	mocks := make(map[string]*Mock, len(methods))
	for _, method := range methods {
		mk, err := m.Mock(ctx, apiName, method)
		if err != nil {
			return nil, err
		}
		mocks[method] = mk
	}
	return mocks, nil
}

// Get returns the mock registered under key.
func (m *Manager) Get(key string) (*Mock, error) {
	return m.store.Get(key)
}

// ClearAll clears the calls of every mock of apiName, or of every mock when
// apiName is empty.
func (m *Manager) ClearAll(ctx context.Context, apiName string) error {
	return m.each(apiName, func(mk *Mock) error { return mk.MockClear(ctx) })
}

// ResetAll clears calls and implementations, filtered like ClearAll.
func (m *Manager) ResetAll(ctx context.Context, apiName string) error {
	return m.each(apiName, func(mk *Mock) error { return mk.MockReset(ctx) })
}

// RestoreAll restores the original functions and drops the mocks from the
// registry, filtered like ClearAll.
func (m *Manager) RestoreAll(ctx context.Context, apiName string) error {
	return m.each(apiName, func(mk *Mock) error { return mk.MockRestore(ctx) })
}

// UpdateAll refreshes the call history of every mock.
func (m *Manager) UpdateAll(ctx context.Context) error {
	return m.each("", func(mk *Mock) error { return mk.Update(ctx) })
}

// each applies fn to a snapshot of the matching mocks so fn may remove
// them. Every mock is visited; errors are joined.
func (m *Manager) each(apiName string, fn func(*Mock) error) error {
	var errs []error
	for _, mk := range m.store.Filter(apiName) {
		if err := fn(mk); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsMockFunction reports whether v is a mock of this package: a *Mock, or
// the serialized form of a registered one.
func (m *Manager) IsMockFunction(v any) bool {
	switch t := v.(type) {
	case *Mock:
		return t != nil
	case json.RawMessage:
		var desc struct {
			Type string `json:"type"`
			Key  string `json:"key"`
		}
		if json.Unmarshal(t, &desc) != nil {
			return false
		}
		return desc.Type == TypeName && m.store.Has(desc.Key)
	case map[string]any:
		typ, _ := t["type"].(string)
		key, _ := t["key"].(string)
		return typ == TypeName && m.store.Has(key)
	}
	return false
}
