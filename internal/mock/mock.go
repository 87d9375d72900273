package mock

import (
	"context"
	"encoding/json"
	"fmt"
)

// Call is the argument list of one recorded invocation.
type Call []any

// Result is the outcome of one recorded invocation.
type Result struct {
	Type  string `json:"type"` // "return" or "throw"
	Value any    `json:"value"`
}

// TypeName marks serialized mocks so IsMockFunction can recognise them.
const TypeName = "wdio-electron-mock"

// Mock is the test-side handle of a mocked Electron API function. Its call
// history is a copy of the main-process history, refreshed by Update.
type Mock struct {
	Key        string
	APIName    string
	MethodName string

	manager    *Manager
	name       string
	calls      []Call
	results    []Result
	generation int
}

func newMock(m *Manager, apiName, methodName string) *Mock {
	key := Key(apiName, methodName)
	return &Mock{
		Key:        key,
		APIName:    apiName,
		MethodName: methodName,
		manager:    m,
		name:       key,
	}
}

// MockImplementation makes every call run fn, given as function source.
func (mk *Mock) MockImplementation(ctx context.Context, fn string) error {
	return mk.implement(ctx, fn, false)
}

// MockImplementationOnce makes the next call run fn. Once implementations
// queue up and take precedence over MockImplementation.
func (mk *Mock) MockImplementationOnce(ctx context.Context, fn string) error {
	return mk.implement(ctx, fn, true)
}

// MockReturnValue makes every call return v.
func (mk *Mock) MockReturnValue(ctx context.Context, v any) error {
	return mk.returning(ctx, v, "(%s)", false)
}

// MockReturnValueOnce makes the next call return v.
func (mk *Mock) MockReturnValueOnce(ctx context.Context, v any) error {
	return mk.returning(ctx, v, "(%s)", true)
}

// MockResolvedValue makes every call return a promise resolving to v.
func (mk *Mock) MockResolvedValue(ctx context.Context, v any) error {
	return mk.returning(ctx, v, "Promise.resolve(%s)", false)
}

// MockResolvedValueOnce makes the next call return a promise resolving to v.
func (mk *Mock) MockResolvedValueOnce(ctx context.Context, v any) error {
	return mk.returning(ctx, v, "Promise.resolve(%s)", true)
}

// MockRejectedValue makes every call return a promise rejected with an
// Error carrying message.
func (mk *Mock) MockRejectedValue(ctx context.Context, message string) error {
	return mk.returning(ctx, message, "Promise.reject(new Error(%s))", false)
}

// MockRejectedValueOnce makes the next call reject with message.
func (mk *Mock) MockRejectedValueOnce(ctx context.Context, message string) error {
	return mk.returning(ctx, message, "Promise.reject(new Error(%s))", true)
}

// returning installs an implementation returning the JSON literal of v
// wrapped by format.
func (mk *Mock) returning(ctx context.Context, v any, format string, once bool) error {
	literal, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: encoding value: %w", mk.Key, err)
	}
	return mk.implement(ctx, "() => "+fmt.Sprintf(format, literal), once)
}

func (mk *Mock) implement(ctx context.Context, fn string, once bool) error {
	return mk.manager.remote.call(ctx, nil, "implementation", mk.Key, fn, once)
}

// MockName sets the name shown in assertion output.
func (mk *Mock) MockName(name string) *Mock {
	mk.name = name
	return mk
}

// GetMockName returns the mock's name, its key unless MockName was called.
func (mk *Mock) GetMockName() string {
	return mk.name
}

// MockClear forgets recorded calls, keeping the implementation.
func (mk *Mock) MockClear(ctx context.Context) error {
	var generation int
	if err := mk.manager.remote.call(ctx, &generation, "clear", mk.Key); err != nil {
		return err
	}
	mk.clearLocal()
	mk.generation = generation
	return nil
}

// MockReset forgets recorded calls and implementations; the function then
// returns undefined.
func (mk *Mock) MockReset(ctx context.Context) error {
	var generation int
	if err := mk.manager.remote.call(ctx, &generation, "reset", mk.Key); err != nil {
		return err
	}
	mk.clearLocal()
	mk.generation = generation
	return nil
}

// MockRestore puts the original function back and removes the mock from
// the registry. A later Mock call for the same key starts afresh. The main
// process forgets the spy either way, so the mock is dropped even when
// ErrNotRestored is returned.
func (mk *Mock) MockRestore(ctx context.Context) error {
	var restored bool
	if err := mk.manager.remote.call(ctx, &restored, "restore", mk.Key); err != nil {
		return err
	}
	mk.clearLocal()
	mk.manager.store.Delete(mk.Key)
	if !restored {
		return fmt.Errorf("%w: %s", ErrNotRestored, mk.Key)
	}
	return nil
}

// Update pulls the invocations recorded in the main process since the last
// update.
func (mk *Mock) Update(ctx context.Context) error {
	offset := len(mk.calls)

	var reply callsReply
	if err := mk.manager.remote.call(ctx, &reply, "calls", mk.Key, offset, mk.generation); err != nil {
		return err
	}

	// A different generation, or a shorter history, means the main process
	// history was cleared behind our back; it then sent everything.
	if reply.Generation != mk.generation || reply.Total < offset {
		mk.clearLocal()
		mk.generation = reply.Generation
	}
	mk.calls = append(mk.calls, reply.Calls...)
	mk.results = append(mk.results, reply.Results...)
	return nil
}

// Calls returns the recorded argument lists, oldest first.
func (mk *Mock) Calls() []Call {
	return append([]Call(nil), mk.calls...)
}

// LastCall returns the most recent argument list, or nil.
func (mk *Mock) LastCall() Call {
	if len(mk.calls) == 0 {
		return nil
	}
	return mk.calls[len(mk.calls)-1]
}

// Results returns the recorded outcomes, oldest first.
func (mk *Mock) Results() []Result {
	return append([]Result(nil), mk.results...)
}

func (mk *Mock) clearLocal() {
	mk.calls = nil
	mk.results = nil
}

// MarshalJSON gives the serialized form handed to the JS shim.
func (mk *Mock) MarshalJSON() ([]byte, error) {
	calls := mk.calls
	if calls == nil {
		calls = []Call{}
	}
	results := mk.results
	if results == nil {
		results = []Result{}
	}
	return json.Marshal(struct {
		Type       string   `json:"type"`
		Key        string   `json:"key"`
		APIName    string   `json:"apiName"`
		MethodName string   `json:"methodName"`
		Name       string   `json:"name"`
		Calls      []Call   `json:"calls"`
		Results    []Result `json:"results"`
	}{TypeName, mk.Key, mk.APIName, mk.MethodName, mk.name, calls, results})
}
