package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tomyan/wdio-electron/internal/script"
)

// fakeSpy is the main-process state of one mocked function.
type fakeSpy struct {
	calls      []Call
	results    []Result
	impl       string
	once       []string
	generation int
}

// fakeMain stands in for the Electron main process running runtime.js.
type fakeMain struct {
	apis        map[string][]string
	installs    int
	spies       map[string]*fakeSpy
	ops         []string
	lastOffset  int
	generations int
	failOps     map[string]bool
	interceptor map[string]bool // key -> function currently replaced
	stuck       map[string]bool // keys whose spy survives restore
}

func newFakeMain() *fakeMain {
	return &fakeMain{
		apis: map[string][]string{
			"app":    {"getName", "getPath", "getVersion", "quit"},
			"dialog": {"showCertificateTrustDialog", "showErrorBox", "showMessageBox", "showMessageBoxSync", "showOpenDialog", "showOpenDialogSync", "showSaveDialog", "showSaveDialogSync"},
			"shell":  {"openExternal"},
		},
		spies:       make(map[string]*fakeSpy),
		failOps:     make(map[string]bool),
		interceptor: make(map[string]bool),
		stuck:       make(map[string]bool),
	}
}

func (f *fakeMain) nextGeneration() int {
	f.generations++
	return f.generations
}

func (f *fakeMain) ExecuteInternal(_ context.Context, src any, args ...any) (json.RawMessage, error) {
	source, err := script.Source(src)
	if err != nil {
		return nil, err
	}
	switch source {
	case runtimeSource:
		f.installs++
		return json.Marshal(f.installs == 1)
	case dispatcher:
	default:
		return nil, fmt.Errorf("unexpected script %.40q", source)
	}

	op := args[0].(string)
	rest := args[1:]
	f.ops = append(f.ops, op)
	if f.failOps[op] {
		return nil, &script.ExecutionError{Message: op + " failed"}
	}

	out, err := f.dispatch(op, rest)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func (f *fakeMain) dispatch(op string, args []any) (any, error) {
	switch op {
	case "methods":
		api := args[0].(string)
		names, ok := f.apis[api]
		if !ok {
			return nil, &script.ExecutionError{Message: "electron." + api + " is not available"}
		}
		sorted := append([]string(nil), names...)
		sort.Strings(sorted)
		return sorted, nil

	case "mock":
		api, method := args[0].(string), args[1].(string)
		key := Key(api, method)
		if spy, ok := f.spies[key]; ok {
			spy.calls, spy.results = nil, nil
			spy.generation = f.nextGeneration()
			return mockReply{Key: key, Created: false, Generation: spy.generation}, nil
		}
		if !f.hasMethod(api, method) {
			return nil, &script.ExecutionError{Message: key + " is not a function"}
		}
		spy := &fakeSpy{generation: f.nextGeneration()}
		f.spies[key] = spy
		f.interceptor[key] = true
		return mockReply{Key: key, Created: true, Generation: spy.generation}, nil

	case "calls":
		spy, err := f.spy(args[0].(string))
		if err != nil {
			return nil, err
		}
		offset, generation := args[1].(int), args[2].(int)
		f.lastOffset = offset
		from := offset
		if generation != spy.generation || from > len(spy.calls) {
			from = 0
		}
		return callsReply{
			Calls:      append([]Call{}, spy.calls[from:]...),
			Results:    append([]Result{}, spy.results[from:]...),
			Total:      len(spy.calls),
			Generation: spy.generation,
		}, nil

	case "clear":
		spy, err := f.spy(args[0].(string))
		if err != nil {
			return nil, err
		}
		spy.calls, spy.results = nil, nil
		spy.generation = f.nextGeneration()
		return spy.generation, nil

	case "reset":
		spy, err := f.spy(args[0].(string))
		if err != nil {
			return nil, err
		}
		*spy = fakeSpy{generation: f.nextGeneration()}
		return spy.generation, nil

	case "restore":
		key := args[0].(string)
		delete(f.spies, key)
		if f.stuck[key] {
			return false, nil
		}
		delete(f.interceptor, key)
		return true, nil

	case "implementation":
		spy, err := f.spy(args[0].(string))
		if err != nil {
			return nil, err
		}
		if args[2].(bool) {
			spy.once = append(spy.once, args[1].(string))
		} else {
			spy.impl = args[1].(string)
		}
		return true, nil
	}
	return nil, &script.ExecutionError{Message: "runtime[op] is not a function"}
}

func (f *fakeMain) hasMethod(api, method string) bool {
	for _, m := range f.apis[api] {
		if m == method {
			return true
		}
	}
	return false
}

func (f *fakeMain) spy(key string) (*fakeSpy, error) {
	spy, ok := f.spies[key]
	if !ok {
		return nil, &script.ExecutionError{Message: "no mock registered for " + key}
	}
	return spy, nil
}

// clearBehindBack clears a spy's history from the main process side, as
// another session sharing the app would.
func (f *fakeMain) clearBehindBack(key string) {
	spy := f.spies[key]
	spy.calls, spy.results = nil, nil
	spy.generation = f.nextGeneration()
}

// invoke simulates the app calling a mocked API function.
func (f *fakeMain) invoke(key string, args ...any) {
	spy := f.spies[key]
	impl := spy.impl
	if len(spy.once) > 0 {
		impl, spy.once = spy.once[0], spy.once[1:]
	}
	spy.calls = append(spy.calls, Call(args))
	spy.results = append(spy.results, Result{Type: "return", Value: impl})
}

func (f *fakeMain) countOps(op string) int {
	n := 0
	for _, o := range f.ops {
		if o == op {
			n++
		}
	}
	return n
}

func newTestManager() (*Manager, *fakeMain) {
	main := newFakeMain()
	return NewManager(NewStore(), main, nil), main
}
