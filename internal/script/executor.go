// Package script sends scripts to the Electron main process and returns
// their results. Scripts are trusted test code: the channel evaluates
// whatever it is given.
package script

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tomyan/wdio-electron/internal/log"
)

// Func is the source text of a JavaScript function, e.g.
// `(electron, name) => electron.app.getName()`. It is called with the
// electron module first and the caller's arguments after it.
type Func string

// Request is what a channel carries to the main process.
type Request struct {
	Script string `json:"script"`
	Args   []any  `json:"args"`
}

// Response is what comes back: a result or an error, never both.
type Response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RemoteError    `json:"error,omitempty"`
}

// RemoteError is an exception raised by the script.
type RemoteError struct {
	Message string `json:"message"`
}

// Channel delivers one request to the main process.
type Channel interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// Observer is told about every call not flagged internal.
type Observer func(source string)

// Executor serializes script calls over the current channel. Calls are
// never pipelined: each completes before the next is sent.
type Executor struct {
	logger *log.Logger

	mu       sync.Mutex
	channel  Channel
	observer Observer
}

// NewExecutor returns an executor with no channel.
func NewExecutor(logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &Executor{logger: logger}
}

// SetChannel sets the channel used by later calls. nil unsets it.
func (e *Executor) SetChannel(ch Channel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.channel = ch
}

// Ready reports whether a channel is set.
func (e *Executor) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.channel != nil
}

// SetObserver registers fn to be called after each user-visible call.
func (e *Executor) SetObserver(fn Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = fn
}

// Execute runs script in the main process with args and returns the JSON
// encoded result.
func (e *Executor) Execute(ctx context.Context, script any, args ...any) (json.RawMessage, error) {
	return e.execute(ctx, script, args, false)
}

// ExecuteInternal is Execute without notifying the observer. The service
// uses it for its own bookkeeping calls.
func (e *Executor) ExecuteInternal(ctx context.Context, script any, args ...any) (json.RawMessage, error) {
	return e.execute(ctx, script, args, true)
}

func (e *Executor) execute(ctx context.Context, script any, args []any, internal bool) (json.RawMessage, error) {
	src, err := Source(script)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = []any{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.channel == nil {
		return nil, ErrBrowserNotInitialised
	}

	e.logger.Tracef("Executor:execute", "internal:%t args:%d script:%.80q", internal, len(args), src)

	resp, err := e.channel.Send(ctx, Request{Script: src, Args: args})
	if err != nil {
		return nil, fmt.Errorf("executing script: %w", err)
	}
	if !internal && e.observer != nil {
		e.observer(src)
	}
	if resp.Error != nil {
		e.logger.Debugf("Executor:execute", "script threw: %s", resp.Error.Message)
		return nil, &ExecutionError{Message: resp.Error.Message}
	}
	if len(resp.Result) == 0 {
		return json.RawMessage("null"), nil
	}
	return resp.Result, nil
}

// Source returns the function source of a string or Func script.
func Source(script any) (string, error) {
	var src string
	switch v := script.(type) {
	case string:
		src = v
	case Func:
		src = string(v)
	case nil:
		return "", &TypeError{Got: "nil"}
	default:
		return "", &TypeError{Got: fmt.Sprintf("%T", script)}
	}
	if src == "" {
		return "", &TypeError{Got: "an empty script"}
	}
	return src, nil
}
