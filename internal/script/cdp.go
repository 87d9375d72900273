package script

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/runtime"
	"github.com/mailru/easyjson"

	"github.com/tomyan/wdio-electron/internal/log"
)

// mainWrapper rebuilds the caller's function in the main process and calls
// it with the electron module followed by the caller's arguments. The
// inspector wraps the declaration in parentheses, so it must not end in a
// line comment.
const mainWrapper = `async function (script, ...args) {
  let electron = globalThis.__wdioElectronModule;
  if (!electron) {
    electron = typeof process.getBuiltinModule === 'function' ? process.getBuiltinModule('electron') : undefined;
    if (!electron && process.mainModule) {
      electron = process.mainModule.require('electron');
    }
    if (!electron) {
      throw new Error('wdio-electron: cannot resolve the electron module; ' +
        'set globalThis.__wdioElectronModule in the main process');
    }
    globalThis.__wdioElectronModule = electron;
  }
  const fn = new Function('return (' + script + ').apply(this, arguments)');
  return fn(electron, ...args);
}`

// Caller sends one protocol command. *cdp.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
}

// CDPChannel runs scripts through Runtime.callFunctionOn in the main
// process execution context.
type CDPChannel struct {
	caller    Caller
	contextID runtime.ExecutionContextID
	logger    *log.Logger
}

// NewCDPChannel returns a channel targeting contextID.
func NewCDPChannel(caller Caller, contextID runtime.ExecutionContextID, logger *log.Logger) *CDPChannel {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &CDPChannel{caller: caller, contextID: contextID, logger: logger}
}

// Send implements Channel.
func (c *CDPChannel) Send(ctx context.Context, req Request) (Response, error) {
	arguments := make([]*runtime.CallArgument, 0, len(req.Args)+1)
	src, err := json.Marshal(req.Script)
	if err != nil {
		return Response{}, fmt.Errorf("encoding script: %w", err)
	}
	arguments = append(arguments, &runtime.CallArgument{Value: easyjson.RawMessage(src)})
	for i, arg := range req.Args {
		b, err := json.Marshal(arg)
		if err != nil {
			return Response{}, fmt.Errorf("encoding argument %d: %w", i, err)
		}
		arguments = append(arguments, &runtime.CallArgument{Value: easyjson.RawMessage(b)})
	}

	params := runtime.CallFunctionOn(mainWrapper).
		WithArguments(arguments).
		WithExecutionContextID(c.contextID).
		WithReturnByValue(true).
		WithAwaitPromise(true)

	raw, err := c.caller.Call(ctx, runtime.CommandCallFunctionOn, params)
	if err != nil {
		return Response{}, err
	}

	var res runtime.CallFunctionOnReturns
	if err := json.Unmarshal(raw, &res); err != nil {
		return Response{}, fmt.Errorf("decoding result: %w", err)
	}
	if res.ExceptionDetails != nil {
		msg := exceptionMessage(res.ExceptionDetails)
		c.logger.Debugf("CDPChannel:Send", "ectxid:%d exception:%q", c.contextID, msg)
		return Response{Error: &RemoteError{Message: msg}}, nil
	}
	if res.Result == nil || len(res.Result.Value) == 0 {
		return Response{Result: json.RawMessage("null")}, nil
	}
	return Response{Result: json.RawMessage(res.Result.Value)}, nil
}

// exceptionMessage recovers the thrown error's message from the first line
// of its description, e.g. "Error: boom\n    at ..." gives "boom".
func exceptionMessage(exc *runtime.ExceptionDetails) string {
	if exc.Exception == nil {
		return exc.Text
	}
	obj := exc.Exception
	if obj.Description == "" {
		if len(obj.Value) > 0 {
			var s string
			if json.Unmarshal(obj.Value, &s) == nil {
				return s
			}
			return string(obj.Value)
		}
		return exc.Text
	}

	msg, _, _ := strings.Cut(obj.Description, "\n")
	if obj.ClassName != "" {
		msg = strings.TrimPrefix(msg, obj.ClassName+": ")
	}
	return msg
}
