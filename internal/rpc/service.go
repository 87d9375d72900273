package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/tomyan/wdio-electron/internal/bridge"
	"github.com/tomyan/wdio-electron/internal/config"
	"github.com/tomyan/wdio-electron/internal/endpoint"
	"github.com/tomyan/wdio-electron/internal/log"
	"github.com/tomyan/wdio-electron/internal/mock"
	"github.com/tomyan/wdio-electron/internal/script"
	"github.com/tomyan/wdio-electron/internal/service"
)

// ErrorCode classifies err for the client.
func ErrorCode(err error) string {
	var (
		resErr   *endpoint.ResolutionError
		fuseErr  *service.FuseDisabledError
		connErr  *bridge.ConnectionError
		execErr  *script.ExecutionError
		typeErr  *script.TypeError
		paramErr *paramError
	)
	switch {
	case errors.As(err, &paramErr):
		return "invalid_params"
	case errors.As(err, &resErr):
		return "config_error"
	case errors.As(err, &fuseErr):
		return "fuse_disabled"
	case errors.As(err, &connErr):
		return "connection_failed"
	case errors.As(err, &execErr):
		return "execution_error"
	case errors.As(err, &typeErr):
		return "type_error"
	case errors.Is(err, script.ErrBrowserNotInitialised):
		return "not_initialised"
	case errors.Is(err, mock.ErrNoMock):
		return "no_mock"
	}
	return "error"
}

type paramError struct {
	msg string
}

func (e *paramError) Error() string {
	return "invalid params: " + e.msg
}

func requireString(params json.RawMessage, path string) (string, error) {
	v := gjson.GetBytes(params, path)
	if v.Type != gjson.String || v.String() == "" {
		return "", &paramError{msg: fmt.Sprintf("%q must be a non-empty string", path)}
	}
	return v.String(), nil
}

func optionalString(params json.RawMessage, path string) string {
	return gjson.GetBytes(params, path).String()
}

// rawParam returns the JSON at path, or null when absent.
func rawParam(params json.RawMessage, path string) json.RawMessage {
	v := gjson.GetBytes(params, path)
	if !v.Exists() {
		return json.RawMessage("null")
	}
	return json.RawMessage(v.Raw)
}

func argsParam(params json.RawMessage) ([]any, error) {
	v := gjson.GetBytes(params, "args")
	if !v.Exists() {
		return nil, nil
	}
	if !v.IsArray() {
		return nil, &paramError{msg: `"args" must be an array`}
	}
	var args []any
	if err := json.Unmarshal([]byte(v.Raw), &args); err != nil {
		return nil, &paramError{msg: err.Error()}
	}
	return args, nil
}

// NewServiceServer returns a server exposing svc's hooks and API.
func NewServiceServer(svc *service.Service, logger *log.Logger) *Server {
	s := NewServer(logger)
	s.codeOf = ErrorCode

	s.Handle("before", func(ctx context.Context, params json.RawMessage) (any, error) {
		caps := &config.Capabilities{}
		if raw := gjson.GetBytes(params, "capabilities"); raw.Exists() {
			parsed, err := config.ParseCapabilities([]byte(raw.Raw))
			if err != nil {
				return nil, &paramError{msg: err.Error()}
			}
			caps = parsed
		}
		var sess *service.Session
		if raw := gjson.GetBytes(params, "session"); raw.IsObject() {
			sess = &service.Session{}
			if err := json.Unmarshal([]byte(raw.Raw), sess); err != nil {
				return nil, &paramError{msg: err.Error()}
			}
		}
		if err := svc.Before(ctx, caps, sess); err != nil {
			return nil, err
		}
		return map[string]any{"mode": svc.Mode()}, nil
	})

	s.Handle("beforeCommand", func(ctx context.Context, params json.RawMessage) (any, error) {
		name, err := requireString(params, "name")
		if err != nil {
			return nil, err
		}
		args, err := argsParam(params)
		if err != nil {
			return nil, err
		}
		svc.BeforeCommand(name, args)
		return nil, nil
	})

	s.Handle("afterCommand", func(ctx context.Context, params json.RawMessage) (any, error) {
		name, err := requireString(params, "name")
		if err != nil {
			return nil, err
		}
		args, err := argsParam(params)
		if err != nil {
			return nil, err
		}
		return nil, svc.AfterCommand(ctx, name, args)
	})

	s.Handle("beforeTest", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return nil, svc.BeforeTest(ctx)
	})

	s.Handle("after", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return nil, svc.After(ctx)
	})

	s.Handle("ping", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return "pong", svc.Ping(ctx)
	})

	s.Handle("execute", func(ctx context.Context, params json.RawMessage) (any, error) {
		v := gjson.GetBytes(params, "script")
		if v.Type != gjson.String {
			// Let the executor word the type error.
			var raw any
			if v.Exists() {
				raw = v.Value()
			}
			return svc.Execute(ctx, raw)
		}
		args, err := argsParam(params)
		if err != nil {
			return nil, err
		}
		return svc.Execute(ctx, v.String(), args...)
	})

	s.Handle("mock", func(ctx context.Context, params json.RawMessage) (any, error) {
		api, err := requireString(params, "apiName")
		if err != nil {
			return nil, err
		}
		method, err := requireString(params, "methodName")
		if err != nil {
			return nil, err
		}
		return svc.Mock(ctx, api, method)
	})

	s.Handle("mockAll", func(ctx context.Context, params json.RawMessage) (any, error) {
		api, err := requireString(params, "apiName")
		if err != nil {
			return nil, err
		}
		return svc.MockAll(ctx, api)
	})

	s.Handle("clearAllMocks", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, svc.ClearAllMocks(ctx, optionalString(params, "apiName"))
	})
	s.Handle("resetAllMocks", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, svc.ResetAllMocks(ctx, optionalString(params, "apiName"))
	})
	s.Handle("restoreAllMocks", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, svc.RestoreAllMocks(ctx, optionalString(params, "apiName"))
	})

	s.Handle("isMockFunction", func(_ context.Context, params json.RawMessage) (any, error) {
		return svc.IsMockFunction(rawParam(params, "value")), nil
	})

	registerMockMethods(svc, s)
	return s
}

// registerMockMethods adds the per-mock methods, addressed by key.
func registerMockMethods(svc *service.Service, s *Server) {
	withMock := func(fn func(ctx context.Context, mk *mock.Mock, params json.RawMessage) error) Handler {
		return func(ctx context.Context, params json.RawMessage) (any, error) {
			key, err := requireString(params, "key")
			if err != nil {
				return nil, err
			}
			mk, err := svc.Mocks().Get(key)
			if err != nil {
				return nil, err
			}
			if err := fn(ctx, mk, params); err != nil {
				return nil, err
			}
			return mk, nil
		}
	}
	withSource := func(set func(*mock.Mock, context.Context, string) error) Handler {
		return withMock(func(ctx context.Context, mk *mock.Mock, params json.RawMessage) error {
			fn, err := requireString(params, "fn")
			if err != nil {
				return err
			}
			return set(mk, ctx, fn)
		})
	}
	withValue := func(set func(*mock.Mock, context.Context, any) error) Handler {
		return withMock(func(ctx context.Context, mk *mock.Mock, params json.RawMessage) error {
			return set(mk, ctx, rawParam(params, "value"))
		})
	}
	withMessage := func(set func(*mock.Mock, context.Context, string) error) Handler {
		return withMock(func(ctx context.Context, mk *mock.Mock, params json.RawMessage) error {
			return set(mk, ctx, optionalString(params, "message"))
		})
	}

	s.Handle("mock.update", withMock(func(ctx context.Context, mk *mock.Mock, _ json.RawMessage) error {
		return mk.Update(ctx)
	}))
	s.Handle("mock.calls", withMock(func(context.Context, *mock.Mock, json.RawMessage) error {
		return nil
	}))
	s.Handle("mock.name", withMock(func(_ context.Context, mk *mock.Mock, params json.RawMessage) error {
		name, err := requireString(params, "name")
		if err != nil {
			return err
		}
		mk.MockName(name)
		return nil
	}))
	s.Handle("mock.implementation", withSource((*mock.Mock).MockImplementation))
	s.Handle("mock.implementationOnce", withSource((*mock.Mock).MockImplementationOnce))
	s.Handle("mock.returnValue", withValue((*mock.Mock).MockReturnValue))
	s.Handle("mock.returnValueOnce", withValue((*mock.Mock).MockReturnValueOnce))
	s.Handle("mock.resolvedValue", withValue((*mock.Mock).MockResolvedValue))
	s.Handle("mock.resolvedValueOnce", withValue((*mock.Mock).MockResolvedValueOnce))
	s.Handle("mock.rejectedValue", withMessage((*mock.Mock).MockRejectedValue))
	s.Handle("mock.rejectedValueOnce", withMessage((*mock.Mock).MockRejectedValueOnce))
	s.Handle("mock.clear", withMock(func(ctx context.Context, mk *mock.Mock, _ json.RawMessage) error {
		return mk.MockClear(ctx)
	}))
	s.Handle("mock.reset", withMock(func(ctx context.Context, mk *mock.Mock, _ json.RawMessage) error {
		return mk.MockReset(ctx)
	}))
	s.Handle("mock.restore", withMock(func(ctx context.Context, mk *mock.Mock, _ json.RawMessage) error {
		return mk.MockRestore(ctx)
	}))
}
