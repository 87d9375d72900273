package rpc_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/tomyan/wdio-electron/internal/rpc"
	"github.com/tomyan/wdio-electron/internal/service"
	"github.com/tomyan/wdio-electron/internal/testutil"
)

func roundTrip(t *testing.T, s *rpc.Server, requests ...string) []gjson.Result {
	t.Helper()

	var out bytes.Buffer
	require.NoError(t, s.Serve(context.Background(), strings.NewReader(strings.Join(requests, "\n")), &out))

	var lines []gjson.Result
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		lines = append(lines, gjson.Parse(line))
	}
	require.Len(t, lines, len(requests))
	return lines
}

func TestServiceServer_Methods(t *testing.T) {
	t.Parallel()

	s := rpc.NewServiceServer(service.New(), nil)

	for _, m := range []string{
		"before", "beforeCommand", "afterCommand", "beforeTest", "after",
		"execute", "mock", "mockAll", "clearAllMocks", "resetAllMocks", "restoreAllMocks", "isMockFunction",
		"mock.update", "mock.calls", "mock.implementation", "mock.implementationOnce",
		"mock.returnValue", "mock.returnValueOnce", "mock.resolvedValue", "mock.rejectedValue",
		"mock.clear", "mock.reset", "mock.restore",
	} {
		assert.Contains(t, s.Methods(), m)
	}
}

func TestServiceServer_ErrorsBeforeConnecting(t *testing.T) {
	t.Parallel()

	s := rpc.NewServiceServer(service.New(), nil)

	lines := roundTrip(t, s,
		`{"id":1,"method":"execute","params":{"script":"() => 1"}}`,
		`{"id":2,"method":"execute","params":{"script":42}}`,
		`{"id":3,"method":"mock.calls","params":{"key":"electron.app.getName"}}`,
		`{"id":4,"method":"mock","params":{"apiName":"app"}}`,
		`{"id":5,"method":"isMockFunction","params":{"value":{"type":"spy"}}}`,
		`{"id":6,"method":"clearAllMocks"}`,
		`{"id":7,"method":"before","params":{"capabilities":{"goog:chromeOptions":{"args":["foo=bar"]}}}}`,
		`{"id":8,"method":"afterCommand","params":{"name":"click","args":[]}}`,
	)

	assert.Equal(t, "not_initialised", lines[0].Get("error.code").String())
	assert.Equal(t, "browser not initialised", lines[0].Get("error.message").String())
	assert.Equal(t, "type_error", lines[1].Get("error.code").String())
	assert.Equal(t, "no_mock", lines[2].Get("error.code").String())
	assert.Equal(t, "no mock registered for electron.app.getName", lines[2].Get("error.message").String())
	assert.Equal(t, "invalid_params", lines[3].Get("error.code").String())
	assert.Equal(t, "false", lines[4].Get("result").Raw)
	assert.Equal(t, "null", lines[5].Get("result").Raw)
	assert.Equal(t, "config_error", lines[6].Get("error.code").String())
	assert.Equal(t, "null", lines[7].Get("result").Raw)
}

// mainProcess answers every script with true, and mock ops with the
// record the runtime would return.
func mainProcess(method string, params json.RawMessage) (testutil.Reply, []testutil.Event) {
	switch method {
	case "Runtime.enable":
		return testutil.Reply{}, []testutil.Event{testutil.ContextCreated(1)}
	case "Runtime.callFunctionOn":
		p := gjson.ParseBytes(params)
		switch p.Get("arguments.1.value").String() {
		case "mock":
			return testutil.Reply{Result: testutil.ValueResult(map[string]any{"key": "electron.app.getName", "created": true})}, nil
		case "calls":
			return testutil.Reply{Result: testutil.ValueResult(map[string]any{
				"calls": [][]any{{}}, "results": []any{map[string]any{"type": "return", "value": "mocked"}}, "total": 1,
			})}, nil
		case "clear", "reset":
			return testutil.Reply{Result: testutil.ValueResult(2)}, nil
		}
		return testutil.Reply{Result: testutil.ValueResult(true)}, nil
	}
	return testutil.Reply{}, nil
}

func TestServiceServer_Session(t *testing.T) {
	t.Parallel()

	insp := testutil.NewInspector(t, mainProcess)
	inspect := "--inspect=" + net.JoinHostPort(insp.Host(), strconv.Itoa(insp.Port()))
	s := rpc.NewServiceServer(service.New(service.WithFs(afero.NewMemMapFs())), nil)

	lines := roundTrip(t, s,
		`{"id":1,"method":"before","params":{"capabilities":{"goog:chromeOptions":{"args":["`+inspect+`"]}}}}`,
		`{"id":2,"method":"execute","params":{"script":"(electron, a) => a","args":[true]}}`,
		`{"id":3,"method":"mock","params":{"apiName":"app","methodName":"getName"}}`,
		`{"id":4,"method":"mock.returnValue","params":{"key":"electron.app.getName","value":"mocked"}}`,
		`{"id":5,"method":"afterCommand","params":{"name":"click","args":[]}}`,
		`{"id":6,"method":"mock.calls","params":{"key":"electron.app.getName"}}`,
		`{"id":7,"method":"isMockFunction","params":{"value":{"type":"wdio-electron-mock","key":"electron.app.getName"}}}`,
		`{"id":8,"method":"after"}`,
	)

	for _, line := range lines {
		assert.False(t, line.Get("error").Exists(), line.Raw)
	}
	assert.Equal(t, "cdp", lines[0].Get("result.mode").String())
	assert.Equal(t, "true", lines[1].Get("result").Raw)
	assert.Equal(t, "wdio-electron-mock", lines[2].Get("result.type").String())
	assert.Equal(t, "electron.app.getName", lines[2].Get("result.key").String())
	assert.Equal(t, int64(1), lines[5].Get("result.calls.#").Int())
	assert.Equal(t, "mocked", lines[5].Get("result.results.0.value").String())
	assert.Equal(t, "true", lines[6].Get("result").Raw)

	var sent []string
	for _, p := range insp.Params("Runtime.callFunctionOn") {
		sent = append(sent, gjson.GetBytes(p, "arguments.1.value").String())
	}
	assert.Contains(t, sent, "implementation")
	assert.Contains(t, sent, "restore")
}
