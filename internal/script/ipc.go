package script

import (
	"context"
	"encoding/json"
	"fmt"
)

// ChannelName is the ipcMain channel the preload bridge forwards execute
// requests on. Built preload scripts depend on it; do not change it.
const ChannelName = "wdio-electron.execute"

// ipcScript runs in the renderer as a WebDriver async script. The last
// argument is the WebDriver completion callback.
const ipcScript = `const [channel, request] = arguments;
const done = arguments[arguments.length - 1];
if (!window.wdioElectron || typeof window.wdioElectron.invoke !== 'function') {
  done({ error: { message: 'wdio-electron preload bridge is not available in this window' } });
  return;
}
window.wdioElectron.invoke(channel, request).then(
  (result) => done({ result: result === undefined ? null : result }),
  (err) => done({ error: { message: (err && err.message) || String(err) } }),
);`

// AsyncScripter runs a WebDriver async script in the current window.
type AsyncScripter interface {
	ExecuteAsync(ctx context.Context, script string, args ...any) (json.RawMessage, error)
}

// IPCChannel reaches the main process through the renderer's preload
// bridge. It is the fallback when the CDP bridge cannot be used.
type IPCChannel struct {
	session AsyncScripter
}

// NewIPCChannel returns a channel over a WebDriver session.
func NewIPCChannel(session AsyncScripter) *IPCChannel {
	return &IPCChannel{session: session}
}

// Send implements Channel.
func (c *IPCChannel) Send(ctx context.Context, req Request) (Response, error) {
	raw, err := c.session.ExecuteAsync(ctx, ipcScript, ChannelName, req)
	if err != nil {
		return Response{}, err
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, fmt.Errorf("decoding bridge response: %w", err)
	}
	return resp, nil
}
