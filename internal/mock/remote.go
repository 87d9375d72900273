package mock

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/tomyan/wdio-electron/internal/script"
)

// runtimeSource installs the mock runtime in the main process. It snapshots
// the original API functions once and keeps per-key spy state.
//
//go:embed runtime.js
var runtimeSource string

// dispatcher routes an operation to the installed runtime.
const dispatcher = `(electron, op, ...args) => {
  const runtime = globalThis.__wdioElectron;
  if (!runtime) throw new Error('wdio-electron mock runtime is not installed');
  return runtime[op](electron, ...args);
}`

// Executor runs bookkeeping scripts in the main process. *script.Executor
// satisfies it.
type Executor interface {
	ExecuteInternal(ctx context.Context, src any, args ...any) (json.RawMessage, error)
}

type remote struct {
	exec Executor
}

func (r remote) install(ctx context.Context) (bool, error) {
	raw, err := r.exec.ExecuteInternal(ctx, script.Func(runtimeSource))
	if err != nil {
		return false, fmt.Errorf("installing mock runtime: %w", err)
	}
	var installed bool
	if err := json.Unmarshal(raw, &installed); err != nil {
		return false, fmt.Errorf("installing mock runtime: %w", err)
	}
	return installed, nil
}

// call runs op and decodes its result into out, which may be nil.
func (r remote) call(ctx context.Context, out any, op string, args ...any) error {
	raw, err := r.exec.ExecuteInternal(ctx, script.Func(dispatcher), append([]any{op}, args...)...)
	if err != nil {
		return fmt.Errorf("mock %s: %w", op, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("mock %s: decoding result: %w", op, err)
	}
	return nil
}

type mockReply struct {
	Key        string `json:"key"`
	Created    bool   `json:"created"`
	Generation int    `json:"generation"`
}

// callsReply is the history since an offset. Generation changes whenever
// the main process history is cleared, so a stale offset is detectable even
// after the history has grown past it again.
type callsReply struct {
	Calls      []Call   `json:"calls"`
	Results    []Result `json:"results"`
	Total      int      `json:"total"`
	Generation int      `json:"generation"`
}
