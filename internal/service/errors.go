package service

import (
	"errors"
	"fmt"

	"github.com/tomyan/wdio-electron/internal/fuses"
)

// ErrNoSession is returned when the IPC bridge is needed but the runner
// supplied no WebDriver session.
var ErrNoSession = errors.New("no WebDriver session for the IPC bridge")

// FuseDisabledError means the binary was built with the inspect fuse off,
// so no debugger can attach.
type FuseDisabledError struct {
	Binary string
	Value  fuses.State
}

func (e *FuseDisabledError) Error() string {
	return fmt.Sprintf("the %s fuse is %s in %s, so the CDP bridge cannot attach; "+
		"enable the fuse when packaging, or set useCdpBridge: false to use the IPC bridge",
		fuses.EnableNodeCliInspectArguments, e.Value, e.Binary)
}
