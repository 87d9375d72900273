package script

import (
	"errors"
	"fmt"
)

// ErrBrowserNotInitialised is returned when no channel has been set yet.
var ErrBrowserNotInitialised = errors.New("browser not initialised")

// TypeError is returned for a script that is neither source text nor a Func.
type TypeError struct {
	Got string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf(`execute: expecting script to be of type "string" or "function", got %s`, e.Got)
}

// ExecutionError carries the message of an exception thrown by a script in
// the main process. The session stays usable.
type ExecutionError struct {
	Message string
}

func (e *ExecutionError) Error() string {
	return "script failed in main process: " + e.Message
}
