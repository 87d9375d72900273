package bridge

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrClosed is returned by Connect once the manager has reached a
	// terminal state. A new session needs a new Manager.
	ErrClosed = errors.New("debugger connection closed")

	// ErrNotConnected is returned by operations that need a live connection.
	ErrNotConnected = errors.New("debugger not connected")

	// ErrNoExecutionContext means the inspector never announced a context
	// after Runtime.enable.
	ErrNoExecutionContext = errors.New("no execution context announced")
)

// ConnectionError is returned when every connection attempt failed.
type ConnectionError struct {
	Endpoint string
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to debugger at %s: gave up after %d attempt(s) in %s: %v",
		e.Endpoint, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
