// Package endpoint extracts the Node inspector address an Electron main
// process was launched with from its command line arguments.
package endpoint

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/tomyan/wdio-electron/internal/config"
)

var inspectFlags = []string{"--inspect=", "--inspect-brk="}

// Endpoint is the host:port of a Node inspector.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Reason identifies which validation failed.
type Reason int

const (
	ReasonMissingFlag Reason = iota
	ReasonInvalidPort
	ReasonEmptyHost
)

func (r Reason) String() string {
	switch r {
	case ReasonMissingFlag:
		return "missing --inspect flag"
	case ReasonInvalidPort:
		return "invalid port"
	case ReasonEmptyHost:
		return "empty host"
	}
	return "unknown"
}

// ResolutionError is returned when no usable inspector address is found.
type ResolutionError struct {
	Reason Reason
	Arg    string
}

func (e *ResolutionError) Error() string {
	switch e.Reason {
	case ReasonMissingFlag:
		return "debugger endpoint: no --inspect=<host>:<port> argument found in goog:chromeOptions.args"
	case ReasonInvalidPort:
		return fmt.Sprintf("debugger endpoint: invalid port in %q (want an integer between 1 and 65535)", e.Arg)
	case ReasonEmptyHost:
		return fmt.Sprintf("debugger endpoint: empty host in %q", e.Arg)
	}
	return fmt.Sprintf("debugger endpoint: %s", e.Reason)
}

// Resolve returns the endpoint of the first --inspect (or --inspect-brk)
// argument in args.
func Resolve(args []string) (Endpoint, error) {
	for _, arg := range args {
		for _, flag := range inspectFlags {
			if value, ok := strings.CutPrefix(arg, flag); ok {
				return parse(arg, value)
			}
		}
	}
	return Endpoint{}, &ResolutionError{Reason: ReasonMissingFlag}
}

// FromCapabilities resolves the endpoint from goog:chromeOptions.args.
func FromCapabilities(caps *config.Capabilities) (Endpoint, error) {
	if caps == nil {
		return Endpoint{}, &ResolutionError{Reason: ReasonMissingFlag}
	}
	return Resolve(caps.ChromeOptions.Args)
}

func parse(arg, value string) (Endpoint, error) {
	i := strings.LastIndex(value, ":")
	if i < 0 {
		return Endpoint{}, &ResolutionError{Reason: ReasonInvalidPort, Arg: arg}
	}
	host, portStr := value[:i], value[i+1:]

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Endpoint{}, &ResolutionError{Reason: ReasonInvalidPort, Arg: arg}
	}

	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	if host == "" {
		return Endpoint{}, &ResolutionError{Reason: ReasonEmptyHost, Arg: arg}
	}

	return Endpoint{Host: host, Port: port}, nil
}
