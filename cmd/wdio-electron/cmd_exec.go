package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tomyan/wdio-electron/internal/service"
)

// ExecResult is the output of the exec command.
type ExecResult struct {
	Result json.RawMessage `json:"result"`
}

// PingResult is the output of the ping command.
type PingResult struct {
	Mode      service.Mode `json:"mode"`
	ContextID int64        `json:"contextId"`
	Attempts  int          `json:"attempts"`
}

func newExecCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <script|-> [args...]",
		Short: "Execute a function in the Electron main process",
		Long: `Execute a function in the Electron main process and print its result.

The script is a function source; it is called with the electron module
followed by the arguments. Arguments that parse as JSON are passed decoded,
anything else is passed as a string. Use - to read the script from stdin.

Examples:
  wdio-electron --inspect 127.0.0.1:9229 exec '(electron) => electron.app.getName()'
  wdio-electron --inspect 9229 exec '(e, a, b) => a + b' 1 2`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]
			if src == "-" {
				data, err := io.ReadAll(cfg.Stdin)
				if err != nil {
					return err
				}
				src = string(data)
			}
			if src == "" {
				return errors.New("usage: wdio-electron exec <script|-> [args...]")
			}
			scriptArgs := parseArgs(args[1:])

			return withService(cfg, cmd, func(ctx context.Context, svc *service.Service) (interface{}, error) {
				res, err := svc.Execute(ctx, src, scriptArgs...)
				if err != nil {
					return nil, err
				}
				return ExecResult{Result: res}, nil
			})
		},
	}
}

// parseArgs decodes JSON arguments, keeping anything else as a string.
func parseArgs(args []string) []any {
	out := make([]any, 0, len(args))
	for _, a := range args {
		var v any
		if json.Valid([]byte(a)) && json.Unmarshal([]byte(a), &v) == nil {
			out = append(out, v)
			continue
		}
		out = append(out, a)
	}
	return out
}

// MethodsResult is the output of the methods command.
type MethodsResult struct {
	API     string   `json:"api"`
	Methods []string `json:"methods"`
}

func (r MethodsResult) TextValue() string { return strings.Join(r.Methods, "\n") }

func newMethodsCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "methods <api>",
		Short: "List the functions of an Electron API that can be mocked",
		Long: `List the functions of electron.<api> in the main process, as mockAll
would mock them.

Example:
  wdio-electron --inspect 9229 methods dialog`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cfg, cmd, func(ctx context.Context, svc *service.Service) (interface{}, error) {
				methods, err := svc.Mocks().Methods(ctx, args[0])
				if err != nil {
					return nil, err
				}
				return MethodsResult{API: args[0], Methods: methods}, nil
			})
		},
	}
}

func newPingCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Connect to the main process and check it evaluates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cfg, cmd, func(ctx context.Context, svc *service.Service) (interface{}, error) {
				if err := svc.Ping(ctx); err != nil {
					return nil, err
				}
				res := PingResult{Mode: svc.Mode()}
				if conn := svc.Connection(); conn != nil {
					res.ContextID = int64(conn.ContextID())
					res.Attempts = conn.Attempts()
				}
				return res, nil
			})
		},
	}
}
