package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomyan/wdio-electron/internal/cdp"
	"github.com/tomyan/wdio-electron/internal/endpoint"
)

// TargetsResult is the output of the targets command.
type TargetsResult struct {
	Endpoint string           `json:"endpoint"`
	Targets  []cdp.TargetInfo `json:"targets"`
}

func (r TargetsResult) TextValue() string {
	out := ""
	for i, t := range r.Targets {
		if i > 0 {
			out += "\n"
		}
		out += fmt.Sprintf("%s\t%s\t%s", t.ID, t.Type, t.Title)
	}
	return out
}

// inspectorEndpoint resolves the endpoint from the capabilities and flags.
func inspectorEndpoint(cfg *Config, cmd *cobra.Command) (endpoint.Endpoint, error) {
	caps, err := capabilities(cfg, cmd)
	if err != nil {
		return endpoint.Endpoint{}, err
	}
	return endpoint.FromCapabilities(caps)
}

func newTargetsCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List the inspector's debug targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ep, err := inspectorEndpoint(cfg, cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Settings.Timeout)
			defer cancel()

			targets, err := cdp.ListTargets(ctx, ep.Host, ep.Port)
			if err != nil {
				return err
			}
			return outputResult(cfg, TargetsResult{Endpoint: ep.String(), Targets: targets})
		},
	}
}

func newRawCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "raw <method> [params-json]",
		Short: "Send a raw protocol command to the main process",
		Long: `Send a raw protocol command to the main process inspector and print
the result.

Examples:
  wdio-electron --inspect 9229 raw Runtime.evaluate '{"expression":"process.versions.electron","returnByValue":true}'
  wdio-electron --inspect 9229 raw Debugger.enable`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := args[0]
			var params interface{}
			if len(args) > 1 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("invalid params JSON: %s", args[1])
				}
				params = json.RawMessage(args[1])
			}

			ep, err := inspectorEndpoint(cfg, cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Settings.Timeout)
			defer cancel()

			client, err := cdp.Connect(ctx, ep.Host, ep.Port, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			result, err := client.Call(ctx, method, params)
			if err != nil {
				if ctx.Err() == context.DeadlineExceeded {
					return context.DeadlineExceeded
				}
				return err
			}
			return outputResult(cfg, result)
		},
	}
}
