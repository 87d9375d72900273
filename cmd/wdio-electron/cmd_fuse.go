package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/tomyan/wdio-electron/internal/fuses"
)

// FuseResult is the output of the fuse command.
type FuseResult struct {
	Binary          string `json:"binary"`
	CanUseCdpBridge bool   `json:"canUseCdpBridge"`
	FuseValue       string `json:"fuseValue"`
	Error           string `json:"error,omitempty"`
}

func newFuseCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "fuse [binary]",
		Short: "Check the EnableNodeCliInspectArguments fuse of an Electron binary",
		Long: `Check whether an Electron binary allows --inspect.

The binary defaults to --binary, then the capabilities' appBinaryPath or
goog:chromeOptions.binary. A disabled fuse exits with status 1.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			binary := ""
			if len(args) == 1 {
				binary = args[0]
			} else {
				caps, err := capabilities(cfg, cmd)
				if err != nil {
					return err
				}
				binary = caps.BinaryPath()
			}
			if binary == "" {
				return errors.New("usage: wdio-electron fuse <binary>")
			}

			res := fuses.CheckInspectFuse(cfg.Fs, binary)
			out := FuseResult{
				Binary:          binary,
				CanUseCdpBridge: res.CanUseCdpBridge,
				FuseValue:       "NONE",
				Error:           res.Error,
			}
			if res.FuseValue != nil {
				out.FuseValue = res.FuseValue.String()
			}
			if err := outputResult(cfg, out); err != nil {
				return err
			}
			if !res.CanUseCdpBridge {
				return &exitError{code: ExitError}
			}
			return nil
		},
	}
}
