package main

import (
	"runtime"

	"github.com/spf13/cobra"
)

// VersionResult is the output of the version command.
type VersionResult struct {
	Version string `json:"version"`
	Go      string `json:"go"`
}

func newVersionCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the wdio-electron version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return outputResult(cfg, VersionResult{Version: Version, Go: runtime.Version()})
		},
	}
}
