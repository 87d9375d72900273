package main

import (
	"github.com/spf13/cobra"

	"github.com/tomyan/wdio-electron/internal/endpoint"
)

// EndpointResult is the output of the endpoint command.
type EndpointResult struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Address string `json:"address"`
}

func newEndpointCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "endpoint [args...]",
		Short: "Resolve the inspector endpoint from launch arguments",
		Long: `Resolve the inspector host and port from the first --inspect or
--inspect-brk argument. Without arguments the capabilities are used.

Examples:
  wdio-electron endpoint -- --inspect=9229
  wdio-electron endpoint --capabilities caps.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				ep  endpoint.Endpoint
				err error
			)
			if len(args) > 0 {
				ep, err = endpoint.Resolve(args)
			} else {
				caps, cerr := capabilities(cfg, cmd)
				if cerr != nil {
					return cerr
				}
				ep, err = endpoint.FromCapabilities(caps)
			}
			if err != nil {
				return err
			}
			return outputResult(cfg, EndpointResult{Host: ep.Host, Port: ep.Port, Address: ep.String()})
		},
	}
}
