package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tomyan/wdio-electron/internal/rpc"
	"github.com/tomyan/wdio-electron/internal/service"
)

// withService connects a service using the capabilities and flags, runs fn
// and tears the service down again.
func withService(cfg *Config, cmd *cobra.Command, fn func(ctx context.Context, svc *service.Service) (interface{}, error)) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Settings.Timeout)
	defer cancel()

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	caps, err := capabilities(cfg, cmd)
	if err != nil {
		return err
	}

	svc := service.New(
		service.WithLogger(logger),
		service.WithFs(cfg.Fs),
		service.WithDefaults(cfg.Settings.Service),
	)
	if err := svc.Before(ctx, caps, nil); err != nil {
		return err
	}
	defer func() {
		if err := svc.After(context.Background()); err != nil {
			logger.Warnf("CLI:withService", "after: %v", err)
		}
	}()

	result, err := fn(ctx, svc)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return context.DeadlineExceeded
		}
		return err
	}
	return outputResult(cfg, result)
}

func newServeCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the service hooks over stdin/stdout",
		Long: `Serve the WebdriverIO service hooks as JSON requests on stdin, one
response per line on stdout. Requests are {"id":N,"method":"...","params":{...}},
either one per line or framed with Content-Length headers.

Start with "before", passing the capabilities and optionally the WebDriver
session used by the IPC bridge.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			svc := service.New(
				service.WithLogger(logger),
				service.WithFs(cfg.Fs),
				service.WithDefaults(cfg.Settings.Service.Apply(serviceFlags(cmd.Flags(), &cfg.flags))),
			)
			defer func() {
				if svc.Mode() == service.ModeNone {
					return
				}
				if err := svc.After(context.Background()); err != nil {
					logger.Warnf("CLI:serve", "after: %v", err)
				}
			}()

			server := rpc.NewServiceServer(svc, logger)
			logger.Debugf("CLI:serve", "serving %d methods", len(server.Methods()))
			return server.Serve(cmd.Context(), cfg.Stdin, cfg.Stdout)
		},
	}
}
