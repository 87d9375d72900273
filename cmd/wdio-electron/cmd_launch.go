package main

import (
	"github.com/spf13/cobra"

	"github.com/tomyan/wdio-electron/internal/launcher"
)

// LaunchResult is printed once the launched app's inspector is listening.
type LaunchResult struct {
	PID     int      `json:"pid"`
	Host    string   `json:"host"`
	Port    int      `json:"port"`
	Address string   `json:"address"`
	Args    []string `json:"args"`
	Browser string   `json:"browser,omitempty"`
}

func newLaunchCmd(cfg *Config) *cobra.Command {
	var (
		host    string
		port    int
		dataDir string
	)
	cmd := &cobra.Command{
		Use:   "launch [-- app args...]",
		Short: "Launch an Electron app with the inspector enabled",
		Long: `Launch an Electron app with --inspect and wait until the inspector
listens. The endpoint is printed, then the command waits until the app exits
or is interrupted, and stops the app.

Examples:
  wdio-electron launch --binary ./node_modules/.bin/electron -- ./main.js
  wdio-electron launch --port 9229 -- .`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			binary := cfg.flags.binary
			if binary == "" && cfg.Settings.Service.AppBinaryPath.Valid {
				binary = cfg.Settings.Service.AppBinaryPath.String
			}

			inst, err := launcher.Launch(cmd.Context(), launcher.Options{
				Binary:       binary,
				AppArgs:      args,
				Host:         host,
				Port:         port,
				DataDir:      dataDir,
				Stderr:       cfg.Stderr,
				StartTimeout: cfg.Settings.Timeout,
				Logger:       logger,
			})
			if err != nil {
				return err
			}
			defer inst.Stop()

			res := LaunchResult{
				PID:     inst.PID,
				Host:    inst.Host,
				Port:    inst.Port,
				Address: inst.Endpoint().String(),
				Args:    inst.Args(),
			}
			if info, err := launcher.DetectInspector(cmd.Context(), inst.Host, inst.Port); err == nil {
				res.Browser = info.Browser
			}
			if err := outputResult(cfg, res); err != nil {
				return err
			}

			select {
			case <-inst.Exited():
				logger.Infof("CLI:launch", "pid:%d exited", inst.PID)
				return nil
			case <-cmd.Context().Done():
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Inspector host")
	cmd.Flags().IntVar(&port, "port", 0, "Inspector port (default: a free port)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "User data directory (default: a temporary directory)")
	return cmd
}
