// Command wdio-electron drives the Electron main process of a running app:
// it checks fuses, resolves and connects to the Node inspector, executes
// scripts, and serves the WebdriverIO service hooks over stdio.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/tomyan/wdio-electron/internal/bridge"
	"github.com/tomyan/wdio-electron/internal/config"
)

// Exit codes
const (
	ExitSuccess    = 0
	ExitError      = 1
	ExitConnFailed = 2
	ExitTimeout    = 3
)

// Version is set at build time.
var Version = "dev"

// Config holds the CLI configuration.
type Config struct {
	Settings *config.Settings

	// ConfigPaths overrides where the config file is looked up. If nil,
	// config.DefaultFilePaths is used.
	ConfigPaths []string

	Fs afero.Fs

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// flags set on the command line, applied over capabilities
	flags flagValues
}

// DefaultConfig returns the default configuration with built-in defaults.
// The config file and environment are applied later in the config chain.
func DefaultConfig() *Config {
	return &Config{
		Settings: config.DefaultSettings(),
		Fs:       afero.NewOsFs(),
		Stdin:    os.Stdin,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	}
}

func main() {
	cfg := DefaultConfig()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], cfg)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, cfg *Config) int {
	root := newRootCmd(cfg)
	root.SetArgs(args)
	root.SetIn(cfg.Stdin)
	root.SetOut(cfg.Stdout)
	root.SetErr(cfg.Stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		return reportError(cfg, err)
	}
	return ExitSuccess
}

// exitError carries an exit code out of a command that already reported.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit %d", e.code) }

func reportError(cfg *Config, err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}

	code := ExitError
	var connErr *bridge.ConnectionError
	switch {
	case errors.As(err, &connErr):
		code = ExitConnFailed
	case errors.Is(err, context.DeadlineExceeded):
		code = ExitTimeout
		err = errors.New("timeout")
	}

	prefix := "error:"
	if colorEnabled(cfg.Stderr) {
		prefix = color.New(color.FgRed, color.Bold).Sprint(prefix)
	}
	fmt.Fprintf(cfg.Stderr, "%s %v\n", prefix, err)
	return code
}

func newRootCmd(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:   "wdio-electron",
		Short: "Electron main-process bridge for WebdriverIO",
		Long: `wdio-electron connects to the Node inspector of an Electron app's main
process and runs scripts and mocks there.

Configuration precedence: built-in defaults < .wdio-electron.toml <
WDIO_ELECTRON_* environment < capabilities < command-line flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadSettings(cfg, cmd)
		},
	}

	addGlobalFlags(root, &cfg.flags)

	root.AddCommand(
		newFuseCmd(cfg),
		newEndpointCmd(cfg),
		newLaunchCmd(cfg),
		newExecCmd(cfg),
		newPingCmd(cfg),
		newMethodsCmd(cfg),
		newTargetsCmd(cfg),
		newRawCmd(cfg),
		newServeCmd(cfg),
		newVersionCmd(cfg),
	)
	return root
}
