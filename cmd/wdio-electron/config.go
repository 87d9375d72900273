package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
	"gopkg.in/guregu/null.v3"

	"github.com/tomyan/wdio-electron/internal/config"
	"github.com/tomyan/wdio-electron/internal/log"
)

// flagValues stores values parsed from CLI flags. Only flags the user set
// are applied, so lower layers keep their values otherwise.
type flagValues struct {
	configFile   string
	capabilities string
	output       string
	logLevel     string
	logFilter    string
	noColor      bool

	inspect        string
	binary         string
	timeoutMs      int64
	waitMs         int64
	retryCount     int64
	noCdpBridge    bool
	clearMocks     bool
	resetMocks     bool
	restoreMocks   bool
	commandTimeout string
}

func addGlobalFlags(root *cobra.Command, fv *flagValues) {
	f := root.PersistentFlags()
	f.StringVar(&fv.configFile, "config", "", "Config file (default: ./"+config.FileName+", then ~/"+config.FileName+")")
	f.StringVar(&fv.capabilities, "capabilities", "", "Capabilities JSON file (env: WDIO_ELECTRON_CAPABILITIES)")
	f.StringVarP(&fv.output, "output", "o", "", "Output format: json, ndjson, text")
	f.StringVar(&fv.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	f.StringVar(&fv.logFilter, "log-filter", "", "Only log categories matching this regexp")
	f.BoolVar(&fv.noColor, "no-color", false, "Disable colored output")
	f.StringVar(&fv.commandTimeout, "timeout", "", "Overall command timeout, e.g. 30s")

	f.StringVar(&fv.inspect, "inspect", "", "Inspector address [host:]port, added as --inspect to the capabilities")
	f.StringVar(&fv.binary, "binary", "", "Electron binary, checked for the inspect fuse")
	f.Int64Var(&fv.timeoutMs, "cdp-timeout", 0, "CDP connection timeout in ms")
	f.Int64Var(&fv.waitMs, "cdp-wait-interval", 0, "Delay between CDP connection attempts in ms")
	f.Int64Var(&fv.retryCount, "cdp-retry-count", 0, "Maximum CDP connection attempts")
	f.BoolVar(&fv.noCdpBridge, "no-cdp-bridge", false, "Use the IPC bridge instead of CDP")
	f.BoolVar(&fv.clearMocks, "clear-mocks", false, "Clear all mocks before each test")
	f.BoolVar(&fv.resetMocks, "reset-mocks", false, "Reset all mocks before each test")
	f.BoolVar(&fv.restoreMocks, "restore-mocks", false, "Restore all mocks before each test")
}

// loadSettings runs the config chain: defaults < file < env < flags.
func loadSettings(cfg *Config, cmd *cobra.Command) error {
	s := cfg.Settings
	flags := cmd.Flags()
	fv := &cfg.flags

	paths := cfg.ConfigPaths
	if fv.configFile != "" {
		paths = []string{fv.configFile}
	} else if paths == nil {
		paths = config.DefaultFilePaths()
	}
	if _, err := config.LoadFile(s, paths...); err != nil {
		return err
	}
	if err := config.ApplyEnv(s); err != nil {
		return err
	}

	if flags.Changed("capabilities") {
		s.Capabilities = fv.capabilities
	}
	if flags.Changed("output") {
		s.Output = fv.output
	}
	if flags.Changed("log-level") {
		s.LogLevel = fv.logLevel
	}
	if flags.Changed("log-filter") {
		s.LogFilter = fv.logFilter
	}
	if flags.Changed("timeout") {
		d, err := time.ParseDuration(fv.commandTimeout)
		if err != nil {
			return err
		}
		s.Timeout = d
	}
	if fv.noColor {
		color.NoColor = true
	}

	switch s.Output {
	case "json", "ndjson", "text":
	default:
		return fmt.Errorf("unknown output format: %s", s.Output)
	}
	return nil
}

// serviceFlags returns the service options set on the command line.
func serviceFlags(flags *pflag.FlagSet, fv *flagValues) config.ServiceOptions {
	var o config.ServiceOptions
	if flags.Changed("binary") {
		o.AppBinaryPath = null.StringFrom(fv.binary)
	}
	if flags.Changed("cdp-timeout") {
		o.CdpConnectionTimeout = null.IntFrom(fv.timeoutMs)
	}
	if flags.Changed("cdp-wait-interval") {
		o.CdpConnectionWaitInterval = null.IntFrom(fv.waitMs)
	}
	if flags.Changed("cdp-retry-count") {
		o.CdpConnectionRetryCount = null.IntFrom(fv.retryCount)
	}
	if flags.Changed("no-cdp-bridge") {
		o.UseCdpBridge = null.BoolFrom(!fv.noCdpBridge)
	}
	if flags.Changed("clear-mocks") {
		o.ClearMocks = null.BoolFrom(fv.clearMocks)
	}
	if flags.Changed("reset-mocks") {
		o.ResetMocks = null.BoolFrom(fv.resetMocks)
	}
	if flags.Changed("restore-mocks") {
		o.RestoreMocks = null.BoolFrom(fv.restoreMocks)
	}
	return o
}

// capabilities loads the capabilities file, if any, and applies the
// command-line flags on top of it.
func capabilities(cfg *Config, cmd *cobra.Command) (*config.Capabilities, error) {
	caps := &config.Capabilities{}
	if path := cfg.Settings.Capabilities; path != "" {
		var err error
		caps, err = config.LoadCapabilities(path)
		if err != nil {
			return nil, err
		}
	}
	if addr := cfg.flags.inspect; addr != "" {
		// A bare port means the loopback host, as node --inspect=PORT does.
		if !strings.Contains(addr, ":") {
			addr = "127.0.0.1:" + addr
		}
		caps.ChromeOptions.Args = append(caps.ChromeOptions.Args, "--inspect="+addr)
	}
	caps.ServiceOptions = caps.ServiceOptions.Apply(serviceFlags(cmd.Flags(), &cfg.flags))
	return caps, nil
}

func newLogger(cfg *Config) (*log.Logger, error) {
	l := logrus.New()
	l.SetOutput(cfg.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors: !colorEnabled(cfg.Stderr),
		FullTimestamp: true,
	})
	logger := log.New(l, nil)
	if err := logger.SetLevel(cfg.Settings.LogLevel); err != nil {
		return nil, err
	}
	if cfg.Settings.LogFilter != "" {
		if err := logger.SetCategoryFilter(cfg.Settings.LogFilter); err != nil {
			return nil, err
		}
	}
	return logger, nil
}

// colorEnabled reports whether w is a color-capable terminal.
func colorEnabled(w io.Writer) bool {
	if color.NoColor {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
