package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/guregu/null.v3"
)

// FileName is the config file looked up in the working directory, then home.
const FileName = ".wdio-electron.toml"

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "WDIO_ELECTRON"

// Settings are the tool-level settings. Precedence: built-in defaults <
// config file < environment < capabilities block < CLI flags.
type Settings struct {
	Capabilities string
	Output       string // json, ndjson, text
	LogLevel     string
	LogFilter    string
	Timeout      time.Duration
	Service      ServiceOptions
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() *Settings {
	return &Settings{
		Output:   "json",
		LogLevel: "warn",
		Timeout:  30 * time.Second,
	}
}

// fileConfig is the TOML file layout.
type fileConfig struct {
	Capabilities *string      `toml:"capabilities"`
	Output       *string      `toml:"output"`
	LogLevel     *string      `toml:"log_level"`
	LogFilter    *string      `toml:"log_filter"`
	Timeout      *string      `toml:"timeout"` // duration string, e.g. "30s"
	Service      *fileService `toml:"service"`
}

type fileService struct {
	AppBinaryPath             *string `toml:"app_binary_path"`
	CdpConnectionTimeout      *int64  `toml:"cdp_connection_timeout"`
	CdpConnectionWaitInterval *int64  `toml:"cdp_connection_wait_interval"`
	CdpConnectionRetryCount   *int64  `toml:"cdp_connection_retry_count"`
	ClearMocks                *bool   `toml:"clear_mocks"`
	ResetMocks                *bool   `toml:"reset_mocks"`
	RestoreMocks              *bool   `toml:"restore_mocks"`
	UseCdpBridge              *bool   `toml:"use_cdp_bridge"`
}

// DefaultFilePaths lists where LoadFile looks, in order.
func DefaultFilePaths() []string {
	paths := []string{filepath.Join(".", FileName)}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, FileName))
	}
	return paths
}

// LoadFile applies the first config file found in paths to s and returns
// its path, or "" when none exists. A malformed file is an error.
func LoadFile(s *Settings, paths ...string) (string, error) {
	for _, p := range paths {
		var fc fileConfig
		if _, err := toml.DecodeFile(p, &fc); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return "", fmt.Errorf("loading %s: %w", p, err)
		}
		if err := applyFileConfig(s, &fc); err != nil {
			return "", fmt.Errorf("loading %s: %w", p, err)
		}
		return p, nil
	}
	return "", nil
}

func applyFileConfig(s *Settings, fc *fileConfig) error {
	if fc.Capabilities != nil {
		s.Capabilities = *fc.Capabilities
	}
	if fc.Output != nil {
		s.Output = *fc.Output
	}
	if fc.LogLevel != nil {
		s.LogLevel = *fc.LogLevel
	}
	if fc.LogFilter != nil {
		s.LogFilter = *fc.LogFilter
	}
	if fc.Timeout != nil {
		d, err := time.ParseDuration(*fc.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout: %w", err)
		}
		s.Timeout = d
	}
	if svc := fc.Service; svc != nil {
		var o ServiceOptions
		if svc.AppBinaryPath != nil {
			o.AppBinaryPath = null.StringFrom(*svc.AppBinaryPath)
		}
		if svc.CdpConnectionTimeout != nil {
			o.CdpConnectionTimeout = null.IntFrom(*svc.CdpConnectionTimeout)
		}
		if svc.CdpConnectionWaitInterval != nil {
			o.CdpConnectionWaitInterval = null.IntFrom(*svc.CdpConnectionWaitInterval)
		}
		if svc.CdpConnectionRetryCount != nil {
			o.CdpConnectionRetryCount = null.IntFrom(*svc.CdpConnectionRetryCount)
		}
		if svc.ClearMocks != nil {
			o.ClearMocks = null.BoolFrom(*svc.ClearMocks)
		}
		if svc.ResetMocks != nil {
			o.ResetMocks = null.BoolFrom(*svc.ResetMocks)
		}
		if svc.RestoreMocks != nil {
			o.RestoreMocks = null.BoolFrom(*svc.RestoreMocks)
		}
		if svc.UseCdpBridge != nil {
			o.UseCdpBridge = null.BoolFrom(*svc.UseCdpBridge)
		}
		s.Service = s.Service.Apply(o)
	}
	return nil
}

// envConfig is read with envconfig under EnvPrefix, e.g.
// WDIO_ELECTRON_CDP_CONNECTION_TIMEOUT=5000.
type envConfig struct {
	Capabilities              null.String   `envconfig:"CAPABILITIES"`
	Output                    null.String   `envconfig:"OUTPUT"`
	LogLevel                  null.String   `envconfig:"LOG_LEVEL"`
	LogFilter                 null.String   `envconfig:"LOG_FILTER"`
	Timeout                   time.Duration `envconfig:"TIMEOUT"`
	AppBinaryPath             null.String   `envconfig:"APP_BINARY_PATH"`
	CdpConnectionTimeout      null.Int      `envconfig:"CDP_CONNECTION_TIMEOUT"`
	CdpConnectionWaitInterval null.Int      `envconfig:"CDP_CONNECTION_WAIT_INTERVAL"`
	CdpConnectionRetryCount   null.Int      `envconfig:"CDP_CONNECTION_RETRY_COUNT"`
	ClearMocks                null.Bool     `envconfig:"CLEAR_MOCKS"`
	ResetMocks                null.Bool     `envconfig:"RESET_MOCKS"`
	RestoreMocks              null.Bool     `envconfig:"RESTORE_MOCKS"`
	UseCdpBridge              null.Bool     `envconfig:"USE_CDP_BRIDGE"`
}

// ApplyEnv applies WDIO_ELECTRON_* variables to s.
func ApplyEnv(s *Settings) error {
	var ec envConfig
	if err := envconfig.Process(EnvPrefix, &ec); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}

	if ec.Capabilities.Valid {
		s.Capabilities = ec.Capabilities.String
	}
	if ec.Output.Valid {
		s.Output = ec.Output.String
	}
	if ec.LogLevel.Valid {
		s.LogLevel = ec.LogLevel.String
	}
	if ec.LogFilter.Valid {
		s.LogFilter = ec.LogFilter.String
	}
	if ec.Timeout > 0 {
		s.Timeout = ec.Timeout
	}
	s.Service = s.Service.Apply(ServiceOptions{
		AppBinaryPath:             ec.AppBinaryPath,
		CdpConnectionTimeout:      ec.CdpConnectionTimeout,
		CdpConnectionWaitInterval: ec.CdpConnectionWaitInterval,
		CdpConnectionRetryCount:   ec.CdpConnectionRetryCount,
		ClearMocks:                ec.ClearMocks,
		ResetMocks:                ec.ResetMocks,
		RestoreMocks:              ec.RestoreMocks,
		UseCdpBridge:              ec.UseCdpBridge,
	})
	return nil
}
