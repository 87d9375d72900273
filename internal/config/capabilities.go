// Package config holds the capability model consumed from WebdriverIO and
// the layered settings of the wdio-electron tool.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/guregu/null.v3"
)

// Capabilities is the subset of a WebdriverIO capability object this
// service reads.
type Capabilities struct {
	BrowserName    string         `json:"browserName,omitempty"`
	ChromeOptions  ChromeOptions  `json:"goog:chromeOptions"`
	ServiceOptions ServiceOptions `json:"wdio:electronServiceOptions"`
}

// ChromeOptions carries the launch flags chromedriver passes to Electron.
type ChromeOptions struct {
	Binary          string   `json:"binary,omitempty"`
	Args            []string `json:"args,omitempty"`
	DebuggerAddress string   `json:"debuggerAddress,omitempty"`
}

// ServiceOptions is the wdio:electronServiceOptions block. Durations are
// milliseconds, as WebdriverIO configs write them.
type ServiceOptions struct {
	AppBinaryPath             null.String `json:"appBinaryPath" toml:"app_binary_path"`
	CdpConnectionTimeout      null.Int    `json:"cdpConnectionTimeout" toml:"cdp_connection_timeout"`
	CdpConnectionWaitInterval null.Int    `json:"cdpConnectionWaitInterval" toml:"cdp_connection_wait_interval"`
	CdpConnectionRetryCount   null.Int    `json:"cdpConnectionRetryCount" toml:"cdp_connection_retry_count"`
	ClearMocks                null.Bool   `json:"clearMocks" toml:"clear_mocks"`
	ResetMocks                null.Bool   `json:"resetMocks" toml:"reset_mocks"`
	RestoreMocks              null.Bool   `json:"restoreMocks" toml:"restore_mocks"`
	UseCdpBridge              null.Bool   `json:"useCdpBridge" toml:"use_cdp_bridge"`
}

// Apply returns o overridden by every value set in other.
func (o ServiceOptions) Apply(other ServiceOptions) ServiceOptions {
	if other.AppBinaryPath.Valid {
		o.AppBinaryPath = other.AppBinaryPath
	}
	if other.CdpConnectionTimeout.Valid {
		o.CdpConnectionTimeout = other.CdpConnectionTimeout
	}
	if other.CdpConnectionWaitInterval.Valid {
		o.CdpConnectionWaitInterval = other.CdpConnectionWaitInterval
	}
	if other.CdpConnectionRetryCount.Valid {
		o.CdpConnectionRetryCount = other.CdpConnectionRetryCount
	}
	if other.ClearMocks.Valid {
		o.ClearMocks = other.ClearMocks
	}
	if other.ResetMocks.Valid {
		o.ResetMocks = other.ResetMocks
	}
	if other.RestoreMocks.Valid {
		o.RestoreMocks = other.RestoreMocks
	}
	if other.UseCdpBridge.Valid {
		o.UseCdpBridge = other.UseCdpBridge
	}
	return o
}

// ConnectionTimeout is the overall connect deadline, or 0 when unset.
func (o ServiceOptions) ConnectionTimeout() time.Duration {
	return millis(o.CdpConnectionTimeout)
}

// ConnectionWaitInterval is the delay between connect attempts, or 0 when unset.
func (o ServiceOptions) ConnectionWaitInterval() time.Duration {
	return millis(o.CdpConnectionWaitInterval)
}

// ConnectionRetryCount is the maximum number of connect attempts, or 0 when unset.
func (o ServiceOptions) ConnectionRetryCount() int {
	if !o.CdpConnectionRetryCount.Valid {
		return 0
	}
	return int(o.CdpConnectionRetryCount.Int64)
}

// CdpBridgeEnabled defaults to true.
func (o ServiceOptions) CdpBridgeEnabled() bool {
	return !o.UseCdpBridge.Valid || o.UseCdpBridge.Bool
}

func millis(v null.Int) time.Duration {
	if !v.Valid || v.Int64 <= 0 {
		return 0
	}
	return time.Duration(v.Int64) * time.Millisecond
}

// BinaryPath is the Electron binary to inspect for fuses: the service
// option wins over the chromedriver binary.
func (c *Capabilities) BinaryPath() string {
	if c.ServiceOptions.AppBinaryPath.Valid && c.ServiceOptions.AppBinaryPath.String != "" {
		return c.ServiceOptions.AppBinaryPath.String
	}
	return c.ChromeOptions.Binary
}

// ParseCapabilities decodes a capability object.
func ParseCapabilities(data []byte) (*Capabilities, error) {
	var caps Capabilities
	if err := json.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("parsing capabilities: %w", err)
	}
	return &caps, nil
}

// LoadCapabilities reads a capability object from a JSON file.
func LoadCapabilities(path string) (*Capabilities, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading capabilities: %w", err)
	}
	return ParseCapabilities(data)
}
