package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fatih/color"
)

// TextValuer is implemented by result types that have an obvious plain-text representation.
type TextValuer interface {
	TextValue() string
}

func (r FuseResult) TextValue() string {
	if r.CanUseCdpBridge {
		return color.GreenString("inspect allowed") + " (" + r.FuseValue + ")"
	}
	return color.RedString("inspect disabled") + " (" + r.FuseValue + ")"
}

func (r EndpointResult) TextValue() string { return r.Address }
func (r VersionResult) TextValue() string  { return r.Version }
func (r ExecResult) TextValue() string     { return string(r.Result) }
func (r PingResult) TextValue() string {
	return fmt.Sprintf("%s context %s after %d attempt(s)", r.Mode, strconv.FormatInt(r.ContextID, 10), r.Attempts)
}
func (r LaunchResult) TextValue() string { return r.Address }

func outputResult(cfg *Config, v interface{}) error {
	switch cfg.Settings.Output {
	case "json":
		enc := json.NewEncoder(cfg.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "ndjson":
		return json.NewEncoder(cfg.Stdout).Encode(v)
	case "text":
		if tv, ok := v.(TextValuer); ok {
			_, err := fmt.Fprintln(cfg.Stdout, tv.TextValue())
			return err
		}
		// Fall back to JSON for complex types
		enc := json.NewEncoder(cfg.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format: %s", cfg.Settings.Output)
	}
}
