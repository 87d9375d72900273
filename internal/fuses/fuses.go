// Package fuses reads the feature fuses embedded in an Electron binary.
package fuses

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Sentinel marks the start of the fuse wire inside the binary.
const Sentinel = "dL7pKGdnNz796PbbjQWNKmHXBZaB9tsX"

// SupportedVersion is the only fuse wire version understood here.
const SupportedVersion = 1

// State is the raw byte value of one fuse.
type State byte

const (
	Disable State = '0'
	Enable  State = '1'
	Removed State = 'r'
	Inherit State = 0x90
)

func (s State) String() string {
	switch s {
	case Disable:
		return "DISABLE"
	case Enable:
		return "ENABLE"
	case Removed:
		return "REMOVED"
	case Inherit:
		return "INHERIT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(s))
	}
}

// Option indexes a fuse in a version 1 wire.
type Option int

const (
	RunAsNode Option = iota
	EnableCookieEncryption
	EnableNodeOptionsEnvironmentVariable
	EnableNodeCliInspectArguments
	EnableEmbeddedAsarIntegrityValidation
	OnlyLoadAppFromAsar
	LoadBrowserProcessSpecificV8Snapshot
	GrantFileProtocolExtraPrivileges
)

var optionNames = [...]string{
	"RunAsNode",
	"EnableCookieEncryption",
	"EnableNodeOptionsEnvironmentVariable",
	"EnableNodeCliInspectArguments",
	"EnableEmbeddedAsarIntegrityValidation",
	"OnlyLoadAppFromAsar",
	"LoadBrowserProcessSpecificV8Snapshot",
	"GrantFileProtocolExtraPrivileges",
}

func (o Option) String() string {
	if o >= 0 && int(o) < len(optionNames) {
		return optionNames[o]
	}
	return fmt.Sprintf("Option(%d)", int(o))
}

// ErrNoFuseWire is returned when the binary carries no sentinel, which is
// the case for Electron builds that predate fuses.
var ErrNoFuseWire = errors.New("no fuse wire found")

// Wire is one fuse wire read from a binary.
type Wire struct {
	Version int
	States  []State
}

// Get returns the state of opt, or false when the wire is too short to
// carry it.
func (w *Wire) Get(opt Option) (State, bool) {
	if int(opt) < 0 || int(opt) >= len(w.States) {
		return 0, false
	}
	return w.States[opt], true
}

// Result is the outcome of CheckInspectFuse.
type Result struct {
	CanUseCdpBridge bool   `json:"canUseCdpBridge"`
	FuseValue       *State `json:"fuseValue,omitempty"`
	Error           string `json:"error,omitempty"`
}

// ResolveBinary maps a macOS .app bundle to the framework binary that
// actually carries the fuse wire. Other paths are returned unchanged.
func ResolveBinary(binaryPath string) string {
	clean := filepath.Clean(binaryPath)
	if strings.HasSuffix(clean, ".app") {
		return filepath.Join(clean, "Contents", "Frameworks", "Electron Framework.framework", "Electron Framework")
	}
	return binaryPath
}

// ReadFuseWires returns every fuse wire found in the binary at path.
// Universal macOS binaries carry one per architecture.
func ReadFuseWires(fs afero.Fs, path string) ([]*Wire, error) {
	data, err := afero.ReadFile(fs, ResolveBinary(path))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var wires []*Wire
	sentinel := []byte(Sentinel)
	for offset := 0; ; {
		idx := bytes.Index(data[offset:], sentinel)
		if idx < 0 {
			break
		}
		start := offset + idx + len(sentinel)
		w, err := parseWire(data[start:])
		if err != nil {
			return nil, fmt.Errorf("parsing fuse wire in %s at offset %d: %w", path, start, err)
		}
		wires = append(wires, w)
		offset = start
	}

	if len(wires) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoFuseWire)
	}
	return wires, nil
}

func parseWire(b []byte) (*Wire, error) {
	if len(b) < 2 {
		return nil, errors.New("truncated header")
	}
	version, length := int(b[0]), int(b[1])
	if version != SupportedVersion {
		return nil, fmt.Errorf("unsupported fuse wire version %d", version)
	}
	if len(b) < 2+length {
		return nil, fmt.Errorf("truncated wire: want %d fuses, have %d bytes", length, len(b)-2)
	}

	states := make([]State, length)
	for i := range states {
		states[i] = State(b[2+i])
	}
	return &Wire{Version: version, States: states}, nil
}

// CheckInspectFuse reports whether the binary allows --inspect, which the
// CDP bridge depends on. Only an explicitly disabled fuse yields false:
// binaries without fuses and read failures are assumed capable, with the
// failure reported in Result.Error.
func CheckInspectFuse(fs afero.Fs, binaryPath string) Result {
	wires, err := ReadFuseWires(fs, binaryPath)
	if errors.Is(err, ErrNoFuseWire) {
		return Result{CanUseCdpBridge: true}
	}
	if err != nil {
		return Result{
			CanUseCdpBridge: true,
			Error:           fmt.Sprintf("could not read fuses, assuming inspect is allowed: %v", err),
		}
	}

	var value *State
	for _, w := range wires {
		state, ok := w.Get(EnableNodeCliInspectArguments)
		if !ok {
			continue
		}
		s := state
		value = &s
		if state == Disable {
			return Result{CanUseCdpBridge: false, FuseValue: value}
		}
	}
	return Result{CanUseCdpBridge: true, FuseValue: value}
}
