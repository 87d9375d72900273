// Package launcher starts an Electron app with the Node inspector enabled
// and waits until the inspector accepts connections.
package launcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/tomyan/wdio-electron/internal/endpoint"
	"github.com/tomyan/wdio-electron/internal/log"
)

// DefaultStartTimeout bounds how long Launch waits for the inspector port.
const DefaultStartTimeout = 30 * time.Second

// ErrElectronNotFound is returned when no Electron binary can be located.
var ErrElectronNotFound = errors.New("electron binary not found")

// Options configures Launch.
type Options struct {
	Binary       string   // Electron binary (auto-detected if empty)
	AppArgs      []string // app path and app arguments, after the inspector flag
	Host         string   // inspector host, default 127.0.0.1
	Port         int      // inspector port, a free one if zero
	DataDir      string   // --user-data-dir (temp dir created if empty)
	Env          []string // extra environment, KEY=VALUE
	Stdout       io.Writer
	Stderr       io.Writer
	StartTimeout time.Duration
	Logger       *log.Logger
	Runner       CommandRunner // used to clean up helper processes on Stop
}

// Instance is a running Electron app.
type Instance struct {
	cmd      *exec.Cmd
	Host     string
	Port     int
	PID      int
	DataDir  string
	ownsData bool
	runner   CommandRunner
	logger   *log.Logger

	done    chan struct{}
	waitErr error
	stop    sync.Once
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(name string, args ...string) ([]byte, error)
}

// DefaultCommandRunner executes commands via os/exec.
type DefaultCommandRunner struct{}

// Run executes a command and returns its combined output.
func (DefaultCommandRunner) Run(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// FindElectron locates the Electron binary. An explicit path is returned
// if it exists. Otherwise the project's node_modules is searched, then PATH.
func FindElectron(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	dist := filepath.Join("node_modules", "electron", "dist")
	var candidates []string
	switch runtime.GOOS {
	case "darwin":
		candidates = []string{filepath.Join(dist, "Electron.app", "Contents", "MacOS", "Electron")}
	case "windows":
		candidates = []string{filepath.Join(dist, "electron.exe")}
	default:
		candidates = []string{filepath.Join(dist, "electron")}
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			abs, err := filepath.Abs(p)
			if err != nil {
				return p
			}
			return abs
		}
	}

	if path, err := exec.LookPath("electron"); err == nil {
		return path
	}
	return ""
}

// FreePort asks the kernel for an unused TCP port on host.
func FreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// IsPortOpen checks if a TCP port is accepting connections.
func IsPortOpen(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), 100*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// WaitForPort waits until host:port accepts connections, ctx is done, or
// exited is closed.
func WaitForPort(ctx context.Context, host string, port int, exited <-chan struct{}) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %s: %w", addr, ctx.Err())
		case <-exited:
			return fmt.Errorf("process exited before %s opened", addr)
		case <-ticker.C:
			if IsPortOpen(host, port) {
				return nil
			}
		}
	}
}

// InspectArg is the flag that makes Electron listen on host:port.
func InspectArg(host string, port int) string {
	return "--inspect=" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Launch starts Electron and waits for its inspector.
func Launch(ctx context.Context, opts Options) (*Instance, error) {
	binary := FindElectron(opts.Binary)
	if binary == "" {
		if opts.Binary != "" {
			return nil, fmt.Errorf("%w at %s", ErrElectronNotFound, opts.Binary)
		}
		return nil, ErrElectronNotFound
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNullLogger()
	}
	if opts.Runner == nil {
		opts.Runner = DefaultCommandRunner{}
	}
	if opts.Port == 0 {
		port, err := FreePort(opts.Host)
		if err != nil {
			return nil, err
		}
		opts.Port = port
	}

	ownsData := false
	dataDir := opts.DataDir
	if dataDir == "" {
		var err error
		dataDir, err = os.MkdirTemp("", "wdio-electron-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		ownsData = true
	}

	args := append([]string{
		InspectArg(opts.Host, opts.Port),
		"--user-data-dir=" + dataDir,
	}, opts.AppArgs...)

	cmd := exec.Command(binary, args...)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	cmd.Env = append(os.Environ(), opts.Env...)

	if err := cmd.Start(); err != nil {
		if ownsData {
			os.RemoveAll(dataDir)
		}
		return nil, fmt.Errorf("failed to start Electron: %w", err)
	}

	inst := &Instance{
		cmd:      cmd,
		Host:     opts.Host,
		Port:     opts.Port,
		PID:      cmd.Process.Pid,
		DataDir:  dataDir,
		ownsData: ownsData,
		runner:   opts.Runner,
		logger:   opts.Logger,
		done:     make(chan struct{}),
	}
	go func() {
		inst.waitErr = cmd.Wait()
		close(inst.done)
	}()
	opts.Logger.Debugf("Launcher:Launch", "pid:%d binary:%s args:%q", inst.PID, binary, args)

	waitCtx, cancel := context.WithTimeout(ctx, opts.StartTimeout)
	defer cancel()
	if err := WaitForPort(waitCtx, opts.Host, opts.Port, inst.done); err != nil {
		inst.Stop()
		return nil, fmt.Errorf("Electron failed to start: %w", err)
	}
	return inst, nil
}

// Endpoint returns the inspector endpoint.
func (inst *Instance) Endpoint() endpoint.Endpoint {
	return endpoint.Endpoint{Host: inst.Host, Port: inst.Port}
}

// Args returns the chromeOptions args a capability for this instance
// carries, so the endpoint resolver finds the inspector.
func (inst *Instance) Args() []string {
	return []string{InspectArg(inst.Host, inst.Port)}
}

// Exited is closed once the process has exited.
func (inst *Instance) Exited() <-chan struct{} {
	return inst.done
}

// Stop terminates Electron, its helper processes, and removes a data
// directory Launch created.
func (inst *Instance) Stop() error {
	inst.stop.Do(func() {
		select {
		case <-inst.done:
		default:
			inst.cmd.Process.Kill()
			<-inst.done
		}

		// Renderer and GPU helpers carry the data dir in their arguments.
		if inst.DataDir != "" {
			if out, err := inst.runner.Run("pkill", "-9", "-f", inst.DataDir); err != nil {
				inst.logger.Tracef("Instance:Stop", "pkill: %v %s", err, out)
			}
		}
		if inst.ownsData {
			os.RemoveAll(inst.DataDir)
		}
		inst.logger.Debugf("Instance:Stop", "pid:%d stopped", inst.PID)
	})
	return nil
}

// InspectorInfo is the inspector's /json/version document.
type InspectorInfo struct {
	Browser  string `json:"Browser"`
	Protocol string `json:"Protocol-Version"`
}

// DetectInspector checks if an inspector is responding at host:port and
// returns its version info.
func DetectInspector(ctx context.Context, host string, port int) (*InspectorInfo, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/json/version", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inspector not reachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var info InspectorInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parsing version info: %w", err)
	}
	return &info, nil
}
