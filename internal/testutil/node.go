package testutil

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

// stubElectron stands in for the electron package. app is class backed so
// its methods live on the prototype, as they do in Electron.
const stubElectron = `const { EventEmitter } = require('events');

class App extends EventEmitter {
  getName() { return 'real-app'; }
  getVersion() { return '1.0.0'; }
  getPath(name) { return '/tmp/' + name; }
}

module.exports = {
  app: new App(),
  dialog: {
    showOpenDialog: async () => ({ canceled: true, filePaths: [] }),
    showMessageBox: async () => ({ response: 0 }),
  },
};
`

const nodeMain = `require('electron');
setInterval(() => {}, 1 << 30);
`

// nodeESMMain has no process.mainModule, so the electron module can only
// be reached through a global handle.
const nodeESMMain = `import 'electron';
setInterval(() => {}, 1 << 30);
`

// NodeApp is a node process started with --inspect whose main module
// resolves a stub electron package.
type NodeApp struct {
	cmd  *exec.Cmd
	Host string
	Port int
}

// StartNodeApp starts node with the inspector on a free port. The test is
// skipped when node is not on PATH. The process is killed on cleanup.
func StartNodeApp(t testing.TB) *NodeApp {
	t.Helper()
	return startNode(t, "main.js", nodeMain)
}

// StartNodeESMApp is StartNodeApp with an ES module entry point.
func StartNodeESMApp(t testing.TB) *NodeApp {
	t.Helper()
	return startNode(t, "main.mjs", nodeESMMain)
}

func startNode(t testing.TB, mainName, mainSource string) *NodeApp {
	t.Helper()

	nodePath, err := exec.LookPath("node")
	if err != nil {
		t.Skip("node not found")
	}

	dir := t.TempDir()
	pkgDir := filepath.Join(dir, "node_modules", "electron")
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		t.Fatalf("creating stub package: %v", err)
	}
	if err := os.WriteFile(filepath.Join(pkgDir, "package.json"), []byte(`{"name":"electron","main":"index.js"}`), 0o644); err != nil {
		t.Fatalf("writing stub package: %v", err)
	}
	if err := os.WriteFile(filepath.Join(pkgDir, "index.js"), []byte(stubElectron), 0o644); err != nil {
		t.Fatalf("writing stub package: %v", err)
	}
	mainPath := filepath.Join(dir, mainName)
	if err := os.WriteFile(mainPath, []byte(mainSource), 0o644); err != nil {
		t.Fatalf("writing main: %v", err)
	}

	port, err := freePort()
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}

	cmd := exec.Command(nodePath, fmt.Sprintf("--inspect=127.0.0.1:%d", port), mainPath)
	cmd.Dir = dir
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting node: %v", err)
	}

	app := &NodeApp{cmd: cmd, Host: "127.0.0.1", Port: port}
	t.Cleanup(app.Stop)

	if err := waitForPort(app.Host, port, 10*time.Second); err != nil {
		t.Fatalf("node inspector failed to start: %v", err)
	}
	return app
}

// InspectArg is the --inspect argument naming this app's inspector.
func (a *NodeApp) InspectArg() string {
	return "--inspect=" + net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Stop kills the process.
func (a *NodeApp) Stop() {
	if a.cmd != nil && a.cmd.Process != nil {
		a.cmd.Process.Kill()
		a.cmd.Wait()
	}
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// waitForPort waits for a TCP port to accept connections.
func waitForPort(host string, port int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %s", addr)
		case <-ticker.C:
		}
	}
}
