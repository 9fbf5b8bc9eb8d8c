// Package testutil provides shared test helpers for the circbuf test suite.
package testutil

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kahiteam/circbuf/internal/config"
	"github.com/kahiteam/circbuf/internal/ctl"
	"github.com/kahiteam/circbuf/internal/daemon"
)

// TempDir creates a short-named temporary directory and registers cleanup.
// Socket paths built under it stay within the sun_path limit.
func TempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "cb-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

// FreeSocket returns a unique Unix socket path in a temporary directory.
// The socket file does not exist yet; it is created by the daemon.
func FreeSocket(t *testing.T) string {
	t.Helper()
	return filepath.Join(TempDir(t), "circbuf.sock")
}

// FreeTCPPort returns an available TCP port by binding to :0 and releasing.
func FreeTCPPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("cannot find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// MustParseConfig parses a TOML string into a Config, failing the test on
// error.
func MustParseConfig(t *testing.T, toml string) *config.Config {
	t.Helper()
	cfg, warnings, err := config.LoadBytes([]byte(toml), "test.toml")
	if err != nil {
		t.Fatalf("MustParseConfig: %v", err)
	}
	for _, w := range warnings {
		t.Logf("config warning: %s", w)
	}
	return cfg
}

// WaitFor polls condition until it returns true, failing the test if the
// timeout expires first.
func WaitFor(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("WaitFor: condition not met within timeout")
}

// WriteFile writes content to a file in dir and returns its path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("cannot write %s: %v", path, err)
	}
	return path
}

// DaemonConfig wraps extra TOML in a config that listens on socketPath and
// keeps its pid file next to it.
func DaemonConfig(socketPath, extra string) string {
	return fmt.Sprintf(`
[daemon]
log_level = "debug"
log_format = "text"
pid_file = %q
shutdown_timeout = 5

[server.unix]
file = %q

%s
`, filepath.Join(filepath.Dir(socketPath), "circbuf.pid"), socketPath, extra)
}

// TestDaemon is an in-process daemon serving a temporary socket.
type TestDaemon struct {
	*daemon.Daemon
	Client     *ctl.Client
	SocketPath string
	ConfigPath string
	Dir        string
}

// StartTestDaemon writes a config around extraTOML, runs a daemon on it, and
// waits until it is ready. The daemon is shut down when the test ends.
func StartTestDaemon(t *testing.T, extraTOML string) *TestDaemon {
	t.Helper()
	dir := TempDir(t)
	socketPath := filepath.Join(dir, "circbuf.sock")
	configPath := WriteFile(t, dir, "circbuf.toml", DaemonConfig(socketPath, extraTOML))

	cfg, _, err := config.LoadWithIncludes(configPath)
	if err != nil {
		t.Fatalf("StartTestDaemon: %v", err)
	}
	d, err := daemon.New(daemon.Options{
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("StartTestDaemon: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run() }()
	WaitFor(t, func() bool {
		select {
		case err := <-errCh:
			t.Fatalf("daemon exited: %v", err)
		default:
		}
		return d.IsReady()
	}, 5*time.Second)

	t.Cleanup(func() {
		d.Shutdown()
		select {
		case <-d.Done():
		case <-time.After(10 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	return &TestDaemon{
		Daemon:     d,
		Client:     ctl.NewUnixClient(socketPath),
		SocketPath: socketPath,
		ConfigPath: configPath,
		Dir:        dir,
	}
}
