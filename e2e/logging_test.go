//go:build e2e

package e2e

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

func logConfig(dir string) string {
	return fmt.Sprintf(`[daemon]
log_level = "info"
log_format = "json"
logfile = %q
shutdown_timeout = 10

[server.unix]
file = %q

[buffers.mic]
channels = 1
capacity = 8
`, filepath.Join(dir, "circbuf.log"), filepath.Join(dir, "circbuf.sock"))
}

func TestLogging_JSONLogfile(t *testing.T) {
	dir := shortDir(t)
	startDaemonWithConfig(t, dir, logConfig(dir))
	logPath := filepath.Join(dir, "circbuf.log")

	var lines []string
	waitFor(t, "daemon running log line", func() bool {
		data, err := os.ReadFile(logPath)
		if err != nil {
			return false
		}
		lines = strings.Split(strings.TrimSpace(string(data)), "\n")
		return strings.Contains(string(data), "daemon running")
	}, 5*time.Second)

	for _, line := range lines {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("log line is not JSON: %q", line)
		}
		if _, ok := rec["level"]; !ok {
			t.Errorf("log line missing level: %q", line)
		}
	}
}

func TestLogging_ReopenOnSIGUSR2(t *testing.T) {
	dir := shortDir(t)
	d := startDaemonWithConfig(t, dir, logConfig(dir))
	logPath := filepath.Join(dir, "circbuf.log")

	waitFor(t, "log file", func() bool {
		_, err := os.Stat(logPath)
		return err == nil
	}, 5*time.Second)

	if err := os.Rename(logPath, logPath+".1"); err != nil {
		t.Fatal(err)
	}
	if err := d.cmd.Process.Signal(syscall.SIGUSR2); err != nil {
		t.Fatal(err)
	}

	// Anything logged after the reopen lands in a fresh file.
	waitFor(t, "reopened log file", func() bool {
		_, err := os.Stat(logPath)
		return err == nil
	}, 5*time.Second)
	if _, err := d.client.Create("after", 1, 4, false); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "log line in reopened file", func() bool {
		data, _ := os.ReadFile(logPath)
		return strings.Contains(string(data), "after")
	}, 5*time.Second)
}

func TestLogging_LevelFollowsReload(t *testing.T) {
	dir := shortDir(t)
	d := startDaemonWithConfig(t, dir, logConfig(dir))
	logPath := filepath.Join(dir, "circbuf.log")

	quiet := strings.Replace(logConfig(dir), `log_level = "info"`, `log_level = "error"`, 1)
	writeConfig(t, dir, quiet)
	if _, err := d.client.Reload(); err != nil {
		t.Fatal(err)
	}

	before, _ := os.ReadFile(logPath)
	if _, err := d.client.Create("silent", 1, 4, false); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	after, _ := os.ReadFile(logPath)
	if strings.Contains(string(after[len(before):]), "silent") {
		t.Fatal("info logs should be suppressed at level error")
	}
}
