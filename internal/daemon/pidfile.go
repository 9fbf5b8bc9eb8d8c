package daemon

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// WritePIDFile writes the current process PID to the given path. It refuses
// to overwrite the PID file of a live process.
func WritePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if pid, ok := readPIDFile(path); ok && pid != os.Getpid() && processAlive(pid) {
		return fmt.Errorf("daemon already running: pid %d in %s", pid, path)
	}
	data := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("cannot write PID file: %s: %w", path, err)
	}
	return nil
}

// RemovePIDFile removes the PID file if it exists.
func RemovePIDFile(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}

func readPIDFile(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// ValidateSocketDir checks that the socket's directory exists and is writable.
func ValidateSocketDir(socketPath string) error {
	dir := filepath.Dir(socketPath)

	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("socket directory does not exist: %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("socket path parent is not a directory: %s", dir)
	}

	f, err := os.CreateTemp(dir, ".circbuf_perm_check")
	if err != nil {
		return fmt.Errorf("permission denied: cannot create socket in %s: %w", dir, err)
	}
	f.Close()
	os.Remove(f.Name())
	return nil
}

// RootWarning logs a warning if the daemon runs as root.
func RootWarning(logger *slog.Logger) {
	if os.Getuid() == 0 {
		logger.Warn("running as root; buffers hold no privileged state, consider a dedicated user")
	}
}
