//go:build e2e

package e2e

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestCtl_BufferSession(t *testing.T) {
	d := startDaemon(t, "")
	ctlArgs := func(args ...string) []string {
		return append([]string{"ctl", "-s", d.socketPath}, args...)
	}

	out, err := runCLI(t, "", ctlArgs("create", "imu", "3", "4", "--strict")...)
	if err != nil {
		t.Fatalf("create: %v\n%s", err, out)
	}

	// Five samples into four slots: sample 0 is overwritten.
	samples := "0 0 0\n1 10 100\n2 20 200\n3 30 300\n4 40 400\n"
	if out, err := runCLI(t, samples, ctlArgs("add", "imu")...); err != nil {
		t.Fatalf("add: %v\n%s", err, out)
	}

	out, err = runCLI(t, "", ctlArgs("get", "imu", "4", "--channel", "2")...)
	if err != nil {
		t.Fatalf("get: %v\n%s", err, out)
	}
	if got := strings.Join(strings.Fields(out), " "); got != "100 200 300 400" {
		t.Fatalf("get = %q", got)
	}

	out, err = runCLI(t, "", ctlArgs("recent", "imu", "2")...)
	if err != nil {
		t.Fatalf("recent: %v\n%s", err, out)
	}
	if out != "3\t30\t300\n4\t40\t400\n" {
		t.Fatalf("recent = %q", out)
	}

	// Strict buffers refuse reads past the retained samples.
	out, err = runCLI(t, "", ctlArgs("get", "imu", "2", "--start", "3")...)
	if err == nil || !strings.Contains(out, "OUT_OF_RANGE") {
		t.Fatalf("strict get: err=%v out=%q", err, out)
	}

	out, err = runCLI(t, "", ctlArgs("list", "--json")...)
	if err != nil {
		t.Fatalf("list: %v\n%s", err, out)
	}
	var list []struct {
		Name           string `json:"name"`
		Length         int    `json:"length"`
		Full           bool   `json:"full"`
		SamplesWritten uint64 `json:"samples_written"`
	}
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("list json: %v\n%s", err, out)
	}
	if len(list) != 1 || list[0].Name != "imu" || !list[0].Full || list[0].SamplesWritten != 5 {
		t.Fatalf("list = %+v", list)
	}

	if out, err := runCLI(t, "", ctlArgs("reset", "imu")...); err != nil {
		t.Fatalf("reset: %v\n%s", err, out)
	}
	info, err := d.client.Info("imu")
	if err != nil {
		t.Fatal(err)
	}
	if info.Length != 0 || info.Capacity != 4 {
		t.Fatalf("after reset: %+v", info)
	}

	if out, err := runCLI(t, "", ctlArgs("destroy", "imu")...); err != nil {
		t.Fatalf("destroy: %v\n%s", err, out)
	}
	out, err = runCLI(t, "", ctlArgs("info", "imu")...)
	if err == nil || !strings.Contains(out, "NOT_FOUND") {
		t.Fatalf("info after destroy: err=%v out=%q", err, out)
	}
}

func TestCtl_ExecCommands(t *testing.T) {
	d := startDaemon(t, "")
	exec := func(args ...string) (string, error) {
		return runCLI(t, "", append([]string{"ctl", "-s", d.socketPath, "exec"}, args...)...)
	}

	if out, err := exec("create", "buf", "2", "8"); err != nil {
		t.Fatalf("create: %v\n%s", err, out)
	}
	if out, err := exec("add", "buf", "[1,2,3,4]"); err != nil {
		t.Fatalf("add: %v\n%s", err, out)
	}

	out, err := exec("getMostRecent", "buf", "2")
	if err != nil {
		t.Fatalf("getMostRecent: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"data":[1,3,2,4]`) {
		t.Fatalf("getMostRecent = %q", out)
	}

	out, err = exec("get", "buf", "1", "1", "1")
	if err != nil {
		t.Fatalf("get: %v\n%s", err, out)
	}
	if strings.TrimSpace(out) != "[4]" {
		t.Fatalf("get = %q", out)
	}

	out, err = exec("frobnicate")
	if err == nil || !strings.Contains(out, "UNKNOWN_COMMAND") {
		t.Fatalf("unknown command: err=%v out=%q", err, out)
	}
	out, err = exec("add", "buf", "[1,2,3]")
	if err == nil || !strings.Contains(out, "INVALID_ARGUMENT") {
		t.Fatalf("ragged add: err=%v out=%q", err, out)
	}
	out, err = exec("get", "buf", "1", "5", "0")
	if err == nil || !strings.Contains(out, "INVALID_CHANNEL") {
		t.Fatalf("bad channel: err=%v out=%q", err, out)
	}

	if out, err := exec("clear", "buf"); err != nil {
		t.Fatalf("clear: %v\n%s", err, out)
	}
	if _, err := d.client.Info("buf"); err == nil {
		t.Fatal("buf should be gone after clear")
	}
}
