package scriptexec

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeTestScript drops a tiny executable shell script in dir and returns
// its full path (absolute, since dir comes from t.TempDir).
func writeTestScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestRunDetached_StartsAndReturnsImmediately(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")
	script := writeTestScript(t, dir, "slow.sh", "#!/bin/sh\nsleep 1\ntouch "+marker+"\n")

	start := time.Now()
	if err := RunDetached(script); err != nil {
		t.Fatalf("RunDetached: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("RunDetached blocked for %v, expected it to return immediately", elapsed)
	}
}

func TestLaunch_PicksScriptByRole(t *testing.T) {
	dir := t.TempDir()
	masterMarker := filepath.Join(dir, "master_ran")
	slaveMarker := filepath.Join(dir, "slave_ran")
	master := writeTestScript(t, dir, "master.sh", "#!/bin/sh\ntouch "+masterMarker+"\n")
	slave := writeTestScript(t, dir, "slave.sh", "#!/bin/sh\ntouch "+slaveMarker+"\n")

	e := New(master, slave)
	e.Launch(true)
	e.Launch(false)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, mErr := os.Stat(masterMarker)
		_, sErr := os.Stat(slaveMarker)
		if mErr == nil && sErr == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected both master and slave scripts to run")
}

func TestLaunch_NoScriptConfigured(t *testing.T) {
	e := New("", "")
	e.Launch(true) // must not panic
}
