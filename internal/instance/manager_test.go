package instance

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marcusd.pid")
	m := NewManager(path, 3000)

	if err := m.WritePIDFile(os.Getpid(), 3000); err != nil {
		t.Fatalf("write: %v", err)
	}

	info, err := m.CheckExisting()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if info == nil {
		t.Fatal("expected running instance (this process)")
	}
	if info.PID != os.Getpid() || info.Port != 3000 {
		t.Errorf("info = %+v", info)
	}
}

func TestStalePIDFileIsCleaned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marcusd.pid")
	m := NewManager(path, 3000)

	// An absurdly large PID that cannot be running
	if err := m.WritePIDFile(99999999, 3000); err != nil {
		t.Fatalf("write: %v", err)
	}

	info, err := m.CheckExisting()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if info != nil {
		t.Errorf("stale instance reported as running: %+v", info)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("stale PID file not removed")
	}
}

func TestNoPIDFile(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "missing.pid"), 3000)
	info, err := m.CheckExisting()
	if err != nil || info != nil {
		t.Errorf("info=%v err=%v, want nil/nil", info, err)
	}
}

func TestIsProcessRunningSelf(t *testing.T) {
	running, err := IsProcessRunning(os.Getpid())
	if err != nil {
		t.Fatalf("check self: %v", err)
	}
	if !running {
		t.Error("this process should be running")
	}
}
