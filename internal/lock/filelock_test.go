package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquirePIDLockWritesPID(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "steward.lock")
	l, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	b, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		t.Fatalf("expected PID in lock file, got empty")
	}
}

func TestAcquireIsExclusiveUntilReleased(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "writer.lock")
	first, err := Acquire(lockPath, "epoch=1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if _, err := Acquire(lockPath, "epoch=2"); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	second, err := Acquire(lockPath, "epoch=2")
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	t.Cleanup(func() { _ = second.Release() })

	b, _ := os.ReadFile(lockPath)
	if strings.TrimSpace(string(b)) != "epoch=2" {
		t.Fatalf("unexpected owner line %q", string(b))
	}
}
