package lock

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

// ErrLocked is returned when another holder already owns the lock.
var ErrLocked = errors.New("lock is held by another owner")

// FileLock is an exclusive flock(2) on a file. The lock lives as long as the
// descriptor stays open.
type FileLock struct {
	f *os.File
}

// Acquire takes the lock at path without blocking and writes owner into the
// file so operators can see who holds it.
func Acquire(path, owner string) (*FileLock, error) {
	if path == "" {
		return nil, errors.New("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	l := &FileLock{f: f}
	switch err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); {
	case errors.Is(err, syscall.EWOULDBLOCK):
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrLocked)
	case err != nil:
		_ = f.Close()
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	if err := l.record(owner); err != nil {
		_ = l.Release()
		return nil, fmt.Errorf("record lock owner: %w", err)
	}
	return l, nil
}

// AcquirePIDLock guards a single running instance; the file holds the PID.
func AcquirePIDLock(path string) (*FileLock, error) {
	return Acquire(path, strconv.Itoa(os.Getpid()))
}

func (l *FileLock) record(owner string) error {
	if err := l.f.Truncate(0); err != nil {
		return err
	}
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := l.f.WriteString(owner + "\n"); err != nil {
		return err
	}
	return l.f.Sync()
}

// Release drops the lock. Calling it again is a no-op.
func (l *FileLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return f.Close()
}
