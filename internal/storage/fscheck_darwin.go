//go:build darwin

package storage

import (
	"fmt"
	"strings"
	"syscall"
)

func detectFilesystemType(path string) (string, error) {
	var fs syscall.Statfs_t
	if err := syscall.Statfs(path, &fs); err != nil {
		return "", fmt.Errorf("statfs: %w", err)
	}
	var b strings.Builder
	for _, c := range fs.Fstypename {
		if c == 0 {
			break
		}
		b.WriteByte(byte(c))
	}
	return b.String(), nil
}
