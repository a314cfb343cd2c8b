//go:build !darwin && !linux

package storage

import "errors"

// Unknown platforms cannot be probed; treat that as an error so operators
// notice rather than silently trusting the path.
func detectFilesystemType(string) (string, error) {
	return "", errors.New("cannot probe filesystem kind on this platform")
}
