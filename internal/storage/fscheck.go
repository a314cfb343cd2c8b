package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned when a state path resolves to a
// filesystem whose advisory locks cannot be trusted.
var ErrNetworkFilesystem = errors.New("network filesystem")

// remoteKinds are filesystem names whose advisory locks are unreliable.
var remoteKinds = []string{"afpfs", "cifs", "nfs", "smb2", "smbfs", "webdav"}

// diskProbe reports the filesystem kind backing an existing path.
type diskProbe func(path string) (string, error)

// RequireLocalDisk fails when path, or the closest ancestor that exists, sits
// on a network filesystem. The job graph database and the writer lock file
// both rely on local fcntl/flock semantics.
func RequireLocalDisk(path string) error {
	return diskProbe(detectFilesystemType).require(path)
}

func (probe diskProbe) require(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("storage path is empty")
	}
	anchor, err := existingAncestor(path)
	if err != nil {
		return err
	}
	kind, err := probe(anchor)
	if err != nil {
		return fmt.Errorf("probe filesystem under %q: %w", anchor, err)
	}
	if remote(kind) {
		return fmt.Errorf("%w: %q is on %q and file locks are not reliable there; move state.path and jobgraph.lock_path to local disk",
			ErrNetworkFilesystem, path, kind)
	}
	return nil
}

// existingAncestor walks up from path until it finds an entry that exists.
func existingAncestor(path string) (string, error) {
	current, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	for {
		_, statErr := os.Stat(current)
		switch {
		case statErr == nil:
			return current, nil
		case !errors.Is(statErr, os.ErrNotExist):
			return "", fmt.Errorf("inspect %q: %w", current, statErr)
		}
		up := filepath.Dir(current)
		if up == current {
			return "", fmt.Errorf("no ancestor of %q exists", path)
		}
		current = up
	}
}

func remote(kind string) bool {
	kind = strings.ToLower(strings.TrimSpace(kind))
	for _, candidate := range remoteKinds {
		if kind == candidate {
			return true
		}
	}
	return false
}
