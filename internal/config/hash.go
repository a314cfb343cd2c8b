package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFile is the manifest written next to the config file.
const ChecksumFile = ".checksums"

// ChecksumManifest records the BLAKE3 hash of each locked config file.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt time.Time         `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Lock writes the .checksums manifest for configPath.
func Lock(configPath string) (string, error) {
	hash, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return "", err
	}

	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC(),
		Hashes:      map[string]string{filepath.Base(configPath): hash},
	}
	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return "", fmt.Errorf("failed to marshal checksums: %w", err)
	}

	checksumPath := filepath.Join(filepath.Dir(configPath), ChecksumFile)
	if err := os.WriteFile(checksumPath, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write checksums: %w", err)
	}
	return checksumPath, nil
}

// LoadChecksums reads the manifest next to configPath. It returns nil and
// no error when there is none.
func LoadChecksums(configPath string) (*ChecksumManifest, error) {
	checksumPath := filepath.Join(filepath.Dir(configPath), ChecksumFile)

	data, err := os.ReadFile(checksumPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	return &manifest, nil
}

func verifyConfigHash(configPath string) error {
	manifest, err := LoadChecksums(configPath)
	if err != nil || manifest == nil {
		return err
	}

	name := filepath.Base(configPath)
	expected, ok := manifest.Hashes[name]
	if !ok {
		return fmt.Errorf("%s has no hash in %s (run 'steward config lock')", name, ChecksumFile)
	}
	actual, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}
	if actual != expected {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s\n"+
			"If you edited this file intentionally, run: steward config lock", name, expected, actual)
	}
	return nil
}
