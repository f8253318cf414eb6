package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFile is the manifest name written next to config files.
const ChecksumFile = ".checksums"

// ErrNoChecksums is returned by LoadChecksums when a directory has no manifest.
var ErrNoChecksums = errors.New("checksums file not found (run 'tourguide config lock')")

// ChecksumManifest maps config file basenames to BLAKE3 hashes.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// HashUpdateFileResult captures checksum generation outcome for one file.
type HashUpdateFileResult struct {
	Path string
	Hash string
}

// HashUpdateReport captures checksum generation details.
type HashUpdateReport struct {
	ChecksumPaths []string
	Written       bool
	Files         []HashUpdateFileResult
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

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}

	return nil
}

// GenerateChecksums hashes every file and writes one .checksums manifest per
// directory. When dryRun is true nothing is written.
func GenerateChecksums(files []string, dryRun bool) (*HashUpdateReport, error) {
	report := &HashUpdateReport{Files: make([]HashUpdateFileResult, 0, len(files))}
	manifests := make(map[string]*ChecksumManifest)
	generatedAt := time.Now().UTC().Format(time.RFC3339)

	for _, path := range files {
		hash, err := ComputeBlake3Hash(path)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", path, err)
		}

		dir := filepath.Dir(path)
		m, ok := manifests[dir]
		if !ok {
			m = &ChecksumManifest{Version: 1, GeneratedAt: generatedAt, Hashes: make(map[string]string)}
			manifests[dir] = m
		}
		m.Hashes[filepath.Base(path)] = hash
		report.Files = append(report.Files, HashUpdateFileResult{Path: path, Hash: hash})
	}

	dirs := make([]string, 0, len(manifests))
	for dir := range manifests {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	for _, dir := range dirs {
		report.ChecksumPaths = append(report.ChecksumPaths, filepath.Join(dir, ChecksumFile))
	}

	if dryRun {
		return report, nil
	}

	for _, dir := range dirs {
		data, err := yaml.Marshal(manifests[dir])
		if err != nil {
			return nil, fmt.Errorf("failed to marshal checksums: %w", err)
		}
		// Restrictive permissions: the manifest pins expected hashes.
		if err := os.WriteFile(filepath.Join(dir, ChecksumFile), data, 0600); err != nil {
			return nil, fmt.Errorf("failed to write checksums: %w", err)
		}
	}
	report.Written = true

	return report, nil
}

// LoadChecksums reads the .checksums file from a config directory.
func LoadChecksums(configDir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(configDir, ChecksumFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoChecksums
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
