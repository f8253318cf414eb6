package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileTier classifies a config file by how strictly it is verified.
type FileTier int

const (
	// TierOperational files only tune behavior; drift is a warning.
	TierOperational FileTier = iota
	// TierHighSecurity files carry credentials; drift fails the check.
	TierHighSecurity
)

// IntegrityResult collects the outcome of VerifyIntegrity.
type IntegrityResult struct {
	Passed   bool
	Warnings []string
	Errors   []string
}

func (r *IntegrityResult) add(tier FileTier, msg string) {
	if tier == TierHighSecurity {
		r.Passed = false
		r.Errors = append(r.Errors, msg)
		return
	}
	r.Warnings = append(r.Warnings, msg)
}

// VerifyIntegrity checks every file reachable from configPath against the
// .checksums manifest in its directory.
func VerifyIntegrity(configPath string) (*IntegrityResult, error) {
	files, err := DiscoverAllConfigFiles(configPath)
	if err != nil {
		return nil, err
	}

	result := &IntegrityResult{Passed: true}
	manifests := make(map[string]*ChecksumManifest)

	for _, path := range files {
		tier, err := ClassifyFile(path)
		if err != nil {
			return nil, err
		}

		dir := filepath.Dir(path)
		manifest, seen := manifests[dir]
		if !seen {
			manifest, err = LoadChecksums(dir)
			if err != nil && !errors.Is(err, ErrNoChecksums) {
				return nil, err
			}
			manifests[dir] = manifest
		}
		if manifest == nil {
			result.add(tier, fmt.Sprintf("no %s manifest in %s for %s; run 'tourguide config lock'", ChecksumFile, dir, path))
			continue
		}

		expected, ok := manifest.Hashes[filepath.Base(path)]
		if !ok {
			result.add(tier, fmt.Sprintf("file %s not in %s manifest", path, ChecksumFile))
			continue
		}
		actual, err := ComputeBlake3Hash(path)
		if err != nil {
			result.add(tier, fmt.Sprintf("failed to hash %s: %v", path, err))
			continue
		}
		if actual != expected {
			result.add(tier, fmt.Sprintf("hash mismatch for %s (expected %s, got %s)", path, expected, actual))
		}
	}

	return result, nil
}

// ClassifyFile reports TierHighSecurity for files that set API credentials,
// worker API keys or webhook secrets.
func ClassifyFile(path string) (FileTier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TierOperational, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return TierOperational, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if partial.API.Auth.APIKey != "" || len(partial.API.Auth.Tokens) > 0 {
		return TierHighSecurity, nil
	}
	for _, w := range partial.Workers {
		if w.APIKey != "" {
			return TierHighSecurity, nil
		}
	}
	if partial.Webhooks != nil {
		for _, ep := range partial.Webhooks.Endpoints {
			if ep.Secret != "" {
				return TierHighSecurity, nil
			}
		}
	}
	return TierOperational, nil
}
