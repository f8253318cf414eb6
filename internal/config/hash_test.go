package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateChecksumsDryRun(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "service:\n  name: x\n")

	report, err := GenerateChecksums([]string{path}, true)
	if err != nil {
		t.Fatalf("GenerateChecksums() failed: %v", err)
	}
	if report.Written {
		t.Fatal("report.Written = true, want false in dry-run")
	}
	if len(report.Files) != 1 || report.Files[0].Hash == "" {
		t.Fatalf("report.Files = %+v", report.Files)
	}
	if _, err := os.Stat(filepath.Join(dir, ChecksumFile)); !os.IsNotExist(err) {
		t.Fatal(".checksums should not be written in dry-run mode")
	}
}

func TestGenerateChecksumsPerDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "workers")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	a := writeConfig(t, dir, "config.yaml", "include: [workers/remote.yaml]\n")
	b := writeConfig(t, sub, "remote.yaml", "workers: {}\n")

	report, err := GenerateChecksums([]string{a, b}, false)
	if err != nil {
		t.Fatalf("GenerateChecksums() failed: %v", err)
	}
	if !report.Written || len(report.ChecksumPaths) != 2 {
		t.Fatalf("report = %+v", report)
	}

	for _, path := range []string{a, b} {
		manifest, err := LoadChecksums(filepath.Dir(path))
		if err != nil {
			t.Fatalf("LoadChecksums(%s) failed: %v", filepath.Dir(path), err)
		}
		if err := VerifyFileHash(path, manifest.Hashes[filepath.Base(path)]); err != nil {
			t.Errorf("VerifyFileHash(%s) failed: %v", path, err)
		}
	}
}

func TestLoadChecksumsMissing(t *testing.T) {
	_, err := LoadChecksums(t.TempDir())
	if !errors.Is(err, ErrNoChecksums) {
		t.Fatalf("LoadChecksums() error = %v, want ErrNoChecksums", err)
	}
}

func TestLoadRejectsTamperedConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "service:\n  name: locked\n")
	if _, err := GenerateChecksums([]string{path}, false); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load() of locked config failed: %v", err)
	}

	writeConfig(t, dir, "config.yaml", "service:\n  name: edited\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Fatalf("Load() error = %v, want hash mismatch", err)
	}
}
