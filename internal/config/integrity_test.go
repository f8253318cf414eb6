package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyIntegrity(t *testing.T) {
	t.Run("no manifest warns for operational files", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "config.yaml", "service:\n  name: x\n")

		res, err := VerifyIntegrity(path)
		require.NoError(t, err)
		assert.True(t, res.Passed)
		assert.Len(t, res.Warnings, 1)
		assert.Empty(t, res.Errors)
	})

	t.Run("no manifest fails for credentials", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "config.yaml", "api:\n  auth:\n    api_key: admin\n")

		res, err := VerifyIntegrity(path)
		require.NoError(t, err)
		assert.False(t, res.Passed)
		require.Len(t, res.Errors, 1)
		assert.Contains(t, res.Errors[0], "config lock")
	})

	t.Run("locked files pass", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "secrets.yaml", "api:\n  auth:\n    api_key: admin\n")
		root := writeConfig(t, dir, "config.yaml", "include: [secrets.yaml]\n")
		files, err := DiscoverAllConfigFiles(root)
		require.NoError(t, err)
		_, err = GenerateChecksums(files, false)
		require.NoError(t, err)

		res, err := VerifyIntegrity(root)
		require.NoError(t, err)
		assert.True(t, res.Passed)
		assert.Empty(t, res.Warnings)
	})

	t.Run("drift in credentials fails, drift elsewhere warns", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "secrets.yaml", "api:\n  auth:\n    api_key: admin\n")
		root := writeConfig(t, dir, "config.yaml", "include: [secrets.yaml]\n")
		files, err := DiscoverAllConfigFiles(root)
		require.NoError(t, err)
		_, err = GenerateChecksums(files, false)
		require.NoError(t, err)

		writeConfig(t, dir, "config.yaml", "include: [secrets.yaml]\nservice:\n  log_level: debug\n")
		res, err := VerifyIntegrity(root)
		require.NoError(t, err)
		assert.True(t, res.Passed)
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0], "hash mismatch")

		writeConfig(t, dir, "secrets.yaml", "api:\n  auth:\n    api_key: stolen\n")
		res, err = VerifyIntegrity(root)
		require.NoError(t, err)
		assert.False(t, res.Passed)
		assert.Len(t, res.Errors, 1)
	})
}

func TestClassifyFile(t *testing.T) {
	dir := t.TempDir()
	ops := writeConfig(t, dir, "tempo.yaml", "tempo:\n  mode: manual\n")
	keyed := writeConfig(t, dir, "workers.yaml", "workers:\n  wiki:\n    kind: http\n    api_key: k\n")

	tier, err := ClassifyFile(ops)
	require.NoError(t, err)
	assert.Equal(t, TierOperational, tier)

	tier, err = ClassifyFile(keyed)
	require.NoError(t, err)
	assert.Equal(t, TierHighSecurity, tier)
}
