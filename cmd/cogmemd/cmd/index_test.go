package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexScanCmd_CreatesDataDirectory(t *testing.T) {
	testDir := t.TempDir()
	createTestMemoryProject(t, testDir)
	dataDir := filepath.Join(testDir, ".cogmemd-data")

	oldDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(testDir))
	defer func() { _ = os.Chdir(oldDir) }()

	t.Setenv("COGMEMD_EMBEDDER", "static")
	t.Setenv("COGMEMD_DATA_DIR", dataDir)
	t.Setenv("COGMEMD_MEMORY_ROOT", testDir)

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"index", "scan"})

	err = cmd.Execute()
	require.NoError(t, err, buf.String())

	assert.DirExists(t, dataDir)
}

func TestIndexScanCmd_ReportsCounts(t *testing.T) {
	testDir := t.TempDir()
	createTestMemoryProject(t, testDir)

	oldDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(testDir))
	defer func() { _ = os.Chdir(oldDir) }()

	t.Setenv("COGMEMD_EMBEDDER", "static")
	t.Setenv("COGMEMD_DATA_DIR", filepath.Join(testDir, ".cogmemd-data"))
	t.Setenv("COGMEMD_MEMORY_ROOT", testDir)

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"index", "scan"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "scanned")
}

func TestIndexScanCmd_ForceAndIncrementalFlags(t *testing.T) {
	cmd := newIndexScanCmd()

	forceFlag := cmd.Flags().Lookup("force")
	require.NotNil(t, forceFlag)
	assert.Equal(t, "false", forceFlag.DefValue)

	incrementalFlag := cmd.Flags().Lookup("incremental")
	require.NotNil(t, incrementalFlag)
	assert.Equal(t, "true", incrementalFlag.DefValue)
}

// createTestMemoryProject writes a minimal specs/<folder>/memory/ tree
// with one memory file, enough for a scan to find and index something.
func createTestMemoryProject(t *testing.T, root string) {
	t.Helper()
	memDir := filepath.Join(root, "specs", "demo", "memory")
	require.NoError(t, os.MkdirAll(memDir, 0755))

	content := `---
title: Example memory
spec_folder: demo
importance_tier: normal
context_type: implementation
---

This is a test memory used to exercise the index scan command.
`
	require.NoError(t, os.WriteFile(filepath.Join(memDir, "example.md"), []byte(content), 0644))
}
