package pager

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeddb/embeddb/internal/vfs"
)

func Test_MasterJournal_WriteAndReadChildren(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	masterPath := filepath.Join(dir, "master-mj")
	children := []string{
		filepath.Join(dir, "a.db-journal"),
		filepath.Join(dir, "b.db-journal"),
	}

	require.NoError(t, writeMasterJournal(vfs.OS, masterPath, children))

	got, err := readMasterJournalChildren(vfs.OS, masterPath)
	require.NoError(t, err)
	assert.Equal(t, children, got)
}

func Test_DeleteMasterIfUnreferenced_DeletesWhenNoChildReferencesIt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	masterPath := filepath.Join(dir, "master-mj")
	childDB := filepath.Join(dir, "a.db")

	require.NoError(t, writeMasterJournal(vfs.OS, masterPath, []string{childDB + "-journal"}))

	j, err := createJournal(vfs.OS, childDB, 16, 1, 0, "", noopCodec{})
	require.NoError(t, err)
	require.NoError(t, j.finalize(false))
	// Simulate the child having already been resolved and its journal
	// deleted, leaving only the master behind.
	require.NoError(t, j.delete())

	require.NoError(t, deleteMasterIfUnreferenced(vfs.OS, masterPath))

	exists, err := vfs.OS.Exists(masterPath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func Test_DeleteMasterIfUnreferenced_KeepsMasterWhenAChildStillPointsToIt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	masterPath := filepath.Join(dir, "master-mj")
	childDB := filepath.Join(dir, "a.db")

	require.NoError(t, writeMasterJournal(vfs.OS, masterPath, []string{childDB + "-journal"}))

	j, err := createJournal(vfs.OS, childDB, 16, 1, 0, masterPath, noopCodec{})
	require.NoError(t, err)
	require.NoError(t, j.finalize(false))
	defer j.close()

	require.NoError(t, deleteMasterIfUnreferenced(vfs.OS, masterPath))

	exists, err := vfs.OS.Exists(masterPath)
	require.NoError(t, err)
	assert.True(t, exists, "a master referenced by a live, unresolved child must survive")
}
