package pager

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeddb/embeddb/internal/vfs"
)

func Test_StmtJournal_WriteAndReplayReverse(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	sj, err := openStmtJournal(vfs.OS, dbPath, 8)
	require.NoError(t, err)
	defer sj.close()

	first := []byte("AAAAAAAA")
	second := []byte("BBBBBBBB")
	require.NoError(t, sj.write(5, first))
	require.NoError(t, sj.write(5, second))

	var seen [][]byte
	require.NoError(t, sj.replayReverse(func(pgno PageNumber, data []byte) error {
		cp := make([]byte, len(data))
		copy(cp, data)
		seen = append(seen, cp)
		return nil
	}))

	require.Len(t, seen, 2)
	assert.Equal(t, second, seen[0], "replay must start from the most recently written record")
	assert.Equal(t, first, seen[1], "the oldest image is the correct final restoration point")
}

func Test_StmtJournal_ResetReusesFileAcrossStatements(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	sj, err := openStmtJournal(vfs.OS, dbPath, 8)
	require.NoError(t, err)
	defer sj.close()

	require.NoError(t, sj.write(1, make([]byte, 8)))
	path := sj.path

	require.NoError(t, sj.reset())
	assert.EqualValues(t, 0, sj.count)
	assert.Equal(t, path, sj.path, "reset must not reopen/rename the temp file")

	require.NoError(t, sj.write(2, make([]byte, 8)))
	pgno, _, err := sj.recordAt(0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, pgno)
}

func Test_StmtJournal_OpensWithAutoDeleteOnClose(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	sj, err := openStmtJournal(vfs.OS, dbPath, 8)
	require.NoError(t, err)

	exists, err := vfs.OS.Exists(sj.path)
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, sj.close())

	exists, err = vfs.OS.Exists(sj.path)
	require.NoError(t, err)
	assert.False(t, exists, "the statement sub-journal's temp file is unlinked when closed")
}
