package vfs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_OSFile_ReadWriteTruncate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "db")
	f, err := OS.OpenReadWrite(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)

	buf := make([]byte, 5)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	size, err := f.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	require.NoError(t, f.Truncate(2))
	size, err = f.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)
}

func Test_OSFile_LockLadder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "db")
	f, err := OS.OpenReadWrite(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Lock(LockShared))
	require.NoError(t, f.Lock(LockReserved))
	require.NoError(t, f.Lock(LockPending))
	require.NoError(t, f.Lock(LockExclusive))
	require.NoError(t, f.Unlock(LockShared))
	require.NoError(t, f.Unlock(LockNone))
}

func Test_OSFile_CheckReservedLock_ConflictsAcrossHandles(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "db")
	a, err := OS.OpenReadWrite(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := OS.OpenReadWrite(path)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Lock(LockShared))
	require.NoError(t, a.Lock(LockReserved))

	held, err := b.CheckReservedLock()
	require.NoError(t, err)
	assert.True(t, held)
}

func Test_OSFile_ExclusiveBlocksNewReaders(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "db")
	a, err := OS.OpenReadWrite(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := OS.OpenReadWrite(path)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Lock(LockShared))
	require.NoError(t, a.Lock(LockReserved))
	require.NoError(t, a.Lock(LockPending))
	require.NoError(t, a.Lock(LockExclusive))

	err = b.Lock(LockShared)
	assert.ErrorIs(t, err, ErrBusy)
}

func Test_OSFile_OpenExclusiveDeleteOnClose(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stmt-journal")
	f, err := OS.OpenExclusive(path, true)
	require.NoError(t, err)

	exists, err := OS.Exists(path)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, f.Close())

	exists, err = OS.Exists(path)
	require.NoError(t, err)
	assert.False(t, exists)
}

func Test_OSVFS_TempFileNameUnique(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	db := filepath.Join(dir, "db")

	a, err := OS.TempFileName(db)
	require.NoError(t, err)
	b, err := OS.TempFileName(db)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, dir, filepath.Dir(a))
}
