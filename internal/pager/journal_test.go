package pager

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeddb/embeddb/internal/vfs"
)

func Test_JournalHeader_MarshalUnmarshalRoundTrip(t *testing.T) {
	t.Parallel()

	h := journalHeader{
		recordCount:   3,
		checksumSeed:  0xDEADBEEF,
		origPageCount: 10,
		masterName:    "/tmp/db-mj1234",
	}
	buf := h.marshal()

	got, n, err := unmarshalJournalHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, h, got)
}

func Test_JournalHeader_TamperedChecksumDetected(t *testing.T) {
	t.Parallel()

	h := journalHeader{recordCount: 1, checksumSeed: 7, origPageCount: 2}
	buf := h.marshal()
	buf[len(journalMagic)] ^= 0xFF // corrupt the record count, which the header checksum covers

	_, _, err := unmarshalJournalHeader(buf)
	require.Error(t, err)

	var perr *PagerError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StatusCorrupt, perr.Status)
}

func Test_RecordChecksum_IsSeedPlusPageNumber(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint32(105), recordChecksum(100, 5))
}

func Test_Journal_WriteReadRecordRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	j, err := createJournal(vfs.OS, dbPath, 16, 42, 3, "", noopCodec{})
	require.NoError(t, err)
	defer j.close()

	page := make([]byte, 16)
	copy(page, []byte("hello world!!!!!"))
	require.NoError(t, j.writePageBefore(2, page))

	pgno, data, ok, err := readJournalRecord(j.file, j.headerSize(), 16, 42, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 2, pgno)
	assert.Equal(t, page, data)
}

func Test_Journal_TornTailHaltsCleanly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	j, err := createJournal(vfs.OS, dbPath, 16, 42, 3, "", noopCodec{})
	require.NoError(t, err)
	defer j.close()

	require.NoError(t, j.writePageBefore(1, make([]byte, 16)))

	// Simulate a crash mid-write of the second record: truncate partway
	// through it.
	size, err := j.file.Size()
	require.NoError(t, err)
	_, err = j.file.WriteAt([]byte{9, 9, 9}, size)
	require.NoError(t, err)

	_, _, ok, err := readJournalRecord(j.file, j.headerSize(), 16, 42, 1)
	require.NoError(t, err)
	assert.False(t, ok, "a torn record must be reported as not-ok, not an error")
}

func Test_Journal_FinalizeFullSyncDoubleWritesHeader(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	j, err := createJournal(vfs.OS, dbPath, 16, 1, 0, "", noopCodec{})
	require.NoError(t, err)
	defer j.close()

	require.NoError(t, j.writePageBefore(1, make([]byte, 16)))
	require.NoError(t, j.finalize(true))

	buf := make([]byte, j.headerSize())
	_, err = j.file.ReadAt(buf, 0)
	require.NoError(t, err)

	got, _, err := unmarshalJournalHeader(buf)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.recordCount)
}

func Test_Journal_DeleteRemovesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	j, err := createJournal(vfs.OS, dbPath, 16, 1, 0, "", noopCodec{})
	require.NoError(t, err)

	exists, err := vfs.OS.Exists(dbPath + "-journal")
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, j.delete())

	exists, err = vfs.OS.Exists(dbPath + "-journal")
	require.NoError(t, err)
	assert.False(t, exists)
}

func Test_RecordCountOrDerive_UsesSentinelWhenPresent(t *testing.T) {
	t.Parallel()

	const headerSize, pageSize = 16, 16
	recSize := int64(pageRecordSize(pageSize))
	fileSize := headerSize + 2*recSize

	h := journalHeader{recordCount: sentinelRecordCount}
	n := recordCountOrDerive(h, fileSize, headerSize, pageSize)
	assert.EqualValues(t, 2, n)
}

func Test_RecordCountOrDerive_TrustsExplicitCount(t *testing.T) {
	t.Parallel()

	h := journalHeader{recordCount: 4}
	n := recordCountOrDerive(h, 1000, 20, 16)
	assert.EqualValues(t, 4, n)
}
