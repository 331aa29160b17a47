package embeddb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeddb/embeddb/internal/pager"
)

func openTestDB(t *testing.T, connStr string) *DB {
	t.Helper()
	db, err := Open(connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(context.Background()) })
	return db
}

func Test_RecordStore_InsertFetchRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	db := openTestDB(t, filepath.Join(dir, "records.db"))

	rs, err := NewRecordStore(ctx, db, 16)
	require.NoError(t, err)

	id, err := rs.Insert(ctx, []byte("0123456789abcdef"))
	require.NoError(t, err)
	require.NoError(t, db.Commit(ctx))

	got, err := rs.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abcdef"), got)
}

func Test_RecordStore_UpdateAndDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	db := openTestDB(t, filepath.Join(dir, "records.db"))

	rs, err := NewRecordStore(ctx, db, 8)
	require.NoError(t, err)

	id, err := rs.Insert(ctx, []byte("aaaaaaaa"))
	require.NoError(t, err)
	require.NoError(t, db.Commit(ctx))

	require.NoError(t, rs.Update(ctx, id, []byte("bbbbbbbb")))
	require.NoError(t, db.Commit(ctx))

	got, err := rs.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("bbbbbbbb"), got)

	require.NoError(t, rs.Delete(ctx, id))
	require.NoError(t, db.Commit(ctx))

	_, err = rs.Fetch(ctx, id)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func Test_RecordStore_DeletedSlotIsReusedByNextInsert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	db := openTestDB(t, filepath.Join(dir, "records.db"))

	rs, err := NewRecordStore(ctx, db, 4)
	require.NoError(t, err)

	id1, err := rs.Insert(ctx, []byte("aaaa"))
	require.NoError(t, err)
	require.NoError(t, rs.Delete(ctx, id1))

	id2, err := rs.Insert(ctx, []byte("bbbb"))
	require.NoError(t, err)
	require.NoError(t, db.Commit(ctx))

	assert.Equal(t, id1, id2, "the freed slot must be reused rather than allocating a new page")
}

func Test_RecordStore_RollbackUndoesUncommittedInsert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	db := openTestDB(t, filepath.Join(dir, "records.db"))

	rs, err := NewRecordStore(ctx, db, 4)
	require.NoError(t, err)
	require.NoError(t, db.Commit(ctx))

	id, err := rs.Insert(ctx, []byte("aaaa"))
	require.NoError(t, err)
	require.NoError(t, rs.Rollback(ctx))

	_, err = rs.Fetch(ctx, id)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func Test_RecordStore_StmtRollbackUndoesOnlyStatementInserts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	db := openTestDB(t, filepath.Join(dir, "records.db"))

	rs, err := NewRecordStore(ctx, db, 4)
	require.NoError(t, err)

	committedID, err := rs.Insert(ctx, []byte("keep"))
	require.NoError(t, err)

	require.NoError(t, rs.StmtBegin(ctx))
	abortedID, err := rs.Insert(ctx, []byte("drop"))
	require.NoError(t, err)
	require.NoError(t, rs.StmtRollback(ctx))

	require.NoError(t, rs.Commit(ctx))

	_, err = rs.Fetch(ctx, committedID)
	require.NoError(t, err)

	_, err = rs.Fetch(ctx, abortedID)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func Test_RecordStore_ReopenSeesCommittedRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "records.db")

	db := openTestDB(t, path)
	rs, err := NewRecordStore(ctx, db, 5)
	require.NoError(t, err)
	id, err := rs.Insert(ctx, []byte("hello"))
	require.NoError(t, err)
	require.NoError(t, db.Commit(ctx))
	require.NoError(t, db.Close(ctx))

	db2 := openTestDB(t, path)
	rs2, err := OpenRecordStore(ctx, db2)
	require.NoError(t, err)
	got, err := rs2.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func Test_RecordStore_PeekMissesUntilPageIsResident(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "records.db")

	db := openTestDB(t, path)
	rs, err := NewRecordStore(ctx, db, 5)
	require.NoError(t, err)
	id, err := rs.Insert(ctx, []byte("hello"))
	require.NoError(t, err)
	require.NoError(t, db.Commit(ctx))
	require.NoError(t, db.Close(ctx))

	// A fresh handle has nothing cached yet: Peek must miss without
	// faulting the page in.
	db2 := openTestDB(t, path)
	rs2, err := OpenRecordStore(ctx, db2)
	require.NoError(t, err)
	_, ok := rs2.Peek(ctx, id)
	assert.False(t, ok, "Peek must not load the page from disk")

	// Once Fetch has pulled the page into the cache, Peek sees it.
	got, err := rs2.Fetch(ctx, id)
	require.NoError(t, err)
	peeked, ok := rs2.Peek(ctx, id)
	require.True(t, ok)
	assert.Equal(t, got, peeked)
}

func Test_RecordStore_UpdateWithUnchangedDataSkipsDirty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	db := openTestDB(t, filepath.Join(dir, "records.db"))

	rs, err := NewRecordStore(ctx, db, 8)
	require.NoError(t, err)

	id, err := rs.Insert(ctx, []byte("aaaaaaaa"))
	require.NoError(t, err)
	require.NoError(t, db.Commit(ctx))

	require.NoError(t, rs.Update(ctx, id, []byte("aaaaaaaa")))
	assert.False(t, db.pager.IsWritable(id.Page), "an identical Update must not leave the page dirty")

	require.NoError(t, db.Commit(ctx))
	got, err := rs.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("aaaaaaaa"), got)
}

func Test_RecordStore_ReiniterClearsHintOnRollback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	db := openTestDB(t, filepath.Join(dir, "records.db"))

	rs, err := NewRecordStore(ctx, db, 4)
	require.NoError(t, err)

	_, err = rs.Insert(ctx, []byte("aaaa"))
	require.NoError(t, err)
	require.NoError(t, db.Commit(ctx))

	id2, err := rs.Insert(ctx, []byte("bbbb"))
	require.NoError(t, err)

	f, err := db.Get(ctx, id2.Page)
	require.NoError(t, err)
	require.NotEqual(t, uint16(noHint), decodeHint(f), "writeSlot should have cached a free-slot hint")
	db.Unref(ctx, f)

	require.NoError(t, rs.Rollback(ctx))

	f, err = db.Get(ctx, id2.Page)
	require.NoError(t, err)
	defer db.Unref(ctx, f)
	assert.Equal(t, uint16(noHint), decodeHint(f), "rollback's Reiniter must invalidate the stale hint")
}

// Test_RecordStore_ReclaimedPageSurvivesRollbackUnrestored forces the
// reclaimed page out of the cache via a shrunk cache size so its
// DontRollback-hinted, never-journaled content gets flushed straight to
// the file (escalating the lock past RESERVED), then rolls back. Because
// nothing ever journaled the page's pre-reclaim bytes, the journal-replay
// rollback path can't restore them: the reclaim stamp survives. This is
// also the only path that forces the cache to evict the frame, giving
// Destructor (via invalidateHint) a genuine call site distinct from
// Reiniter's.
func Test_RecordStore_ReclaimedPageSurvivesRollbackUnrestored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	db := openTestDB(t, filepath.Join(dir, "records.db"))

	rs, err := NewRecordStore(ctx, db, 8)
	require.NoError(t, err)
	require.NoError(t, db.Commit(ctx))

	id, err := rs.Insert(ctx, []byte("aaaaaaaa"))
	require.NoError(t, err)
	require.NoError(t, db.Commit(ctx))
	require.Equal(t, pager.PageNumber(2), id.Page)

	require.NoError(t, rs.Delete(ctx, id))
	require.NoError(t, db.Commit(ctx))

	// Reopen so the page's frame is freshly allocated rather than carried
	// over from the delete transaction, leaving DontRollback as the only
	// thing that decides whether its pre-image is journaled.
	require.NoError(t, db.Close(ctx))
	db = openTestDB(t, filepath.Join(dir, "records.db"))
	rs, err = OpenRecordStore(ctx, db)
	require.NoError(t, err)

	require.NoError(t, rs.ReclaimPage(ctx, id.Page))

	// Shrink the cache so the next few allocations are forced to evict
	// the reclaimed page, flushing its stamped-but-unjournaled bytes to
	// the real file.
	db.SetCacheSize(1)
	for i := 0; i < 3; i++ {
		f, err := db.AllocatePage(ctx)
		require.NoError(t, err)
		db.Unref(ctx, f)
	}

	require.NoError(t, rs.Rollback(ctx))

	f, err := db.Get(ctx, id.Page)
	require.NoError(t, err)
	defer db.Unref(ctx, f)
	for _, b := range f.Data() {
		require.Equal(t, byte(reclaimStamp), b)
	}
}

func Test_RecordStore_FuzzedRecordsRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	db := openTestDB(t, filepath.Join(dir, "records.db"))

	const recordSize = 32
	rs, err := NewRecordStore(ctx, db, recordSize)
	require.NoError(t, err)

	faker := gofakeit.New(1)
	ids := make([]RowID, 0, 50)
	want := make(map[RowID][]byte, 50)
	for i := 0; i < 50; i++ {
		data := []byte(faker.Password(true, true, true, false, false, recordSize))
		id, err := rs.Insert(ctx, data)
		require.NoError(t, err)
		ids = append(ids, id)
		want[id] = data
	}
	require.NoError(t, db.Commit(ctx))

	for _, id := range ids {
		got, err := rs.Fetch(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want[id], got)
	}
}
