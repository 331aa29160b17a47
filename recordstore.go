package embeddb

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/embeddb/embeddb/internal/pager"
)

// RecordStore is a minimal fixed-width slotted record store. It is
// deliberately not a b-tree and not a SQL engine: no balancing, no
// indexing, no query language. It exists to give the pager a realistic
// external collaborator — one that allocates pages, journals writes,
// and opens/closes nested statement transactions — for end-to-end
// tests that exercise the pager from outside its own package.
//
// Page 1 holds a small header (magic, record size). Every other page
// is a flat array of fixed-size slots, each prefixed with a one-byte
// occupied flag. A RowID packs the page number and slot index.
type RecordStore struct {
	db           *DB
	recordSize   int
	slotStride   int // 1 (occupied flag) + recordSize
	slotsPerPage int
}

// RowID addresses a single record: the page it lives on and its slot
// within that page.
type RowID struct {
	Page pager.PageNumber
	Slot uint16
}

const recordStoreMagic = "RSv1"

var (
	// ErrRecordNotFound is returned by Fetch/Update/Delete for a RowID
	// whose slot is empty.
	ErrRecordNotFound = errors.New("embeddb: record not found")
	// ErrRecordTooLarge is returned by NewRecordStore when recordSize
	// can't fit even one slot on a page.
	ErrRecordTooLarge = errors.New("embeddb: record size too large for page")
)

const dataPageHeaderSize = 2 // live-slot count, uint16

// recordStoreExtraBytes is how much of Frame.Extra the record store
// reserves for its free-slot search hint (see decodeHint/encodeHint).
// DB.Open must configure the pager with at least this many extra bytes
// per frame before any RecordStore is constructed on it.
const recordStoreExtraBytes = 2

// noHint marks a frame's free-slot hint as unknown, forcing the next
// firstFreeSlot call on that page to scan from the start.
const noHint = 0xFFFF

// reclaimStamp fills a page reclaimed by ReclaimPage: its prior bytes
// have no remaining live records and are not worth restoring.
const reclaimStamp = 0xAB

// decodeHint reads the cached "first slot worth probing" index a
// prior firstFreeSlot call left in f's scratch space.
func decodeHint(f *pager.Frame) uint16 {
	e := f.Extra()
	if len(e) < recordStoreExtraBytes {
		return noHint
	}
	return binary.BigEndian.Uint16(e)
}

func encodeHint(f *pager.Frame, hint uint16) {
	e := f.Extra()
	if len(e) < recordStoreExtraBytes {
		return
	}
	binary.BigEndian.PutUint16(e, hint)
}

// invalidateHint is installed as both the pager's Reiniter (fired when
// rollback overwrites a frame's data out from under whatever scratch
// state was cached about it) and its Destructor (fired when a frame is
// evicted and its scratch space is about to be handed to a different
// page): either way the cached free-slot hint no longer describes the
// page now sitting in f.
func invalidateHint(f *pager.Frame) {
	encodeHint(f, noHint)
}

// NewRecordStore initializes a fresh record store of the given fixed
// record size on db, writing the header to page 1. db must be empty
// (page count 0 or 1 with no prior header).
func NewRecordStore(ctx context.Context, db *DB, recordSize int) (*RecordStore, error) {
	slotStride := 1 + recordSize
	slotsPerPage := (db.PageSize() - dataPageHeaderSize) / slotStride
	if slotsPerPage <= 0 {
		return nil, ErrRecordTooLarge
	}

	rs := &RecordStore{
		db:           db,
		recordSize:   recordSize,
		slotStride:   slotStride,
		slotsPerPage: slotsPerPage,
	}
	db.pager.SetReiniter(invalidateHint)
	db.pager.SetDestructor(invalidateHint)

	var f *pager.Frame
	var err error
	if db.PageCount() == 0 {
		f, err = db.AllocatePage(ctx)
	} else {
		f, err = db.Get(ctx, 1)
	}
	if err != nil {
		return nil, err
	}
	defer db.Unref(ctx, f)

	if err := db.Write(ctx, f); err != nil {
		return nil, err
	}
	copy(f.Data(), recordStoreMagic)
	binary.BigEndian.PutUint32(f.Data()[4:], uint32(recordSize))

	return rs, nil
}

// OpenRecordStore reopens a record store previously created with
// NewRecordStore, validating the header on page 1.
func OpenRecordStore(ctx context.Context, db *DB) (*RecordStore, error) {
	f, err := db.Get(ctx, 1)
	if err != nil {
		return nil, err
	}
	defer db.Unref(ctx, f)

	if string(f.Data()[:4]) != recordStoreMagic {
		return nil, fmt.Errorf("embeddb: page 1 is not a record store header")
	}
	recordSize := int(binary.BigEndian.Uint32(f.Data()[4:]))
	slotStride := 1 + recordSize
	slotsPerPage := (db.PageSize() - dataPageHeaderSize) / slotStride
	if slotsPerPage <= 0 {
		return nil, ErrRecordTooLarge
	}

	db.pager.SetReiniter(invalidateHint)
	db.pager.SetDestructor(invalidateHint)

	return &RecordStore{
		db:           db,
		recordSize:   recordSize,
		slotStride:   slotStride,
		slotsPerPage: slotsPerPage,
	}, nil
}

func (rs *RecordStore) slotOffset(slot uint16) int {
	return dataPageHeaderSize + int(slot)*rs.slotStride
}

func (rs *RecordStore) liveCount(f *pager.Frame) uint16 {
	return binary.BigEndian.Uint16(f.Data()[:2])
}

func (rs *RecordStore) setLiveCount(f *pager.Frame, n uint16) {
	binary.BigEndian.PutUint16(f.Data()[:2], n)
}

// Insert writes data (which must be exactly RecordSize bytes) into the
// first free slot of an existing data page, allocating a new page if
// none has room. It opens a write transaction if one isn't already
// open (DB.Write begins it).
func (rs *RecordStore) Insert(ctx context.Context, data []byte) (RowID, error) {
	if len(data) != rs.recordSize {
		return RowID{}, fmt.Errorf("embeddb: record is %d bytes, want %d", len(data), rs.recordSize)
	}

	pageCount := rs.db.PageCount()
	for pgno := pager.PageNumber(2); pgno <= pager.PageNumber(pageCount); pgno++ {
		f, err := rs.db.Get(ctx, pgno)
		if err != nil {
			return RowID{}, err
		}
		if slot, ok := rs.firstFreeSlot(f); ok {
			if err := rs.writeSlot(ctx, f, slot, data); err != nil {
				rs.db.Unref(ctx, f)
				return RowID{}, err
			}
			rs.db.Unref(ctx, f)
			return RowID{Page: pgno, Slot: slot}, nil
		}
		rs.db.Unref(ctx, f)
	}

	f, err := rs.db.AllocatePage(ctx)
	if err != nil {
		return RowID{}, err
	}
	defer rs.db.Unref(ctx, f)
	if err := rs.writeSlot(ctx, f, 0, data); err != nil {
		return RowID{}, err
	}
	return RowID{Page: f.PageNumber(), Slot: 0}, nil
}

// firstFreeSlot starts its scan at f's cached hint rather than slot 0,
// so a page whose first N slots are known occupied doesn't pay for
// probing them again on every subsequent Insert. A page found full has
// its hint reset to noHint, so the next Insert scans it from slot 0.
func (rs *RecordStore) firstFreeSlot(f *pager.Frame) (uint16, bool) {
	start := decodeHint(f)
	if start == noHint || int(start) >= rs.slotsPerPage {
		start = 0
	}
	for slot := start; int(slot) < rs.slotsPerPage; slot++ {
		off := rs.slotOffset(slot)
		if f.Data()[off] == 0 {
			return slot, true
		}
	}
	encodeHint(f, noHint)
	return 0, false
}

func (rs *RecordStore) writeSlot(ctx context.Context, f *pager.Frame, slot uint16, data []byte) error {
	if err := rs.db.Write(ctx, f); err != nil {
		return err
	}
	off := rs.slotOffset(slot)
	wasFree := f.Data()[off] == 0
	f.Data()[off] = 1
	copy(f.Data()[off+1:off+1+rs.recordSize], data)
	if wasFree {
		rs.setLiveCount(f, rs.liveCount(f)+1)
	}
	encodeHint(f, slot+1)
	return nil
}

// Fetch reads the record at id. The returned slice is a copy; it is
// safe to hold onto after the frame it came from is evicted.
func (rs *RecordStore) Fetch(ctx context.Context, id RowID) ([]byte, error) {
	if id.Page < 2 || uint32(id.Page) > rs.db.PageCount() {
		return nil, ErrRecordNotFound
	}
	f, err := rs.db.Get(ctx, id.Page)
	if err != nil {
		return nil, err
	}
	defer rs.db.Unref(ctx, f)

	off := rs.slotOffset(id.Slot)
	if off+rs.slotStride > len(f.Data()) || f.Data()[off] == 0 {
		return nil, ErrRecordNotFound
	}
	out := make([]byte, rs.recordSize)
	copy(out, f.Data()[off+1:off+1+rs.recordSize])
	return out, nil
}

// Update overwrites the record at id in place.
func (rs *RecordStore) Update(ctx context.Context, id RowID, data []byte) error {
	if len(data) != rs.recordSize {
		return fmt.Errorf("embeddb: record is %d bytes, want %d", len(data), rs.recordSize)
	}
	if id.Page < 2 || uint32(id.Page) > rs.db.PageCount() {
		return ErrRecordNotFound
	}
	f, err := rs.db.Get(ctx, id.Page)
	if err != nil {
		return err
	}
	defer rs.db.Unref(ctx, f)

	off := rs.slotOffset(id.Slot)
	if off+rs.slotStride > len(f.Data()) || f.Data()[off] == 0 {
		return ErrRecordNotFound
	}
	if err := rs.db.Write(ctx, f); err != nil {
		return err
	}
	existing := f.Data()[off+1 : off+1+rs.recordSize]
	if bytes.Equal(existing, data) {
		// Nothing actually changed: release the dirty flag Write just
		// set rather than carry a no-op page into the next commit.
		rs.db.DontWrite(id.Page)
		return nil
	}
	copy(existing, data)
	return nil
}

// Peek reads the record at id only if its page is already resident in
// the cache, without faulting it in from disk. Lookup alone doesn't pin
// the frame, so Ref/Unref bracket the read the same way Get/Unref would.
// Useful for a caller sweeping many ids where most are expected to miss
// the cache and a full Get's I/O would be wasted.
func (rs *RecordStore) Peek(ctx context.Context, id RowID) ([]byte, bool) {
	f, ok := rs.db.Lookup(id.Page)
	if !ok {
		return nil, false
	}
	rs.db.Ref(f)
	defer rs.db.Unref(ctx, f)

	off := rs.slotOffset(id.Slot)
	if off+rs.slotStride > len(f.Data()) || f.Data()[off] == 0 {
		return nil, false
	}
	out := make([]byte, rs.recordSize)
	copy(out, f.Data()[off+1:off+1+rs.recordSize])
	return out, true
}

// ReclaimPage stamps an emptied data page as scratch space for a
// caller-defined future use, opting the page out of rollback
// protection via Pager.DontRollback: once every record on it has been
// deleted, its current bytes are worthless, and there is nothing on it
// left worth restoring if the enclosing transaction rolls back. pgno
// must have zero live records (see Delete). The stamped page is not
// slot-addressable again until something clears it back to zero.
func (rs *RecordStore) ReclaimPage(ctx context.Context, pgno pager.PageNumber) error {
	f, err := rs.db.Get(ctx, pgno)
	if err != nil {
		return err
	}
	defer rs.db.Unref(ctx, f)

	if rs.liveCount(f) != 0 {
		return fmt.Errorf("embeddb: page %d still has live records", pgno)
	}
	rs.db.DontRollback(f)
	if err := rs.db.Write(ctx, f); err != nil {
		return err
	}
	for i := range f.Data() {
		f.Data()[i] = reclaimStamp
	}
	encodeHint(f, noHint)
	return nil
}

// Delete clears the slot at id, making it available for reuse by a
// later Insert.
func (rs *RecordStore) Delete(ctx context.Context, id RowID) error {
	if id.Page < 2 || uint32(id.Page) > rs.db.PageCount() {
		return ErrRecordNotFound
	}
	f, err := rs.db.Get(ctx, id.Page)
	if err != nil {
		return err
	}
	defer rs.db.Unref(ctx, f)

	off := rs.slotOffset(id.Slot)
	if off+rs.slotStride > len(f.Data()) || f.Data()[off] == 0 {
		return ErrRecordNotFound
	}
	if err := rs.db.Write(ctx, f); err != nil {
		return err
	}
	f.Data()[off] = 0
	for i := 0; i < rs.recordSize; i++ {
		f.Data()[off+1+i] = 0
	}
	rs.setLiveCount(f, rs.liveCount(f)-1)
	if h := decodeHint(f); h == noHint || id.Slot < h {
		encodeHint(f, id.Slot)
	}
	return nil
}

// Commit finalizes the open write transaction.
func (rs *RecordStore) Commit(ctx context.Context) error { return rs.db.Commit(ctx) }

// Rollback discards the open write transaction.
func (rs *RecordStore) Rollback(ctx context.Context) error { return rs.db.Rollback(ctx) }

// StmtBegin opens a nested statement sub-transaction, letting a caller
// undo a single logical operation (e.g. a multi-record batch insert)
// without discarding the whole transaction.
func (rs *RecordStore) StmtBegin(ctx context.Context) error { return rs.db.StmtBegin(ctx) }

// StmtCommit folds the open statement's changes into the enclosing
// transaction.
func (rs *RecordStore) StmtCommit(ctx context.Context) error { return rs.db.StmtCommit(ctx) }

// StmtRollback undoes only the changes made since the matching
// StmtBegin.
func (rs *RecordStore) StmtRollback(ctx context.Context) error { return rs.db.StmtRollback(ctx) }
