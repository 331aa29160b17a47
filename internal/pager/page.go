// Package pager implements spec.md's core: the transactional page cache
// that mediates every read and write between higher layers (b-tree, VM,
// parser — all out of scope here, per spec.md §1) and the file system.
//
// The five components of spec.md §2 map onto this package as:
//  1. OS interface        -> internal/vfs
//  2. Frame buffer / page -> page.go (this file)
//  3. Cache index         -> cache.go
//  4. Journal manager     -> journal.go, stmtjournal.go, master.go
//  5. Pager state machine -> pager.go, state.go
package pager

import "fmt"

// PageNumber is a 1-based page number (spec.md §3: "addressed by a
// 32-bit page number >= 1"). Page number 0 is reserved as the journal
// replay terminator (spec.md §3, §4.4 step 6) and never addresses a real
// page.
type PageNumber uint32

// DefaultPageSize is spec.md §3's default fixed page payload size.
const DefaultPageSize = 1024

// ChangeCounterOffset is the byte offset within page 1 of the 32-bit
// big-endian change counter (spec.md §3, §6).
const ChangeCounterOffset = 24

// pendingByteOffset is the legacy reserved byte offset carried over from
// original_source/src/pager.c (SQLite's PENDING_BYTE), used to compute the
// page number that Pager.AllocatePage must skip over (SPEC_FULL.md §13).
const pendingByteOffset = 0x40000000

// pendingBytePageFor returns the page number that must never be allocated
// as a real data page for the given page size.
func pendingBytePageFor(pageSize int) PageNumber {
	return PageNumber(pendingByteOffset/pageSize) + 1
}

// Frame is the cached page frame of spec.md §3: "owned by the pager;
// holds {pgno, data[page_size], dirty, in_journal, in_stmt, needs_sync,
// always_rollback, ref_count}".
type Frame struct {
	pgno PageNumber
	data []byte

	dirty          bool
	inJournal      bool
	inStmt         bool
	needsSync      bool
	alwaysRollback bool
	refCount       int32

	// extra is higher-layer scratch space associated with the frame
	// (spec.md §6: "page data pointer + extra bytes"), allocated once per
	// frame and handed back unchanged across reuse until Reiniter runs.
	extra []byte
}

// PageNumber returns the frame's page number.
func (f *Frame) PageNumber() PageNumber { return f.pgno }

// Data returns the frame's page payload. Callers must not retain the
// slice past the next pager call that could evict or reuse the frame;
// copy out if longer retention is needed.
func (f *Frame) Data() []byte { return f.data }

// Extra returns the higher-layer extra bytes associated with the frame.
func (f *Frame) Extra() []byte { return f.extra }

// RefCount returns the frame's current reference count.
func (f *Frame) RefCount() int32 { return f.refCount }

// Dirty reports whether the frame has unflushed writes.
func (f *Frame) Dirty() bool { return f.dirty }

func newFrame(pgno PageNumber, pageSize, extraSize int) *Frame {
	return &Frame{
		pgno:  pgno,
		data:  make([]byte, pageSize),
		extra: make([]byte, extraSize),
	}
}

func (f *Frame) reset(pgno PageNumber) {
	f.pgno = pgno
	for i := range f.data {
		f.data[i] = 0
	}
	f.dirty = false
	f.inJournal = false
	f.inStmt = false
	f.needsSync = false
	f.alwaysRollback = false
	f.refCount = 0
}

func (f *Frame) String() string {
	return fmt.Sprintf("frame{pgno=%d dirty=%v inJournal=%v inStmt=%v needsSync=%v ref=%d}",
		f.pgno, f.dirty, f.inJournal, f.inStmt, f.needsSync, f.refCount)
}
