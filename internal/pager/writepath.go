package pager

import (
	"context"
	"errors"
	"io"

	"github.com/embeddb/embeddb/internal/vfs"
	"github.com/embeddb/embeddb/pkg/bitwise"
)

// Write marks f dirty, opening a write transaction (RESERVED) first if
// one isn't already open, and journals f's pre-image exactly once per
// transaction (spec.md §4.1 "mark_writable", §4.3 step 1).
func (p *Pager) Write(ctx context.Context, f *Frame) error {
	if p.errMask.poisoned() {
		return newError(p.errMask.status(), nil)
	}
	if p.flags.readOnly {
		return newError(StatusReadOnly, nil)
	}
	if p.state < StateReserved {
		if err := p.beginWrite(ctx); err != nil {
			return err
		}
	}
	return p.markWritable(f)
}

// beginWrite escalates SHARED -> RESERVED, freezes the transaction's
// starting page count, and opens the rollback journal (spec.md §4.1).
func (p *Pager) beginWrite(ctx context.Context) error {
	if p.flags.memDB {
		p.origDbSize = p.dbSize
		p.journalRecordCount = 0
		p.inJournalBitset = bitwise.NewBitset(p.dbSize + 1)
		prev := p.state
		p.state = StateReserved
		p.sink.StateChanged(prev, p.state)
		return nil
	}

	if err := p.lockWithRetry(ctx, vfs.LockReserved); err != nil {
		return err
	}
	p.origDbSize = p.dbSize

	seed, err := p.nextChecksumSeed()
	if err != nil {
		return err
	}
	p.checksumSeed = seed

	j, err := createJournal(p.vfs, p.path, p.pageSize, seed, p.origDbSize, p.masterJournalName, p.codec)
	if err != nil {
		p.errMask.set(errMaskDisk)
		return err
	}
	if p.flags.noSync {
		// Nothing rewrites the header count before a page can be flushed,
		// so hot-journal recovery derives the count from the file size.
		j.header.recordCount = sentinelRecordCount
		if err := j.writeHeader(); err != nil {
			p.errMask.set(errMaskDisk)
			return err
		}
	}
	p.journal = j
	p.journalRecordCount = 0
	p.inJournalBitset = bitwise.NewBitset(p.origDbSize + 1)
	p.flags.journalOpen = true
	prev := p.state
	p.state = StateReserved
	p.sink.StateChanged(prev, p.state)
	return nil
}

func (p *Pager) nextChecksumSeed() (uint32, error) {
	var buf [4]byte
	if err := p.vfs.Randomness(buf[:]); err != nil {
		return 0, newError(StatusIOErr, err)
	}
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3]), nil
}

// markWritable is the pre-image journaling and dirty-marking half of
// Write, reused internally (e.g. by the commit change-counter bump)
// where the RESERVED escalation has already happened.
func (p *Pager) markWritable(f *Frame) error {
	pgno := f.pgno

	if p.flags.memDB {
		if _, ok := p.memHistory[pgno]; !ok && (!f.alwaysRollback || p.flags.alwaysRollback) {
			orig := make([]byte, len(f.data))
			copy(orig, f.data)
			p.memHistory[pgno] = &memHistory{orig: orig}
		}
		f.inJournal = true
	} else if !f.inJournal && pgno <= PageNumber(p.origDbSize) && (!f.alwaysRollback || p.flags.alwaysRollback) {
		if err := p.journal.writePageBefore(pgno, f.data); err != nil {
			p.errMask.set(errMaskDisk)
			return err
		}
		p.inJournalBitset.Set(uint32(pgno))
		f.inJournal = true
		if !p.flags.noSync {
			f.needsSync = true
		}
		p.journalRecordCount++
	} else if pgno > PageNumber(p.origDbSize) && !p.flags.noSync {
		f.needsSync = true
	}

	if p.stmtActive && !f.inStmt && pgno <= PageNumber(p.stmtSize) {
		if p.flags.memDB {
			if h, ok := p.memHistory[pgno]; ok && h.stmt == nil {
				stmt := make([]byte, len(f.data))
				copy(stmt, f.data)
				h.stmt = stmt
			}
		} else if err := p.stmtJournal.write(pgno, f.data); err != nil {
			return err
		}
		p.inStmtBitset.Set(uint32(pgno))
		f.inStmt = true
		p.stmtFrames = append(p.stmtFrames, pgno)
	}

	f.dirty = true
	p.flags.dirtyCache = true
	return nil
}

// DontWrite hints that f's dirty content need not be flushed at commit
// (spec.md §6): used by a higher layer that decided a page it marked
// writable turned out not to need the change after all.
func (p *Pager) DontWrite(pgno PageNumber) {
	if f, ok := p.cache.lookup(pgno); ok {
		f.dirty = false
	}
}

// DontRollback hints that f's pre-image need not be journaled (spec.md
// §6): used for pages being handed out wholesale (e.g. a freed page
// reused for new content) whose prior bytes nobody needs back. The hint
// is ignored once the pager-wide always_rollback sticky flag has been
// set by a conflicting eviction (spec.md §4.2 step 4).
func (p *Pager) DontRollback(f *Frame) {
	if p.flags.alwaysRollback {
		return
	}
	f.alwaysRollback = true
}

// AllocatePage grows the logical database by one page and returns it
// already marked writable (SPEC_FULL.md §13's supplemented
// sqlite3PagerGetPage-for-a-new-page / sqlite3pager_allocate feature).
// The pending-byte page number is skipped automatically.
func (p *Pager) AllocatePage(ctx context.Context) (*Frame, error) {
	if p.errMask.poisoned() {
		return nil, newError(p.errMask.status(), nil)
	}
	if p.state < StateReserved {
		if err := p.beginWrite(ctx); err != nil {
			return nil, err
		}
	}

	next := PageNumber(p.dbSize) + 1
	if next == p.pendingBytePage {
		next++
	}

	if err := p.ensureCapacity(ctx); err != nil {
		return nil, err
	}
	f := p.cache.allocate(next)
	p.dbSize = uint32(next)
	if err := p.markWritable(f); err != nil {
		return nil, err
	}
	p.refTotal++
	return f, nil
}

// Truncate shrinks the logical database to newCount pages, journaling
// the pre-truncation tail so a rollback restores it (spec.md §6's
// truncate, with SPEC_FULL.md §13's journaled tail).
func (p *Pager) Truncate(ctx context.Context, newCount PageNumber) error {
	if p.errMask.poisoned() {
		return newError(p.errMask.status(), nil)
	}
	if newCount >= PageNumber(p.dbSize) {
		return nil
	}
	if p.state < StateReserved {
		if err := p.beginWrite(ctx); err != nil {
			return err
		}
	}

	for pgno := newCount + 1; pgno <= PageNumber(p.dbSize); pgno++ {
		if pgno <= PageNumber(p.origDbSize) && !p.inJournalBitset.IsSet(uint32(pgno)) {
			if err := p.journalTailPage(pgno); err != nil {
				return err
			}
		}
		p.cache.remove(pgno)
		delete(p.memHistory, pgno)
	}

	p.dbSize = uint32(newCount)
	p.flags.dirtyCache = true

	if p.flags.memDB {
		return nil
	}
	// Sync the journaled tail and take EXCLUSIVE before shrinking the file.
	if err := p.forceSync(ctx); err != nil {
		return err
	}
	if p.state < StateExclusive {
		for _, lvl := range []vfs.LockLevel{vfs.LockPending, vfs.LockExclusive} {
			if err := p.lockWithRetry(ctx, lvl); err != nil {
				return err
			}
		}
		prev := p.state
		p.state = StateExclusive
		p.sink.StateChanged(prev, p.state)
	}
	if err := p.file.Truncate(int64(newCount) * int64(p.pageSize)); err != nil {
		return newError(StatusIOErr, err)
	}
	return nil
}

func (p *Pager) journalTailPage(pgno PageNumber) error {
	buf := make([]byte, p.pageSize)
	if _, err := p.file.ReadAt(buf, int64(pgno-1)*int64(p.pageSize)); err != nil && !errors.Is(err, io.EOF) {
		return newError(StatusIOErr, err)
	}
	if err := p.journal.writePageBefore(pgno, buf); err != nil {
		p.errMask.set(errMaskDisk)
		return err
	}
	p.inJournalBitset.Set(uint32(pgno))
	p.journalRecordCount++
	return nil
}
