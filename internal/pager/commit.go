package pager

import (
	"context"
	"encoding/binary"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/embeddb/embeddb/internal/vfs"
)

// Commit finalizes the open write transaction, per spec.md §4.1 commit
// and §5's ordering guarantee: bump the change counter, sync the
// journal, flush every dirty page, sync the database file, then delete
// the journal — the atomic commit point (spec.md §8 invariant 4).
func (p *Pager) Commit(ctx context.Context) error {
	if p.errMask.poisoned() {
		return newError(p.errMask.status(), nil)
	}
	if p.state < StateReserved {
		return nil
	}
	if p.stmtActive {
		if err := p.stmtCommitLocked(); err != nil {
			return err
		}
	}

	if p.flags.memDB {
		return p.commitMemory(ctx)
	}

	if !p.flags.dirtyCache {
		return p.releaseAfterCommit(ctx)
	}

	if err := p.bumpChangeCounter(ctx); err != nil {
		return err
	}
	if err := p.journal.finalize(p.flags.fullSync); err != nil {
		return err
	}
	p.cache.markAllSynced()

	for _, f := range p.cache.dirtyPages() {
		if err := p.flushFrameData(ctx, f); err != nil {
			return err
		}
	}

	if !p.flags.noSync {
		if err := p.file.Sync(); err != nil {
			p.errMask.set(errMaskDisk)
			return newError(StatusIOErr, err)
		}
	}
	prevState := p.state
	p.state = StateSynced
	p.sink.StateChanged(prevState, p.state)

	if err := p.journal.delete(); err != nil {
		p.logger.Warn("failed to delete journal after commit", zap.Error(err))
	}
	if p.masterJournalName != "" {
		if err := deleteMasterIfUnreferenced(p.vfs, p.masterJournalName); err != nil {
			p.logger.Warn("master journal delete protocol failed", zap.Error(err))
		}
	}

	return p.releaseAfterCommit(ctx)
}

// bumpChangeCounter increments the 32-bit counter at page 1's
// ChangeCounterOffset (spec.md §3, §6), loading and journaling page 1
// first if this transaction never otherwise touched it.
func (p *Pager) bumpChangeCounter(ctx context.Context) error {
	f, ok := p.cache.lookup(1)
	if !ok {
		if err := p.ensureCapacity(ctx); err != nil {
			return err
		}
		f = p.cache.allocate(1)
		if err := p.loadPageInto(f, 1); err != nil {
			return err
		}
		p.restoreJournalFlags(f, 1)
		p.cache.unref(1)
	}
	if err := p.markWritable(f); err != nil {
		return err
	}
	counter := binary.BigEndian.Uint32(f.data[ChangeCounterOffset:])
	binary.BigEndian.PutUint32(f.data[ChangeCounterOffset:], counter+1)
	return nil
}

func (p *Pager) releaseAfterCommit(ctx context.Context) error {
	if !p.flags.memDB {
		if err := p.file.Unlock(vfs.LockShared); err != nil {
			return newError(StatusIOErr, err)
		}
	}
	p.resetTxnState()
	p.state = StateShared
	return nil
}

func (p *Pager) resetTxnState() {
	p.journal = nil
	if p.stmtJournal != nil {
		_ = p.stmtJournal.close()
		p.stmtJournal = nil
	}
	p.stmtActive = false
	p.flags.dirtyCache = false
	p.flags.journalOpen = false
	p.flags.alwaysRollback = false
	p.masterJournalName = ""
	p.origDbSize = p.dbSize
	p.inJournalBitset = nil
	p.inStmtBitset = nil
	p.journalRecordCount = 0
	p.stmtFrames = nil
	for _, f := range p.cache.all() {
		f.inJournal = false
	}
	p.memHistory = nil
	if p.flags.memDB {
		p.memHistory = make(map[PageNumber]*memHistory)
	}
}

// Rollback discards the open write transaction. From RESERVED (nothing
// ever flushed), it simply re-reads dirty pages from the file. From
// EXCLUSIVE/SYNCED (some page already flushed mid-transaction due to
// eviction), it replays the journal (spec.md §4.1 rollback, §4.4).
//
// On replay failure the journal is deliberately left in place rather
// than deleted, so a subsequent rollback attempt (or, after a restart,
// hot-journal recovery) can retry it (spec.md §9's note on the original
// implementation's FIXME: "we shouldn't delete the journal" on a failed
// rollback).
func (p *Pager) Rollback(ctx context.Context) error {
	if p.state < StateReserved {
		return nil
	}
	if p.stmtActive {
		_ = p.StmtRollback(ctx)
	}

	if p.flags.memDB {
		return p.rollbackMemory(ctx)
	}

	if p.state == StateReserved {
		if err := p.discardDirtyFromFile(); err != nil {
			return err
		}
	} else {
		if err := p.rollbackViaJournal(ctx); err != nil {
			return err
		}
	}

	if p.journal != nil {
		p.archiveJournal(ctx, p.journal.path)
		if err := p.journal.delete(); err != nil {
			p.logger.Warn("failed to delete journal after rollback", zap.Error(err))
		}
	}
	if err := p.file.Unlock(vfs.LockShared); err != nil {
		return newError(StatusIOErr, err)
	}
	p.resetTxnState()
	prevState := p.state
	p.state = StateShared
	p.sink.StateChanged(prevState, p.state)
	p.sink.Rollback()
	return nil
}

func (p *Pager) discardDirtyFromFile() error {
	for _, f := range p.cache.dirtyPages() {
		if f.pgno > PageNumber(p.origDbSize) {
			p.cache.remove(f.pgno)
			continue
		}
		buf := make([]byte, p.pageSize)
		if _, err := p.file.ReadAt(buf, int64(f.pgno-1)*int64(p.pageSize)); err != nil && !errors.Is(err, io.EOF) {
			return newError(StatusIOErr, err)
		}
		decoded, err := p.codec.Transform(buf, f.pgno, CodecDecodeDB)
		if err != nil {
			return newError(StatusCorrupt, err)
		}
		copy(f.data, decoded)
		f.dirty = false
		f.inJournal = false
		f.needsSync = false
		if p.reiniter != nil {
			p.reiniter(f)
		}
	}
	p.dbSize = p.origDbSize
	return nil
}

// rollbackViaJournal replays the in-process journal (already open on
// p.journal) directly, without re-parsing its on-disk header, since the
// authoritative record count and seed are already held in memory.
func (p *Pager) rollbackViaJournal(ctx context.Context) error {
	if err := p.file.Truncate(int64(p.origDbSize) * int64(p.pageSize)); err != nil {
		return newError(StatusIOErr, err)
	}
	for i := uint32(0); i < p.journalRecordCount; i++ {
		pgno, data, ok, err := readJournalRecord(p.journal.file, p.journal.headerSize(), p.pageSize, p.checksumSeed, i)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if pgno == 0 || pgno > PageNumber(p.origDbSize) {
			continue
		}
		decoded, err := p.journal.decodeFromJournal(pgno, data)
		if err != nil {
			return newError(StatusCorrupt, err)
		}
		if _, err := p.file.WriteAt(decoded, int64(pgno-1)*int64(p.pageSize)); err != nil {
			return newError(StatusIOErr, err)
		}
		if f, ok := p.cache.lookup(pgno); ok {
			copy(f.data, decoded)
			f.dirty = false
			f.needsSync = false
			f.inJournal = false
			if p.reiniter != nil {
				p.reiniter(f)
			}
		}
	}
	for _, f := range p.cache.all() {
		if f.pgno > PageNumber(p.origDbSize) {
			p.cache.remove(f.pgno)
		}
	}
	if err := p.file.Sync(); err != nil {
		return newError(StatusIOErr, err)
	}
	p.dbSize = p.origDbSize
	return nil
}
