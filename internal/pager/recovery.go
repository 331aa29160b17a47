package pager

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/embeddb/embeddb/internal/vfs"
)

// JournalArchiver receives a replayed or rolled-back journal's raw bytes
// just before the pager deletes it, for callers that want a compressed
// forensics trail of crash recovery (SPEC_FULL.md §13). Archive errors
// are logged and otherwise ignored: archival is never allowed to block
// the deletion it is observing.
type JournalArchiver interface {
	Archive(ctx context.Context, journalPath string, data []byte) error
}

// archiveJournal best-effort reads path and hands it to the configured
// archiver, if any. Called right before a journal is deleted, both on
// the hot-journal recovery path and on ordinary rollback.
func (p *Pager) archiveJournal(ctx context.Context, path string) {
	if p.archiver == nil {
		return
	}
	f, err := p.vfs.OpenReadOnly(path)
	if err != nil {
		return
	}
	defer f.Close()
	size, err := f.Size()
	if err != nil {
		return
	}
	data := make([]byte, size)
	if _, err := f.ReadAt(data, 0); err != nil && !errors.Is(err, io.EOF) {
		return
	}
	if err := p.archiver.Archive(ctx, path, data); err != nil {
		p.logger.Warn("journal archival failed", zap.Error(err))
	}
}

// ensureShared climbs UNLOCK -> SHARED, detecting and replaying a hot
// journal left behind by a crashed writer along the way (spec.md §4.1:
// "acquire(page) from UNLOCK ... if a hot journal is detected ...
// escalates to EXCLUSIVE ... replays it ... deletes it, drops back to
// SHARED").
func (p *Pager) ensureShared(ctx context.Context) error {
	if p.state != StateUnlock {
		return nil
	}
	if p.flags.memDB {
		p.state = StateShared
		return nil
	}

	if err := p.lockWithRetry(ctx, vfs.LockShared); err != nil {
		return err
	}

	hot, err := p.isHotJournal()
	if err != nil {
		return err
	}
	if hot {
		if err := p.recoverHotJournal(ctx); err != nil {
			return err
		}
	}

	size, err := p.file.Size()
	if err != nil {
		return newError(StatusIOErr, err)
	}
	p.dbSize = uint32(size / int64(p.pageSize))
	p.origDbSize = p.dbSize
	p.state = StateShared
	return nil
}

func (p *Pager) isHotJournal() (bool, error) {
	exists, err := p.vfs.Exists(p.journalPath())
	if err != nil || !exists {
		return false, err
	}
	reserved, err := p.file.CheckReservedLock()
	if err != nil {
		return false, newError(StatusIOErr, err)
	}
	return !reserved, nil
}

// recoverHotJournal implements spec.md §4.4's replay protocol against a
// journal nobody is actively writing, escalating the lock just long
// enough to do it safely.
func (p *Pager) recoverHotJournal(ctx context.Context) error {
	if err := p.lockWithRetry(ctx, vfs.LockReserved); err != nil {
		return err
	}
	if err := p.lockWithRetry(ctx, vfs.LockPending); err != nil {
		return err
	}
	if err := p.lockWithRetry(ctx, vfs.LockExclusive); err != nil {
		return err
	}

	jf, err := p.vfs.OpenReadOnly(p.journalPath())
	if err != nil {
		return newError(StatusCantOpen, err)
	}
	defer jf.Close()

	if err := p.applyJournal(ctx, jf); err != nil {
		return err
	}
	jf.Close()

	p.archiveJournal(ctx, p.journalPath())
	if err := p.vfs.Delete(p.journalPath()); err != nil {
		p.logger.Warn("failed to delete replayed hot journal", zap.Error(err))
	}

	return p.file.Unlock(vfs.LockShared)
}

// applyJournal replays a fully-written journal file (spec.md §4.4 steps
// 1-7, 9): validate header, truncate the db back to the frozen page
// count, write each intact record back to the db file and resync the
// cache, halting cleanly at the first torn or unreadable record.
func (p *Pager) applyJournal(ctx context.Context, jf vfs.File) error {
	size, err := jf.Size()
	if err != nil {
		return newError(StatusIOErr, err)
	}
	hdrBound := size
	if hdrBound > journalHeaderChecksumSizeBound {
		hdrBound = journalHeaderChecksumSizeBound
	}
	hdrBuf := make([]byte, hdrBound)
	if _, err := jf.ReadAt(hdrBuf, 0); err != nil && !errors.Is(err, io.EOF) {
		return newError(StatusIOErr, err)
	}
	h, hdrLen, err := unmarshalJournalHeader(hdrBuf)
	if err != nil {
		// An unreadable header means nothing in this journal can be
		// trusted; step 1 of spec.md §4.4 fails stop.
		return err
	}

	if h.masterName != "" {
		exists, err := p.vfs.Exists(h.masterName)
		if err != nil {
			return newError(StatusIOErr, err)
		}
		if !exists {
			// Stale journal: the parent multi-file transaction was already
			// resolved elsewhere (spec.md §4.4 step 4).
			return nil
		}
	}

	n := recordCountOrDerive(h, size, int64(hdrLen), p.pageSize)

	if err := p.file.Truncate(int64(h.origPageCount) * int64(p.pageSize)); err != nil {
		return newError(StatusIOErr, err)
	}
	p.dbSize = h.origPageCount

	for i := uint32(0); i < n; i++ {
		pgno, data, ok, err := readJournalRecord(jf, int64(hdrLen), p.pageSize, h.checksumSeed, i)
		if err != nil {
			return err
		}
		if !ok {
			break // torn tail: halt cleanly (spec.md §4.4 step 6)
		}
		if pgno == 0 || pgno > PageNumber(h.origPageCount) {
			continue
		}
		decoded, err := p.codec.Transform(data, pgno, CodecDecodeJournal)
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

	if err := p.resyncCacheWithFile(h.origPageCount); err != nil {
		return err
	}
	if err := p.file.Sync(); err != nil {
		return newError(StatusIOErr, err)
	}

	if h.masterName != "" {
		if err := deleteMasterIfUnreferenced(p.vfs, h.masterName); err != nil {
			p.logger.Warn("master delete protocol failed", zap.Error(err))
		}
	}
	return nil
}

// resyncCacheWithFile re-reads every cached page within the restored
// database size directly from disk, so frames the journal didn't
// explicitly cover (e.g. pages written in a transaction this replay
// didn't originate) still end up consistent with the file.
func (p *Pager) resyncCacheWithFile(origPageCount uint32) error {
	for _, f := range p.cache.all() {
		if f.pgno == 0 || f.pgno > PageNumber(origPageCount) {
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
		f.needsSync = false
		f.inJournal = false
	}
	return nil
}

func (p *Pager) ensureCapacity(ctx context.Context) error {
	if !p.cache.full() {
		return nil
	}
	return p.evictOne(ctx)
}

// evictOne forces room for one more cached frame, forcing a journal sync
// first if no frame in the bounded LRU scan is already safe to evict
// (spec.md §4.2 step 3).
func (p *Pager) evictOne(ctx context.Context) error {
	victim, ok := p.cache.evict()
	if !ok {
		if err := p.forceSync(ctx); err != nil {
			return err
		}
		victim, ok = p.cache.evict()
		if !ok {
			return newError(StatusFull, errors.New("cache exhausted: no evictable frame after forced sync"))
		}
	}
	if victim.dirty {
		if err := p.flushFrameData(ctx, &victim); err != nil {
			return err
		}
	}
	if victim.alwaysRollback {
		p.flags.alwaysRollback = true
	}
	if p.destructor != nil {
		p.destructor(&victim)
	}
	p.sink.Evicted(victim.pgno)
	return nil
}

// forceSync durably syncs the open journal (if any) and clears
// needsSync pager-wide, unblocking eviction.
func (p *Pager) forceSync(ctx context.Context) error {
	if p.journal == nil {
		return nil
	}
	if err := p.journal.finalize(p.flags.fullSync); err != nil {
		return err
	}
	p.cache.markAllSynced()
	return nil
}

// flushFrameData writes f's content to the database file, escalating the
// file lock to EXCLUSIVE the first time any page is actually flushed
// (spec.md §4.1: "the first actual page write transitions to EXCLUSIVE").
func (p *Pager) flushFrameData(ctx context.Context, f *Frame) error {
	if f.needsSync {
		if err := p.forceSync(ctx); err != nil {
			return err
		}
	}
	if p.flags.memDB {
		f.dirty = false
		return nil
	}
	if p.state < StateExclusive {
		if err := p.lockWithRetry(ctx, vfs.LockReserved); err != nil {
			return err
		}
		if err := p.lockWithRetry(ctx, vfs.LockPending); err != nil {
			return err
		}
		if err := p.lockWithRetry(ctx, vfs.LockExclusive); err != nil {
			return err
		}
		prev := p.state
		p.state = StateExclusive
		p.sink.StateChanged(prev, p.state)
	}
	encoded, err := p.codec.Transform(f.data, f.pgno, CodecEncodeDB)
	if err != nil {
		return newError(StatusCorrupt, err)
	}
	if _, err := p.file.WriteAt(encoded, int64(f.pgno-1)*int64(p.pageSize)); err != nil {
		p.errMask.set(bitForIOError(err))
		return newError(StatusIOErr, err)
	}
	f.dirty = false
	return nil
}
