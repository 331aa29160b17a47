package pager

import (
	"context"

	"github.com/embeddb/embeddb/pkg/bitwise"
)

// StmtBegin opens a statement sub-transaction nested inside the current
// write transaction (spec.md §4.5): a rollback point an individual
// statement can unwind to without discarding everything the outer
// transaction has done so far.
func (p *Pager) StmtBegin(ctx context.Context) error {
	if p.errMask.poisoned() {
		return newError(p.errMask.status(), nil)
	}
	if p.state < StateReserved {
		return newError(StatusMisuse, nil)
	}

	if !p.flags.memDB {
		if p.stmtJournal == nil {
			sj, err := openStmtJournal(p.vfs, p.path, p.pageSize)
			if err != nil {
				return err
			}
			p.stmtJournal = sj
		} else if err := p.stmtJournal.reset(); err != nil {
			return err
		}
	}

	p.stmtSize = p.dbSize
	p.stmtJournalOffset = p.journalRecordCount
	p.inStmtBitset = bitwise.NewBitset(p.dbSize + 1)
	p.stmtFrames = p.stmtFrames[:0]
	p.stmtActive = true
	return nil
}

// StmtCommit folds the open statement sub-transaction's changes into the
// enclosing write transaction: the sub-journal is discarded and every
// frame's in_stmt flag clears (spec.md §4.5).
func (p *Pager) StmtCommit(ctx context.Context) error {
	if !p.stmtActive {
		return nil
	}
	return p.stmtCommitLocked()
}

func (p *Pager) stmtCommitLocked() error {
	if !p.flags.memDB && p.stmtJournal != nil {
		if err := p.stmtJournal.reset(); err != nil {
			return err
		}
	}
	for _, pgno := range p.stmtFrames {
		if f, ok := p.cache.lookup(pgno); ok {
			f.inStmt = false
		}
		if h, ok := p.memHistory[pgno]; ok {
			h.stmt = nil
		}
	}
	p.stmtFrames = p.stmtFrames[:0]
	p.inStmtBitset = nil
	p.stmtActive = false
	return nil
}

// StmtRollback undoes everything since the matching StmtBegin without
// touching anything the outer write transaction did before it (spec.md
// §4.5): replay the statement sub-journal in reverse, then replay any
// main-journal records appended since StmtBegin in reverse too, since a
// page can have been first dirtied (and pre-imaged into the main
// journal) during this same statement.
func (p *Pager) StmtRollback(ctx context.Context) error {
	if !p.stmtActive {
		return nil
	}

	p.dbSize = p.stmtSize

	if p.flags.memDB {
		for pgno, h := range p.memHistory {
			if h.stmt == nil {
				continue
			}
			if f, ok := p.cache.lookup(pgno); ok {
				copy(f.data, h.stmt)
			}
		}
	} else if p.stmtJournal != nil {
		if err := p.stmtJournal.replayReverse(func(pgno PageNumber, data []byte) error {
			if f, ok := p.cache.lookup(pgno); ok {
				copy(f.data, data)
			}
			return nil
		}); err != nil {
			return err
		}
		if err := p.replayMainJournalFrom(p.stmtJournalOffset); err != nil {
			return err
		}
	}

	for _, f := range p.cache.all() {
		if f.pgno > PageNumber(p.stmtSize) {
			p.cache.remove(f.pgno)
		}
	}

	return p.stmtCommitLocked()
}

// replayMainJournalFrom applies every main-journal record written since
// offset, in reverse order, to the cache only (never to the database
// file): these are pre-images for pages this statement dirtied for the
// first time in the outer transaction, and the outer transaction is
// still open (spec.md §4.5 step 3).
func (p *Pager) replayMainJournalFrom(offset uint32) error {
	if p.journal == nil {
		return nil
	}
	for i := int64(p.journalRecordCount) - 1; i >= int64(offset); i-- {
		pgno, data, ok, err := readJournalRecord(p.journal.file, p.journal.headerSize(), p.pageSize, p.checksumSeed, uint32(i))
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		f, ok := p.cache.lookup(pgno)
		if !ok {
			continue
		}
		decoded, err := p.journal.decodeFromJournal(pgno, data)
		if err != nil {
			return newError(StatusCorrupt, err)
		}
		copy(f.data, decoded)
	}
	return nil
}
