package pager

import "context"

// memHistory is the in-memory analogue of a journal record (spec.md
// §4.7: "no journal file; instead, each dirtied frame carries a
// pre-transaction and, when a statement sub-transaction is open, a
// pre-statement shadow copy"). orig is the page's content as of the
// start of the write transaction; stmt is its content as of the start of
// the innermost open statement sub-transaction, set lazily on first
// write within that sub-transaction.
type memHistory struct {
	orig []byte
	stmt []byte
}

// commitMemory finalizes a :memory: write transaction: spec.md §4.7 has
// no file to sync or journal to delete, so committing simply discards
// every frame's history and lets the in-memory pages stand as the new
// committed state.
func (p *Pager) commitMemory(ctx context.Context) error {
	if p.flags.dirtyCache {
		if err := p.bumpChangeCounter(ctx); err != nil {
			return err
		}
		for _, f := range p.cache.dirtyPages() {
			f.dirty = false
		}
	}
	return p.releaseAfterCommit(ctx)
}

// rollbackMemory restores every historied frame's pre-transaction image
// directly from memHistory, the in-memory stand-in for journal replay
// (spec.md §4.7).
func (p *Pager) rollbackMemory(ctx context.Context) error {
	for pgno, h := range p.memHistory {
		f, ok := p.cache.lookup(pgno)
		if !ok {
			continue
		}
		copy(f.data, h.orig)
		f.dirty = false
		f.inJournal = false
		f.needsSync = false
		if p.reiniter != nil {
			p.reiniter(f)
		}
	}
	for _, f := range p.cache.all() {
		if f.pgno > PageNumber(p.origDbSize) {
			p.cache.remove(f.pgno)
		}
	}
	p.dbSize = p.origDbSize
	p.resetTxnState()
	prevState := p.state
	p.state = StateShared
	p.sink.StateChanged(prevState, p.state)
	p.sink.Rollback()
	return nil
}
