package pager

// SetCacheSize adjusts the maximum number of cached frames (spec.md §6).
// Shrinking below the current live count does not evict immediately; it
// only tightens the ceiling future allocations are checked against.
func (p *Pager) SetCacheSize(maxPages int) {
	if maxPages <= 0 {
		maxPages = 1
	}
	p.cache.maxPages = maxPages
}

// SetSafetyLevel switches between OFF (pages never marked needs_sync and
// the database file never synced; the journal is still synced when
// finalized), NORMAL (one sync per journal finalize, one per commit)
// and FULL (double-sync the journal header, per spec.md §4.1/§5) —
// SPEC_FULL.md §13's supplemented safety-level knob.
func (p *Pager) SetSafetyLevel(lvl SafetyLevel) {
	p.setSafetyLevelFlags(lvl)
}

// SetCodec installs the per-page transform hook (spec.md §4.6). Passing
// nil restores the no-op codec.
func (p *Pager) SetCodec(c Codec) {
	if c == nil {
		c = noopCodec{}
	}
	p.codec = c
}

// SetDestructor installs the callback invoked whenever a frame is about
// to be reused for a different page (spec.md §6).
func (p *Pager) SetDestructor(d Destructor) {
	p.destructor = d
}

// SetReiniter installs the callback invoked on a frame when rollback
// restores its content out from under whatever the higher layer had
// cached in Frame.Extra (spec.md §6).
func (p *Pager) SetReiniter(r Reiniter) {
	p.reiniter = r
}

// SetJournalArchiver installs an optional forensics hook that receives a
// journal's bytes just before the pager deletes it (on hot-journal replay
// or ordinary rollback). Passing nil disables archival.
func (p *Pager) SetJournalArchiver(a JournalArchiver) {
	p.archiver = a
}

// SetBusyHandler replaces the lock-contention retry policy (spec.md §5).
func (p *Pager) SetBusyHandler(h BusyHandler) {
	if h == nil {
		h = NoRetryBusyHandler{}
	}
	p.busyHandler = h
}

// SetMasterJournalName arranges for the next write transaction's journal
// to carry a master-journal back-reference, for multi-file atomic commit
// coordination (spec.md §4.4).
func (p *Pager) SetMasterJournalName(name string) {
	p.masterJournalName = name
}

// SetEventSink installs the optional observability hook notified of
// state transitions, rollbacks and evictions (SPEC_FULL.md §11's debug
// feed). Passing nil disables notification.
func (p *Pager) SetEventSink(s EventSink) {
	if s == nil {
		s = noopEventSink{}
	}
	p.sink = s
}

// ErrMaskStatus reports the status a poisoned pager is stuck reporting,
// or StatusOK if it isn't poisoned (spec.md §7).
func (p *Pager) ErrMaskStatus() Status {
	return p.errMask.status()
}
