package pager

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/embeddb/embeddb/internal/vfs"
	"github.com/embeddb/embeddb/pkg/bitwise"
)

// SafetyLevel is spec.md SPEC_FULL.md §13's tri-state durability knob,
// carried over from original_source/src/pager.c's
// sqlite3PagerSetSafetyLevel.
type SafetyLevel int

const (
	SafetyOff SafetyLevel = iota
	SafetyNormal
	SafetyFull
)

// Destructor is invoked when a frame is about to be reused for a
// different page (spec.md §6: "a destructor ... callback invoked on
// frame reuse").
type Destructor func(*Frame)

// Reiniter is invoked on a frame's extra bytes when rollback restores a
// page's content out from under the higher layer (spec.md §6).
type Reiniter func(*Frame)

// Config configures Open.
type Config struct {
	PageSize       int
	MaxCachedPages int
	ExtraBytes     int
	UseJournal     bool
	ReadOnly       bool
	SafetyLevel    SafetyLevel
	Codec          Codec
	BusyHandler    BusyHandler
	Logger         *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.MaxCachedPages <= 0 {
		c.MaxCachedPages = 2000
	}
	if c.BusyHandler == nil {
		c.BusyHandler = BoundedBusyHandler{MaxAttempts: 5}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

type flags struct {
	noSync         bool
	fullSync       bool
	readOnly       bool
	temp           bool
	memDB          bool
	useJournal     bool
	journalOpen    bool
	journalStarted bool
	stmtInUse      bool
	dirtyCache     bool
	alwaysRollback bool
}

// Pager is the state machine of spec.md §4.1/§2 component 5: it owns the
// lifecycle {UNLOCK, SHARED, RESERVED, EXCLUSIVE, SYNCED} and drives the
// cache, journal manager and OS interface to honor
// get/write/begin/commit/rollback/stmt_* (spec.md §6 Pager API).
type Pager struct {
	vfs      vfs.VFS
	path     string
	pageSize int
	logger   *zap.Logger

	file  vfs.File
	cache *cache
	state State

	dbSize          uint32
	origDbSize      uint32
	pendingBytePage PageNumber

	journal            *journal
	checksumSeed       uint32
	journalRecordCount uint32
	inJournalBitset    *bitwise.Bitset
	masterJournalName  string

	stmtJournal       *stmtJournal
	stmtActive        bool
	stmtSize          uint32
	stmtJournalOffset uint32
	inStmtBitset      *bitwise.Bitset
	stmtFrames        []PageNumber

	refTotal int64

	errMask errMask
	flags   flags

	busyHandler BusyHandler
	codec       Codec
	destructor  Destructor
	reiniter    Reiniter
	archiver    JournalArchiver
	sink        EventSink

	// in-memory mode (spec.md §4.7): history records replace the
	// journal entirely.
	memHistory map[PageNumber]*memHistory
}

// Open opens the database file (or, for path == ":memory:", an in-memory
// database with no file I/O at all) and returns a ready pager, per
// spec.md §6 "open(path, max_cache_pages, extra_per_page_bytes,
// use_journal, busy_handler) -> pager".
func Open(v vfs.VFS, path string, cfg Config) (*Pager, error) {
	cfg = cfg.withDefaults()

	p := &Pager{
		vfs:         v,
		path:        path,
		pageSize:    cfg.PageSize,
		logger:      cfg.Logger,
		state:       StateUnlock,
		busyHandler: cfg.BusyHandler,
		codec:       cfg.Codec,
	}
	if p.codec == nil {
		p.codec = noopCodec{}
	}
	p.sink = noopEventSink{}
	p.pendingBytePage = pendingBytePageFor(cfg.PageSize)
	p.cache = newCache(cfg.PageSize, cfg.ExtraBytes, cfg.MaxCachedPages)
	p.flags.readOnly = cfg.ReadOnly
	p.flags.useJournal = cfg.UseJournal
	p.setSafetyLevelFlags(cfg.SafetyLevel)

	if path == ":memory:" {
		p.flags.memDB = true
		p.memHistory = make(map[PageNumber]*memHistory)
		p.state = StateShared
		return p, nil
	}

	var f vfs.File
	var err error
	if cfg.ReadOnly {
		f, err = v.OpenReadOnly(path)
	} else {
		f, err = v.OpenReadWrite(path)
	}
	if err != nil {
		return nil, newError(StatusCantOpen, err)
	}
	p.file = f

	size, err := f.Size()
	if err != nil {
		return nil, newError(StatusIOErr, err)
	}
	if size%int64(cfg.PageSize) != 0 {
		return nil, newError(StatusCorrupt, fmt.Errorf("db file size %d is not a multiple of page size %d", size, cfg.PageSize))
	}
	p.dbSize = uint32(size / int64(cfg.PageSize))
	p.origDbSize = p.dbSize

	return p, nil
}

func (p *Pager) setSafetyLevelFlags(lvl SafetyLevel) {
	switch lvl {
	case SafetyOff:
		p.flags.noSync = true
		p.flags.fullSync = false
	case SafetyFull:
		p.flags.noSync = false
		p.flags.fullSync = true
	default:
		p.flags.noSync = false
		p.flags.fullSync = false
	}
}

// PageSize returns the fixed page payload size this pager was opened
// with.
func (p *Pager) PageSize() int { return p.pageSize }

// PageCount returns the pager's current logical page count (spec.md
// SPEC_FULL.md §13, the sqlite3pager_pagecount equivalent spec.md never
// names an accessor for).
func (p *Pager) PageCount() uint32 { return p.dbSize }

// State returns the pager's current lifecycle state.
func (p *Pager) State() State { return p.state }

// IsWritable reports whether pgno is currently dirty in this
// transaction (SPEC_FULL.md §13, sqlite3pager_iswriteable equivalent).
func (p *Pager) IsWritable(pgno PageNumber) bool {
	f, ok := p.cache.lookup(pgno)
	return ok && f.dirty
}

// Close rolls back any open transaction and drops to UNLOCK (spec.md
// §4.1 "close").
func (p *Pager) Close(ctx context.Context) error {
	if p.state.atLeast(StateReserved) {
		_ = p.Rollback(ctx)
	}
	if p.flags.memDB {
		return nil
	}
	if p.stmtJournal != nil {
		_ = p.stmtJournal.close()
		p.stmtJournal = nil
	}
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}

// Lookup is the cache-only probe of spec.md §6: "lookup(pager, pgno) ->
// page_ref | null". Unlike Get it performs no I/O and does not affect
// the reference count or LRU order.
func (p *Pager) Lookup(pgno PageNumber) (*Frame, bool) {
	return p.cache.lookup(pgno)
}

// Get acquires/loads pgno, per spec.md §6 and §4.2. pgno must already be
// within the logical database (use AllocatePage to grow it).
func (p *Pager) Get(ctx context.Context, pgno PageNumber) (*Frame, error) {
	if p.errMask.poisoned() {
		return nil, newError(p.errMask.status(), nil)
	}
	if pgno == 0 {
		return nil, newError(StatusMisuse, fmt.Errorf("page 0 is not addressable"))
	}
	if err := p.ensureShared(ctx); err != nil {
		return nil, err
	}
	if pgno > PageNumber(p.dbSize) {
		return nil, newError(StatusMisuse, fmt.Errorf("page %d out of range (db has %d pages)", pgno, p.dbSize))
	}

	if f, ok := p.cache.lookup(pgno); ok {
		p.cache.ref(pgno)
		p.refTotal++
		return f, nil
	}

	if err := p.ensureCapacity(ctx); err != nil {
		return nil, err
	}

	f := p.cache.allocate(pgno)
	if err := p.loadPageInto(f, pgno); err != nil {
		return nil, err
	}
	p.restoreJournalFlags(f, pgno)
	p.refTotal++
	return f, nil
}

func (p *Pager) loadPageInto(f *Frame, pgno PageNumber) error {
	if p.flags.memDB {
		return nil // zero-filled by Frame.reset; history carries prior content
	}
	buf := make([]byte, p.pageSize)
	if _, err := p.file.ReadAt(buf, int64(pgno-1)*int64(p.pageSize)); err != nil && !errors.Is(err, io.EOF) {
		return newError(StatusIOErr, err)
	}
	decoded, err := p.codec.Transform(buf, pgno, CodecDecodeDB)
	if err != nil {
		return newError(StatusCorrupt, err)
	}
	copy(f.data, decoded)
	return nil
}

func (p *Pager) restoreJournalFlags(f *Frame, pgno PageNumber) {
	if p.inJournalBitset != nil && pgno <= PageNumber(p.origDbSize) {
		f.inJournal = p.inJournalBitset.IsSet(uint32(pgno))
	}
	if p.stmtActive && p.inStmtBitset != nil {
		f.inStmt = p.inStmtBitset.IsSet(uint32(pgno))
	}
}

// Ref increments a frame's reference count (spec.md §6).
func (p *Pager) Ref(f *Frame) {
	p.cache.ref(f.pgno)
	p.refTotal++
}

// Unref drops a reference, returning the frame to the LRU list once the
// count reaches zero and releasing the file lock once every reference in
// the pager does (spec.md §6).
func (p *Pager) Unref(ctx context.Context, f *Frame) {
	p.cache.unref(f.pgno)
	if p.refTotal > 0 {
		p.refTotal--
	}
	if p.refTotal == 0 && p.state == StateShared {
		_ = p.releaseToUnlock(ctx)
	}
}

func (p *Pager) releaseToUnlock(ctx context.Context) error {
	if p.flags.memDB {
		p.state = StateUnlock
		return nil
	}
	if err := p.file.Unlock(vfs.LockNone); err != nil {
		return newError(StatusIOErr, err)
	}
	p.state = StateUnlock
	return nil
}

func (p *Pager) journalPath() string { return p.path + "-journal" }

// JournalPath exposes the rollback journal's path, used by CommitGroup
// to assemble a master journal's child list before any member commits.
func (p *Pager) JournalPath() string { return p.journalPath() }

func (p *Pager) lockWithRetry(ctx context.Context, level vfs.LockLevel) error {
	for attempt := 0; ; attempt++ {
		err := p.file.Lock(level)
		if err == nil {
			return nil
		}
		if !errors.Is(err, vfs.ErrBusy) {
			p.errMask.set(errMaskLock)
			return newError(StatusIOErr, err)
		}
		select {
		case <-ctx.Done():
			return newError(StatusBusy, ctx.Err())
		default:
		}
		if !p.busyHandler.Retry(attempt) {
			return newError(StatusBusy, err)
		}
	}
}
