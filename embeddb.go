// Package embeddb is a transactional page cache: a rollback journal,
// multi-reader/single-writer file locking and an LRU page cache sitting
// underneath a minimal record store, in the spirit of SQLite's pager.
package embeddb

import (
	"context"
	"fmt"

	"github.com/embeddb/embeddb/internal/logging"
	"github.com/embeddb/embeddb/internal/pager"
	"github.com/embeddb/embeddb/internal/vfs"
)

// DB is the top-level handle: a connection string parsed into a pager
// configuration, plus the pager itself. Every exported method is a thin
// pass-through onto the underlying *pager.Pager, so the record store
// (and any future higher layer) never has to reach into internal/pager
// directly.
type DB struct {
	conn  *ConnectionConfig
	pager *pager.Pager
}

// Open parses connStr (see ParseConnectionString) and opens the
// database file it names, running hot-journal recovery if a previous
// process crashed mid-transaction.
func Open(connStr string) (*DB, error) {
	conn, err := ParseConnectionString(connStr)
	if err != nil {
		return nil, fmt.Errorf("embeddb: %w", err)
	}

	logger := logging.New(conn.LogLevel)
	p, err := pager.Open(vfs.OS, conn.FilePath, pager.Config{
		MaxCachedPages: conn.MaxCachedPages,
		ExtraBytes:     recordStoreExtraBytes,
		UseJournal:     conn.JournalEnabled,
		SafetyLevel:    conn.SafetyLevel,
		Codec:          conn.Codec(),
		BusyHandler:    conn.BusyHandler(),
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	return &DB{conn: conn, pager: p}, nil
}

// Close rolls back any open transaction and releases the pager's file.
func (db *DB) Close(ctx context.Context) error {
	return db.pager.Close(ctx)
}

// Get fetches the page numbered pgno, loading it from disk on a cache
// miss. The returned frame is referenced until Unref is called.
func (db *DB) Get(ctx context.Context, pgno pager.PageNumber) (*pager.Frame, error) {
	return db.pager.Get(ctx, pgno)
}

// Unref releases a reference taken by Get or AllocatePage.
func (db *DB) Unref(ctx context.Context, f *pager.Frame) {
	db.pager.Unref(ctx, f)
}

// Write marks f as about to be modified, opening a write transaction
// (acquiring the RESERVED lock and starting the journal) if one isn't
// already open.
func (db *DB) Write(ctx context.Context, f *pager.Frame) error {
	return db.pager.Write(ctx, f)
}

// AllocatePage extends the database by one page and returns it
// pre-marked writable.
func (db *DB) AllocatePage(ctx context.Context) (*pager.Frame, error) {
	return db.pager.AllocatePage(ctx)
}

// Truncate shrinks the database to newPageCount pages.
func (db *DB) Truncate(ctx context.Context, newPageCount pager.PageNumber) error {
	return db.pager.Truncate(ctx, newPageCount)
}

// Commit finalizes the open write transaction.
func (db *DB) Commit(ctx context.Context) error {
	return db.pager.Commit(ctx)
}

// Rollback discards the open write transaction, restoring every page it
// touched to its pre-transaction content.
func (db *DB) Rollback(ctx context.Context) error {
	return db.pager.Rollback(ctx)
}

// StmtBegin opens a nested statement sub-transaction.
func (db *DB) StmtBegin(ctx context.Context) error {
	return db.pager.StmtBegin(ctx)
}

// StmtCommit folds the open statement sub-transaction's changes into the
// enclosing write transaction.
func (db *DB) StmtCommit(ctx context.Context) error {
	return db.pager.StmtCommit(ctx)
}

// StmtRollback undoes only the changes made since the matching
// StmtBegin, leaving the enclosing transaction's earlier changes intact.
func (db *DB) StmtRollback(ctx context.Context) error {
	return db.pager.StmtRollback(ctx)
}

// PageSize returns the configured page size in bytes.
func (db *DB) PageSize() int {
	return db.pager.PageSize()
}

// PageCount returns the current number of pages in the database.
func (db *DB) PageCount() uint32 {
	return db.pager.PageCount()
}

// SetJournalArchiver installs an optional forensics hook (see
// internal/forensics) that receives every journal's bytes just before
// the pager deletes it, whether from hot-journal recovery or an
// ordinary rollback. Passing nil disables archival.
func (db *DB) SetJournalArchiver(a pager.JournalArchiver) {
	db.pager.SetJournalArchiver(a)
}

// Lookup probes the cache for pgno without touching disk or the LRU
// list: a cheap existence check for a caller that only wants the page
// if it's already resident. The returned frame is not referenced; call
// Ref before reading it.
func (db *DB) Lookup(pgno pager.PageNumber) (*pager.Frame, bool) {
	return db.pager.Lookup(pgno)
}

// Ref pins a frame returned by Lookup so it survives until the matching
// Unref, the same way Get's result is pinned.
func (db *DB) Ref(f *pager.Frame) {
	db.pager.Ref(f)
}

// DontWrite cancels the dirty flag on pgno's cached frame, hinting that
// a page marked writable turned out not to need its change flushed at
// commit after all.
func (db *DB) DontWrite(pgno pager.PageNumber) {
	db.pager.DontWrite(pgno)
}

// DontRollback hints that f's pre-transaction content need not be
// journaled, for a page being handed out wholesale whose prior bytes
// nobody needs back.
func (db *DB) DontRollback(f *pager.Frame) {
	db.pager.DontRollback(f)
}

// SetCacheSize adjusts the maximum number of pages the cache holds
// before it must evict. It takes effect on the next eviction decision;
// shrinking it below the live page count forces subsequent allocations
// to evict immediately.
func (db *DB) SetCacheSize(maxPages int) {
	db.pager.SetCacheSize(maxPages)
}

// SetBusyHandler installs the retry policy consulted when a lock
// attempt collides with another handle on the same file.
func (db *DB) SetBusyHandler(h pager.BusyHandler) {
	db.pager.SetBusyHandler(h)
}

// SetMasterJournalName arranges for the next write transaction's
// journal header to record name, so the master-delete protocol (see
// CommitGroup) knows which master journal to consult.
func (db *DB) SetMasterJournalName(name string) {
	db.pager.SetMasterJournalName(name)
}

// SetCodec installs a page transform applied on every read/write of the
// database file and the journal. Passing nil restores the no-op codec.
func (db *DB) SetCodec(c pager.Codec) {
	db.pager.SetCodec(c)
}

// SetEventSink installs an optional observability hook (see
// internal/observe) notified of state transitions, rollbacks and
// evictions. Passing nil disables notification.
func (db *DB) SetEventSink(s pager.EventSink) {
	db.pager.SetEventSink(s)
}

// JournalPath returns the path of this database's rollback journal,
// used by CommitGroup to build a master journal's child list.
func (db *DB) JournalPath() string {
	return db.pager.JournalPath()
}
