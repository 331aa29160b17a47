// Package vfs is the OS-interface collaborator named in spec.md §6: a file
// handle abstraction (open/close/read/write/seek/size/truncate/sync/
// delete/exists) plus the five-level file-lock primitive
// {NONE, SHARED, RESERVED, PENDING, EXCLUSIVE} that the pager's state
// machine drives. Everything above this package treats it as an
// interface; this is the only place that talks to the real filesystem.
package vfs

import (
	"errors"
	"io"
)

// LockLevel is the five-level file-lock ladder from spec.md §4.1/§5.
// Levels only ever climb SHARED->RESERVED->PENDING->EXCLUSIVE or drop
// straight back to NONE or SHARED; there is no direct RESERVED->NONE.
type LockLevel int

const (
	LockNone LockLevel = iota
	LockShared
	LockReserved
	LockPending
	LockExclusive
)

func (l LockLevel) String() string {
	switch l {
	case LockNone:
		return "NONE"
	case LockShared:
		return "SHARED"
	case LockReserved:
		return "RESERVED"
	case LockPending:
		return "PENDING"
	case LockExclusive:
		return "EXCLUSIVE"
	default:
		return "UNKNOWN"
	}
}

// ErrBusy is returned by Lock when another connection holds a conflicting
// lock. Callers retry through a busy handler rather than treat this as
// fatal.
var ErrBusy = errors.New("vfs: file is locked (busy)")

// File is a single open OS file handle. Implementations must support
// concurrent ReadAt/WriteAt from the same *os.File the way the standard
// library does (pread/pwrite semantics), since the pager never seeks a
// shared handle.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer

	// Truncate shrinks or grows the file to exactly size bytes.
	Truncate(size int64) error

	// Sync forces previously written data to stable storage. This is the
	// operation the journal's needs_sync gate exists to amortize.
	Sync() error

	// Size returns the current file size in bytes.
	Size() (int64, error)

	// Lock attempts to raise the file's lock to level, acquiring every
	// intermediate rung in ladder order (spec.md §4.1), and returns
	// ErrBusy if any rung is held elsewhere.
	Lock(level LockLevel) error

	// Unlock drops the file's lock to level (NONE or SHARED).
	Unlock(level LockLevel) error

	// CheckReservedLock reports whether some connection (possibly this
	// one) holds RESERVED or higher, without acquiring anything. Used to
	// decide whether a journal file found on disk is "hot" (spec.md
	// §4.1: "no process holds RESERVED").
	CheckReservedLock() (bool, error)
}

// Directory is a handle opened purely so its containing directory entry
// can be fsynced after a rename/unlink, guaranteeing the directory entry
// itself (not just file contents) survives a crash.
type Directory interface {
	Sync() error
	Close() error
}

// VFS is the OS interface consumed by the pager (spec.md §6).
type VFS interface {
	OpenReadWrite(path string) (File, error)
	OpenReadOnly(path string) (File, error)
	// OpenExclusive creates path, failing if it already exists, and
	// optionally unlinks it as soon as it is closed (used for the
	// statement sub-journal's temp file).
	OpenExclusive(path string, deleteOnClose bool) (File, error)

	Close(f File) error
	Delete(path string) error
	Exists(path string) (bool, error)

	// TempFileName returns a path suitable for a temp file in the same
	// directory as db (so a rename/link would be atomic), named with
	// enough entropy to never collide with a concurrent connection's
	// temp file.
	TempFileName(db string) (string, error)

	FullPathName(path string) (string, error)
	OpenDirectory(dir string) (Directory, error)

	// Randomness fills buf with bytes suitable for seeding the journal
	// checksum (spec.md glossary: "Checksum seed").
	Randomness(buf []byte) error
}
