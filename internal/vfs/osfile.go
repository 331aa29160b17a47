package vfs

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// osVFS is the production VFS backed by the local filesystem.
type osVFS struct{}

// OS is the default, local-filesystem VFS.
var OS VFS = osVFS{}

func (osVFS) OpenReadWrite(path string) (File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return newOSFile(f, path), nil
}

func (osVFS) OpenReadOnly(path string) (File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return newOSFile(f, path), nil
}

func (osVFS) OpenExclusive(path string, deleteOnClose bool) (File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, err
	}
	of := newOSFile(f, path)
	of.deleteOnClose = deleteOnClose
	return of, nil
}

func (osVFS) Close(f File) error { return f.Close() }

func (osVFS) Delete(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (osVFS) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (osVFS) TempFileName(db string) (string, error) {
	dir := filepath.Dir(db)
	return filepath.Join(dir, fmt.Sprintf(".%s-mj%s", filepath.Base(db), uuid.NewString())), nil
}

func (osVFS) FullPathName(path string) (string, error) {
	return filepath.Abs(path)
}

func (osVFS) OpenDirectory(dir string) (Directory, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (osVFS) Randomness(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}

// osFile emulates SQLite's POSIX byte-range lock ladder on top of
// gofrs/flock, which only exposes whole-file shared/exclusive locks. Three
// companion sentinel files stand in for the SHARED/RESERVED/PENDING rungs;
// EXCLUSIVE is the real exclusive flock on the sentinel. See DESIGN.md for
// the rationale (Go has no byte-range advisory lock in the pack's
// dependency set).
type osFile struct {
	f    *os.File
	path string

	deleteOnClose bool

	mu       sync.Mutex
	level    LockLevel
	shared   *flock.Flock
	reserved *flock.Flock
	pending  *flock.Flock
}

func newOSFile(f *os.File, path string) *osFile {
	return &osFile{
		f:        f,
		path:     path,
		shared:   flock.New(path + ".shared-lock"),
		reserved: flock.New(path + ".reserved-lock"),
		pending:  flock.New(path + ".pending-lock"),
	}
}

func (o *osFile) ReadAt(p []byte, off int64) (int, error)  { return o.f.ReadAt(p, off) }
func (o *osFile) WriteAt(p []byte, off int64) (int, error) { return o.f.WriteAt(p, off) }
func (o *osFile) Truncate(size int64) error                { return o.f.Truncate(size) }
func (o *osFile) Sync() error                               { return o.f.Sync() }

func (o *osFile) Size() (int64, error) {
	fi, err := o.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (o *osFile) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	_ = o.unlockLocked(LockNone)
	err := o.f.Close()
	if o.deleteOnClose {
		_ = os.Remove(o.path)
	}
	return err
}

func (o *osFile) CheckReservedLock() (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.level >= LockReserved {
		return true, nil
	}
	locked, err := o.reserved.TryLock()
	if err != nil {
		return false, err
	}
	if locked {
		_ = o.reserved.Unlock()
		return false, nil
	}
	return true, nil
}

// Lock raises the lock to level, one rung at a time, failing with
// ErrBusy if a rung is contended.
func (o *osFile) Lock(level LockLevel) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for o.level < level {
		next := o.level + 1
		if err := o.lockRung(next); err != nil {
			return err
		}
		o.level = next
	}
	return nil
}

func (o *osFile) lockRung(rung LockLevel) error {
	switch rung {
	case LockShared:
		ok, err := o.shared.TryRLock()
		if err != nil {
			return err
		}
		if !ok {
			return ErrBusy
		}
		return nil
	case LockReserved:
		ok, err := o.reserved.TryLock()
		if err != nil {
			return err
		}
		if !ok {
			return ErrBusy
		}
		return nil
	case LockPending:
		ok, err := o.pending.TryLock()
		if err != nil {
			return err
		}
		if !ok {
			return ErrBusy
		}
		return nil
	case LockExclusive:
		// PENDING already excludes new readers; wait out the ones that
		// got in before we raised PENDING by upgrading our own shared
		// lock to exclusive.
		_ = o.shared.Unlock()
		ok, err := o.shared.TryLock()
		if err != nil {
			return err
		}
		if !ok {
			return ErrBusy
		}
		return nil
	default:
		return fmt.Errorf("vfs: invalid lock rung %v", rung)
	}
}

// Unlock drops the lock to level, which must be LockNone or LockShared.
func (o *osFile) Unlock(level LockLevel) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.unlockLocked(level)
}

func (o *osFile) unlockLocked(level LockLevel) error {
	if o.level <= level {
		return nil
	}

	if o.level >= LockExclusive && level < LockExclusive {
		_ = o.shared.Unlock()
	}
	if o.level >= LockPending && level < LockPending {
		_ = o.pending.Unlock()
	}
	if o.level >= LockReserved && level < LockReserved {
		_ = o.reserved.Unlock()
	}
	if level < LockShared {
		_ = o.shared.Unlock()
	} else if o.level >= LockExclusive {
		// Dropping EXCLUSIVE back to SHARED: reacquire the shared rung.
		_, _ = o.shared.TryRLock()
	}

	o.level = level
	return nil
}
