// Package forensics implements pager.JournalArchiver: a compressed,
// append-only trail of every journal the pager replayed or rolled back,
// kept around for post-mortem debugging of crash recovery
// (SPEC_FULL.md §13). Grounded on JuniperBible's xz-backed capsule
// pack/unpack path (core/capsule/capsule.go), trimmed to one direction
// (write-only archival, no unpack).
package forensics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ulikunitz/xz"
	"go.uber.org/zap"
)

// Archiver writes each archived journal as an xz-compressed file under
// Dir, named after the journal's base name plus a timestamp so repeat
// archival of the same path (e.g. a file reused across many open/close
// cycles) never collides.
type Archiver struct {
	Dir    string
	Logger *zap.Logger

	now func() time.Time // overridable in tests
}

// NewArchiver builds an Archiver rooted at dir, creating it if missing.
func NewArchiver(dir string, logger *zap.Logger) (*Archiver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("forensics: create archive dir: %w", err)
	}
	return &Archiver{Dir: dir, Logger: logger, now: time.Now}, nil
}

// Archive satisfies pager.JournalArchiver. It is intentionally forgiving:
// any failure here is logged by the caller and never propagated into the
// transaction path it is observing.
func (a *Archiver) Archive(ctx context.Context, journalPath string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	name := fmt.Sprintf("%s.%d.xz", filepath.Base(journalPath), a.now().UnixNano())
	dest := filepath.Join(a.Dir, name)

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("forensics: create %s: %w", dest, err)
	}
	defer f.Close()

	xw, err := xz.NewWriter(f)
	if err != nil {
		return fmt.Errorf("forensics: new xz writer: %w", err)
	}
	if _, err := xw.Write(data); err != nil {
		xw.Close()
		return fmt.Errorf("forensics: compress %s: %w", journalPath, err)
	}
	if err := xw.Close(); err != nil {
		return fmt.Errorf("forensics: finalize %s: %w", dest, err)
	}

	a.Logger.Info("archived journal",
		zap.String("source", journalPath),
		zap.String("archive", dest),
		zap.Int("bytes", len(data)))
	return nil
}
