package pager

import (
	"encoding/binary"
	"io"

	"github.com/embeddb/embeddb/internal/vfs"
)

// stmtRecordSize is the statement sub-journal's record layout (spec.md
// §3: "same records, no checksums, no header"): 4-byte page number
// followed by the raw page payload.
func stmtRecordSize(pageSize int) int { return 4 + pageSize }

// stmtJournal is the statement sub-transaction's rollback point (spec.md
// §4.5): a nested journal nested inside an outer write transaction,
// backed by a temp file opened lazily and reused (not recreated) across
// stmt_begin/stmt_commit cycles within the same write transaction.
type stmtJournal struct {
	vfs      vfs.VFS
	file     vfs.File
	path     string
	pageSize int
	count    uint32
}

func openStmtJournal(v vfs.VFS, dbPath string, pageSize int) (*stmtJournal, error) {
	path, err := v.TempFileName(dbPath)
	if err != nil {
		return nil, newError(StatusCantOpen, err)
	}
	f, err := v.OpenExclusive(path, true)
	if err != nil {
		return nil, newError(StatusCantOpen, err)
	}
	return &stmtJournal{vfs: v, file: f, path: path, pageSize: pageSize}, nil
}

// write appends pgno's pre-statement image (spec.md §4.3 step 2).
func (s *stmtJournal) write(pgno PageNumber, data []byte) error {
	buf := make([]byte, stmtRecordSize(s.pageSize))
	binary.BigEndian.PutUint32(buf, uint32(pgno))
	copy(buf[4:], data)

	off := int64(s.count) * int64(stmtRecordSize(s.pageSize))
	if _, err := s.file.WriteAt(buf, off); err != nil {
		return newError(StatusIOErr, err)
	}
	s.count++
	return nil
}

// reset discards all records by logically truncating to empty; the
// backing file descriptor and temp file are reused across statements
// (spec.md §4.5: "stmt_commit discards the sub-journal records ... the
// file is reused").
func (s *stmtJournal) reset() error {
	s.count = 0
	return nil
}

// recordAt reads the i-th record (0-based, insertion order).
func (s *stmtJournal) recordAt(i uint32) (PageNumber, []byte, error) {
	buf := make([]byte, stmtRecordSize(s.pageSize))
	off := int64(i) * int64(stmtRecordSize(s.pageSize))
	if _, err := s.file.ReadAt(buf, off); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, nil, newError(StatusCorrupt, err)
		}
		return 0, nil, newError(StatusIOErr, err)
	}
	pgno := PageNumber(binary.BigEndian.Uint32(buf))
	return pgno, buf[4:], nil
}

// replayReverse invokes fn for each record from most-recently-written to
// least, per spec.md §4.5 step 2: "replay the sub-journal in reverse
// record order ... the last (oldest) image is the correct restoration
// point" when a page appears more than once.
func (s *stmtJournal) replayReverse(fn func(pgno PageNumber, data []byte) error) error {
	for i := int64(s.count) - 1; i >= 0; i-- {
		pgno, data, err := s.recordAt(uint32(i))
		if err != nil {
			return err
		}
		if err := fn(pgno, data); err != nil {
			return err
		}
	}
	return nil
}

func (s *stmtJournal) close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
