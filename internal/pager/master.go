package pager

import (
	"bytes"

	"github.com/embeddb/embeddb/internal/vfs"
)

// WriteMasterJournal creates the master journal sidecar of spec.md §3: "a
// nul-separated list of child journal paths", used to coordinate
// multi-file atomic commits. Callers (see CommitGroup) must write this
// before any member's write transaction commits, and every member must
// already have SetMasterJournalName(path) set so its own journal header
// records the back-reference the delete protocol checks.
func WriteMasterJournal(v vfs.VFS, path string, children []string) error {
	return writeMasterJournal(v, path, children)
}

func writeMasterJournal(v vfs.VFS, path string, children []string) error {
	f, err := v.OpenReadWrite(path)
	if err != nil {
		return newError(StatusCantOpen, err)
	}
	defer f.Close()
	if err := f.Truncate(0); err != nil {
		return newError(StatusIOErr, err)
	}

	buf := bytes.Join(toByteSlices(children), []byte{0})
	buf = append(buf, 0)
	if _, err := f.WriteAt(buf, 0); err != nil {
		return newError(StatusIOErr, err)
	}
	return f.Sync()
}

func toByteSlices(ss []string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

// readMasterJournalChildren parses a master journal's nul-separated child
// list. The original implementation opens the master journal via its
// "exclusive open" primitive before reading it (pager_delmaster in
// original_source/src/pager.c), but that call there means "get our own
// file handle", not O_EXCL create-only semantics — this VFS's
// OpenExclusive is reserved for creating a brand-new file and would fail
// outright against a master journal that, by construction, already
// exists. Reading it read-only is the faithful equivalent: the delete
// protocol below only ever inspects this file's bytes, never writes it.
func readMasterJournalChildren(v vfs.VFS, path string) ([]string, error) {
	f, err := v.OpenReadOnly(path)
	if err != nil {
		return nil, newError(StatusCantOpen, err)
	}
	defer f.Close()

	size, err := f.Size()
	if err != nil {
		return nil, newError(StatusIOErr, err)
	}
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, newError(StatusIOErr, err)
	}

	var children []string
	for _, part := range bytes.Split(buf, []byte{0}) {
		if len(part) == 0 {
			continue
		}
		children = append(children, string(part))
	}
	return children, nil
}

// readJournalHeaderForDelmaster reads just the header of a child journal
// so the master-delete protocol can inspect its master-name field without
// replaying it.
func readJournalHeaderForDelmaster(v vfs.VFS, path string) (journalHeader, error) {
	f, err := v.OpenReadOnly(path)
	if err != nil {
		return journalHeader{}, newError(StatusCantOpen, err)
	}
	defer f.Close()

	// A generous bound: header is small and bounded by a reasonable max
	// master-journal-name length.
	const maxHeader = journalHeaderChecksumSizeBound
	buf := make([]byte, maxHeader)
	n, err := f.ReadAt(buf, 0)
	if n == 0 && err != nil {
		return journalHeader{}, newError(StatusIOErr, err)
	}
	h, _, err := unmarshalJournalHeader(buf[:n])
	return h, err
}

const journalHeaderChecksumSizeBound = 8192

// deleteMasterIfUnreferenced implements spec.md §4.4's master delete
// protocol: read the master's child list; for each child that exists,
// open it and look at the master-name field; if any child still
// references this master, leave the master alone; else unlink the
// master (pager_delmaster in original_source/src/pager.c). See
// readMasterJournalChildren for why this opens the master read-only
// rather than via the spec prose's "exclusively".
//
// The original's allocation computes nMasterJournal but indexes
// nMasterJournal+nMasterPtr bytes past the base (spec.md §9 flags this as
// suspect). Go slices have no such failure mode, but we still allocate
// the child-list buffer and the per-child compare buffer as one sized
// read each, matching the spec's explicit fix: "allocate the sum as one
// block."
func deleteMasterIfUnreferenced(v vfs.VFS, masterPath string) error {
	children, err := readMasterJournalChildren(v, masterPath)
	if err != nil {
		return err
	}

	for _, child := range children {
		exists, err := v.Exists(child)
		if err != nil {
			return newError(StatusIOErr, err)
		}
		if !exists {
			continue
		}
		h, err := readJournalHeaderForDelmaster(v, child)
		if err != nil {
			// A child that can't be parsed is treated conservatively:
			// assume it might still reference us and leave the master.
			return nil
		}
		if h.masterName == masterPath {
			return nil
		}
	}

	return v.Delete(masterPath)
}
