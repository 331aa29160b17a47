package embeddb

import (
	"context"
	"fmt"

	"github.com/embeddb/embeddb/internal/pager"
	"github.com/embeddb/embeddb/internal/vfs"
)

// CommitGroup coordinates an atomic commit across multiple database
// files using the master-journal protocol of spec.md §4.4: every
// member's journal header records a back-reference to one master
// journal, which lists every member's journal path. If the process
// dies partway through the per-member commit loop below, recovery on
// each member finds its own hot journal and, via the master's child
// list, can tell the transaction was part of a group that didn't
// finish — see internal/pager/recovery.go and master.go.
//
// Callers must not write to a member through any path but the
// CommitGroup once NewCommitGroup has bound it, until Commit or
// Abandon runs: SetMasterJournalName only takes effect on that
// member's next write transaction.
type CommitGroup struct {
	path    string
	members []*DB
}

// NewCommitGroup binds path as the shared master journal for members,
// installing the back-reference on each one immediately. path must
// not collide with any member's own journal path.
func NewCommitGroup(path string, members ...*DB) *CommitGroup {
	for _, m := range members {
		m.SetMasterJournalName(path)
	}
	return &CommitGroup{path: path, members: members}
}

// Commit writes the master journal listing every member's current
// journal path, then commits each member in turn. Once the master
// journal is on disk, the group is durably atomic: a crash before all
// members commit leaves hot journals that recovery replays using the
// master's child list (deleteMasterIfUnreferenced), and a crash after
// the last member commits leaves no member still referencing the
// master, so the next open deletes it.
func (g *CommitGroup) Commit(ctx context.Context) error {
	children := make([]string, len(g.members))
	for i, m := range g.members {
		children[i] = m.JournalPath()
	}

	if err := pager.WriteMasterJournal(vfs.OS, g.path, children); err != nil {
		return fmt.Errorf("commitgroup: write master journal: %w", err)
	}

	for i, m := range g.members {
		if err := m.Commit(ctx); err != nil {
			return fmt.Errorf("commitgroup: commit member %d of %d: %w", i+1, len(g.members), err)
		}
	}
	return nil
}

// Abandon rolls back every member without ever writing the master
// journal, for a caller that decides not to commit the group after
// all.
func (g *CommitGroup) Abandon(ctx context.Context) error {
	var firstErr error
	for _, m := range g.members {
		if err := m.Rollback(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("commitgroup: rollback member: %w", err)
		}
	}
	return firstErr
}
