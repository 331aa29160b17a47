package pager

// State is the pager's lifecycle state of spec.md §4.1: it climbs
// UNLOCK -> SHARED -> RESERVED -> EXCLUSIVE -> SYNCED monotonically, and
// falls back to SHARED (commit/rollback) or UNLOCK (release).
type State int

const (
	StateUnlock State = iota
	StateShared
	StateReserved
	StateExclusive
	StateSynced
)

func (s State) String() string {
	switch s {
	case StateUnlock:
		return "UNLOCK"
	case StateShared:
		return "SHARED"
	case StateReserved:
		return "RESERVED"
	case StateExclusive:
		return "EXCLUSIVE"
	case StateSynced:
		return "SYNCED"
	default:
		return "UNKNOWN"
	}
}

// atLeast reports whether s has climbed to at least min on the ladder.
func (s State) atLeast(min State) bool { return s >= min }
