package pager

// BusyHandler is consulted whenever the OS lock primitive returns
// vfs.ErrBusy (spec.md §5: "the configured busy handler is invoked with a
// retry count; if it returns non-zero, the lock is retried; otherwise
// BUSY propagates"). It must not close the database (spec.md §5).
type BusyHandler interface {
	// Retry is called with the number of prior attempts (starting at 0).
	// Returning true asks the pager to retry the lock; false gives up and
	// surfaces StatusBusy.
	Retry(attempt int) bool
}

// NoRetryBusyHandler never retries; BUSY propagates on the first
// conflict. SetBusyHandler(nil) installs it; Open with a nil
// Config.BusyHandler installs BoundedBusyHandler{MaxAttempts: 5} instead.
type NoRetryBusyHandler struct{}

func (NoRetryBusyHandler) Retry(int) bool { return false }

// BoundedBusyHandler retries up to MaxAttempts times.
type BoundedBusyHandler struct {
	MaxAttempts int
}

func (h BoundedBusyHandler) Retry(attempt int) bool {
	return attempt < h.MaxAttempts
}
