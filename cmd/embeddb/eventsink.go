package main

import (
	"github.com/embeddb/embeddb/internal/observe"
	"github.com/embeddb/embeddb/internal/pager"
)

// hubEventSink adapts pager.EventSink onto an observe.Hub broadcast, the
// same role maintenance.Checkpointer plays for the scheduler: this
// package is the only one that imports both internal/pager and
// internal/observe, so the bridge lives here rather than creating an
// import cycle between them.
type hubEventSink struct {
	hub *observe.Hub
}

func (s hubEventSink) StateChanged(from, to pager.State) {
	s.hub.Broadcast(observe.Event{
		Type: observe.EventStateChange,
		Detail: map[string]any{
			"from": from.String(),
			"to":   to.String(),
		},
	})
}

func (s hubEventSink) Rollback() {
	s.hub.Broadcast(observe.Event{Type: observe.EventRollback})
}

func (s hubEventSink) Evicted(pgno pager.PageNumber) {
	s.hub.Broadcast(observe.Event{
		Type:   observe.EventEviction,
		Detail: map[string]any{"pgno": uint32(pgno)},
	})
}
