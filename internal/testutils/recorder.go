package testutils

import (
	"sync"

	"github.com/effectus/progressive-go/notify"
)

// Recorder collects published events.
type Recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

// Handle implements notify.Handler.
func (r *Recorder) Handle(event notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

// OfKind returns the recorded events of one kind.
func (r *Recorder) OfKind(kind notify.Kind) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, event := range r.events {
		if event.Kind == kind {
			out = append(out, event)
		}
	}
	return out
}

// Revealed returns the ids of elements that became visible, in order.
func (r *Recorder) Revealed() []string {
	var ids []string
	for _, event := range r.OfKind(notify.VisibilityChanged) {
		if payload, ok := event.Payload.(notify.Visibility); ok && payload.Visible {
			ids = append(ids, payload.ElementID)
		}
	}
	return ids
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
