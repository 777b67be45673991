// Package eventlog records lifecycle events for tests.
package eventlog

import (
	"sync"

	"github.com/wippyai/wasm-ffi/resource"
)

// Recorder is an observer that keeps every event it receives.
type Recorder struct {
	events []resource.Event
	mu     sync.Mutex
}

var _ resource.Observer = (*Recorder)(nil)

func (r *Recorder) OnLifecycleEvent(e resource.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []resource.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]resource.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t resource.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// Reset drops the recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
