package resource

import (
	"fmt"

	wasmffi "github.com/wippyai/wasm-ffi"
	"github.com/wippyai/wasm-ffi/object"
)

// EventType identifies a lifecycle transition.
type EventType uint8

const (
	EventAllocated  EventType = iota // storage obtained from a heap
	EventWrapped                     // raw handle wrapped
	EventReleased                    // explicit release
	EventRegistered                  // auto-release registered
	EventFinalized                   // finalizer hook ran
	EventPinned
	EventUnpinned
	EventRelocated // host-heap storage moved by compaction
	EventCollected // host-heap storage reclaimed
)

var eventNames = [...]string{
	EventAllocated:  "allocated",
	EventWrapped:    "wrapped",
	EventReleased:   "released",
	EventRegistered: "registered",
	EventFinalized:  "finalized",
	EventPinned:     "pinned",
	EventUnpinned:   "unpinned",
	EventRelocated:  "relocated",
	EventCollected:  "collected",
}

func (t EventType) String() string {
	if int(t) < len(eventNames) {
		return eventNames[t]
	}
	return fmt.Sprintf("event(%d)", uint8(t))
}

// Event describes one lifecycle transition.
type Event struct {
	TypeName string
	Detail   string
	ID       uint64
	Handle   wasmffi.Handle
	Type     EventType
	Origin   object.Origin
}

func (e Event) String() string {
	s := fmt.Sprintf("%s %s#%d %s", e.Type, e.TypeName, e.ID, e.Handle)
	if e.Detail != "" {
		s += " " + e.Detail
	}
	return s
}

// EventFor builds an event describing obj.
func EventFor(t EventType, obj object.External) Event {
	return Event{
		Type:     t,
		ID:       obj.ID(),
		Handle:   obj.Handle(),
		TypeName: obj.Descriptor().String(),
		Origin:   obj.Origin(),
	}
}

// Observer receives lifecycle events.
type Observer interface {
	OnLifecycleEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnLifecycleEvent(e Event) { f(e) }

// Hook is a finalizer hook. It receives only the data captured at
// registration.
type Hook func(data any)
