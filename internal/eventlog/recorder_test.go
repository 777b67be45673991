package eventlog

import (
	"testing"

	"github.com/wippyai/wasm-ffi/resource"
)

func TestRecorder(t *testing.T) {
	rec := &Recorder{}
	rec.OnLifecycleEvent(resource.Event{Type: resource.EventAllocated, ID: 1})
	rec.OnLifecycleEvent(resource.Event{Type: resource.EventReleased, ID: 1})
	rec.OnLifecycleEvent(resource.Event{Type: resource.EventAllocated, ID: 2})

	if rec.Count(resource.EventAllocated) != 2 || rec.Count(resource.EventReleased) != 1 {
		t.Errorf("counts off: %v", rec.Events())
	}
	events := rec.Events()
	events[0].ID = 99
	if rec.Events()[0].ID != 1 {
		t.Error("Events shares storage with the recorder")
	}
	rec.Reset()
	if len(rec.Events()) != 0 {
		t.Errorf("after Reset: %v", rec.Events())
	}
}
