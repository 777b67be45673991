package resource

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"weak"

	wasmffi "github.com/wippyai/wasm-ffi"
	"github.com/wippyai/wasm-ffi/object"
)

// Entry is the finalization record of one object.
type Entry struct {
	Data     any
	Hook     Hook
	ref      weak.Pointer[object.Object]
	cleanup  runtime.Cleanup
	TypeName string
	ID       uint64
	Handle   wasmffi.Handle
	Origin   object.Origin
	once     sync.Once
}

// NewEntry captures the state needed to finalize obj. It keeps only a weak
// reference to obj.
func NewEntry(obj object.External, data any, hook Hook) *Entry {
	return &Entry{
		ID:       obj.ID(),
		TypeName: obj.Descriptor().String(),
		Handle:   obj.Handle(),
		Origin:   obj.Origin(),
		Data:     data,
		Hook:     hook,
		ref:      weak.Make(obj.Base()),
	}
}

// Alive reports whether the object is still reachable.
func (e *Entry) Alive() bool {
	return e.ref.Value() != nil
}

// SetCleanup records the runtime cleanup registered for the object.
func (e *Entry) SetCleanup(c runtime.Cleanup) {
	e.cleanup = c
}

// Stop cancels the runtime cleanup so the hook will not run on collection.
func (e *Entry) Stop() {
	e.cleanup.Stop()
}

// Run executes the hook once. Later calls do nothing and report false. A
// panic in the hook is recovered and returned as an error.
func (e *Entry) Run() (ran bool, err error) {
	e.once.Do(func() {
		ran = true
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("finalizer for %s#%d panicked: %v", e.TypeName, e.ID, r)
			}
		}()
		if e.Hook != nil {
			e.Hook(e.Data)
		}
	})
	return ran, err
}

// Disarm marks the entry as done without running the hook.
func (e *Entry) Disarm() bool {
	disarmed := false
	e.once.Do(func() { disarmed = true })
	return disarmed
}

// FinalizationTable maps object identities to their finalization entries.
type FinalizationTable struct {
	entries map[uint64]*Entry
	mu      sync.Mutex
}

// NewFinalizationTable returns an empty table.
func NewFinalizationTable() *FinalizationTable {
	return &FinalizationTable{entries: make(map[uint64]*Entry)}
}

// Insert adds e. It reports false if the identity is already registered.
func (t *FinalizationTable) Insert(e *Entry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[e.ID]; ok {
		return false
	}
	t.entries[e.ID] = e
	return true
}

// Get returns the entry for id.
func (t *FinalizationTable) Get(id uint64) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	return e, ok
}

// Remove deletes the entry for id. It is idempotent.
func (t *FinalizationTable) Remove(id uint64) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return e, ok
}

// Len returns the number of registered entries.
func (t *FinalizationTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Dead returns the number of entries whose object is no longer reachable
// but whose hook has not run yet.
func (t *FinalizationTable) Dead() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.entries {
		if !e.Alive() {
			n++
		}
	}
	return n
}

// Each calls fn for every entry in identity order until fn returns false.
// The table is not locked while fn runs.
func (t *FinalizationTable) Each(fn func(*Entry) bool) {
	t.mu.Lock()
	list := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		list = append(list, e)
	}
	t.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	for _, e := range list {
		if !fn(e) {
			return
		}
	}
}
