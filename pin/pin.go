// Package pin is the pinning registry: the set of host-heap objects whose
// storage the host memory manager must not relocate.
//
// Membership guarantees address stability only. The registry holds weak
// references, so a pinned object that becomes unreachable is still
// collected, and finalized if it was registered for auto-release. Prune
// drops the identities of such objects.
//
// Foreign-heap objects never move; pinning them is a no-op.
package pin

import (
	"sort"
	"sync"
	"weak"

	"github.com/wippyai/wasm-ffi/object"
)

// Registry is safe for concurrent use.
type Registry struct {
	pinned map[uint64]weak.Pointer[object.Object]
	mu     sync.RWMutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{pinned: make(map[uint64]weak.Pointer[object.Object])}
}

// storage returns the object owning obj's storage, or nil when obj does
// not live in the host heap.
func storage(obj object.External) *object.Object {
	if obj == nil || obj.Origin() != object.HostHeap {
		return nil
	}
	return obj.Base().Root()
}

// Pin marks obj's storage as non-relocatable. It reports whether obj is
// pinned afterwards; foreign-heap objects report false.
func (r *Registry) Pin(obj object.External) bool {
	return r.SetPinned(obj, true)
}

// Unpin removes the pin. It reports whether obj was pinned.
func (r *Registry) Unpin(obj object.External) bool {
	base := storage(obj)
	if base == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pinned[base.ID()]
	delete(r.pinned, base.ID())
	base.SetPinnedFlag(false)
	return ok
}

// SetPinned pins or unpins obj. It reports the resulting pin state.
func (r *Registry) SetPinned(obj object.External, pinned bool) bool {
	if !pinned {
		r.Unpin(obj)
		return false
	}
	base := storage(obj)
	if base == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pinned[base.ID()] = weak.Make(base)
	base.SetPinnedFlag(true)
	return true
}

// IsPinned reports whether obj's storage is pinned.
func (r *Registry) IsPinned(obj object.External) bool {
	base := storage(obj)
	if base == nil {
		return false
	}
	return r.Pinned(base.ID())
}

// Pinned reports whether the identity id is pinned. It is the predicate
// handed to host-heap compaction.
func (r *Registry) Pinned(id uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pinned[id]
	return ok
}

// Len returns the number of pinned identities, including dead ones not yet
// pruned.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pinned)
}

// Prune drops identities whose objects were collected and returns how many
// were removed.
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, ref := range r.pinned {
		if ref.Value() == nil {
			delete(r.pinned, id)
			n++
		}
	}
	return n
}

// IDs returns the pinned identities in ascending order.
func (r *Registry) IDs() []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uint64, 0, len(r.pinned))
	for id := range r.pinned {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
