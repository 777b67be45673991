// Package hostheap is the host memory manager for host-heap objects: a
// garbage-collected, compacting arena inside linear memory.
//
// Objects allocated here are owned by the Go collector. A slot holds only a
// weak reference to its object; once the object is unreachable, Sweep
// reclaims the slot. Compact slides live objects toward the base of the
// space and rewrites their handles, which is exactly the hazard foreign
// code faces when it keeps a raw address: after compaction the address may
// hold a different object. Pinned objects never move and act as barriers.
//
// Compaction takes the write side of the space guard. Foreign calls and
// object accessors hold the read side, so storage never moves under an
// in-flight call.
package hostheap

import (
	"fmt"
	"sort"
	"sync"
	"weak"

	"go.uber.org/zap"

	wasmffi "github.com/wippyai/wasm-ffi"
	"github.com/wippyai/wasm-ffi/errors"
	"github.com/wippyai/wasm-ffi/layout"
	"github.com/wippyai/wasm-ffi/object"
	"github.com/wippyai/wasm-ffi/resource"
)

type slot struct {
	ref      weak.Pointer[object.Object]
	typeName string
	id       uint64
	addr     uint32
	size     uint32
	align    uint32
}

// Stats is a snapshot of the space.
type Stats struct {
	Base        uint32
	Limit       uint32
	Top         uint32
	Used        uint32 // bytes held by live slots
	Live        int
	Relocations uint64
	Collected   uint64
}

// Option configures a Space.
type Option func(*Space)

// WithPinned sets the predicate consulted by compactions the space starts
// on its own when it runs out of room.
func WithPinned(fn func(id uint64) bool) Option {
	return func(s *Space) {
		s.pinned = fn
	}
}

// WithObserver delivers collected and relocated events to o.
func WithObserver(o resource.Observer) Option {
	return func(s *Space) {
		s.observer = o
	}
}

// Space is a compacting arena over [base, base+size) of a memory.
type Space struct {
	mem         wasmffi.Memory
	pinned      func(id uint64) bool
	observer    resource.Observer
	slots       []slot
	guard       sync.RWMutex
	mu          sync.Mutex
	base        uint32
	limit       uint32
	top         uint32
	relocations uint64
	collected   uint64
}

var _ object.Guard = (*Space)(nil)

// New returns a space over [base, base+size) of mem.
func New(mem wasmffi.Memory, base, size uint32, opts ...Option) *Space {
	s := &Space{
		mem:   mem,
		base:  base,
		limit: base + size,
		top:   base,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Memory returns the memory the space lives in.
func (s *Space) Memory() wasmffi.Memory {
	return s.mem
}

// Guard blocks compaction until Unguard. Guards may be held concurrently.
func (s *Space) Guard() { s.guard.RLock() }

// Unguard releases a Guard.
func (s *Space) Unguard() { s.guard.RUnlock() }

// Contains reports whether h points into the space.
func (s *Space) Contains(h wasmffi.Handle) bool {
	return !h.IsNull() && h.Addr() >= s.base && h.Addr() < s.limit
}

// Alloc reserves zeroed storage for obj and sets its handle. When the space
// is full it sweeps and compacts once before failing with an allocation
// error.
func (s *Space) Alloc(obj *object.Object, size, align uint32) (wasmffi.Handle, error) {
	if obj == nil {
		return wasmffi.Null, errors.InvalidInput(errors.PhaseAllocate, "nil object")
	}
	if size == 0 {
		size = 1
	}
	if align == 0 {
		align = 1
	}

	h, ok, err := s.tryAlloc(obj, size, align)
	if err != nil || ok {
		return h, err
	}

	// Compaction needs the write side of the guard. A caller inside a
	// guarded section cannot wait for it, so only sweep in that case.
	if s.guard.TryLock() {
		_, _ = s.compactLocked(s.pinned)
		s.guard.Unlock()
	} else {
		s.Sweep()
	}

	h, ok, err = s.tryAlloc(obj, size, align)
	if err != nil || ok {
		return h, err
	}
	return wasmffi.Null, errors.AllocationFailed(errors.PhaseAllocate, size, align,
		fmt.Errorf("host space exhausted (%d of %d bytes in use)", s.Stats().Used, s.limit-s.base))
}

func (s *Space) tryAlloc(obj *object.Object, size, align uint32) (wasmffi.Handle, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := layout.AlignTo(s.top, align)
	if uint64(addr)+uint64(size) > uint64(s.limit) {
		return wasmffi.Null, false, nil
	}
	if err := s.mem.Write(addr, make([]byte, size)); err != nil {
		return wasmffi.Null, false, errors.AllocationFailed(errors.PhaseAllocate, size, align, err)
	}

	s.slots = append(s.slots, slot{
		ref:      weak.Make(obj),
		typeName: obj.TypeName(),
		id:       obj.ID(),
		addr:     addr,
		size:     size,
		align:    align,
	})
	s.top = addr + size

	h := wasmffi.Handle(addr)
	obj.SetHandle(h)
	obj.SetGuard(s)
	return h, true, nil
}

// Sweep reclaims the slots of unreachable objects and returns how many
// were reclaimed. Live objects do not move.
func (s *Space) Sweep() int {
	s.mu.Lock()
	var dead []slot
	live := s.slots[:0]
	for _, sl := range s.slots {
		if sl.ref.Value() == nil {
			dead = append(dead, sl)
			continue
		}
		live = append(live, sl)
	}
	s.slots = live
	s.top = s.base
	if n := len(s.slots); n > 0 {
		last := s.slots[n-1]
		s.top = last.addr + last.size
	}
	s.collected += uint64(len(dead))
	s.mu.Unlock()

	for _, sl := range dead {
		s.notify(resource.Event{
			Type:     resource.EventCollected,
			ID:       sl.id,
			Handle:   wasmffi.Handle(sl.addr),
			TypeName: sl.typeName,
			Origin:   object.HostHeap,
		})
	}
	return len(dead)
}

// Compact reclaims dead slots and slides live unpinned objects toward the
// base, rewriting their handles. Objects for which pinned reports true stay
// where they are. It returns the number of relocated objects.
func (s *Space) Compact(pinned func(id uint64) bool) (int, error) {
	s.guard.Lock()
	defer s.guard.Unlock()
	return s.compactLocked(pinned)
}

type move struct {
	sl       slot
	from, to uint32
}

func (s *Space) compactLocked(pinned func(id uint64) bool) (int, error) {
	if pinned == nil {
		pinned = func(uint64) bool { return false }
	}

	s.mu.Lock()
	sort.Slice(s.slots, func(i, j int) bool { return s.slots[i].addr < s.slots[j].addr })

	var (
		dead  []slot
		moves []move
		err   error
	)
	kept := s.slots[:0]
	cursor := s.base
	for _, sl := range s.slots {
		obj := sl.ref.Value()
		if obj == nil {
			dead = append(dead, sl)
			continue
		}

		if !pinned(sl.id) {
			to := layout.AlignTo(cursor, sl.align)
			if to < sl.addr {
				moved, moveErr := s.relocate(obj, sl, to)
				if moveErr != nil {
					err = moveErr
				} else if moved {
					moves = append(moves, move{sl: sl, from: sl.addr, to: to})
					sl.addr = to
				}
			}
		}
		kept = append(kept, sl)
		if end := sl.addr + sl.size; end > cursor {
			cursor = end
		}
	}
	s.slots = kept
	s.top = cursor
	s.collected += uint64(len(dead))
	s.relocations += uint64(len(moves))
	s.mu.Unlock()

	for _, sl := range dead {
		s.notify(resource.Event{
			Type:     resource.EventCollected,
			ID:       sl.id,
			Handle:   wasmffi.Handle(sl.addr),
			TypeName: sl.typeName,
			Origin:   object.HostHeap,
		})
	}
	for _, m := range moves {
		Logger().Debug("relocated host object",
			zap.String("type", m.sl.typeName),
			zap.Uint64("id", m.sl.id),
			zap.Stringer("from", wasmffi.Handle(m.from)),
			zap.Stringer("to", wasmffi.Handle(m.to)))
		s.notify(resource.Event{
			Type:     resource.EventRelocated,
			ID:       m.sl.id,
			Handle:   wasmffi.Handle(m.to),
			TypeName: m.sl.typeName,
			Origin:   object.HostHeap,
			Detail:   fmt.Sprintf("from %s", wasmffi.Handle(m.from)),
		})
	}
	return len(moves), err
}

// relocate copies the slot's bytes to addr and moves the object's handle.
func (s *Space) relocate(obj *object.Object, sl slot, to uint32) (bool, error) {
	data, err := s.mem.Read(sl.addr, sl.size)
	if err != nil {
		return false, errors.Wrap(errors.PhaseAllocate, errors.KindOutOfBounds, err, "compaction read")
	}
	if err := s.mem.Write(to, data); err != nil {
		return false, errors.Wrap(errors.PhaseAllocate, errors.KindOutOfBounds, err, "compaction write")
	}
	if !obj.Relocate(wasmffi.Handle(sl.addr), wasmffi.Handle(to)) {
		Logger().Warn("host object handle changed during compaction",
			zap.Uint64("id", sl.id),
			zap.Stringer("handle", obj.Handle()))
		return false, nil
	}
	return true, nil
}

func (s *Space) notify(e resource.Event) {
	if s.observer != nil {
		s.observer.OnLifecycleEvent(e)
	}
}

// Stats returns a snapshot of the space.
func (s *Space) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Base:        s.base,
		Limit:       s.limit,
		Top:         s.top,
		Relocations: s.relocations,
		Collected:   s.collected,
	}
	for _, sl := range s.slots {
		st.Used += sl.size
		st.Live++
	}
	return st
}
