package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	wasmffi "github.com/wippyai/wasm-ffi"
	"github.com/wippyai/wasm-ffi/errors"
	"github.com/wippyai/wasm-ffi/hostheap"
	"github.com/wippyai/wasm-ffi/layout"
	"github.com/wippyai/wasm-ffi/object"
	"github.com/wippyai/wasm-ffi/pin"
	"github.com/wippyai/wasm-ffi/resource"
)

// Factory returns an unbound object of a binding type, such as a struct
// embedding object.Struct. The manager binds it to its descriptor and
// handle.
type Factory func() object.External

type allocation struct {
	size  uint32
	align uint32
}

// Manager owns the lifecycle of external objects over one foreign memory.
// It is safe for concurrent use.
type Manager struct {
	types     *layout.Registry
	mem       wasmffi.Memory
	alloc     wasmffi.Allocator
	space     *hostheap.Space
	spaceMem  wasmffi.Memory
	logger    *zap.Logger
	pins      *pin.Registry
	table     *resource.FinalizationTable
	factories map[string]Factory
	allocs    map[uint32]allocation
	released  map[uint32]struct{}
	observers resource.Observers
	mu        sync.Mutex
	spaceBase uint32
	spaceSize uint32
	tracking  bool

	finalized    atomic.Uint64
	releaseCount atomic.Uint64
}

// Stats is a snapshot of the manager.
type Stats struct {
	Host        hostheap.Stats
	Foreign     int // live allocations made by this manager
	AutoRelease int // registered and not yet finalized
	Pinned      int
	Released    uint64
	Finalized   uint64
	HasSpace    bool
}

// New returns a manager allocating from alloc in mem and resolving type
// names in types. alloc may be nil when only wrapping and host allocation
// are needed.
func New(types *layout.Registry, mem wasmffi.Memory, alloc wasmffi.Allocator, opts ...Option) *Manager {
	m := &Manager{
		types:     types,
		mem:       mem,
		alloc:     alloc,
		logger:    Logger(),
		pins:      pin.NewRegistry(),
		table:     resource.NewFinalizationTable(),
		factories: make(map[string]Factory),
		allocs:    make(map[uint32]allocation),
		released:  make(map[uint32]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.spaceMem != nil && m.spaceSize > 0 {
		m.space = hostheap.New(m.spaceMem, m.spaceBase, m.spaceSize,
			hostheap.WithPinned(m.pins.Pinned),
			hostheap.WithObserver(resource.ObserverFunc(m.observers.Notify)))
	}
	return m
}

// Registry returns the type registry.
func (m *Manager) Registry() *layout.Registry { return m.types }

// Memory returns the foreign memory.
func (m *Manager) Memory() wasmffi.Memory { return m.mem }

// Space returns the host space, or nil if none was configured.
func (m *Manager) Space() *hostheap.Space { return m.space }

// Guard blocks host-space compaction until Unguard. It is held around
// foreign calls. Without a host space it does nothing.
func (m *Manager) Guard() {
	if m.space != nil {
		m.space.Guard()
	}
}

// Unguard releases a Guard.
func (m *Manager) Unguard() {
	if m.space != nil {
		m.space.Unguard()
	}
}

// Subscribe registers o for lifecycle events and returns a function that
// removes it.
func (m *Manager) Subscribe(o resource.Observer) (cancel func()) {
	return m.observers.Subscribe(o)
}

// RegisterFactory makes objects of typeName, however they are produced, be
// instances of the type fn returns.
func (m *Manager) RegisterFactory(typeName string, fn Factory) error {
	desc, err := m.resolve(typeName)
	if err != nil {
		return err
	}
	if fn == nil {
		return errors.InvalidInput(errors.PhaseDefine, "nil factory for "+desc.String())
	}
	probe := fn()
	if err := object.Bind(probe, desc, wasmffi.Null, object.ForeignHeap, nil); err != nil {
		return err
	}

	m.mu.Lock()
	m.factories[desc.Name] = fn
	m.mu.Unlock()
	return nil
}

func (m *Manager) resolve(typeName string) (*layout.Descriptor, error) {
	if m.types == nil {
		return nil, errors.NotInitialized(errors.PhaseDefine, "type registry")
	}
	desc, err := m.types.Resolve(typeName)
	if err != nil {
		return nil, err
	}
	ext := desc.External()
	if ext == nil {
		return nil, errors.New(errors.PhaseDefine, errors.KindTypeMismatch).
			Type(desc.String()).
			Detail("%s is not an external object type", desc.Kind).Build()
	}
	return ext, nil
}

// construct builds the object for desc, using a registered factory when
// there is one.
func (m *Manager) construct(desc *layout.Descriptor, h wasmffi.Handle, origin object.Origin, mem wasmffi.Memory) (object.External, error) {
	m.mu.Lock()
	fn := m.factories[desc.Name]
	m.mu.Unlock()

	if fn == nil {
		return object.Wrap(desc, h, origin, mem)
	}
	ext := fn()
	if err := object.Bind(ext, desc, h, origin, mem); err != nil {
		return nil, err
	}
	return ext, nil
}

// AllocateForeign allocates zeroed foreign storage for typeName. The object
// has ForeignHeap origin and must be released by the caller, directly or
// through AutoRelease.
func (m *Manager) AllocateForeign(typeName string) (object.External, error) {
	desc, err := m.resolve(typeName)
	if err != nil {
		return nil, err
	}
	if desc.Size == 0 {
		return nil, errors.New(errors.PhaseAllocate, errors.KindInvalidInput).
			Type(desc.String()).
			Detail("%s has no layout size; use AllocateForeignSized", desc).Build()
	}
	return m.allocateForeign(desc, desc.Size)
}

// AllocateForeignSized allocates size zeroed bytes for typeName. It serves
// opaque types, whose size is known only to foreign code, and types with
// trailing storage. size may not be smaller than the type's layout.
func (m *Manager) AllocateForeignSized(typeName string, size uint32) (object.External, error) {
	desc, err := m.resolve(typeName)
	if err != nil {
		return nil, err
	}
	if size == 0 || size < desc.Size {
		return nil, errors.New(errors.PhaseAllocate, errors.KindInvalidInput).
			Type(desc.String()).
			Detail("size %d is smaller than the %d-byte layout", size, desc.Size).Build()
	}
	return m.allocateForeign(desc, size)
}

func (m *Manager) allocateForeign(desc *layout.Descriptor, size uint32) (object.External, error) {
	if m.alloc == nil {
		return nil, errors.NotInitialized(errors.PhaseAllocate, "foreign allocator")
	}
	if m.mem == nil {
		return nil, errors.NotInitialized(errors.PhaseAllocate, "foreign memory")
	}

	align := desc.Align
	if align == 0 {
		align = 1
	}
	addr, err := m.alloc.Alloc(size, align)
	if err != nil {
		if errors.IsAllocation(err) {
			return nil, err
		}
		return nil, errors.AllocationFailed(errors.PhaseAllocate, size, align, err)
	}
	if err := m.mem.Write(addr, make([]byte, size)); err != nil {
		m.alloc.Free(addr, size, align)
		return nil, errors.AllocationFailed(errors.PhaseAllocate, size, align, err)
	}

	ext, err := m.construct(desc, wasmffi.Handle(addr), object.ForeignHeap, m.mem)
	if err != nil {
		m.alloc.Free(addr, size, align)
		return nil, err
	}

	m.mu.Lock()
	m.allocs[addr] = allocation{size: size, align: align}
	delete(m.released, addr)
	m.mu.Unlock()

	m.emit(resource.EventFor(resource.EventAllocated, ext))
	return ext, nil
}

// AllocateHost allocates zeroed storage for typeName in the host space.
// The object is owned by the Go collector; it cannot be released and its
// handle changes when the space is compacted unless it is pinned.
func (m *Manager) AllocateHost(typeName string) (object.External, error) {
	desc, err := m.resolve(typeName)
	if err != nil {
		return nil, err
	}
	if m.space == nil {
		return nil, errors.NotInitialized(errors.PhaseAllocate, "host space")
	}

	ext, err := m.construct(desc, wasmffi.Null, object.HostHeap, m.space.Memory())
	if err != nil {
		return nil, err
	}
	if _, err := m.space.Alloc(ext.Base(), desc.Size, desc.Align); err != nil {
		return nil, err
	}

	m.emit(resource.EventFor(resource.EventAllocated, ext))
	return ext, nil
}

// WrapHandle wraps a raw foreign address as typeName without taking
// ownership. A Null handle produces an object whose accesses fail.
func (m *Manager) WrapHandle(typeName string, h wasmffi.Handle) (object.External, error) {
	desc, err := m.resolve(typeName)
	if err != nil {
		return nil, err
	}
	return m.Wrap(desc, h)
}

// Wrap is WrapHandle for a resolved descriptor. A pointer descriptor wraps
// its target type. With alias tracking, wrapping an address marks it live
// again, since the foreign allocator may have reused it.
func (m *Manager) Wrap(desc *layout.Descriptor, h wasmffi.Handle) (object.External, error) {
	if desc == nil {
		return nil, errors.InvalidInput(errors.PhaseUnmarshal, "nil type descriptor")
	}
	ext := desc.External()
	if ext == nil {
		return nil, errors.New(errors.PhaseUnmarshal, errors.KindTypeMismatch).
			Type(desc.String()).
			Detail("%s is not an external object type", desc.Kind).Build()
	}

	obj, err := m.construct(ext, h, object.ForeignHeap, m.mem)
	if err != nil {
		return nil, err
	}
	if m.tracking && !h.IsNull() {
		// foreign code handed the address out again
		m.mu.Lock()
		delete(m.released, h.Addr())
		m.mu.Unlock()
	}
	m.emit(resource.EventFor(resource.EventWrapped, obj))
	return obj, nil
}

// Release frees obj's foreign storage, cancels its auto-release and sets
// its handle to Null. Host-heap objects cannot be released. Releasing an
// object whose handle is already Null is a use-after-release error. When
// the storage cannot be freed obj keeps its handle and registration.
func (m *Manager) Release(obj object.External) error {
	base, err := releasable(errors.PhaseRelease, obj)
	if err != nil {
		return err
	}

	h := base.SwapHandle(wasmffi.Null)
	if h.IsNull() {
		return errors.UseAfterRelease(errors.PhaseRelease, base.TypeName())
	}
	if err := m.free(h, base.Descriptor()); err != nil {
		// nothing was freed; the object stays as it was
		base.SwapHandle(h)
		return err
	}

	if e, ok := m.table.Remove(base.ID()); ok {
		e.Stop()
		e.Disarm()
	}
	base.SetAutoReleaseFlag(false)
	m.releaseCount.Add(1)

	ev := resource.EventFor(resource.EventReleased, obj)
	ev.Handle = h
	m.emit(ev)
	return nil
}

// releasable checks that obj owns foreign storage that may be freed.
func releasable(phase errors.Phase, obj object.External) (*object.Object, error) {
	if obj == nil {
		return nil, errors.InvalidInput(phase, "nil object")
	}
	base := obj.Base()
	if base.Origin() != object.ForeignHeap {
		return nil, errors.WrongOrigin(phase, base.TypeName(), base.Origin().String())
	}
	if base.Root() != base {
		return nil, errors.New(phase, errors.KindInvalidInput).
			Type(base.TypeName()).
			Detail("nested view does not own its storage").Build()
	}
	return base, nil
}

// free returns the storage at h to the allocator. Sizes recorded at
// allocation win over the descriptor, which is all a wrapped handle has.
func (m *Manager) free(h wasmffi.Handle, desc *layout.Descriptor) error {
	if m.alloc == nil {
		return errors.NotInitialized(errors.PhaseRelease, "foreign allocator")
	}
	addr := h.Addr()

	m.mu.Lock()
	if m.tracking {
		if _, dup := m.released[addr]; dup {
			m.mu.Unlock()
			return errors.DoubleRelease(addr)
		}
		m.released[addr] = struct{}{}
	}
	a, ok := m.allocs[addr]
	delete(m.allocs, addr)
	m.mu.Unlock()

	if !ok && desc != nil {
		a = allocation{size: desc.Size, align: desc.Align}
	}
	m.alloc.Free(addr, a.size, a.align)
	return nil
}

// Pin keeps obj's host-heap storage in place across compactions. It does
// not keep obj alive. Foreign-heap objects never move; pinning them does
// nothing and reports false.
func (m *Manager) Pin(obj object.External) bool {
	return m.SetPinned(obj, true)
}

// Unpin lets obj's storage move again. It reports whether obj was pinned.
func (m *Manager) Unpin(obj object.External) bool {
	was := m.pins.IsPinned(obj)
	m.SetPinned(obj, false)
	return was
}

// IsPinned reports whether obj's storage is pinned.
func (m *Manager) IsPinned(obj object.External) bool {
	return m.pins.IsPinned(obj)
}

// SetPinned pins or unpins obj and reports the resulting state.
func (m *Manager) SetPinned(obj object.External, pinned bool) bool {
	if obj == nil {
		return false
	}
	was := m.pins.IsPinned(obj)
	now := m.pins.SetPinned(obj, pinned)
	switch {
	case now && !was:
		m.emit(resource.EventFor(resource.EventPinned, obj.Base().Root()))
	case was && !now:
		m.emit(resource.EventFor(resource.EventUnpinned, obj.Base().Root()))
	}
	return now
}

// Stats returns a snapshot of the manager.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	foreign := len(m.allocs)
	m.mu.Unlock()

	st := Stats{
		Foreign:     foreign,
		AutoRelease: m.table.Len(),
		Pinned:      m.pins.Len(),
		Released:    m.releaseCount.Load(),
		Finalized:   m.finalized.Load(),
	}
	if m.space != nil {
		st.HasSpace = true
		st.Host = m.space.Stats()
	}
	return st
}

func (m *Manager) emit(e resource.Event) {
	m.observers.Notify(e)
}

// Close releases nothing; it drops pending auto-release registrations so
// their hooks do not run against a closed module.
func (m *Manager) Close(ctx context.Context) error {
	n := 0
	m.table.Each(func(e *resource.Entry) bool {
		if ctx.Err() != nil {
			return false
		}
		if _, ok := m.table.Remove(e.ID); ok {
			e.Stop()
			e.Disarm()
			n++
		}
		return true
	})
	if n > 0 {
		m.logger.Debug("dropped pending auto-release registrations", zap.Int("count", n))
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("close lifecycle manager: %w", err)
	}
	return nil
}

// As converts the result of an allocation or wrap to a binding type
// registered with RegisterFactory.
//
//	p, err := lifecycle.As[*Pair](m.AllocateForeign("Pair"))
func As[T object.External](ext object.External, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	v, ok := ext.(T)
	if !ok {
		return zero, errors.TypeMismatch(errors.PhaseAllocate, nil,
			fmt.Sprintf("%T", zero), ext.Descriptor().String())
	}
	return v, nil
}
