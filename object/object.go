package object

import (
	"fmt"
	"sync/atomic"

	wasmffi "github.com/wippyai/wasm-ffi"
	"github.com/wippyai/wasm-ffi/errors"
	"github.com/wippyai/wasm-ffi/layout"
)

// Origin records which heap owns an object's storage.
type Origin uint8

const (
	// HostHeap storage is GC-owned and may be relocated unless pinned.
	HostHeap Origin = iota
	// ForeignHeap storage is owned by the foreign allocator and never moves.
	ForeignHeap
)

func (o Origin) String() string {
	switch o {
	case HostHeap:
		return "host"
	case ForeignHeap:
		return "foreign"
	}
	return fmt.Sprintf("origin(%d)", uint8(o))
}

// Guard blocks relocation while held. Host-heap objects read and write
// their storage under it.
type Guard interface {
	Guard()
	Unguard()
}

// External is the capability set shared by every external object.
type External interface {
	Handle() wasmffi.Handle
	Descriptor() *layout.Descriptor
	Origin() Origin
	ID() uint64
	IsNull() bool
	IsPinned() bool
	IsAutoRelease() bool
	Base() *Object
}

// ResourceHolder lets a type choose what auto-release captures. The result
// must not reference the object itself.
type ResourceHolder interface {
	ResourceData() any
}

// ResourceFinalizer lets a type replace the default finalizer hook. It is
// called on the zero value of the type with the data captured at
// registration, never on the collected object.
type ResourceFinalizer interface {
	FinalizeResourceData(data any)
}

var nextID atomic.Uint64

// Object is the state shared by all variants.
type Object struct {
	desc   *layout.Descriptor
	mem    wasmffi.Memory
	guard  Guard
	parent *Object
	id     uint64
	handle atomic.Uint32
	offset uint32
	origin Origin
	auto   atomic.Bool
	pinned atomic.Bool
}

var _ External = (*Object)(nil)

func (o *Object) init(desc *layout.Descriptor, h wasmffi.Handle, origin Origin, mem wasmffi.Memory) {
	o.desc = desc
	o.mem = mem
	o.origin = origin
	o.id = nextID.Add(1)
	o.handle.Store(uint32(h))
}

// Handle returns the current foreign address. Sub-views derive theirs from
// the parent so they follow relocation and release.
func (o *Object) Handle() wasmffi.Handle {
	if o.parent != nil {
		return o.parent.Handle().Add(o.offset)
	}
	return wasmffi.Handle(o.handle.Load())
}

// SetHandle replaces the handle. It is used by the lifecycle manager.
func (o *Object) SetHandle(h wasmffi.Handle) {
	o.handle.Store(uint32(h))
}

// SwapHandle replaces the handle and returns the previous one.
func (o *Object) SwapHandle(h wasmffi.Handle) wasmffi.Handle {
	return wasmffi.Handle(o.handle.Swap(uint32(h)))
}

// Relocate moves the handle from old to new only if it still holds old.
func (o *Object) Relocate(old, new wasmffi.Handle) bool {
	return o.handle.CompareAndSwap(uint32(old), uint32(new))
}

func (o *Object) Descriptor() *layout.Descriptor { return o.desc }
func (o *Object) Origin() Origin                 { return o.origin }
func (o *Object) ID() uint64                     { return o.id }
func (o *Object) IsNull() bool                   { return o.Handle().IsNull() }
func (o *Object) IsAutoRelease() bool            { return o.auto.Load() }
func (o *Object) Base() *Object                  { return o }

// Memory returns the memory the handle points into.
func (o *Object) Memory() wasmffi.Memory { return o.mem }

// IsPinned reports the pinned flag. Only host-heap objects are ever pinned.
func (o *Object) IsPinned() bool {
	if o.parent != nil {
		return o.parent.IsPinned()
	}
	return o.pinned.Load()
}

// SetPinnedFlag records the pin state. Use the lifecycle manager to pin.
func (o *Object) SetPinnedFlag(v bool) { o.pinned.Store(v) }

// SetAutoReleaseFlag records the auto-release state.
func (o *Object) SetAutoReleaseFlag(v bool) { o.auto.Store(v) }

// SetGuard installs the relocation guard for host-heap objects.
func (o *Object) SetGuard(g Guard) { o.guard = g }

// Size returns the byte size of the described type.
func (o *Object) Size() uint32 {
	if o.desc == nil {
		return 0
	}
	return o.desc.Size
}

func (o *Object) String() string {
	return fmt.Sprintf("%s#%d@%s(%s)", o.desc, o.id, o.Handle(), o.origin)
}

// TypeName returns the descriptor name.
func (o *Object) TypeName() string {
	return o.desc.String()
}

// lock holds the relocation guard, if any, and returns the release func.
func (o *Object) lock() func() {
	g := o.guard
	if o.parent != nil {
		g = o.root().guard
	}
	if g == nil {
		return func() {}
	}
	g.Guard()
	return g.Unguard
}

// Root returns the object that owns the storage: o itself, or the outermost
// parent of a nested view.
func (o *Object) Root() *Object {
	return o.root()
}

func (o *Object) root() *Object {
	r := o
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// addr returns the address offset bytes into the object, failing on Null.
func (o *Object) addr(phase errors.Phase, offset uint32) (uint32, error) {
	h := o.Handle()
	if h.IsNull() {
		return 0, errors.UseAfterRelease(phase, o.TypeName())
	}
	if o.mem == nil {
		return 0, errors.NotInitialized(phase, "memory")
	}
	return h.Add(offset).Addr(), nil
}

// Bytes returns a copy of the object's storage.
func (o *Object) Bytes() ([]byte, error) {
	unlock := o.lock()
	defer unlock()

	a, err := o.addr(errors.PhaseAccess, 0)
	if err != nil {
		return nil, err
	}
	return o.mem.Read(a, o.Size())
}

// SetBytes overwrites the object's storage with data, which must be exactly
// Size bytes.
func (o *Object) SetBytes(data []byte) error {
	if uint32(len(data)) != o.Size() {
		return errors.New(errors.PhaseAccess, errors.KindInvalidInput).
			Type(o.TypeName()).
			Detail("expected %d bytes, got %d", o.Size(), len(data)).Build()
	}

	unlock := o.lock()
	defer unlock()

	a, err := o.addr(errors.PhaseAccess, 0)
	if err != nil {
		return err
	}
	return o.mem.Write(a, data)
}

// Zero clears the object's storage.
func (o *Object) Zero() error {
	return o.SetBytes(make([]byte, o.Size()))
}

// sub returns a view of the nested value at offset.
func (o *Object) sub(desc *layout.Descriptor, offset uint32) External {
	v := newVariant(desc.Kind)
	child := v.Base()
	child.desc = desc
	child.mem = o.mem
	child.origin = o.origin
	child.parent = o
	child.offset = offset
	child.id = nextID.Add(1)
	return v
}

func (o *Object) load(phase errors.Phase, offset uint32, desc *layout.Descriptor, path []string) (any, error) {
	if desc.Kind.IsExternal() {
		if o.IsNull() {
			return nil, errors.UseAfterRelease(phase, o.TypeName())
		}
		return o.sub(desc, offset), nil
	}

	unlock := o.lock()
	defer unlock()

	a, err := o.addr(phase, offset)
	if err != nil {
		return nil, err
	}
	v, err := layout.Load(o.mem, a, desc)
	if err != nil {
		return nil, withPath(err, path)
	}
	return v, nil
}

func (o *Object) store(phase errors.Phase, offset uint32, desc *layout.Descriptor, path []string, v any) error {
	if desc.Kind.IsExternal() {
		return o.storeComposite(phase, offset, desc, path, v)
	}

	unlock := o.lock()
	defer unlock()

	a, err := o.addr(phase, offset)
	if err != nil {
		return err
	}
	if err := layout.Store(o.mem, a, desc, v); err != nil {
		return withPath(err, path)
	}
	return nil
}

// storeComposite copies another external of the same type by value.
func (o *Object) storeComposite(phase errors.Phase, offset uint32, desc *layout.Descriptor, path []string, v any) error {
	src, ok := v.(External)
	if !ok || src.Descriptor() != desc {
		return errors.New(phase, errors.KindTypeMismatch).
			Path(path...).Type(desc.String()).GoType(fmt.Sprintf("%T", v)).
			Detail("nested values are copied from an object of the same type").Build()
	}
	data, err := src.Base().Bytes()
	if err != nil {
		return err
	}

	unlock := o.lock()
	defer unlock()

	a, err := o.addr(phase, offset)
	if err != nil {
		return err
	}
	return o.mem.Write(a, data)
}

func withPath(err error, path []string) error {
	if e, ok := err.(*errors.Error); ok && len(e.Path) == 0 {
		cp := *e
		cp.Path = path
		return &cp
	}
	return err
}
