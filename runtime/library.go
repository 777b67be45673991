package runtime

import (
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	wasmffi "github.com/wippyai/wasm-ffi"
	"github.com/wippyai/wasm-ffi/config"
	"github.com/wippyai/wasm-ffi/errors"
	"github.com/wippyai/wasm-ffi/heap"
	"github.com/wippyai/wasm-ffi/layout"
	"github.com/wippyai/wasm-ffi/lifecycle"
	"github.com/wippyai/wasm-ffi/marshal"
	"github.com/wippyai/wasm-ffi/object"
	"github.com/wippyai/wasm-ffi/resource"
)

// hostSpaceAlign aligns the host space to the largest scalar.
const hostSpaceAlign = 8

// Library is an instantiated module together with its type registry,
// lifecycle manager and marshalling engine.
type Library struct {
	rt         *Runtime
	mod        api.Module
	mem        *heap.Wrapper
	alloc      wasmffi.Allocator
	types      *layout.Registry
	manager    *lifecycle.Manager
	caller     *marshal.ModuleCaller
	engine     *marshal.Engine
	name       string
	spaceBase  uint32
	spaceSize  uint32
	guestAlloc bool
	closed     atomic.Bool
}

func newLibrary(ctx context.Context, rt *Runtime, name string, mod api.Module) (*Library, error) {
	mem := heap.WrapMemory(mod.Memory())
	if mem == nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindNotFound).
			Path(name).Detail("module exports no memory").Build()
	}

	lib := &Library{
		rt:     rt,
		mod:    mod,
		mem:    mem,
		types:  layout.NewRegistry(),
		caller: marshal.NewModuleCaller(mod),
		name:   name,
	}

	if ga, ok := heap.FindAllocator(mod, heap.WithLock(lib.caller.Locker())); ok {
		ga.SetContext(context.WithoutCancel(ctx))
		lib.alloc = ga
		lib.guestAlloc = true
	} else {
		// The module manages none of its memory; place a host free list
		// above the initial memory and grow into new pages.
		top := mem.Size()
		lib.alloc = heap.NewFreeList(top, top, heap.WithGrow(heap.MemoryGrow(mem, rt.cfg.Memory.LimitPages)))
	}

	cfg := rt.cfg.Memory
	opts := []lifecycle.Option{lifecycle.WithLogger(Logger().With(zap.String("library", name)))}
	if cfg.AliasTracking {
		opts = append(opts, lifecycle.WithAliasTracking())
	}
	if cfg.HostSpace > 0 {
		base, err := lib.alloc.Alloc(cfg.HostSpace, hostSpaceAlign)
		if err != nil {
			return nil, errors.New(errors.PhaseLoad, errors.KindAllocation).
				Path(name).Cause(err).Detail("reserve %d bytes of host space", cfg.HostSpace).Build()
		}
		lib.spaceBase, lib.spaceSize = base, cfg.HostSpace
		opts = append(opts, lifecycle.WithHostSpace(mem, base, cfg.HostSpace))
	}

	lib.manager = lifecycle.New(lib.types, mem, lib.alloc, opts...)
	lib.engine = marshal.NewEngine(lib.types, lib.caller, lib.manager, lib.alloc)
	return lib, nil
}

// Name returns the name the library was loaded under.
func (l *Library) Name() string { return l.name }

// Module returns the wazero module.
func (l *Library) Module() api.Module { return l.mod }

// Memory returns the module's linear memory.
func (l *Library) Memory() *heap.Wrapper { return l.mem }

// Allocator returns the foreign allocator: the module's own exports, or a
// host free list when it has none.
func (l *Library) Allocator() wasmffi.Allocator { return l.alloc }

// Registry returns the library's type registry.
func (l *Library) Registry() *layout.Registry { return l.types }

// Manager returns the lifecycle manager.
func (l *Library) Manager() *lifecycle.Manager { return l.manager }

// Engine returns the marshalling engine.
func (l *Library) Engine() *marshal.Engine { return l.engine }

// Exports returns the exported function names.
func (l *Library) Exports() []string { return l.caller.Symbols() }

// HostSpace returns the range reserved for host-allocated objects. The size
// is zero when host allocation is disabled.
func (l *Library) HostSpace() (base, size uint32) { return l.spaceBase, l.spaceSize }

// Declare applies the types and function declarations of cfg. Types are
// defined first so functions can refer to them.
func (l *Library) Declare(cfg *config.Config) error {
	if cfg == nil {
		return nil
	}
	if err := cfg.Apply(l.types); err != nil {
		return err
	}
	for _, decl := range cfg.Declarations() {
		if _, err := l.engine.Bind(decl); err != nil {
			return err
		}
	}
	return nil
}

// Bind declares and binds a foreign function.
func (l *Library) Bind(decl string) (*marshal.Function, error) {
	return l.engine.Bind(decl)
}

// Call calls a bound function by name.
func (l *Library) Call(ctx context.Context, name string, args ...any) (any, error) {
	if err := l.check(errors.PhaseCall); err != nil {
		return nil, err
	}
	return l.engine.Call(ctx, name, args...)
}

// AllocateForeign allocates a zeroed typeName in the foreign heap. The
// caller owns it until Release or AutoRelease.
func (l *Library) AllocateForeign(typeName string) (object.External, error) {
	if err := l.check(errors.PhaseAllocate); err != nil {
		return nil, err
	}
	return l.manager.AllocateForeign(typeName)
}

// AllocateHost allocates a zeroed typeName in the host space.
func (l *Library) AllocateHost(typeName string) (object.External, error) {
	if err := l.check(errors.PhaseAllocate); err != nil {
		return nil, err
	}
	return l.manager.AllocateHost(typeName)
}

// WrapHandle wraps an existing foreign address without taking ownership.
func (l *Library) WrapHandle(typeName string, h wasmffi.Handle) (object.External, error) {
	return l.manager.WrapHandle(typeName, h)
}

// Release frees a foreign-heap object now and nulls its handle.
func (l *Library) Release(obj object.External) error {
	if err := l.check(errors.PhaseRelease); err != nil {
		return err
	}
	return l.manager.Release(obj)
}

// AutoRelease hands ownership of a foreign-heap object to the collector.
func (l *Library) AutoRelease(obj object.External) error {
	return l.manager.AutoRelease(obj)
}

// Pin keeps a host-space object at its address until Unpin.
func (l *Library) Pin(obj object.External) bool { return l.manager.Pin(obj) }

// Unpin lets a host-space object move again.
func (l *Library) Unpin(obj object.External) bool { return l.manager.Unpin(obj) }

// NewScope returns a scope that releases its objects when closed.
func (l *Library) NewScope() *lifecycle.Scope { return l.manager.NewScope() }

// Subscribe registers o for lifecycle events of this library.
func (l *Library) Subscribe(o resource.Observer) (cancel func()) {
	return l.manager.Subscribe(o)
}

// Collect runs a collection cycle; see lifecycle.Manager.Collect.
func (l *Library) Collect(ctx context.Context) (lifecycle.CollectStats, error) {
	return l.manager.Collect(ctx)
}

// Stats returns a snapshot of the lifecycle manager.
func (l *Library) Stats() lifecycle.Stats { return l.manager.Stats() }

func (l *Library) check(phase errors.Phase) error {
	if l.closed.Load() {
		return errors.New(phase, errors.KindNotInitialized).
			Path(l.name).Detail("library %s is closed", l.name).Build()
	}
	return nil
}

// Close drops pending auto-release registrations and closes the module.
// Foreign objects still held become invalid with it.
func (l *Library) Close(ctx context.Context) error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.rt.forget(l.name)
	err := l.manager.Close(ctx)
	return multierr.Append(err, l.mod.Close(ctx))
}
