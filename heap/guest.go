package heap

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmffi "github.com/wippyai/wasm-ffi"
	"github.com/wippyai/wasm-ffi/errors"
)

// Export names probed by FindAllocator, in order of preference.
const (
	CabiRealloc = "cabi_realloc"

	legacyRealloc = "canonical_abi_realloc"
	simpleMalloc  = "malloc"
	simpleAlloc   = "alloc"
	legacyAlloc   = "allocate"
	simpleFree    = "free"
	simpleDealloc = "dealloc"
	legacyDealloc = "deallocate"
)

// GuestAllocator allocates through the module's own exports.
//
// In realloc form a single function realloc(ptr, old_size, align, new_size)
// both allocates (ptr=0) and frees (new_size=0). In simple form alloc takes
// the size and free takes the pointer, optionally followed by size and align.
type GuestAllocator struct {
	ctx      context.Context
	allocFn  api.Function
	freeFn   api.Function
	stackBuf []uint64
	mu       sync.Locker
	simple   bool
	realloc  bool
	freeArgs int
}

var _ wasmffi.Allocator = (*GuestAllocator)(nil)

// GuestOption configures a GuestAllocator.
type GuestOption func(*GuestAllocator)

// WithLock makes the allocator hold l around every call into the module.
// Guest allocators keep their state in module globals, so l must be the
// lock every other caller of the same instance holds.
func WithLock(l sync.Locker) GuestOption {
	return func(a *GuestAllocator) {
		if l != nil {
			a.mu = l
		}
	}
}

// FindAllocator probes mod for allocation exports. It returns false when
// the module exports no usable allocator.
func FindAllocator(mod api.Module, opts ...GuestOption) (*GuestAllocator, bool) {
	a, ok := probeAllocator(mod)
	if !ok {
		return nil, false
	}
	a.mu = &sync.Mutex{}
	for _, opt := range opts {
		opt(a)
	}
	return a, true
}

func probeAllocator(mod api.Module) (*GuestAllocator, bool) {
	defs := mod.ExportedFunctionDefinitions()

	for _, name := range []string{CabiRealloc, legacyRealloc} {
		if def, ok := defs[name]; ok && len(def.ParamTypes()) == 4 && len(def.ResultTypes()) == 1 {
			fn := mod.ExportedFunction(name)
			return &GuestAllocator{
				allocFn:  fn,
				freeFn:   fn,
				realloc:  true,
				freeArgs: 4,
				stackBuf: make([]uint64, 4),
			}, true
		}
	}

	var alloc api.Function
	for _, name := range []string{simpleMalloc, simpleAlloc, legacyAlloc} {
		if def, ok := defs[name]; ok && len(def.ParamTypes()) >= 1 && len(def.ResultTypes()) == 1 {
			alloc = mod.ExportedFunction(name)
			break
		}
	}
	if alloc == nil {
		return nil, false
	}

	a := &GuestAllocator{
		allocFn:  alloc,
		simple:   len(alloc.Definition().ParamTypes()) < 2,
		stackBuf: make([]uint64, 4),
	}
	for _, name := range []string{simpleFree, simpleDealloc, legacyDealloc} {
		if def, ok := defs[name]; ok && len(def.ParamTypes()) >= 1 && len(def.ParamTypes()) <= 3 {
			a.freeFn = mod.ExportedFunction(name)
			a.freeArgs = len(def.ParamTypes())
			break
		}
	}
	return a, true
}

// SetContext sets the context used for subsequent allocator calls.
func (a *GuestAllocator) SetContext(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ctx = ctx
}

// CanFree reports whether the module exports a deallocation function.
func (a *GuestAllocator) CanFree() bool {
	return a.freeFn != nil
}

func (a *GuestAllocator) context() context.Context {
	if a.ctx == nil {
		return context.Background()
	}
	return a.ctx
}

// Alloc calls the module allocator. A zero result is reported as exhaustion.
func (a *GuestAllocator) Alloc(size, align uint32) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var err error
	if a.simple {
		a.stackBuf[0] = uint64(size)
		err = a.allocFn.CallWithStack(a.context(), a.stackBuf[:1])
	} else if a.realloc {
		a.stackBuf[0] = 0
		a.stackBuf[1] = 0
		a.stackBuf[2] = uint64(align)
		a.stackBuf[3] = uint64(size)
		err = a.allocFn.CallWithStack(a.context(), a.stackBuf[:4])
	} else {
		a.stackBuf[0] = uint64(size)
		a.stackBuf[1] = uint64(align)
		err = a.allocFn.CallWithStack(a.context(), a.stackBuf[:2])
	}
	if err != nil {
		return 0, errors.AllocationFailed(errors.PhaseAllocate, size, align, err)
	}
	ptr := uint32(a.stackBuf[0])
	if ptr == 0 {
		return 0, errors.AllocationFailed(errors.PhaseAllocate, size, align, nil)
	}
	return ptr, nil
}

// Free calls the module deallocator. Failures are logged, not returned.
func (a *GuestAllocator) Free(ptr, size, align uint32) {
	if a.freeFn == nil || ptr == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.stackBuf[0] = uint64(ptr)
	a.stackBuf[1] = uint64(size)
	a.stackBuf[2] = uint64(align)
	a.stackBuf[3] = 0
	if err := a.freeFn.CallWithStack(a.context(), a.stackBuf[:a.freeArgs]); err != nil {
		Logger().Warn("guest free failed",
			zap.Uint32("ptr", ptr),
			zap.Uint32("size", size),
			zap.Error(err))
	}
}
