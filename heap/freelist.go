package heap

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	wasmffi "github.com/wippyai/wasm-ffi"
	"github.com/wippyai/wasm-ffi/errors"
)

// minAddr keeps the null address out of every free list.
const minAddr = 8

// GrowFunc extends the managed range so that at least need more bytes fit.
// It returns the new limit.
type GrowFunc func(limit, need uint32) (uint32, error)

type span struct {
	addr uint32
	size uint32
}

func (s span) end() uint32 { return s.addr + s.size }

// FreeList is a first-fit allocator over [base, limit) of a linear memory.
// Free spans are kept sorted by address and coalesced on free.
type FreeList struct {
	live  map[uint32]uint32
	grow  GrowFunc
	free  []span
	mu    sync.Mutex
	base  uint32
	limit uint32
	inUse uint32
}

var _ wasmffi.Allocator = (*FreeList)(nil)

// FreeListOption configures a FreeList.
type FreeListOption func(*FreeList)

// WithGrow sets the function used when no span fits a request.
func WithGrow(fn GrowFunc) FreeListOption {
	return func(f *FreeList) {
		f.grow = fn
	}
}

// NewFreeList manages [base, limit). A base below 8 is raised so that no
// allocation can return the null address.
func NewFreeList(base, limit uint32, opts ...FreeListOption) *FreeList {
	if base < minAddr {
		base = minAddr
	}
	if limit < base {
		limit = base
	}
	f := &FreeList{
		base:  base,
		limit: limit,
		live:  make(map[uint32]uint32),
	}
	if limit > base {
		f.free = []span{{addr: base, size: limit - base}}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// MemoryGrow returns a GrowFunc that grows a wazero-backed memory by whole
// pages, never past maxPages (0 means no bound besides the engine limit).
func MemoryGrow(mem *Wrapper, maxPages uint32) GrowFunc {
	return func(limit, need uint32) (uint32, error) {
		size := mem.Size()
		if limit < size {
			return size, nil
		}
		pages := (need + PageSize - 1) / PageSize
		if maxPages > 0 && size/PageSize+pages > maxPages {
			return limit, errors.New(errors.PhaseAllocate, errors.KindAllocation).
				Detail("memory limit of %d pages reached", maxPages).Build()
		}
		newSize, ok := mem.Grow(pages)
		if !ok {
			return limit, errors.New(errors.PhaseAllocate, errors.KindAllocation).
				Detail("memory.grow by %d pages failed", pages).Build()
		}
		return newSize, nil
	}
}

// Alloc returns the first free address that fits size bytes at align.
// A zero size is treated as one byte so every allocation is distinct.
func (f *FreeList) Alloc(size, align uint32) (uint32, error) {
	if size == 0 {
		size = 1
	}
	if align == 0 {
		align = 1
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if ptr, ok := f.take(size, align); ok {
		return ptr, nil
	}

	if f.grow != nil {
		newLimit, err := f.grow(f.limit, size+align)
		if err != nil {
			return 0, errors.AllocationFailed(errors.PhaseAllocate, size, align, err)
		}
		if newLimit > f.limit {
			f.insert(span{addr: f.limit, size: newLimit - f.limit})
			f.limit = newLimit
			if ptr, ok := f.take(size, align); ok {
				return ptr, nil
			}
		}
	}

	return 0, errors.AllocationFailed(errors.PhaseAllocate, size, align, nil)
}

func (f *FreeList) take(size, align uint32) (uint32, bool) {
	for i, s := range f.free {
		addr := alignUp(s.addr, align)
		if uint64(addr)+uint64(size) > uint64(s.end()) {
			continue
		}

		var rest []span
		if addr > s.addr {
			rest = append(rest, span{addr: s.addr, size: addr - s.addr})
		}
		if tail := s.end() - (addr + size); tail > 0 {
			rest = append(rest, span{addr: addr + size, size: tail})
		}
		f.free = append(f.free[:i], append(rest, f.free[i+1:]...)...)

		f.live[addr] = size
		f.inUse += size
		return addr, true
	}
	return 0, false
}

// Free returns the allocation at ptr to the free list. Unknown addresses,
// including a second free of the same address, are logged and ignored.
func (f *FreeList) Free(ptr, size, align uint32) {
	if ptr == 0 {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.live[ptr]
	if !ok {
		Logger().Warn("free of unknown address ignored",
			zap.Uint32("ptr", ptr),
			zap.Uint32("size", size))
		return
	}
	delete(f.live, ptr)
	f.inUse -= n
	f.insert(span{addr: ptr, size: n})
}

// insert adds s to the sorted free list and merges adjacent spans.
func (f *FreeList) insert(s span) {
	i := sort.Search(len(f.free), func(i int) bool { return f.free[i].addr >= s.addr })
	f.free = append(f.free, span{})
	copy(f.free[i+1:], f.free[i:])
	f.free[i] = s

	if i+1 < len(f.free) && f.free[i].end() == f.free[i+1].addr {
		f.free[i].size += f.free[i+1].size
		f.free = append(f.free[:i+1], f.free[i+2:]...)
	}
	if i > 0 && f.free[i-1].end() == f.free[i].addr {
		f.free[i-1].size += f.free[i].size
		f.free = append(f.free[:i], f.free[i+1:]...)
	}
}

// Owns reports whether ptr is a live allocation of this list.
func (f *FreeList) Owns(ptr uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.live[ptr]
	return ok
}

// Live returns the number of live allocations.
func (f *FreeList) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// InUse returns the number of bytes held by live allocations.
func (f *FreeList) InUse() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inUse
}

// Spans returns the number of free spans.
func (f *FreeList) Spans() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.free)
}

// Limit returns the current end of the managed range.
func (f *FreeList) Limit() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limit
}

func alignUp(v, align uint32) uint32 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}
