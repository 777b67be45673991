// Package heap provides the foreign heap: memory adapters over wazero linear
// memory and the allocators that hand out foreign storage.
//
// Two allocators are available. GuestAllocator calls the allocation exports
// of the wasm module itself (cabi_realloc, or malloc/free style pairs).
// FreeList is a host-side first-fit allocator with coalescing that manages a
// range of linear memory, for modules that export no allocator.
//
// Both implement wasmffi.Allocator. Neither detects double frees of live
// addresses handed out twice; FreeList ignores (and logs) frees of addresses
// it never handed out.
package heap
