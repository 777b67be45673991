// Package runtime loads WebAssembly modules as foreign libraries and wires
// the lifecycle manager, the marshalling engine and the host space for each.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	lib, err := rt.LoadLibrary(ctx, "pair", wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Declare the layout and the functions
//	lib.Registry().DefineStruct("Pair", layout.F("a", "int32"), layout.F("b", "int32"))
//	sum, _ := lib.Bind("int32 sum_pair(Pair* self)")
//
//	// Allocate in the foreign heap, hand ownership to the collector
//	p, _ := lib.AllocateForeign("Pair")
//	p.(*object.Struct).SetInt32("a", 40)
//	p.(*object.Struct).SetInt32("b", 7)
//	lib.AutoRelease(p)
//
//	v, _ := sum.CallOn(ctx, p) // int32(47)
//
// # Allocators
//
// A module that exports cabi_realloc or malloc/free is allocated through
// those exports. A module without an allocator gets a host-side free list
// placed above its initial memory, growing the memory on demand.
//
// # Host Space
//
// When the configuration sets memory.host-space, that many bytes are
// reserved from the library's allocator at load time and managed as a
// compacting host space. Objects from AllocateHost live there; they may be
// moved by Collect unless pinned, and never while a call is in progress.
package runtime
