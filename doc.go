// Package wasmffi manages the lifecycle of foreign objects: Go values that
// stand for structures living in WebAssembly linear memory.
//
// This library lets Go code allocate, read, write, pass and release
// structured data owned by a wasm module, and decide for each object who
// frees it: the caller, a scope, or the garbage collector.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	wasmffi/             Root package with Handle, Memory and Allocator
//	├── runtime/         High-level API: load a module as a library
//	├── lifecycle/       Allocation, release, auto-release, pinning, scopes
//	├── marshal/         Signatures, argument lowering and result lifting
//	├── object/          External objects: Struct, Union, Array, Opaque
//	├── layout/          Type registry and field layout
//	├── hostheap/        Compacting host space for host-allocated objects
//	├── heap/            Memory adapters, free list and guest allocators
//	├── pin/             Pinning registry
//	├── resource/        Finalization table and lifecycle events
//	├── config/          TOML configuration and logger construction
//	├── guest/           Small wasm modules built in Go, for tests and demos
//	└── errors/          Structured error types for debugging
//
// # Quick Start
//
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
//	lib.Registry().DefineStruct("Pair", layout.F("a", "int32"), layout.F("b", "int32"))
//	sum, _ := lib.Bind("int32 sum_pair(Pair* self)")
//
//	p, _ := lib.AllocateForeign("Pair")
//	p.(*object.Struct).SetInt32("a", 40)
//	p.(*object.Struct).SetInt32("b", 7)
//	v, _ := sum.CallOn(ctx, p) // int32(47)
//	lib.Release(p)
//
// # Ownership
//
// Every object has an origin. Foreign-heap objects come from the module's
// allocator and are released explicitly, by a lifecycle.Scope, or by the
// collector after AutoRelease. Host-heap objects live in the host space;
// the collector reclaims them and may move them unless they are pinned.
//
// A Handle carries no ownership. Wrapping the same address twice yields two
// objects that compare equal on Handle; releasing one nulls only that
// object's handle. Releasing an address twice is the caller's error and is
// only detected with lifecycle.WithAliasTracking.
//
// # Thread Safety
//
// Registries, the finalization table and the host space are safe for
// concurrent use. Releasing one object from two goroutines at once is not
// supported. Calls into one module are serialized, including the guest
// allocator calls made by allocation and by auto-release finalizers.
//
// # Memory Model
//
// WASM linear memory can only grow, never shrink. Released foreign storage
// is reused by the module's allocator; the host space is compacted in place.
package wasmffi
