// Package layout describes foreign types: their kind, size, alignment and
// field offsets inside wasm32 linear memory.
//
// A Registry maps symbolic type names to Descriptors. Names resolve in order:
//
//   - "T*" resolves to a pointer whose target is T (recursively)
//   - aliases registered with Alias
//   - types defined with DefineStruct, DefineUnion, DefineArray, DefineOpaque
//   - built-in C and Go-style scalar names (int, size_t, int32, float64, char*)
//   - WIT primitive names (u8, s32, f64, bool, string)
//
// Anything else is a configuration error, raised when the binding is defined
// rather than when it is called.
//
// Layout follows the natural alignment of the canonical ABI: every field is
// aligned to its own alignment, struct size is rounded up to the largest
// field alignment, union fields all start at offset 0, pointers are 4 bytes.
// Opaque types have no layout (size 0, alignment 1) and are only ever handled
// through pointers.
//
// Load and Store convert between Go values and their little-endian
// representation in memory. Bits and FromBits do the same for the flat
// uint64 values used by wasm calls.
package layout
