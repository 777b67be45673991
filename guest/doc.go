// Package guest synthesizes small core wasm modules byte by byte.
//
// The modules stand in for native libraries: they export a linear memory, an
// allocator, and a handful of functions that operate on structures in that
// memory. They are used by tests, the demo, and the CLI when no module file
// is supplied.
//
// Builder covers just enough of the binary format for that purpose: one
// memory, i32/i64 globals, functions with raw bodies, active data segments
// and exports. Code assembles function bodies from the opcode constants.
package guest
