// Package marshal is the marshalling engine: it binds C-like declarations
// to foreign symbols and converts between Go values and the flat values a
// foreign call takes and returns.
//
// # Declarations
//
//	int32 sum_pair(Pair* self)
//	Pair* make_pair(int32 a, int32 b)
//	char* greeting(void)
//
// Types are resolved in a layout.Registry when the declaration is bound, so
// an unknown type is reported before any call is made. A parameter named
// self marks the receiver for Function.CallOn.
//
// # Conversion
//
// Integers, floats and bools are range checked and passed as i32, i64, f32
// or f64 values. External objects are passed by handle only; their fields
// are never copied. Structs declared by value are passed the same way,
// since a wasm32 callee receives aggregates by address. A Go string passed
// for a char* parameter is copied to a temporary foreign buffer that is
// freed when the call returns.
//
// Results declared as an external type, or a pointer to one, are wrapped
// into a new foreign-heap object with auto-release off. char* results are
// copied into a Go string.
//
// # Safety during calls
//
// For the duration of a call the engine holds the host guard, so the host
// memory manager cannot relocate objects whose addresses foreign code is
// using, and keeps every argument reachable.
package marshal
