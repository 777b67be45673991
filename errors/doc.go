// Package errors provides structured error types for the wasm-ffi library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the field path, the foreign type name, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseAccess, errors.KindTypeMismatch).
//		Path("Pair", "a").
//		Type("s32").
//		Detail("cannot store string").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Unresolved("Point*")
//	err := errors.OutOfBounds(errors.PhaseAccess, path, 10, 5)
//
// The taxonomy of the lifecycle layer maps onto kinds:
//
//	ConfigurationError  phase define/config, kind unresolved_type or duplicate_type
//	AllocationError     kind allocation
//	UseAfterRelease     kind null_handle (detected through the Null sentinel only)
//	DoubleRelease       kind double_release (only with alias tracking enabled)
//
// Dangling references (foreign code keeping an address after the host object
// moved or died) are not detected. They are a contract on the caller.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
