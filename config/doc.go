// Package config loads the TOML configuration of a foreign library host.
//
// A configuration sets logging, the memory limits of the wasm runtime, the
// size of the host space reserved for host-allocated objects, and may declare
// types and function signatures so they need not be built in code:
//
//	[log]
//	level = "debug"
//
//	[memory]
//	limit-pages = 256
//	host-space = 65536
//
//	[wasi]
//	enabled = true
//
//	[[types]]
//	name = "Pair"
//	kind = "struct"
//	fields = [{ name = "a", type = "int32" }, { name = "b", type = "int32" }]
//
//	[[functions]]
//	decl = "int32 sum_pair(Pair* self)"
package config
