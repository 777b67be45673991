// Package object is the external object model: host-side wrappers around a
// foreign-heap Handle.
//
// Every wrapper embeds Object by value as its first field. Object carries
// the handle, the allocation origin, the auto-release and pinned flags, the
// type descriptor and the memory the handle points into. Four variants give
// the typed surface:
//
//	Struct  named fields at computed offsets
//	Union   named fields all at offset 0
//	Array   indexed elements, bounds equal to the declared count
//	Opaque  no layout; identity and handle only
//
// All of them satisfy External, which is what the marshalling engine, the
// lifecycle manager and the pinning registry consume.
//
// Binding authors define their own types by embedding a variant:
//
//	type Pair struct {
//		object.Struct
//	}
//
// and may implement ResourceHolder and ResourceFinalizer to customize
// auto-release.
//
// Access through a Null handle fails with a use-after-release error. Access
// through a stale non-null handle (an alias of a released object) reads
// whatever the foreign heap now holds; that hazard is documented, not
// detected.
package object
