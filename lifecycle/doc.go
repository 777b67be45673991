// Package lifecycle is the lifecycle manager for external objects: it
// allocates them in either heap, wraps raw handles, releases foreign
// storage explicitly or when the collector finds an object unreachable,
// and pins host-heap storage against relocation.
//
// # Ownership
//
// Foreign-heap storage is owned by whoever called AllocateForeign or
// WrapHandle. It is freed exactly when Release is called, or when an object
// registered with AutoRelease is collected. Handles are plain addresses:
// two objects wrapping the same address are independent and releasing one
// does not affect the other, which then dangles. Release always sets the
// released object's handle to Null so later access through that object
// fails with a use-after-release error.
//
// Double release through aliases is not detected unless the manager is
// created WithAliasTracking.
//
// # Auto-release
//
// AutoRelease captures the object's resource data (its handle unless the
// type implements object.ResourceHolder) and registers a runtime cleanup.
// The hook sees only that data, never the object. A type may provide its
// own hook by implementing object.ResourceFinalizer; it is invoked on the
// zero value of the type.
//
//	buf, _ := m.AllocateForeign("Buffer")
//	_ = m.AutoRelease(buf)
//	buf = nil // freed after the next collection
//
// # Host heap
//
// AllocateHost places an object in the compacting host space. Such objects
// are owned by the Go collector and cannot be released. Collect compacts
// the space, moving every unpinned object. Pin keeps an object in place
// without keeping it alive.
//
// # Scopes
//
// A Scope releases the foreign objects added to it, in reverse order, when
// it is closed:
//
//	s := m.NewScope()
//	defer s.Close()
//	p, err := s.AllocateForeign("Pair")
package lifecycle
