// Package resource holds the bookkeeping behind auto-release: the
// finalization table and lifecycle event observers.
//
// # Finalization Table
//
// Registering an object for auto-release inserts an Entry keyed by the
// object's identity:
//
//	entry := resource.NewEntry(obj, data, hook)
//	table.Insert(entry)
//
// The entry carries everything the finalizer needs (the captured resource
// data and the hook), plus a weak reference used only to tell whether the
// object is still alive. It never holds the object strongly, so membership
// does not keep the object reachable.
//
// Run executes the hook at most once, whichever of finalization or explicit
// release gets there first. Panics in the hook are returned as errors so
// that the caller can log them; they never reach the collector.
//
// # Observers
//
// Lifecycle events are delivered synchronously to subscribed observers:
//
//	cancel := observers.Subscribe(resource.ObserverFunc(func(e resource.Event) {
//		switch e.Type {
//		case resource.EventFinalized:
//			log.Printf("%s %d finalized", e.TypeName, e.ID)
//		}
//	}))
//	defer cancel()
//
// Events for finalization are delivered on the runtime's cleanup goroutine.
// Observers must not block.
package resource
