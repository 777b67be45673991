package lifecycle

import (
	"context"
	"reflect"
	"runtime"
	"time"

	"go.uber.org/zap"

	wasmffi "github.com/wippyai/wasm-ffi"
	"github.com/wippyai/wasm-ffi/errors"
	"github.com/wippyai/wasm-ffi/object"
	"github.com/wippyai/wasm-ffi/resource"
)

// scanDepth bounds the search for references to the object in captured
// resource data.
const scanDepth = 4

// AutoRelease arranges for obj's resource data to be finalized once obj
// becomes unreachable. For foreign-heap objects the default hook frees the
// storage; host-heap objects, pinned or not, run only a type's own hook
// since the host space reclaims their slots. Registering an object twice
// has no further effect. Release cancels the registration.
func (m *Manager) AutoRelease(obj object.External) error {
	base, err := finalizable(obj)
	if err != nil {
		return err
	}
	if base.IsNull() {
		return errors.UseAfterRelease(errors.PhaseFinalize, base.TypeName())
	}
	if _, ok := m.table.Get(base.ID()); ok {
		return nil
	}

	data := any(base.Handle())
	if holder, ok := obj.(object.ResourceHolder); ok {
		data = holder.ResourceData()
	}
	if references(reflect.ValueOf(data), reflect.ValueOf(obj).Pointer(), scanDepth) {
		return errors.New(errors.PhaseFinalize, errors.KindInvalidInput).
			Type(base.TypeName()).GoType(reflect.TypeOf(obj).String()).
			Detail("resource data references the object and would keep it alive").Build()
	}

	e := resource.NewEntry(obj, data, m.hookFor(obj, base))
	if !m.table.Insert(e) {
		return nil
	}
	e.SetCleanup(runtime.AddCleanup(base, m.finalize, e))
	base.SetAutoReleaseFlag(true)

	m.emit(resource.EventFor(resource.EventRegistered, obj))
	return nil
}

// finalizable checks that obj may be registered for auto-release. Any
// origin qualifies; nested views share their root's lifetime.
func finalizable(obj object.External) (*object.Object, error) {
	if obj == nil {
		return nil, errors.InvalidInput(errors.PhaseFinalize, "nil object")
	}
	base := obj.Base()
	if base.Root() != base {
		return nil, errors.New(errors.PhaseFinalize, errors.KindInvalidInput).
			Type(base.TypeName()).
			Detail("nested view does not own its storage").Build()
	}
	return base, nil
}

// hookFor returns the type's own finalizer hook, bound to the zero value of
// its concrete type, or the default hook: it frees a captured handle for
// foreign-heap objects and does nothing for host-heap ones.
func (m *Manager) hookFor(obj object.External, base *object.Object) resource.Hook {
	desc := base.Descriptor()
	if _, ok := obj.(object.ResourceFinalizer); ok {
		t := reflect.TypeOf(obj)
		var zero any
		if t.Kind() == reflect.Pointer {
			zero = reflect.New(t.Elem()).Interface()
		} else {
			zero = reflect.Zero(t).Interface()
		}
		if fin, ok := zero.(object.ResourceFinalizer); ok {
			return fin.FinalizeResourceData
		}
	}

	if base.Origin() != object.ForeignHeap {
		return func(any) {}
	}
	return func(data any) {
		var h wasmffi.Handle
		switch v := data.(type) {
		case wasmffi.Handle:
			h = v
		case interface{ Handle() wasmffi.Handle }:
			h = v.Handle()
		default:
			m.logger.Debug("resource data holds no handle; nothing to free",
				zap.String("type", desc.String()))
			return
		}
		if h.IsNull() {
			return
		}
		if err := m.free(h, desc); err != nil {
			m.logger.Warn("auto-release free failed",
				zap.String("type", desc.String()),
				zap.Stringer("handle", h),
				zap.Error(err))
		}
	}
}

// finalize runs on the cleanup goroutine once the object is unreachable.
// The entry leaves the table only after the hook has finished, so Collect
// observes completed hooks.
func (m *Manager) finalize(e *resource.Entry) {
	defer m.table.Remove(e.ID)

	ran, err := e.Run()
	if !ran {
		return
	}
	m.finalized.Add(1)

	ev := resource.Event{
		Type:     resource.EventFinalized,
		ID:       e.ID,
		Handle:   e.Handle,
		TypeName: e.TypeName,
		Origin:   e.Origin,
	}
	if err != nil {
		m.logger.Error("finalizer hook failed",
			zap.String("type", e.TypeName),
			zap.Uint64("id", e.ID),
			zap.Stringer("handle", e.Handle),
			zap.Error(err))
		ev.Detail = err.Error()
	}
	m.emit(ev)
}

// references reports whether v reaches the address target within depth
// pointer, interface or container hops.
func references(v reflect.Value, target uintptr, depth int) bool {
	if !v.IsValid() || depth < 0 {
		return false
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.UnsafePointer:
		if v.IsNil() {
			return false
		}
		if v.Pointer() == target {
			return true
		}
		if v.Kind() == reflect.Pointer {
			return references(v.Elem(), target, depth-1)
		}
	case reflect.Interface:
		return references(v.Elem(), target, depth)
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if references(v.Field(i), target, depth-1) {
				return true
			}
		}
	case reflect.Slice, reflect.Array:
		n := v.Len()
		if n > 64 {
			n = 64
		}
		for i := 0; i < n; i++ {
			if references(v.Index(i), target, depth-1) {
				return true
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for i := 0; i < 64 && iter.Next(); i++ {
			if references(iter.Value(), target, depth-1) {
				return true
			}
		}
	}
	return false
}

// CollectStats reports what one Collect did.
type CollectStats struct {
	Finalized int // auto-release hooks run
	Collected int // host-space slots reclaimed
	Relocated int // host objects moved by compaction
	Pruned    int // dead pinned identities dropped
}

// Collect runs a collection cycle: it forces a garbage collection, compacts
// the host space around pinned objects and waits until every auto-release
// entry whose object died has been finalized or ctx is done.
func (m *Manager) Collect(ctx context.Context) (CollectStats, error) {
	var st CollectStats
	finalizedBefore := m.finalized.Load()
	var collectedBefore uint64
	if m.space != nil {
		collectedBefore = m.space.Stats().Collected
	}

	runtime.GC()

	if m.space != nil {
		moved, err := m.space.Compact(m.pins.Pinned)
		st.Relocated = moved
		st.Collected = int(m.space.Stats().Collected - collectedBefore)
		if err != nil {
			return st, err
		}
	}
	st.Pruned = m.pins.Prune()

	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for rounds := 0; m.table.Dead() > 0; rounds++ {
		select {
		case <-ctx.Done():
			st.Finalized = int(m.finalized.Load() - finalizedBefore)
			return st, ctx.Err()
		case <-tick.C:
		}
		if rounds%50 == 49 {
			runtime.GC()
		}
	}

	st.Finalized = int(m.finalized.Load() - finalizedBefore)
	if st.Finalized > 0 || st.Relocated > 0 || st.Collected > 0 {
		m.logger.Debug("collection cycle",
			zap.Int("finalized", st.Finalized),
			zap.Int("collected", st.Collected),
			zap.Int("relocated", st.Relocated),
			zap.Int("pruned", st.Pruned))
	}
	return st, nil
}
