package lifecycle

import (
	"context"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	wasmffi "github.com/wippyai/wasm-ffi"
	"github.com/wippyai/wasm-ffi/layout"
	"github.com/wippyai/wasm-ffi/object"
	"github.com/wippyai/wasm-ffi/resource"
)

// dropAutoReleased allocates n objects, registers them and drops them.
func dropAutoReleased(t *testing.T, m *Manager, typeName string, n int) []wasmffi.Handle {
	t.Helper()
	handles := make([]wasmffi.Handle, 0, n)
	for i := 0; i < n; i++ {
		obj, err := m.AllocateForeign(typeName)
		if err != nil {
			t.Fatal(err)
		}
		if err := m.AutoRelease(obj); err != nil {
			t.Fatal(err)
		}
		if !obj.IsAutoRelease() {
			t.Fatal("auto-release flag not set")
		}
		handles = append(handles, obj.Handle())
	}
	return handles
}

func TestAutoRelease_FinalizesEachOnce(t *testing.T) {
	const n = 25
	f := newFixture(t)

	handles := dropAutoReleased(t, f.m, "Pair", n)
	if f.fl.Live() != n {
		t.Fatalf("live = %d", f.fl.Live())
	}

	st := collect(t, f.m)
	if st.Finalized != n {
		t.Errorf("finalized = %d, want %d", st.Finalized, n)
	}
	if f.fl.Live() != 0 {
		t.Errorf("allocator still holds %d allocations", f.fl.Live())
	}

	var got []wasmffi.Handle
	for _, e := range f.rec.Events() {
		if e.Type == resource.EventFinalized {
			got = append(got, e.Handle)
		}
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if diff := cmp.Diff(handles, got); diff != "" {
		t.Errorf("finalized handles (-want +got):\n%s", diff)
	}

	st = collect(t, f.m)
	if st.Finalized != 0 || f.rec.Count(resource.EventFinalized) != n {
		t.Errorf("second cycle finalized %d, events %d", st.Finalized, f.rec.Count(resource.EventFinalized))
	}
	if f.m.Stats().AutoRelease != 0 {
		t.Errorf("entries left: %d", f.m.Stats().AutoRelease)
	}
}

func TestAutoRelease_ReachableNotFinalized(t *testing.T) {
	f := newFixture(t)

	obj, err := f.m.AllocateForeign("Pair")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.m.AutoRelease(obj); err != nil {
		t.Fatal(err)
	}
	if err := f.m.AutoRelease(obj); err != nil {
		t.Fatalf("second registration: %v", err)
	}

	st := collect(t, f.m)
	if st.Finalized != 0 || f.fl.Live() != 1 {
		t.Errorf("reachable object finalized: %+v", st)
	}
	if f.rec.Count(resource.EventRegistered) != 1 {
		t.Errorf("registered %d times", f.rec.Count(resource.EventRegistered))
	}
	if _, err := pair(t, obj).Int32("a"); err != nil {
		t.Error(err)
	}
}

func TestAutoRelease_ReleaseCancels(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	f := newFixture(t, WithLogger(zap.New(core)))

	func() {
		obj, err := f.m.AllocateForeign("Pair")
		if err != nil {
			t.Fatal(err)
		}
		if err := f.m.AutoRelease(obj); err != nil {
			t.Fatal(err)
		}
		if err := f.m.Release(obj); err != nil {
			t.Fatal(err)
		}
		if obj.IsAutoRelease() {
			t.Error("auto-release flag survives release")
		}
	}()

	st := collect(t, f.m)
	if st.Finalized != 0 {
		t.Errorf("released object finalized: %+v", st)
	}
	if f.fl.Live() != 0 || logs.Len() != 0 {
		t.Errorf("live=%d logs=%v", f.fl.Live(), logs.All())
	}
}

func TestAutoRelease_PinnedHostObject(t *testing.T) {
	f := newFixture(t)

	func() {
		obj, err := f.m.AllocateHost("Pair")
		if err != nil {
			t.Fatal(err)
		}
		if !f.m.Pin(obj) {
			t.Fatal("host object not pinned")
		}
		if err := f.m.AutoRelease(obj); err != nil {
			t.Fatalf("auto-release of a pinned host object: %v", err)
		}
		if !obj.IsAutoRelease() {
			t.Error("auto-release flag not set")
		}
	}()

	st := collect(t, f.m)
	if st.Finalized != 1 || st.Collected != 1 {
		t.Errorf("stats = %+v, want one finalized and one collected", st)
	}
	if f.rec.Count(resource.EventFinalized) != 1 || f.rec.Count(resource.EventCollected) != 1 {
		t.Errorf("events: %v", f.rec.Events())
	}
	if f.fl.Live() != 0 {
		t.Errorf("host object finalizer touched the foreign allocator: live=%d", f.fl.Live())
	}

	st = collect(t, f.m)
	if st.Finalized != 0 || f.m.Stats().AutoRelease != 0 {
		t.Errorf("second cycle: %+v, entries %d", st, f.m.Stats().AutoRelease)
	}
}

type exploding struct{ object.Struct }

func (*exploding) FinalizeResourceData(any) { panic("boom") }

func TestAutoRelease_PanickingHookLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	f := newFixture(t, WithLogger(zap.New(core)))
	if err := f.m.RegisterFactory("Pair", func() object.External { return &exploding{} }); err != nil {
		t.Fatal(err)
	}

	dropAutoReleased(t, f.m, "Pair", 3)
	st := collect(t, f.m)
	if st.Finalized != 3 {
		t.Errorf("finalized = %d", st.Finalized)
	}

	entries := logs.FilterMessage("finalizer hook failed").All()
	if len(entries) != 3 {
		t.Fatalf("logged %d failures, want 3", len(entries))
	}
	if entries[0].Level != zap.ErrorLevel || entries[0].ContextMap()["type"] != "Pair" {
		t.Errorf("entry = %+v", entries[0])
	}
	for _, e := range f.rec.Events() {
		if e.Type == resource.EventFinalized && e.Detail == "" {
			t.Errorf("finalized event without failure detail: %s", e)
		}
	}
	// the type's own hook replaced the default one
	if f.fl.Live() != 3 {
		t.Errorf("live = %d", f.fl.Live())
	}
}

type finalized struct {
	data         any
	receiverNull bool
}

var finalizedCh = make(chan finalized, 16)

type tracked struct{ object.Struct }

func (t *tracked) ResourceData() any {
	return []wasmffi.Handle{t.Handle()}
}

func (t *tracked) FinalizeResourceData(data any) {
	finalizedCh <- finalized{data: data, receiverNull: t.IsNull()}
}

func TestAutoRelease_CustomDataAndHook(t *testing.T) {
	f := newFixture(t)
	if err := f.m.RegisterFactory("Pair", func() object.External { return &tracked{} }); err != nil {
		t.Fatal(err)
	}

	handles := dropAutoReleased(t, f.m, "Pair", 1)
	st := collect(t, f.m)
	if st.Finalized != 1 {
		t.Fatalf("finalized = %d", st.Finalized)
	}

	select {
	case got := <-finalizedCh:
		if diff := cmp.Diff(any(handles), got.data); diff != "" {
			t.Errorf("hook data (-want +got):\n%s", diff)
		}
		if !got.receiverNull {
			t.Error("hook ran on a bound object, want the zero value")
		}
	default:
		t.Fatal("hook did not run")
	}
}

type selfish struct{ object.Struct }

func (s *selfish) ResourceData() any { return s }

type viewHolder struct{ object.Struct }

func (v *viewHolder) ResourceData() any {
	sub, _ := v.Sub("inner")
	return struct{ View object.External }{sub}
}

func TestAutoRelease_RejectsSelfReference(t *testing.T) {
	f := newFixture(t)
	if _, err := f.m.Registry().DefineStruct("Wrapped", layout.F("inner", "Pair")); err != nil {
		t.Fatal(err)
	}
	_ = f.m.RegisterFactory("Pair", func() object.External { return &selfish{} })
	_ = f.m.RegisterFactory("Wrapped", func() object.External { return &viewHolder{} })

	for _, typeName := range []string{"Pair", "Wrapped"} {
		t.Run(typeName, func(t *testing.T) {
			obj, err := f.m.AllocateForeign(typeName)
			if err != nil {
				t.Fatal(err)
			}
			if err := f.m.AutoRelease(obj); err == nil {
				t.Fatal("self-referencing resource data accepted")
			}
			if obj.IsAutoRelease() || f.m.Stats().AutoRelease != 0 {
				t.Error("object registered despite the error")
			}
		})
	}
}

func TestAutoRelease_NullRejected(t *testing.T) {
	f := newFixture(t)
	obj, _ := f.m.WrapHandle("Pair", wasmffi.Null)
	if err := f.m.AutoRelease(obj); err == nil {
		t.Error("null object registered")
	}
}

func TestCollect_ContextDone(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// nothing is pending, so a done context does not matter
	if _, err := f.m.Collect(ctx); err != nil {
		t.Errorf("collect: %v", err)
	}
}

func TestClose_DropsRegistrations(t *testing.T) {
	f := newFixture(t)
	objs := make([]object.External, 3)
	for i := range objs {
		objs[i], _ = f.m.AllocateForeign("Pair")
		_ = f.m.AutoRelease(objs[i])
	}
	if err := f.m.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.m.Stats().AutoRelease != 0 {
		t.Errorf("entries = %d", f.m.Stats().AutoRelease)
	}
	objs = nil

	st := collect(t, f.m)
	if st.Finalized != 0 {
		t.Errorf("hooks ran after close: %+v", st)
	}
}
