package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	wasmffi "github.com/wippyai/wasm-ffi"
	"github.com/wippyai/wasm-ffi/config"
	"github.com/wippyai/wasm-ffi/errors"
	"github.com/wippyai/wasm-ffi/guest"
	"github.com/wippyai/wasm-ffi/heap"
	"github.com/wippyai/wasm-ffi/layout"
	"github.com/wippyai/wasm-ffi/object"
)

const pairDecls = `
[memory]
limit-pages = 64
host-space = 4096

[[types]]
name = "Pair"
kind = "struct"
fields = [{ name = "a", type = "int32" }, { name = "b", type = "int32" }]

[[functions]]
decl = "int32 sum_pair(Pair* self)"

[[functions]]
decl = "int32 pair_a(Pair* p)"

[[functions]]
decl = "int32 pair_b(Pair* p)"

[[functions]]
decl = "Pair* init_pair(Pair* self, int32 a, int32 b)"
`

func newRuntime(t *testing.T, cfgText string) *Runtime {
	t.Helper()
	ctx := context.Background()
	cfg := config.Default()
	if cfgText != "" {
		var err error
		if cfg, err = config.Parse([]byte(cfgText)); err != nil {
			t.Fatal(err)
		}
	}
	rt, err := New(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = rt.Close(ctx) })
	return rt
}

func loadPair(t *testing.T, rt *Runtime, wasm []byte) *Library {
	t.Helper()
	lib, err := rt.LoadLibrary(context.Background(), "pair", wasm)
	if err != nil {
		t.Fatal(err)
	}
	return lib
}

// freeCount reports how many non-null frees the fixture module has seen.
func freeCount(t *testing.T, lib *Library) int32 {
	t.Helper()
	fn, err := lib.Bind("int32 free_count()")
	if err != nil {
		t.Fatal(err)
	}
	v, err := fn.Call(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return v.(int32)
}

func call(t *testing.T, lib *Library, name string, args ...any) any {
	t.Helper()
	v, err := lib.Call(context.Background(), name, args...)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return v
}

// The two-field structure example: the host writes {a=40, b=7}, the
// foreign side reads the same values, and a pair returned by pointer is
// readable without touching a raw handle.
func TestPairExample(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, pairDecls)
	lib := loadPair(t, rt, guest.PairModule())
	makePair, err := lib.Bind("Pair* make_pair(int32 a, int32 b)")
	if err != nil {
		t.Fatal(err)
	}

	obj, err := lib.AllocateForeign("Pair")
	if err != nil {
		t.Fatal(err)
	}
	p := obj.(*object.Struct)
	if err := p.SetInt32("a", 40); err != nil {
		t.Fatal(err)
	}
	if err := p.SetInt32("b", 7); err != nil {
		t.Fatal(err)
	}

	if got := call(t, lib, "pair_a", p); got != int32(40) {
		t.Errorf("foreign a = %v", got)
	}
	if got := call(t, lib, "pair_b", p); got != int32(7) {
		t.Errorf("foreign b = %v", got)
	}
	if got := call(t, lib, "sum_pair", p); got != int32(47) {
		t.Errorf("sum_pair = %v", got)
	}

	res, err := makePair.Call(ctx, 40, 7)
	if err != nil {
		t.Fatal(err)
	}
	made := res.(*object.Struct)
	a, _ := made.Int32("a")
	b, _ := made.Int32("b")
	hostA, _ := p.Int32("a")
	hostB, _ := p.Int32("b")
	if diff := cmp.Diff([]int32{hostA, hostB}, []int32{a, b}); diff != "" {
		t.Errorf("returned pair differs (-host +returned):\n%s", diff)
	}

	if err := lib.Release(made); err != nil {
		t.Fatal(err)
	}
	if err := lib.Release(p); err != nil {
		t.Fatal(err)
	}
	if got := freeCount(t, lib); got != 2 {
		t.Errorf("free_count = %v", got)
	}
	if _, err := p.Int32("a"); !errors.IsUseAfterRelease(err) {
		t.Errorf("access after release: %v", err)
	}
}

func TestLoadLibrary_Allocators(t *testing.T) {
	tests := []struct {
		name  string
		wasm  []byte
		guest bool
	}{
		{"malloc", guest.PairModule(), true},
		{"cabi_realloc", guest.ReallocModule(), true},
		{"none", guest.BareModule(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newRuntime(t, pairDecls)
			lib := loadPair(t, rt, tt.wasm)

			_, isFreeList := lib.Allocator().(*heap.FreeList)
			if isFreeList == tt.guest {
				t.Errorf("allocator %T", lib.Allocator())
			}
			base, size := lib.HostSpace()
			if size != 4096 || base == 0 {
				t.Errorf("host space [%d, +%d)", base, size)
			}

			obj, err := lib.AllocateForeign("Pair")
			if err != nil {
				t.Fatal(err)
			}
			addr := obj.Handle().Addr()
			if addr >= base && addr < base+size {
				t.Errorf("foreign object %s inside host space", obj.Handle())
			}
			res := call(t, lib, "init_pair", obj, 3, 4)
			if res.(object.External).Handle() != obj.Handle() {
				t.Errorf("init_pair returned %v", res)
			}
			if got := call(t, lib, "sum_pair", obj); got != int32(7) {
				t.Errorf("sum_pair = %v", got)
			}
			if err := lib.Release(obj); err != nil {
				t.Fatal(err)
			}
			if !obj.IsNull() {
				t.Error("handle not nulled")
			}
		})
	}
}

func TestLoadLibrary_BareModuleGrows(t *testing.T) {
	rt := newRuntime(t, pairDecls)
	lib := loadPair(t, rt, guest.BareModule())

	fl := lib.Allocator().(*heap.FreeList)
	if fl.Limit() <= heap.PageSize {
		t.Errorf("free list limit %d, want growth past the initial page", fl.Limit())
	}
	if _, err := lib.Registry().DefineArray("Block", "uint8", 3*heap.PageSize); err != nil {
		t.Fatal(err)
	}
	block, err := lib.AllocateForeign("Block")
	if err != nil {
		t.Fatal(err)
	}
	if end := block.Handle().Addr() + 3*heap.PageSize; end > lib.Memory().Size() {
		t.Errorf("block ends at %d past memory size %d", end, lib.Memory().Size())
	}
}

func TestLibrary_AutoRelease(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, pairDecls)
	lib := loadPair(t, rt, guest.PairModule())

	const n = 10
	func() {
		for i := 0; i < n; i++ {
			obj, err := lib.AllocateForeign("Pair")
			if err != nil {
				t.Fatal(err)
			}
			if err := lib.AutoRelease(obj); err != nil {
				t.Fatal(err)
			}
		}
	}()

	st, err := lib.Collect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Finalized != n {
		t.Errorf("finalized %d, want %d", st.Finalized, n)
	}
	if got := freeCount(t, lib); got != n {
		t.Errorf("free_count = %v, want %d", got, n)
	}

	st, _ = lib.Collect(ctx)
	if st.Finalized != 0 {
		t.Errorf("second collection finalized %d", st.Finalized)
	}
}

// Auto-release frees run on the cleanup goroutine and allocation runs on
// the caller's; both re-enter the module, which must never hand out one
// address twice.
func TestLibrary_FinalizersDuringCalls(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, pairDecls)
	lib := loadPair(t, rt, guest.PairModule())
	makePair, err := lib.Bind("Pair* make_pair(int32 a, int32 b)")
	if err != nil {
		t.Fatal(err)
	}

	const n = 200
	addrs := make(chan wasmffi.Handle, 2*n)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			res, err := makePair.Call(ctx, i, 1)
			if err != nil {
				t.Error(err)
				return
			}
			p := res.(*object.Struct)
			if a, _ := p.Int32("a"); a != int32(i) {
				t.Errorf("make_pair(%d) wrote a=%d", i, a)
			}
			addrs <- p.Handle()
			if err := lib.AutoRelease(p); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			p, err := lib.AllocateForeign("Pair")
			if err != nil {
				t.Error(err)
				return
			}
			addrs <- p.Handle()
			if err := lib.AutoRelease(p); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	stop := make(chan struct{})
	collector := make(chan struct{})
	go func() {
		defer close(collector)
		for {
			select {
			case <-stop:
				return
			default:
			}
			_, _ = lib.Collect(ctx)
			time.Sleep(time.Millisecond)
		}
	}()

	wg.Wait()
	close(stop)
	<-collector
	close(addrs)

	seen := make(map[wasmffi.Handle]bool)
	for h := range addrs {
		if seen[h] {
			t.Errorf("address %s handed out twice", h)
		}
		seen[h] = true
	}

	if _, err := lib.Collect(ctx); err != nil {
		t.Fatal(err)
	}
	if st := lib.Stats(); st.Finalized != 2*n {
		t.Errorf("finalized %d, want %d", st.Finalized, 2*n)
	}
	if got := freeCount(t, lib); got != 2*n {
		t.Errorf("free_count = %d, want %d", got, 2*n)
	}
}

func TestLibrary_PinnedHostObject(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, pairDecls)
	lib := loadPair(t, rt, guest.PairModule())

	func() {
		if _, err := lib.AllocateHost("Pair"); err != nil {
			t.Fatal(err)
		}
	}()
	pinned, _ := lib.AllocateHost("Pair")
	loose, _ := lib.AllocateHost("Pair")
	_ = pinned.(*object.Struct).SetInt32("a", 9)
	_ = loose.(*object.Struct).SetInt32("a", 5)

	if !lib.Pin(pinned) {
		t.Fatal("host object not pinned")
	}
	before := pinned.Handle()
	if _, err := lib.Collect(ctx); err != nil {
		t.Fatal(err)
	}
	if pinned.Handle() != before {
		t.Errorf("pinned object moved from %s to %s", before, pinned.Handle())
	}
	if got := call(t, lib, "pair_a", pinned); got != int32(9) {
		t.Errorf("foreign side reads %v through the pinned handle", got)
	}
	if got := call(t, lib, "pair_a", loose); got != int32(5) {
		t.Errorf("foreign side reads %v through the loose handle", got)
	}

	lib.Unpin(pinned)
	if err := lib.Release(pinned); !errors.Is(err, errors.ErrWrongOrigin) {
		t.Errorf("release of a host object: %v", err)
	}
}

func TestLibrary_WrapHandleAliasing(t *testing.T) {
	rt := newRuntime(t, pairDecls)
	lib := loadPair(t, rt, guest.PairModule())

	obj, _ := lib.AllocateForeign("Pair")
	a, err := lib.WrapHandle("Pair", obj.Handle())
	if err != nil {
		t.Fatal(err)
	}
	b, _ := lib.WrapHandle("Pair", obj.Handle())
	if a.Handle() != b.Handle() || a.ID() == b.ID() {
		t.Errorf("aliases %s and %s", a, b)
	}

	if err := lib.Release(a); err != nil {
		t.Fatal(err)
	}
	if !a.IsNull() || b.IsNull() {
		t.Errorf("after release a=%s b=%s", a.Handle(), b.Handle())
	}
}

func TestRuntime_Libraries(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, "")
	lib := loadPair(t, rt, guest.PairModule())

	if _, err := rt.LoadLibrary(ctx, "pair", guest.PairModule()); err == nil {
		t.Error("duplicate library name accepted")
	}
	if _, err := rt.LoadLibrary(ctx, "junk", []byte("not wasm")); !errors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindInvalidData}) {
		t.Errorf("invalid module: %v", err)
	}
	if _, err := rt.LoadLibrary(ctx, "bare", guest.BareModule()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"bare", "pair"}, rt.Libraries()); diff != "" {
		t.Errorf("libraries (-want +got):\n%s", diff)
	}
	if got, ok := rt.Library("pair"); !ok || got != lib {
		t.Error("library lookup")
	}

	exports := lib.Exports()
	for _, want := range []string{"malloc", "free", "sum_pair", "greeting"} {
		found := false
		for _, name := range exports {
			found = found || name == want
		}
		if !found {
			t.Errorf("export %s missing from %v", want, exports)
		}
	}

	if err := lib.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := lib.AllocateForeign("Pair"); !errors.Is(err, &errors.Error{Kind: errors.KindNotInitialized}) {
		t.Errorf("allocate after close: %v", err)
	}
	if diff := cmp.Diff([]string{"bare"}, rt.Libraries()); diff != "" {
		t.Errorf("libraries after close (-want +got):\n%s", diff)
	}
}

func TestLoadLibrary_DeclarationErrors(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, `
[[functions]]
decl = "int32 sum_pair(Pair* self)"
`)
	_, err := rt.LoadLibrary(ctx, "pair", guest.PairModule())
	if !errors.IsConfiguration(err) {
		t.Errorf("undeclared type: %v", err)
	}
	if len(rt.Libraries()) != 0 {
		t.Errorf("failed library registered: %v", rt.Libraries())
	}
}

func TestLibrary_StringsAndScope(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, pairDecls)
	lib := loadPair(t, rt, guest.PairModule())

	greeting, err := lib.Bind("char* greeting()")
	if err != nil {
		t.Fatal(err)
	}
	if s, err := greeting.Call(ctx); err != nil || s != guest.Greeting {
		t.Errorf("greeting = %q, %v", s, err)
	}

	scope := lib.NewScope()
	for i := 0; i < 3; i++ {
		if _, err := scope.AllocateForeign("Pair"); err != nil {
			t.Fatal(err)
		}
	}
	if err := scope.Close(); err != nil {
		t.Fatal(err)
	}
	if got := freeCount(t, lib); got != 3 {
		t.Errorf("free_count after scope close = %v", got)
	}

	raw, err := lib.WrapHandle("void", wasmffi.Handle(guest.GreetingAddr))
	if err == nil {
		t.Errorf("wrapped a void handle: %v", raw)
	}
	if _, err := lib.Registry().Resolve("Pair"); err != nil {
		t.Error(err)
	}
	if lib.Registry().MustResolve("Pair").Kind != layout.KindStruct {
		t.Error("Pair is not a struct")
	}
}

func TestLoadLibrary_WASI(t *testing.T) {
	rt := newRuntime(t, pairDecls+`
[wasi]
enabled = true
`)
	if rt.Wazero().Module("wasi_snapshot_preview1") != nil {
		t.Fatal("WASI instantiated before any library was loaded")
	}

	lib := loadPair(t, rt, guest.PairModule())
	if rt.Wazero().Module("wasi_snapshot_preview1") == nil {
		t.Fatal("WASI not instantiated")
	}
	if _, err := rt.LoadLibrary(context.Background(), "second", guest.PairModule()); err != nil {
		t.Fatalf("second library with WASI: %v", err)
	}

	p, err := lib.AllocateForeign("Pair")
	if err != nil {
		t.Fatal(err)
	}
	_ = p.(*object.Struct).SetInt32("a", 1)
	_ = p.(*object.Struct).SetInt32("b", 2)
	if got := call(t, lib, "sum_pair", p); got != int32(3) {
		t.Errorf("sum_pair = %v", got)
	}
}
