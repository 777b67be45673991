package layout

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/wasm-ffi/errors"
)

func TestAlignTo(t *testing.T) {
	tests := []struct {
		offset, align, want uint32
	}{
		{0, 4, 0},
		{1, 4, 4},
		{4, 4, 4},
		{5, 8, 8},
		{7, 1, 7},
		{3, 0, 3},
	}
	for _, tt := range tests {
		if got := AlignTo(tt.offset, tt.align); got != tt.want {
			t.Errorf("AlignTo(%d, %d) = %d, want %d", tt.offset, tt.align, got, tt.want)
		}
	}
}

func TestRegistry_Builtins(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name  string
		kind  Kind
		size  uint32
		align uint32
	}{
		{"int", KindS32, 4, 4},
		{"uint8_t", KindU8, 1, 1},
		{"short", KindS16, 2, 2},
		{"double", KindF64, 8, 8},
		{"size_t", KindU32, 4, 4},
		{"longlong", KindS64, 8, 8},
		{"int32", KindS32, 4, 4},
		{"char*", KindString, 4, 4},
		{"void*", KindPointer, 4, 4},
		// WIT primitive names
		{"s32", KindS32, 4, 4},
		{"u64", KindU64, 8, 8},
		{"f32", KindF32, 4, 4},
		{"bool", KindBool, 1, 1},
		{"string", KindString, 4, 4},
		{"  u16 ", KindU16, 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := r.Resolve(tt.name)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if d.Kind != tt.kind || d.Size != tt.size || d.Align != tt.align {
				t.Errorf("got %s size=%d align=%d, want %s size=%d align=%d",
					d.Kind, d.Size, d.Align, tt.kind, tt.size, tt.align)
			}
		})
	}
}

func TestRegistry_DefineStruct(t *testing.T) {
	r := NewRegistry()

	d, err := r.DefineStruct("Mixed",
		F("flag", "u8"),
		F("count", "int32"),
		F("small", "short"),
		F("big", "uint64"),
		F("tail", "char"),
	)
	if err != nil {
		t.Fatal(err)
	}

	type fieldLayout struct {
		Name   string
		Offset uint32
	}
	var got []fieldLayout
	for _, f := range d.Fields {
		got = append(got, fieldLayout{f.Name, f.Offset})
	}
	want := []fieldLayout{
		{"flag", 0},
		{"count", 4},
		{"small", 8},
		{"big", 16},
		{"tail", 24},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("field offsets mismatch (-want +got):\n%s", diff)
	}
	if d.Size != 32 || d.Align != 8 {
		t.Errorf("size=%d align=%d, want 32/8", d.Size, d.Align)
	}
}

func TestRegistry_Pair(t *testing.T) {
	r := NewRegistry()
	d, err := r.DefineStruct("Pair", F("a", "int32"), F("b", "int32"))
	if err != nil {
		t.Fatal(err)
	}
	if d.Size != 8 || d.Align != 4 {
		t.Errorf("Pair size=%d align=%d", d.Size, d.Align)
	}
	if diff := cmp.Diff([]string{"a", "b"}, d.FieldNames()); diff != "" {
		t.Error(diff)
	}

	p, err := r.Resolve("Pair*")
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind != KindPointer || p.Target != d {
		t.Errorf("Pair* = %+v", p)
	}
	if p.External() != d {
		t.Error("Pair* should refer to the Pair external")
	}
	pp, err := r.Resolve("Pair **")
	if err != nil {
		t.Fatal(err)
	}
	if pp.Target.Target != d {
		t.Error("Pair** should resolve through two pointers")
	}
	if pp.External() != nil {
		t.Error("Pair** is not an external object reference")
	}
}

func TestRegistry_DefineUnion(t *testing.T) {
	r := NewRegistry()
	d, err := r.DefineUnion("Value", F("i", "int32"), F("d", "double"), F("c", "char"))
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range d.Fields {
		if f.Offset != 0 {
			t.Errorf("field %s offset %d, want 0", f.Name, f.Offset)
		}
	}
	if d.Size != 8 || d.Align != 8 {
		t.Errorf("size=%d align=%d", d.Size, d.Align)
	}
}

func TestRegistry_DefineArray(t *testing.T) {
	r := NewRegistry()
	if _, err := r.DefineStruct("Pt", F("x", "int16"), F("y", "int8")); err != nil {
		t.Fatal(err)
	}
	d, err := r.DefineArray("Pts", "Pt", 5)
	if err != nil {
		t.Fatal(err)
	}
	if d.Count != 5 || d.Elem.Size != 4 || d.Size != 20 || d.Align != 2 {
		t.Errorf("array = count %d elem %d size %d align %d", d.Count, d.Elem.Size, d.Size, d.Align)
	}
}

func TestRegistry_Opaque(t *testing.T) {
	r := NewRegistry()
	d, err := r.DefineOpaque("FILE")
	if err != nil {
		t.Fatal(err)
	}
	if d.Kind != KindOpaque || d.Size != 0 {
		t.Errorf("opaque = %+v", d)
	}

	// opaque types cannot be embedded by value, only by pointer
	_, err = r.DefineStruct("Bad", F("f", "FILE"))
	if err == nil {
		t.Fatal("expected error embedding an opaque type")
	}
	s, err := r.DefineStruct("Stream", F("f", "FILE*"), F("n", "int"))
	if err != nil {
		t.Fatal(err)
	}
	if s.Size != 8 {
		t.Errorf("Stream size = %d", s.Size)
	}
}

func TestRegistry_SelfReference(t *testing.T) {
	r := NewRegistry()
	d, err := r.DefineStruct("Node", F("value", "int"), F("next", "Node*"))
	if err != nil {
		t.Fatal(err)
	}
	next, _ := d.Field("next")
	if next.Type.Target != d {
		t.Error("next should point at Node")
	}
	p, err := r.Resolve("Node*")
	if err != nil {
		t.Fatal(err)
	}
	if p.Target != d {
		t.Error("Node* should resolve to the defined struct")
	}
}

func TestRegistry_Alias(t *testing.T) {
	r := NewRegistry()
	if _, err := r.DefineStruct("Pair", F("a", "int32"), F("b", "int32")); err != nil {
		t.Fatal(err)
	}
	if err := r.Alias("pair_t", "Pair"); err != nil {
		t.Fatal(err)
	}
	if err := r.Alias("handle_t", "void*"); err != nil {
		t.Fatal(err)
	}

	d, err := r.Resolve("pair_t*")
	if err != nil {
		t.Fatal(err)
	}
	if d.Target.Name != "Pair" {
		t.Errorf("pair_t* target = %s", d.Target.Name)
	}
	h, _ := r.Resolve("handle_t")
	if h.Kind != KindPointer {
		t.Errorf("handle_t kind = %s", h.Kind)
	}

	if err := r.Alias("broken", "Nope"); !errors.IsConfiguration(err) {
		t.Errorf("alias to unknown type: %v", err)
	}
}

func TestRegistry_Errors(t *testing.T) {
	r := NewRegistry()
	if _, err := r.DefineStruct("Pair", F("a", "int32"), F("b", "int32")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		fn   func() error
	}{
		{"unknown name", func() error { _, err := r.Resolve("Point"); return err }},
		{"unknown pointer target", func() error { _, err := r.Resolve("Point*"); return err }},
		{"unknown field type", func() error { _, err := r.DefineStruct("S", F("p", "Point")); return err }},
		{"conflicting redefinition", func() error { _, err := r.DefineStruct("Pair", F("a", "int64")); return err }},
		{"duplicate field", func() error { _, err := r.DefineStruct("D", F("a", "int"), F("a", "int")); return err }},
		{"no fields", func() error { _, err := r.DefineStruct("E"); return err }},
		{"empty name", func() error { _, err := r.DefineOpaque(" "); return err }},
		{"builtin clash", func() error { _, err := r.DefineOpaque("int"); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.IsConfiguration(err) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestRegistry_IdenticalRedefinition(t *testing.T) {
	r := NewRegistry()
	a, err := r.DefineStruct("Pair", F("a", "int32"), F("b", "int32"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.DefineStruct("Pair", F("a", "int32"), F("b", "int32"))
	if err != nil {
		t.Fatalf("identical redefinition: %v", err)
	}
	if a != b {
		t.Error("identical redefinition should return the existing descriptor")
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	_, _ = r.DefineOpaque("Z")
	_, _ = r.DefineStruct("A", F("x", "int"))
	if diff := cmp.Diff([]string{"A", "Z"}, r.Names()); diff != "" {
		t.Error(diff)
	}
	if !r.Defined("A") || r.Defined("int") {
		t.Error("Defined mismatch")
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	if _, err := r.DefineStruct("Pair", F("a", "int32"), F("b", "int32")); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := r.Resolve("Pair*"); err != nil {
					t.Error(err)
					return
				}
				_, _ = r.Resolve("s64")
			}
		}()
	}
	wg.Wait()
}
