package main

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	wasmffi "github.com/wippyai/wasm-ffi"
	"github.com/wippyai/wasm-ffi/heap"
	"github.com/wippyai/wasm-ffi/layout"
	"github.com/wippyai/wasm-ffi/lifecycle"
	"github.com/wippyai/wasm-ffi/marshal"
	"github.com/wippyai/wasm-ffi/object"
)

func TestParseArgs(t *testing.T) {
	r := layout.NewRegistry()
	if _, err := r.DefineStruct("Pair", layout.F("a", "int32"), layout.F("b", "int32")); err != nil {
		t.Fatal(err)
	}
	m := lifecycle.New(r, heap.NewBytes(1024), heap.NewFreeList(64, 1024))
	p, err := m.AllocateForeign("Pair")
	if err != nil {
		t.Fatal(err)
	}
	objs := []object.External{nil, p}

	sig, err := marshal.ParseSignature(r, "double f(Pair* self, int32 a, uint8 b, bool c, float d, char* s, void* raw)")
	if err != nil {
		t.Fatal(err)
	}
	got, err := parseArgs(sig, splitArgs("#1, -3, 0x10, true, 1.5, hi there, 4096"), objs)
	if err != nil {
		t.Fatal(err)
	}
	want := []any{p, int64(-3), uint64(16), true, float32(1.5), "hi there", wasmffi.Handle(4096)}
	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b object.External) bool { return a == b })); diff != "" {
		t.Errorf("parseArgs mismatch (-want +got):\n%s", diff)
	}

	tests := []struct {
		args   string
		errMsg string
	}{
		{"#0, 1, 1, true, 1, s, 0", "no object #0"},
		{"#7, 1, 1, true, 1, s, 0", "no object #7"},
		{"#1, x, 1, true, 1, s, 0", "a:"},
		{"#1, 1", "takes 7 arguments"},
	}
	for _, tt := range tests {
		_, err := parseArgs(sig, splitArgs(tt.args), objs)
		if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
			t.Errorf("parseArgs(%q) error = %v, want %q", tt.args, err, tt.errMsg)
		}
	}

	if args := splitArgs("  "); args != nil {
		t.Errorf("splitArgs of blank = %v", args)
	}
}

func TestFormatValue(t *testing.T) {
	r := layout.NewRegistry()
	if _, err := r.DefineStruct("Pair", layout.F("a", "int32"), layout.F("b", "int32")); err != nil {
		t.Fatal(err)
	}
	m := lifecycle.New(r, heap.NewBytes(1024), heap.NewFreeList(64, 1024))
	obj, _ := m.AllocateForeign("Pair")
	p := obj.(*object.Struct)
	_ = p.SetInt32("a", 40)
	_ = p.SetInt32("b", 7)

	if got := formatValue(p); !strings.HasSuffix(got, "{ a: 40, b: 7 }") {
		t.Errorf("formatValue(pair) = %q", got)
	}
	if got := formatValue(nil); got != "void" {
		t.Errorf("formatValue(nil) = %q", got)
	}
	if got := formatValue("x"); got != `"x"` {
		t.Errorf("formatValue(string) = %q", got)
	}
	if got := formatValue(int32(47)); got != "47" {
		t.Errorf("formatValue(int32) = %q", got)
	}
}
