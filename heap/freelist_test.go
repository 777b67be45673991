package heap

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/wasm-ffi/errors"
)

func TestFreeList_AllocAligned(t *testing.T) {
	f := NewFreeList(0, 256)

	tests := []struct {
		size, align uint32
	}{
		{1, 1},
		{8, 8},
		{3, 4},
		{16, 16},
	}
	for _, tt := range tests {
		ptr, err := f.Alloc(tt.size, tt.align)
		if err != nil {
			t.Fatalf("Alloc(%d, %d): %v", tt.size, tt.align, err)
		}
		if ptr == 0 {
			t.Fatal("Alloc returned the null address")
		}
		if ptr%tt.align != 0 {
			t.Errorf("Alloc(%d, %d) = %d, not aligned", tt.size, tt.align, ptr)
		}
	}
	if f.Live() != len(tests) {
		t.Errorf("Live = %d, want %d", f.Live(), len(tests))
	}
	if f.InUse() != 1+8+3+16 {
		t.Errorf("InUse = %d", f.InUse())
	}
}

func TestFreeList_NeverReturnsNull(t *testing.T) {
	f := NewFreeList(0, 64)
	ptr, err := f.Alloc(4, 1)
	if err != nil {
		t.Fatal(err)
	}
	if ptr < minAddr {
		t.Errorf("ptr = %d, want >= %d", ptr, minAddr)
	}
}

func TestFreeList_Exhaustion(t *testing.T) {
	f := NewFreeList(8, 40)
	if _, err := f.Alloc(32, 1); err != nil {
		t.Fatal(err)
	}
	_, err := f.Alloc(1, 1)
	if !errors.IsAllocation(err) {
		t.Fatalf("expected allocation error, got %v", err)
	}
}

func TestFreeList_FreeCoalesces(t *testing.T) {
	f := NewFreeList(8, 8+96)

	a, _ := f.Alloc(32, 1)
	b, _ := f.Alloc(32, 1)
	c, _ := f.Alloc(32, 1)

	f.Free(a, 32, 1)
	f.Free(c, 32, 1)
	if f.Spans() != 2 {
		t.Fatalf("Spans = %d, want 2", f.Spans())
	}
	f.Free(b, 32, 1)
	if f.Spans() != 1 {
		t.Fatalf("Spans after coalesce = %d, want 1", f.Spans())
	}

	// whole range is usable again
	p, err := f.Alloc(96, 1)
	if err != nil {
		t.Fatalf("Alloc after coalesce: %v", err)
	}
	if p != 8 {
		t.Errorf("p = %d, want 8", p)
	}
}

func TestFreeList_FirstFitReuse(t *testing.T) {
	f := NewFreeList(8, 1024)
	a, _ := f.Alloc(16, 8)
	_, _ = f.Alloc(16, 8)
	f.Free(a, 16, 8)

	p, _ := f.Alloc(8, 8)
	if p != a {
		t.Errorf("first fit should reuse %d, got %d", a, p)
	}
}

func TestFreeList_Grow(t *testing.T) {
	calls := 0
	f := NewFreeList(8, 16, WithGrow(func(limit, need uint32) (uint32, error) {
		calls++
		return limit + 64, nil
	}))

	p, err := f.Alloc(32, 8)
	if err != nil {
		t.Fatalf("Alloc with grow: %v", err)
	}
	if calls != 1 {
		t.Errorf("grow called %d times", calls)
	}
	if p+32 > f.Limit() {
		t.Errorf("allocation [%d,%d) past limit %d", p, p+32, f.Limit())
	}
}

func TestFreeList_UnknownFreeLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	prev := Logger()
	SetLogger(zap.New(core))
	defer SetLogger(prev)

	f := NewFreeList(8, 64)
	p, _ := f.Alloc(8, 8)
	f.Free(p, 8, 8)
	f.Free(p, 8, 8) // second free of the same address

	if logs.Len() != 1 {
		t.Fatalf("logged %d entries, want 1", logs.Len())
	}
	if f.Live() != 0 {
		t.Errorf("Live = %d", f.Live())
	}
	if f.Owns(p) {
		t.Error("freed address still owned")
	}
}
