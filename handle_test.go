package wasmffi

import "testing"

func TestHandle_Null(t *testing.T) {
	if !Null.IsNull() {
		t.Fatal("Null should be null")
	}
	if Handle(8).IsNull() {
		t.Fatal("non-zero handle should not be null")
	}
	if got := Null.String(); got != "null" {
		t.Errorf("String() = %q, want null", got)
	}
}

func TestHandle_Add(t *testing.T) {
	tests := []struct {
		name   string
		h      Handle
		offset uint32
		want   Handle
	}{
		{"zero offset", 16, 0, 16},
		{"field offset", 16, 4, 20},
		{"null stays null", Null, 4, Null},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.h.Add(tc.offset); got != tc.want {
				t.Errorf("Add(%d) = %v, want %v", tc.offset, got, tc.want)
			}
		})
	}
}

func TestHandle_EqualityIsAddressEquality(t *testing.T) {
	a := Handle(1024)
	b := Handle(1024)
	if a != b {
		t.Fatal("handles with the same address must compare equal")
	}
	if a.String() != "0x00000400" {
		t.Errorf("String() = %q", a.String())
	}
}
