package layout

import (
	"fmt"
	"math"

	wasmffi "github.com/wippyai/wasm-ffi"
	"github.com/wippyai/wasm-ffi/errors"
)

// MaxCString bounds the length of NUL-terminated strings read from memory.
const MaxCString = 1 << 20

// handler is satisfied by external objects.
type handler interface {
	Handle() wasmffi.Handle
}

// Load reads a scalar of type d at addr. Pointers and strings load as
// wasmffi.Handle, the same value Store accepts; ReadCString follows a
// string handle.
func Load(mem wasmffi.Memory, addr uint32, d *Descriptor) (any, error) {
	if !d.Kind.IsScalar() {
		return nil, errors.New(errors.PhaseUnmarshal, errors.KindTypeMismatch).
			Type(d.String()).Detail("cannot load %s as a scalar", d.Kind).Build()
	}
	bits, err := loadBits(mem, addr, d.Size)
	if err != nil {
		return nil, err
	}
	return FromBits(d.Kind, bits), nil
}

// Store writes v as a scalar of type d at addr.
func Store(mem wasmffi.Memory, addr uint32, d *Descriptor, v any) error {
	if !d.Kind.IsScalar() {
		return errors.New(errors.PhaseMarshal, errors.KindTypeMismatch).
			Type(d.String()).Detail("cannot store into %s", d.Kind).Build()
	}
	if _, ok := v.(string); ok && d.Kind == KindString {
		return errors.New(errors.PhaseMarshal, errors.KindTypeMismatch).
			Type(d.String()).GoType("string").
			Detail("string fields hold a char* handle; allocate the text first").Build()
	}
	bits, err := Bits(d.Kind, v)
	if err != nil {
		return err
	}
	return storeBits(mem, addr, d.Size, bits)
}

func loadBits(mem wasmffi.Memory, addr, size uint32) (uint64, error) {
	switch size {
	case 1:
		v, err := mem.ReadU8(addr)
		return uint64(v), err
	case 2:
		v, err := mem.ReadU16(addr)
		return uint64(v), err
	case 4:
		v, err := mem.ReadU32(addr)
		return uint64(v), err
	case 8:
		return mem.ReadU64(addr)
	}
	return 0, errors.InvalidData(errors.PhaseUnmarshal, nil, fmt.Sprintf("unsupported scalar size %d", size))
}

func storeBits(mem wasmffi.Memory, addr, size uint32, bits uint64) error {
	switch size {
	case 1:
		return mem.WriteU8(addr, uint8(bits))
	case 2:
		return mem.WriteU16(addr, uint16(bits))
	case 4:
		return mem.WriteU32(addr, uint32(bits))
	case 8:
		return mem.WriteU64(addr, bits)
	}
	return errors.InvalidData(errors.PhaseMarshal, nil, fmt.Sprintf("unsupported scalar size %d", size))
}

// Bits converts a Go value into the flat representation of kind k.
// Integers are range checked against k; 32-bit and narrower kinds occupy
// the low 32 bits.
func Bits(k Kind, v any) (uint64, error) {
	switch k {
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return 0, mismatch(k, v)
		}
		if b {
			return 1, nil
		}
		return 0, nil

	case KindF32:
		switch f := v.(type) {
		case float32:
			return uint64(math.Float32bits(f)), nil
		case float64:
			return uint64(math.Float32bits(float32(f))), nil
		}
		if i, _, ok := integer(v); ok {
			return uint64(math.Float32bits(float32(i))), nil
		}
		return 0, mismatch(k, v)

	case KindF64:
		switch f := v.(type) {
		case float32:
			return math.Float64bits(float64(f)), nil
		case float64:
			return math.Float64bits(f), nil
		}
		if i, _, ok := integer(v); ok {
			return math.Float64bits(float64(i)), nil
		}
		return 0, mismatch(k, v)

	case KindPointer, KindString:
		switch p := v.(type) {
		case nil:
			return 0, nil
		case wasmffi.Handle:
			return uint64(p), nil
		case uint32:
			return uint64(p), nil
		case handler:
			return uint64(p.Handle()), nil
		}
		return 0, mismatch(k, v)

	case KindVoid:
		return 0, nil
	}

	if !k.IsInteger() {
		return 0, mismatch(k, v)
	}

	i, neg, ok := integer(v)
	if !ok {
		return 0, mismatch(k, v)
	}
	lo, hi := intRange(k)
	if neg {
		if i < lo {
			return 0, errors.Overflow(errors.PhaseMarshal, nil, v, k.String())
		}
	} else if uint64(i) > hi {
		return 0, errors.Overflow(errors.PhaseMarshal, nil, v, k.String())
	}

	if k.Is64() {
		return uint64(i), nil
	}
	return uint64(uint32(i)), nil
}

// FromBits converts a flat value of kind k to its Go representation.
func FromBits(k Kind, bits uint64) any {
	switch k {
	case KindBool:
		return bits != 0
	case KindU8:
		return uint8(bits)
	case KindS8:
		return int8(bits)
	case KindU16:
		return uint16(bits)
	case KindS16:
		return int16(bits)
	case KindU32:
		return uint32(bits)
	case KindS32:
		return int32(uint32(bits))
	case KindU64:
		return bits
	case KindS64:
		return int64(bits)
	case KindF32:
		return math.Float32frombits(uint32(bits))
	case KindF64:
		return math.Float64frombits(bits)
	case KindPointer, KindString:
		return wasmffi.Handle(uint32(bits))
	}
	return nil
}

// ReadCString reads a NUL-terminated string at addr. A null address reads
// as the empty string.
func ReadCString(mem wasmffi.Memory, addr uint32) (string, error) {
	if addr == 0 {
		return "", nil
	}
	buf := make([]byte, 0, 32)
	for n := uint32(0); n < MaxCString; n++ {
		b, err := mem.ReadU8(addr + n)
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(buf), nil
		}
		buf = append(buf, b)
	}
	return "", errors.InvalidData(errors.PhaseUnmarshal, nil, "unterminated string")
}

// integer extracts an integer value. The first result holds the value as
// int64 bits; neg reports a negative signed input.
func integer(v any) (i int64, neg bool, ok bool) {
	switch n := v.(type) {
	case int:
		return int64(n), n < 0, true
	case int8:
		return int64(n), n < 0, true
	case int16:
		return int64(n), n < 0, true
	case int32:
		return int64(n), n < 0, true
	case int64:
		return n, n < 0, true
	case uint:
		return int64(n), false, true
	case uint8:
		return int64(n), false, true
	case uint16:
		return int64(n), false, true
	case uint32:
		return int64(n), false, true
	case uint64:
		return int64(n), false, true
	case uintptr:
		return int64(n), false, true
	}
	return 0, false, false
}

func intRange(k Kind) (lo int64, hi uint64) {
	switch k {
	case KindU8:
		return 0, math.MaxUint8
	case KindS8:
		return math.MinInt8, math.MaxInt8
	case KindU16:
		return 0, math.MaxUint16
	case KindS16:
		return math.MinInt16, math.MaxInt16
	case KindU32:
		return 0, math.MaxUint32
	case KindS32:
		return math.MinInt32, math.MaxInt32
	case KindU64:
		return 0, math.MaxUint64
	case KindS64:
		return math.MinInt64, math.MaxInt64
	}
	return 0, 0
}

func mismatch(k Kind, v any) error {
	return errors.TypeMismatch(errors.PhaseMarshal, nil, fmt.Sprintf("%T", v), k.String())
}
