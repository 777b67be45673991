package marshal

import (
	wasmffi "github.com/wippyai/wasm-ffi"
	"github.com/wippyai/wasm-ffi/errors"
	"github.com/wippyai/wasm-ffi/layout"
	"github.com/wippyai/wasm-ffi/object"
)

// Temps holds foreign allocations made while lowering one call. They are
// freed once the call returns.
type Temps struct {
	alloc wasmffi.Allocator
	mem   wasmffi.Memory
	spans []temp
}

type temp struct {
	addr uint32
	size uint32
}

// NewTemps returns a temporary arena over alloc and mem.
func NewTemps(alloc wasmffi.Allocator, mem wasmffi.Memory) *Temps {
	return &Temps{alloc: alloc, mem: mem}
}

// CString copies s into a NUL-terminated foreign buffer.
func (t *Temps) CString(s string) (wasmffi.Handle, error) {
	if t == nil || t.alloc == nil || t.mem == nil {
		return wasmffi.Null, errors.NotInitialized(errors.PhaseMarshal, "allocator for string arguments")
	}
	size := uint32(len(s)) + 1
	addr, err := t.alloc.Alloc(size, 1)
	if err != nil {
		return wasmffi.Null, err
	}
	t.spans = append(t.spans, temp{addr: addr, size: size})

	buf := make([]byte, size)
	copy(buf, s)
	if err := t.mem.Write(addr, buf); err != nil {
		return wasmffi.Null, errors.Wrap(errors.PhaseMarshal, errors.KindOutOfBounds, err, "write string argument")
	}
	return wasmffi.Handle(addr), nil
}

// Len returns the number of live temporaries.
func (t *Temps) Len() int {
	if t == nil {
		return 0
	}
	return len(t.spans)
}

// Free releases every temporary, newest first.
func (t *Temps) Free() {
	if t == nil {
		return
	}
	for i := len(t.spans) - 1; i >= 0; i-- {
		t.alloc.Free(t.spans[i].addr, t.spans[i].size, 1)
	}
	t.spans = t.spans[:0]
}

// Lower converts a Go argument to the flat value passed for a parameter of
// type d. External objects pass only their handle; a Null handle is passed
// as is. Go strings for string parameters are copied into temps.
func Lower(d *layout.Descriptor, v any, temps *Temps) (uint64, error) {
	if d == nil {
		return 0, errors.InvalidInput(errors.PhaseMarshal, "nil parameter type")
	}

	if d.Kind == layout.KindString {
		if s, ok := v.(string); ok {
			h, err := temps.CString(s)
			return uint64(h), err
		}
	}

	if ext := d.External(); ext != nil {
		if obj, ok := v.(object.External); ok {
			if obj.Descriptor() != ext {
				return 0, errors.TypeMismatch(errors.PhaseMarshal, nil, obj.Descriptor().String(), ext.String())
			}
			return uint64(obj.Handle()), nil
		}
	}

	k := d.Kind
	if d.IsPointerLike() {
		k = layout.KindPointer
	}
	bits, err := layout.Bits(k, v)
	if err != nil {
		if e, ok := err.(*errors.Error); ok && e.Type == "" {
			cp := *e
			cp.Type = d.String()
			return 0, &cp
		}
		return 0, err
	}
	return bits, nil
}

// Wrapper builds external objects for lifted handles.
type Wrapper interface {
	Wrap(desc *layout.Descriptor, h wasmffi.Handle) (object.External, error)
}

// Lift converts a flat result of type d to a Go value. External results
// are wrapped into new foreign-heap objects, strings are copied out of mem,
// other pointers become wasmffi.Handle.
func Lift(d *layout.Descriptor, raw uint64, mem wasmffi.Memory, w Wrapper) (any, error) {
	if d == nil || d.Kind == layout.KindVoid {
		return nil, nil
	}

	if ext := d.External(); ext != nil {
		if w == nil {
			return nil, errors.NotInitialized(errors.PhaseUnmarshal, "object wrapper")
		}
		return w.Wrap(ext, wasmffi.Handle(uint32(raw)))
	}

	switch d.Kind {
	case layout.KindString:
		if mem == nil {
			return nil, errors.NotInitialized(errors.PhaseUnmarshal, "memory")
		}
		return layout.ReadCString(mem, uint32(raw))
	case layout.KindPointer:
		return wasmffi.Handle(uint32(raw)), nil
	}

	if !d.Kind.IsScalar() {
		return nil, errors.New(errors.PhaseUnmarshal, errors.KindTypeMismatch).
			Type(d.String()).Detail("cannot lift %s", d.Kind).Build()
	}
	return layout.FromBits(d.Kind, raw), nil
}

func argError(err error, fn, param string) error {
	if e, ok := err.(*errors.Error); ok {
		cp := *e
		cp.Path = []string{fn, param}
		return &cp
	}
	return errors.New(errors.PhaseMarshal, errors.KindInvalidInput).
		Path(fn, param).Cause(err).Detail("%v", err).Build()
}

func arityError(sig *Signature, got int) error {
	return errors.New(errors.PhaseCall, errors.KindInvalidInput).
		Path(sig.Name).
		Detail("%s takes %d arguments, got %d", sig.Name, sig.Arity(), got).Build()
}

func callError(name string, err error) error {
	return errors.New(errors.PhaseCall, errors.KindInvalidData).
		Path(name).Cause(err).Detail("foreign call %s failed", name).Build()
}
