package layout

import "strings"

// PointerSize is the size of an address in wasm32 linear memory.
const PointerSize = 4

// Field is a named member of a struct or union.
type Field struct {
	Type   *Descriptor
	Name   string
	Offset uint32
}

// Descriptor is the resolved layout of a foreign type.
type Descriptor struct {
	Elem   *Descriptor // array element
	Target *Descriptor // pointer target
	Name   string
	Fields []Field
	Kind   Kind
	Size   uint32
	Align  uint32
	Count  uint32 // array length
}

// Field returns the field with the given name.
func (d *Descriptor) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldNames returns the field names in declaration order.
func (d *Descriptor) FieldNames() []string {
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}

// External returns the descriptor of the external object a value of this
// type refers to: d itself for struct, union, array and opaque types, the
// target for a pointer to one of those, nil otherwise.
func (d *Descriptor) External() *Descriptor {
	if d == nil {
		return nil
	}
	if d.Kind.IsExternal() {
		return d
	}
	if d.Kind == KindPointer && d.Target != nil && d.Target.Kind.IsExternal() {
		return d.Target
	}
	return nil
}

// IsPointerLike reports whether the type lowers to an address.
func (d *Descriptor) IsPointerLike() bool {
	return d.Kind == KindPointer || d.Kind == KindString || d.Kind.IsExternal()
}

func (d *Descriptor) String() string {
	if d == nil {
		return "<nil>"
	}
	if d.Name != "" {
		return d.Name
	}
	return d.Kind.String()
}

// sameLayout reports whether two descriptors describe the same memory shape.
func sameLayout(a, b *Descriptor) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.Kind != b.Kind || a.Size != b.Size || a.Align != b.Align || a.Count != b.Count {
		return false
	}
	if len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		fa, fb := a.Fields[i], b.Fields[i]
		if fa.Name != fb.Name || fa.Offset != fb.Offset || fa.Type.String() != fb.Type.String() {
			return false
		}
	}
	return a.Elem.String() == b.Elem.String()
}

// AlignTo rounds offset up to the next multiple of align.
func AlignTo(offset, align uint32) uint32 {
	if align <= 1 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}

// pointerName returns the target name of a "T*" spelling.
func pointerName(name string) (string, bool) {
	if !strings.HasSuffix(name, "*") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimSuffix(name, "*")), true
}
