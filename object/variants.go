package object

import (
	"fmt"

	wasmffi "github.com/wippyai/wasm-ffi"
	"github.com/wippyai/wasm-ffi/errors"
	"github.com/wippyai/wasm-ffi/layout"
)

// variantKind is implemented by the four variants and promoted to types
// that embed them.
type variantKind interface {
	variantKind() layout.Kind
}

// Struct is an external object with named fields.
type Struct struct {
	Object
}

// Union is an external object whose fields overlap at offset 0.
type Union struct {
	Object
}

// Array is an external object of Count elements of one type.
type Array struct {
	Object
}

// Opaque is an external object without visible layout.
type Opaque struct {
	Object
}

func (*Struct) variantKind() layout.Kind { return layout.KindStruct }
func (*Union) variantKind() layout.Kind  { return layout.KindUnion }
func (*Array) variantKind() layout.Kind  { return layout.KindArray }
func (*Opaque) variantKind() layout.Kind { return layout.KindOpaque }

func newVariant(k layout.Kind) External {
	switch k {
	case layout.KindStruct:
		return &Struct{}
	case layout.KindUnion:
		return &Union{}
	case layout.KindArray:
		return &Array{}
	default:
		return &Opaque{}
	}
}

// externalDescriptor returns the external descriptor of desc, or a
// configuration error for scalar types.
func externalDescriptor(desc *layout.Descriptor) (*layout.Descriptor, error) {
	if desc == nil {
		return nil, errors.InvalidInput(errors.PhaseDefine, "nil type descriptor")
	}
	ext := desc.External()
	if ext == nil {
		return nil, errors.New(errors.PhaseDefine, errors.KindTypeMismatch).
			Type(desc.String()).
			Detail("%s is not an external object type", desc.Kind).Build()
	}
	return ext, nil
}

// Wrap builds the variant matching desc around h. A pointer descriptor
// wraps its target type.
func Wrap(desc *layout.Descriptor, h wasmffi.Handle, origin Origin, mem wasmffi.Memory) (External, error) {
	ext, err := externalDescriptor(desc)
	if err != nil {
		return nil, err
	}
	v := newVariant(ext.Kind)
	v.Base().init(ext, h, origin, mem)
	return v, nil
}

// Bind initializes a caller-constructed object, typically a binding type
// that embeds one of the variants. The variant must match the descriptor
// kind and the object must not be bound yet.
func Bind(ext External, desc *layout.Descriptor, h wasmffi.Handle, origin Origin, mem wasmffi.Memory) error {
	d, err := externalDescriptor(desc)
	if err != nil {
		return err
	}
	vk, ok := ext.(variantKind)
	if !ok {
		return errors.New(errors.PhaseDefine, errors.KindTypeMismatch).
			GoType(fmt.Sprintf("%T", ext)).
			Detail("type does not embed Struct, Union, Array or Opaque").Build()
	}
	if vk.variantKind() != d.Kind {
		return errors.TypeMismatch(errors.PhaseDefine, nil, fmt.Sprintf("%T", ext), d.String())
	}
	base := ext.Base()
	if base.id != 0 {
		return errors.InvalidInput(errors.PhaseDefine, fmt.Sprintf("object %s is already bound", base))
	}
	base.init(d, h, origin, mem)
	return nil
}

// Get reads a field. Scalar fields return Go values; nested structs, unions
// and arrays return a view sharing this object's storage.
func (s *Struct) Get(field string) (any, error) {
	return s.getField(field)
}

// Set writes a field. Nested values are copied from an object of the
// same type.
func (s *Struct) Set(field string, v any) error {
	return s.setField(field, v)
}

// Sub returns the view of a nested struct, union or array field.
func (s *Struct) Sub(field string) (External, error) {
	return s.subField(field)
}

// Fields returns the field names in declaration order.
func (s *Struct) Fields() []string {
	return s.desc.FieldNames()
}

// Int32 reads an s32 field.
func (s *Struct) Int32(field string) (int32, error) {
	return typed[int32](&s.Object, field)
}

// SetInt32 writes an s32 field.
func (s *Struct) SetInt32(field string, v int32) error {
	return s.setField(field, v)
}

// Uint32 reads a u32 field.
func (s *Struct) Uint32(field string) (uint32, error) {
	return typed[uint32](&s.Object, field)
}

// Float64 reads an f64 field.
func (s *Struct) Float64(field string) (float64, error) {
	return typed[float64](&s.Object, field)
}

// Pointer reads a pointer field.
func (s *Struct) Pointer(field string) (wasmffi.Handle, error) {
	return typed[wasmffi.Handle](&s.Object, field)
}

// CString follows a char* field and copies the text it points to. Get and
// Set work with the handle itself.
func (s *Struct) CString(field string) (string, error) {
	h, err := typed[wasmffi.Handle](&s.Object, field)
	if err != nil {
		return "", err
	}
	unlock := s.lock()
	defer unlock()
	str, err := layout.ReadCString(s.mem, h.Addr())
	if err != nil {
		return "", withPath(err, []string{s.TypeName(), field})
	}
	return str, nil
}

func (u *Union) Get(field string) (any, error)         { return u.getField(field) }
func (u *Union) Set(field string, v any) error         { return u.setField(field, v) }
func (u *Union) Sub(field string) (External, error)    { return u.subField(field) }
func (u *Union) Fields() []string                      { return u.desc.FieldNames() }
func (u *Union) Int32(field string) (int32, error)     { return typed[int32](&u.Object, field) }
func (u *Union) Float64(field string) (float64, error) { return typed[float64](&u.Object, field) }

// Len returns the declared element count.
func (a *Array) Len() int {
	return int(a.desc.Count)
}

// Elem returns the element descriptor.
func (a *Array) Elem() *layout.Descriptor {
	return a.desc.Elem
}

// At reads element i.
func (a *Array) At(i int) (any, error) {
	off, err := a.elemOffset(i)
	if err != nil {
		return nil, err
	}
	return a.load(errors.PhaseAccess, off, a.desc.Elem, a.indexPath(i))
}

// SetAt writes element i.
func (a *Array) SetAt(i int, v any) error {
	off, err := a.elemOffset(i)
	if err != nil {
		return err
	}
	return a.store(errors.PhaseAccess, off, a.desc.Elem, a.indexPath(i), v)
}

func (a *Array) elemOffset(i int) (uint32, error) {
	if i < 0 || i >= a.Len() {
		return 0, errors.OutOfBounds(errors.PhaseAccess, []string{a.TypeName()}, i, a.Len())
	}
	stride := layout.AlignTo(a.desc.Elem.Size, a.desc.Elem.Align)
	return uint32(i) * stride, nil
}

func (a *Array) indexPath(i int) []string {
	return []string{a.TypeName(), fmt.Sprintf("[%d]", i)}
}

func (o *Object) field(name string) (layout.Field, error) {
	f, ok := o.desc.Field(name)
	if !ok {
		return layout.Field{}, errors.FieldUnknown(errors.PhaseAccess, []string{o.TypeName()}, name)
	}
	return f, nil
}

func (o *Object) getField(name string) (any, error) {
	f, err := o.field(name)
	if err != nil {
		return nil, err
	}
	return o.load(errors.PhaseAccess, f.Offset, f.Type, []string{o.TypeName(), name})
}

func (o *Object) setField(name string, v any) error {
	f, err := o.field(name)
	if err != nil {
		return err
	}
	return o.store(errors.PhaseAccess, f.Offset, f.Type, []string{o.TypeName(), name}, v)
}

func (o *Object) subField(name string) (External, error) {
	f, err := o.field(name)
	if err != nil {
		return nil, err
	}
	if !f.Type.Kind.IsExternal() {
		return nil, errors.New(errors.PhaseAccess, errors.KindTypeMismatch).
			Path(o.TypeName(), name).Type(f.Type.String()).
			Detail("field is a scalar").Build()
	}
	if o.IsNull() {
		return nil, errors.UseAfterRelease(errors.PhaseAccess, o.TypeName())
	}
	return o.sub(f.Type, f.Offset), nil
}

func typed[T any](o *Object, field string) (T, error) {
	var zero T
	v, err := o.getField(field)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, errors.TypeMismatch(errors.PhaseAccess, []string{o.TypeName(), field},
			fmt.Sprintf("%T", zero), o.desc.String())
	}
	return t, nil
}

// Field reads a named field of any external object. Opaque objects have no
// fields.
func Field(ext External, name string) (any, error) {
	switch v := ext.(type) {
	case interface{ Get(string) (any, error) }:
		return v.Get(name)
	}
	return nil, noFields(ext, name)
}

// SetField writes a named field of any external object.
func SetField(ext External, name string, value any) error {
	switch v := ext.(type) {
	case interface{ Set(string, any) error }:
		return v.Set(name, value)
	}
	return noFields(ext, name)
}

func noFields(ext External, name string) error {
	if ext.Descriptor() != nil && ext.Descriptor().Kind == layout.KindOpaque {
		return errors.OpaqueAccess(ext.Descriptor().String())
	}
	return errors.FieldUnknown(errors.PhaseAccess, []string{ext.Descriptor().String()}, name)
}
