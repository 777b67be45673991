package layout

import (
	"sort"
	"strings"
	"sync"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-ffi/errors"
)

// FieldSpec declares a struct or union member by type name.
type FieldSpec struct {
	Name string
	Type string
}

// F is shorthand for a FieldSpec.
func F(name, typ string) FieldSpec {
	return FieldSpec{Name: name, Type: typ}
}

// Registry maps type names to descriptors. It is safe for concurrent use.
type Registry struct {
	types   map[string]*Descriptor
	aliases map[string]string
	mu      sync.RWMutex
}

// NewRegistry returns a registry holding the built-in scalar types.
func NewRegistry() *Registry {
	r := &Registry{
		types:   make(map[string]*Descriptor, len(builtinKinds)+8),
		aliases: make(map[string]string),
	}
	for name, k := range builtinKinds {
		r.types[name] = scalar(name, k)
	}
	void := r.types["void"]
	r.types["void*"] = &Descriptor{Name: "void*", Kind: KindPointer, Size: PointerSize, Align: PointerSize, Target: void}
	return r
}

var builtinKinds = map[string]Kind{
	"void":     KindVoid,
	"pointer":  KindPointer,
	"char":     KindS8,
	"uchar":    KindU8,
	"short":    KindS16,
	"ushort":   KindU16,
	"int":      KindS32,
	"uint":     KindU32,
	"long":     KindS32, // ILP32
	"ulong":    KindU32,
	"longlong": KindS64,
	"float":    KindF32,
	"double":   KindF64,
	"size_t":   KindU32,
	"int8":     KindS8,
	"uint8":    KindU8,
	"int16":    KindS16,
	"uint16":   KindU16,
	"int32":    KindS32,
	"uint32":   KindU32,
	"int64":    KindS64,
	"uint64":   KindU64,
	"float32":  KindF32,
	"float64":  KindF64,
	"int8_t":   KindS8,
	"uint8_t":  KindU8,
	"int16_t":  KindS16,
	"uint16_t": KindU16,
	"int32_t":  KindS32,
	"uint32_t": KindU32,
	"int64_t":  KindS64,
	"uint64_t": KindU64,
	"char*":    KindString,
	"cstring":  KindString,
}

func scalar(name string, k Kind) *Descriptor {
	d := &Descriptor{Name: name, Kind: k}
	switch k {
	case KindVoid:
		d.Align = 1
	case KindBool, KindU8, KindS8:
		d.Size, d.Align = 1, 1
	case KindU16, KindS16:
		d.Size, d.Align = 2, 2
	case KindU32, KindS32, KindF32, KindPointer, KindString:
		d.Size, d.Align = 4, 4
	case KindU64, KindS64, KindF64:
		d.Size, d.Align = 8, 8
	}
	return d
}

// DefineStruct registers a struct. Fields may refer to the struct itself
// through a pointer ("Node*").
func (r *Registry) DefineStruct(name string, fields ...FieldSpec) (*Descriptor, error) {
	return r.defineComposite(name, KindStruct, fields)
}

// DefineUnion registers a union. All fields start at offset 0.
func (r *Registry) DefineUnion(name string, fields ...FieldSpec) (*Descriptor, error) {
	return r.defineComposite(name, KindUnion, fields)
}

func (r *Registry) defineComposite(name string, kind Kind, fields []FieldSpec) (*Descriptor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.InvalidInput(errors.PhaseDefine, "type name is empty")
	}
	if len(fields) == 0 {
		return nil, errors.New(errors.PhaseDefine, errors.KindInvalidInput).
			Type(name).Detail("%s has no fields", kind).Build()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d := &Descriptor{Name: name, Kind: kind, Align: 1}
	seen := make(map[string]bool, len(fields))
	var offset uint32
	for _, fs := range fields {
		if seen[fs.Name] {
			return nil, errors.New(errors.PhaseDefine, errors.KindDuplicateType).
				Path(name, fs.Name).Detail("duplicate field").Build()
		}
		seen[fs.Name] = true

		ft, err := r.resolveLocked(fs.Type, d)
		if err != nil {
			return nil, fieldError(name, fs.Name, err)
		}
		if !hasLayout(ft) {
			return nil, errors.New(errors.PhaseDefine, errors.KindInvalidInput).
				Path(name, fs.Name).Type(ft.String()).
				Detail("field type has no layout; use a pointer").Build()
		}

		var off uint32
		if kind == KindStruct {
			offset = AlignTo(offset, ft.Align)
			off = offset
			offset += ft.Size
		} else if ft.Size > offset {
			offset = ft.Size
		}
		d.Fields = append(d.Fields, Field{Name: fs.Name, Type: ft, Offset: off})
		if ft.Align > d.Align {
			d.Align = ft.Align
		}
	}
	d.Size = AlignTo(offset, d.Align)

	return r.registerLocked(d)
}

// DefineArray registers a fixed-length array of elem.
func (r *Registry) DefineArray(name, elem string, count uint32) (*Descriptor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.InvalidInput(errors.PhaseDefine, "type name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	et, err := r.resolveLocked(elem, nil)
	if err != nil {
		return nil, fieldError(name, "[]", err)
	}
	if !hasLayout(et) {
		return nil, errors.New(errors.PhaseDefine, errors.KindInvalidInput).
			Type(name).Detail("array element %s has no layout", et).Build()
	}

	stride := AlignTo(et.Size, et.Align)
	total := uint64(stride) * uint64(count)
	if total > 1<<31 {
		return nil, errors.Overflow(errors.PhaseDefine, []string{name}, total, "array size")
	}
	d := &Descriptor{
		Name:  name,
		Kind:  KindArray,
		Elem:  et,
		Count: count,
		Size:  uint32(total),
		Align: et.Align,
	}
	return r.registerLocked(d)
}

// DefineOpaque registers a type whose layout is not visible.
func (r *Registry) DefineOpaque(name string) (*Descriptor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.InvalidInput(errors.PhaseDefine, "type name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.registerLocked(&Descriptor{Name: name, Kind: KindOpaque, Align: 1})
}

// Alias makes name resolve to whatever target resolves to.
func (r *Registry) Alias(name, target string) error {
	name = strings.TrimSpace(name)
	target = strings.TrimSpace(target)
	if name == "" || name == target {
		return errors.InvalidInput(errors.PhaseDefine, "invalid alias "+name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.resolveLocked(target, nil); err != nil {
		return err
	}
	if _, ok := r.types[name]; ok {
		return errors.Duplicate(name)
	}
	if prev, ok := r.aliases[name]; ok && prev != target {
		return errors.Duplicate(name)
	}
	r.aliases[name] = target
	return nil
}

// Resolve returns the descriptor for name.
func (r *Registry) Resolve(name string) (*Descriptor, error) {
	name = strings.TrimSpace(name)

	r.mu.RLock()
	if d, ok := r.types[name]; ok {
		r.mu.RUnlock()
		return d, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked(name, nil)
}

// MustResolve is like Resolve but panics on error. It is meant for
// package-level declarations of built-in names.
func (r *Registry) MustResolve(name string) *Descriptor {
	d, err := r.Resolve(name)
	if err != nil {
		panic(err)
	}
	return d
}

// Defined reports whether name was defined by the user (not a built-in).
func (r *Registry) Defined(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.types[strings.TrimSpace(name)]
	return ok && d.Kind.IsExternal()
}

// Names returns the user-defined type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, d := range r.types {
		if d.Kind.IsExternal() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (r *Registry) resolveLocked(name string, pending *Descriptor) (*Descriptor, error) {
	return r.resolveDepth(strings.TrimSpace(name), pending, 0)
}

const maxAliasDepth = 32

func (r *Registry) resolveDepth(name string, pending *Descriptor, depth int) (*Descriptor, error) {
	if depth > maxAliasDepth {
		return nil, errors.New(errors.PhaseDefine, errors.KindUnresolvedType).
			Type(name).Detail("alias chain too deep").Build()
	}
	if name == "" {
		return nil, errors.Unresolved(name)
	}
	if d, ok := r.types[name]; ok {
		return d, nil
	}

	if target, ok := pointerName(name); ok {
		var td *Descriptor
		if pending != nil && target == pending.Name {
			td = pending
		} else {
			var err error
			td, err = r.resolveDepth(target, pending, depth+1)
			if err != nil {
				return nil, err
			}
		}
		d := &Descriptor{Name: name, Kind: KindPointer, Size: PointerSize, Align: PointerSize, Target: td}
		if td != pending {
			r.types[name] = d
		}
		return d, nil
	}

	if target, ok := r.aliases[name]; ok {
		return r.resolveDepth(target, pending, depth+1)
	}

	if d := witScalar(name); d != nil {
		r.types[name] = d
		return d, nil
	}

	return nil, errors.Unresolved(name)
}

// witScalar resolves WIT primitive type names.
func witScalar(name string) *Descriptor {
	t, err := wit.ParseType(name)
	if err != nil {
		return nil
	}
	var k Kind
	switch t.(type) {
	case wit.Bool:
		k = KindBool
	case wit.U8:
		k = KindU8
	case wit.S8:
		k = KindS8
	case wit.U16:
		k = KindU16
	case wit.S16:
		k = KindS16
	case wit.U32, wit.Char:
		k = KindU32
	case wit.S32:
		k = KindS32
	case wit.U64:
		k = KindU64
	case wit.S64:
		k = KindS64
	case wit.F32:
		k = KindF32
	case wit.F64:
		k = KindF64
	case wit.String:
		k = KindString
	default:
		return nil
	}
	return scalar(name, k)
}

func (r *Registry) registerLocked(d *Descriptor) (*Descriptor, error) {
	if _, ok := r.aliases[d.Name]; ok {
		return nil, errors.Duplicate(d.Name)
	}
	if prev, ok := r.types[d.Name]; ok {
		if sameLayout(prev, d) {
			return prev, nil
		}
		return nil, errors.Duplicate(d.Name)
	}
	r.types[d.Name] = d
	// self-referencing pointers were built against d; cache them now
	for _, f := range d.Fields {
		if f.Type.Kind == KindPointer && f.Type.Target == d {
			r.types[f.Type.Name] = f.Type
		}
	}
	return d, nil
}

func hasLayout(d *Descriptor) bool {
	return d.Kind != KindVoid && d.Kind != KindOpaque && d.Size > 0
}

func fieldError(typeName, field string, err error) error {
	return errors.New(errors.PhaseDefine, errors.KindUnresolvedType).
		Path(typeName, field).
		Detail("cannot resolve field type").
		Cause(err).
		Build()
}
