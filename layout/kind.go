package layout

// Kind identifies the shape of a foreign type.
type Kind uint8

const (
	KindVoid Kind = iota
	KindBool
	KindU8
	KindS8
	KindU16
	KindS16
	KindU32
	KindS32
	KindU64
	KindS64
	KindF32
	KindF64
	KindPointer
	KindString // NUL-terminated char*
	KindStruct
	KindUnion
	KindArray
	KindOpaque
)

var kindNames = [...]string{
	KindVoid:    "void",
	KindBool:    "bool",
	KindU8:      "u8",
	KindS8:      "s8",
	KindU16:     "u16",
	KindS16:     "s16",
	KindU32:     "u32",
	KindS32:     "s32",
	KindU64:     "u64",
	KindS64:     "s64",
	KindF32:     "f32",
	KindF64:     "f64",
	KindPointer: "pointer",
	KindString:  "string",
	KindStruct:  "struct",
	KindUnion:   "union",
	KindArray:   "array",
	KindOpaque:  "opaque",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// ParseKind returns the kind with the given name.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), true
		}
	}
	return KindVoid, false
}

// IsScalar reports whether values of this kind fit in a single flat value.
func (k Kind) IsScalar() bool {
	return k >= KindBool && k <= KindString
}

// IsExternal reports whether the kind is represented by an external object.
func (k Kind) IsExternal() bool {
	return k >= KindStruct && k <= KindOpaque
}

// IsInteger reports whether the kind is a fixed-width integer.
func (k Kind) IsInteger() bool {
	return k >= KindU8 && k <= KindS64
}

// IsSigned reports whether the kind is a signed integer.
func (k Kind) IsSigned() bool {
	switch k {
	case KindS8, KindS16, KindS32, KindS64:
		return true
	}
	return false
}

// Is64 reports whether the kind lowers to a 64-bit wasm value.
func (k Kind) Is64() bool {
	return k == KindU64 || k == KindS64 || k == KindF64
}
