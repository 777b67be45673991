package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseDefine    Phase = "define"    // type and signature definition
	PhaseConfig    Phase = "config"    // configuration loading
	PhaseMarshal   Phase = "marshal"   // Go to foreign call arguments
	PhaseUnmarshal Phase = "unmarshal" // foreign results to Go
	PhaseAllocate  Phase = "allocate"  // foreign or host heap allocation
	PhaseRelease   Phase = "release"   // explicit release
	PhaseAccess    Phase = "access"    // field and element access
	PhaseFinalize  Phase = "finalize"  // auto-release registration and finalization
	PhasePin       Phase = "pin"       // pinning
	PhaseCall      Phase = "call"      // foreign call dispatch
	PhaseLoad      Phase = "load"      // library loading
)

// Kind categorizes the error
type Kind string

const (
	KindUnresolvedType Kind = "unresolved_type"
	KindDuplicateType  Kind = "duplicate_type"
	KindTypeMismatch   Kind = "type_mismatch"
	KindOutOfBounds    Kind = "out_of_bounds"
	KindAllocation     Kind = "allocation"
	KindNullHandle     Kind = "null_handle"
	KindDoubleRelease  Kind = "double_release"
	KindWrongOrigin    Kind = "wrong_origin"
	KindOpaqueAccess   Kind = "opaque_access"
	KindFieldUnknown   Kind = "field_unknown"
	KindNotFound       Kind = "not_found"
	KindOverflow       Kind = "overflow"
	KindInvalidInput   Kind = "invalid_input"
	KindInvalidData    Kind = "invalid_data"
	KindNotInitialized Kind = "not_initialized"
)

// Error is the structured error type used throughout the library
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	GoType string
	Type   string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" || e.Type != "" {
		b.WriteString(": ")
		if e.GoType != "" && e.Type != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", foreign type ")
			b.WriteString(e.Type)
		} else if e.GoType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		} else {
			b.WriteString("foreign type ")
			b.WriteString(e.Type)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.Type != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target without a phase
// matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == kindConfiguration {
		return e.isConfiguration()
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// kindConfiguration is only carried by ErrConfiguration and matches every
// definition-time error.
const kindConfiguration Kind = "configuration"

// Sentinels for errors.Is. They match on kind regardless of phase.
var (
	ErrConfiguration   = &Error{Kind: kindConfiguration}
	ErrAllocation      = &Error{Kind: KindAllocation}
	ErrUseAfterRelease = &Error{Kind: KindNullHandle}
	ErrDoubleRelease   = &Error{Kind: KindDoubleRelease}
	ErrWrongOrigin     = &Error{Kind: KindWrongOrigin}
	ErrOpaqueAccess    = &Error{Kind: KindOpaqueAccess}
	ErrNotFound        = &Error{Kind: KindNotFound}
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// IsConfiguration reports whether err is raised at binding-definition time:
// an unresolvable or conflicting type, or an invalid declaration.
func IsConfiguration(err error) bool {
	return stderrors.Is(err, ErrConfiguration)
}

func (e *Error) isConfiguration() bool {
	switch e.Kind {
	case KindUnresolvedType, KindDuplicateType:
		return true
	}
	return e.Phase == PhaseDefine || e.Phase == PhaseConfig
}

// IsAllocation reports whether err reports foreign or host heap exhaustion.
func IsAllocation(err error) bool {
	return stderrors.Is(err, ErrAllocation)
}

// IsUseAfterRelease reports whether err was raised by use of a Null handle.
func IsUseAfterRelease(err error) bool {
	return stderrors.Is(err, ErrUseAfterRelease)
}

// IsDoubleRelease reports whether err reports a second release of one address.
func IsDoubleRelease(err error) bool {
	return stderrors.Is(err, ErrDoubleRelease)
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// Type sets the foreign type name
func (b *Builder) Type(t string) *Builder {
	b.err.Type = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Unresolved creates a configuration error for a type name that resolves to nothing.
func Unresolved(name string) *Error {
	return &Error{
		Phase:  PhaseDefine,
		Kind:   KindUnresolvedType,
		Type:   name,
		Detail: "type is not registered",
	}
}

// Duplicate creates a configuration error for a conflicting redefinition.
func Duplicate(name string) *Error {
	return &Error{
		Phase:  PhaseDefine,
		Kind:   KindDuplicateType,
		Type:   name,
		Detail: "type already defined with a different layout",
	}
}

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, goType, foreignType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Path:   path,
		GoType: goType,
		Type:   foreignType,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size, align uint32, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
		Cause:  cause,
	}
}

// UseAfterRelease creates the error reported when an object's handle is Null.
func UseAfterRelease(phase Phase, typeName string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNullHandle,
		Type:   typeName,
		Detail: "handle is null (released or never allocated)",
	}
}

// DoubleRelease creates the error reported when alias tracking sees an
// address released twice.
func DoubleRelease(addr uint32) *Error {
	return &Error{
		Phase:  PhaseRelease,
		Kind:   KindDoubleRelease,
		Detail: fmt.Sprintf("address 0x%08x is not a live allocation", addr),
		Value:  addr,
	}
}

// WrongOrigin creates the error for an operation that requires a different
// allocation origin.
func WrongOrigin(phase Phase, typeName, origin string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindWrongOrigin,
		Type:   typeName,
		Detail: fmt.Sprintf("operation not valid for %s-heap objects", origin),
	}
}

// OpaqueAccess creates the error for field access on an opaque type.
func OpaqueAccess(typeName string) *Error {
	return &Error{
		Phase:  PhaseAccess,
		Kind:   KindOpaqueAccess,
		Type:   typeName,
		Detail: "opaque types have no visible layout",
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, targetType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Path:   path,
		Type:   targetType,
		Detail: fmt.Sprintf("value %v overflows %s", value, targetType),
		Value:  value,
	}
}

// FieldUnknown creates an unknown field error
func FieldUnknown(phase Phase, path []string, fieldName string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindFieldUnknown,
		Path:   path,
		Detail: fmt.Sprintf("unknown field %q", fieldName),
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// NotInitialized creates a not-initialized error for a missing collaborator
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Load creates a library loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}
