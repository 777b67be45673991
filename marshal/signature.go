package marshal

import (
	"fmt"
	"strings"

	"github.com/wippyai/wasm-ffi/errors"
	"github.com/wippyai/wasm-ffi/layout"
)

// SelfName is the parameter name that marks the receiver of CallOn.
const SelfName = "self"

// Param is one declared parameter.
type Param struct {
	Type *layout.Descriptor
	Name string
}

// Signature describes a foreign function.
type Signature struct {
	Result *layout.Descriptor // nil for void
	Name   string
	Params []Param
	Self   int // index of the receiver parameter, -1 if none
}

// ParamSpec declares a parameter by type name for NewSignature.
type ParamSpec struct {
	Name string
	Type string
}

// P is shorthand for a ParamSpec.
func P(name, typ string) ParamSpec {
	return ParamSpec{Name: name, Type: typ}
}

// NewSignature builds a signature from type names. An empty or "void"
// result declares no result.
func NewSignature(types *layout.Registry, name, result string, params ...ParamSpec) (*Signature, error) {
	if !isIdent(name) {
		return nil, errors.New(errors.PhaseDefine, errors.KindInvalidInput).
			Detail("invalid function name %q", name).Build()
	}
	sig := &Signature{Name: name, Self: -1}

	if r := strings.TrimSpace(result); r != "" && r != "void" {
		d, err := types.Resolve(r)
		if err != nil {
			return nil, withFunc(err, name)
		}
		if d.Kind == layout.KindVoid {
			d = nil
		}
		sig.Result = d
	}

	for i, p := range params {
		d, err := types.Resolve(p.Type)
		if err != nil {
			return nil, withFunc(err, name)
		}
		if d.Kind == layout.KindVoid {
			return nil, errors.New(errors.PhaseDefine, errors.KindTypeMismatch).
				Path(name, paramName(p.Name, i)).Type("void").
				Detail("parameters cannot be void").Build()
		}
		pn := paramName(p.Name, i)
		if pn == SelfName {
			if sig.Self >= 0 {
				return nil, errors.New(errors.PhaseDefine, errors.KindInvalidInput).
					Path(name).Detail("more than one %s parameter", SelfName).Build()
			}
			if d.External() == nil {
				return nil, errors.New(errors.PhaseDefine, errors.KindTypeMismatch).
					Path(name, pn).Type(d.String()).
					Detail("%s must be an external object type", SelfName).Build()
			}
			sig.Self = i
		}
		sig.Params = append(sig.Params, Param{Name: pn, Type: d})
	}
	return sig, nil
}

// ParseSignature parses a C-like declaration:
//
//	int32 sum_pair(Pair* self)
//	Pair* init_pair(Pair *p, int32 a, int32 b)
//	void reset(void)
//
// Parameter names are optional. "const" and "struct" qualifiers are
// ignored.
func ParseSignature(types *layout.Registry, decl string) (*Signature, error) {
	decl = strings.TrimSuffix(strings.TrimSpace(decl), ";")
	open := strings.IndexByte(decl, '(')
	if open < 0 || !strings.HasSuffix(decl, ")") {
		return nil, syntaxError(decl, "expected 'result name(params)'")
	}

	result, name, ok := splitTyped(decl[:open])
	if !ok || result == "" {
		return nil, syntaxError(decl, "missing result type or function name")
	}

	var params []ParamSpec
	body := strings.TrimSpace(decl[open+1 : len(decl)-1])
	if body != "" && body != "void" {
		for i, part := range strings.Split(body, ",") {
			typ, pname, ok := splitTyped(part)
			if !ok {
				return nil, syntaxError(decl, fmt.Sprintf("bad parameter %d", i))
			}
			if typ == "" {
				// a lone word is a type
				typ, pname = pname, ""
			}
			params = append(params, ParamSpec{Name: pname, Type: typ})
		}
	}
	return NewSignature(types, name, result, params...)
}

// splitTyped splits "Pair *name" into ("Pair*", "name"). A lone word
// returns it as the name with an empty type.
func splitTyped(s string) (typ, name string, ok bool) {
	s = strings.TrimSpace(s)
	for _, q := range []string{"const ", "struct "} {
		s = strings.ReplaceAll(s, q, "")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", false
	}

	end := len(s)
	start := end
	for start > 0 && isIdentByte(s[start-1]) {
		start--
	}
	name = s[start:end]
	rest := strings.TrimSpace(s[:start])
	if !isIdent(name) {
		if strings.HasSuffix(s, "*") {
			// unnamed pointer parameter
			return compact(s), "", true
		}
		return "", "", false
	}
	return compact(rest), name, true
}

// compact removes spaces around '*' so "Pair *" and "Pair*" resolve alike.
func compact(s string) string {
	s = strings.TrimSpace(s)
	for strings.Contains(s, " *") {
		s = strings.ReplaceAll(s, " *", "*")
	}
	return s
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func isIdent(s string) bool {
	if s == "" || s[0] >= '0' && s[0] <= '9' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return true
}

func paramName(name string, i int) string {
	if name == "" {
		return fmt.Sprintf("arg%d", i)
	}
	return name
}

func syntaxError(decl, detail string) error {
	return errors.New(errors.PhaseDefine, errors.KindInvalidInput).
		Value(decl).Detail("declaration %q: %s", decl, detail).Build()
}

func withFunc(err error, name string) error {
	if e, ok := err.(*errors.Error); ok {
		cp := *e
		cp.Path = append([]string{name}, e.Path...)
		return &cp
	}
	return err
}

// Arity returns the number of declared parameters.
func (s *Signature) Arity() int {
	return len(s.Params)
}

func (s *Signature) String() string {
	var b strings.Builder
	if s.Result == nil {
		b.WriteString("void")
	} else {
		b.WriteString(s.Result.String())
	}
	b.WriteByte(' ')
	b.WriteString(s.Name)
	b.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Type.String())
		b.WriteByte(' ')
		b.WriteString(p.Name)
	}
	b.WriteByte(')')
	return b.String()
}
