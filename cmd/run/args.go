package main

import (
	"fmt"
	"strconv"
	"strings"

	wasmffi "github.com/wippyai/wasm-ffi"
	"github.com/wippyai/wasm-ffi/layout"
	"github.com/wippyai/wasm-ffi/marshal"
	"github.com/wippyai/wasm-ffi/object"
)

// parseArgs converts text arguments for sig. An external parameter takes
// "#N", the N-th object in objs, or a raw address.
func parseArgs(sig *marshal.Signature, raw []string, objs []object.External) ([]any, error) {
	if len(raw) != sig.Arity() {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", sig.Name, sig.Arity(), len(raw))
	}
	args := make([]any, len(raw))
	for i, p := range sig.Params {
		v, err := parseArg(strings.TrimSpace(raw[i]), p.Type, objs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
		args[i] = v
	}
	return args, nil
}

func parseArg(s string, d *layout.Descriptor, objs []object.External) (any, error) {
	if d.External() != nil || d.Kind == layout.KindPointer {
		if rest, ok := strings.CutPrefix(s, "#"); ok {
			n, err := strconv.Atoi(rest)
			if err != nil || n < 0 || n >= len(objs) || objs[n] == nil {
				return nil, fmt.Errorf("no object %s", s)
			}
			return objs[n], nil
		}
		addr, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("address %q: %w", s, err)
		}
		return wasmffi.Handle(addr), nil
	}

	switch d.Kind {
	case layout.KindString:
		return s, nil
	case layout.KindBool:
		return strconv.ParseBool(s)
	case layout.KindF32:
		v, err := strconv.ParseFloat(s, 32)
		return float32(v), err
	case layout.KindF64:
		return strconv.ParseFloat(s, 64)
	}
	if d.Kind.IsSigned() {
		return strconv.ParseInt(s, 0, 64)
	}
	if d.Kind.IsInteger() {
		return strconv.ParseUint(s, 0, 64)
	}
	return nil, fmt.Errorf("cannot enter a %s argument", d)
}

// splitArgs splits a comma-separated argument list. An empty list has no
// arguments.
func splitArgs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// formatValue renders a call result, expanding structured objects.
func formatValue(v any) string {
	switch r := v.(type) {
	case nil:
		return "void"
	case string:
		return strconv.Quote(r)
	case *object.Struct:
		return formatStruct(r)
	case object.External:
		return r.Base().String()
	}
	return fmt.Sprintf("%v", v)
}

func formatStruct(s *object.Struct) string {
	var b strings.Builder
	b.WriteString(s.Base().String())
	b.WriteString(" {")
	for i, name := range s.Descriptor().FieldNames() {
		if i > 0 {
			b.WriteString(",")
		}
		v, err := s.Get(name)
		if err != nil {
			fmt.Fprintf(&b, " %s: <%v>", name, err)
			continue
		}
		fmt.Fprintf(&b, " %s: %v", name, v)
	}
	b.WriteString(" }")
	return b.String()
}
