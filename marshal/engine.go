package marshal

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"

	wasmffi "github.com/wippyai/wasm-ffi"
	"github.com/wippyai/wasm-ffi/errors"
	"github.com/wippyai/wasm-ffi/layout"
	"github.com/wippyai/wasm-ffi/object"
)

// Host is the object side of the engine: it wraps returned handles and
// guards host storage against relocation for the duration of a call.
// lifecycle.Manager implements it.
type Host interface {
	Wrapper
	Memory() wasmffi.Memory
	Guard()
	Unguard()
}

// Engine binds declarations to foreign symbols and converts arguments and
// results. It is safe for concurrent use.
type Engine struct {
	types  *layout.Registry
	caller Caller
	host   Host
	alloc  wasmffi.Allocator
	funcs  map[string]*Function
	mu     sync.RWMutex
}

// NewEngine returns an engine dispatching through caller. alloc backs
// temporary string arguments and may be nil when no function takes one.
func NewEngine(types *layout.Registry, caller Caller, host Host, alloc wasmffi.Allocator) *Engine {
	return &Engine{
		types:  types,
		caller: caller,
		host:   host,
		alloc:  alloc,
		funcs:  make(map[string]*Function),
	}
}

// Bind parses decl and binds it. Unresolvable types, a missing symbol or a
// symbol of a different arity are configuration errors.
func (e *Engine) Bind(decl string) (*Function, error) {
	sig, err := ParseSignature(e.types, decl)
	if err != nil {
		return nil, err
	}
	return e.BindSignature(sig)
}

// BindSignature binds an already built signature. Binding the same name
// again replaces the previous function.
func (e *Engine) BindSignature(sig *Signature) (*Function, error) {
	if sig == nil {
		return nil, errors.InvalidInput(errors.PhaseDefine, "nil signature")
	}
	if e.caller == nil {
		return nil, errors.NotInitialized(errors.PhaseDefine, "caller")
	}

	if syms, ok := e.caller.(Symbols); ok {
		params, results, found := syms.Lookup(sig.Name)
		if !found {
			return nil, errors.NotFound(errors.PhaseDefine, "function", sig.Name)
		}
		want := 0
		if sig.Result != nil {
			want = 1
		}
		if params != sig.Arity() || results != want {
			return nil, errors.New(errors.PhaseDefine, errors.KindTypeMismatch).
				Path(sig.Name).
				Detail("declared %s, export takes %d values and returns %d", sig, params, results).Build()
		}
	}

	fn := &Function{sig: sig, engine: e}
	e.mu.Lock()
	e.funcs[sig.Name] = fn
	e.mu.Unlock()

	Logger().Debug("bound function", zap.Stringer("signature", sig))
	return fn, nil
}

// Function returns a bound function by name.
func (e *Engine) Function(name string) (*Function, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn, ok := e.funcs[name]
	return fn, ok
}

// Functions returns the bound functions ordered by name.
func (e *Engine) Functions() []*Function {
	e.mu.RLock()
	list := make([]*Function, 0, len(e.funcs))
	for _, fn := range e.funcs {
		list = append(list, fn)
	}
	e.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].sig.Name < list[j].sig.Name })
	return list
}

// Call calls a bound function by name.
func (e *Engine) Call(ctx context.Context, name string, args ...any) (any, error) {
	fn, ok := e.Function(name)
	if !ok {
		return nil, errors.NotFound(errors.PhaseCall, "bound function", name)
	}
	return fn.Call(ctx, args...)
}

func (e *Engine) memory() wasmffi.Memory {
	if e.host == nil {
		return nil
	}
	return e.host.Memory()
}

// Function is a bound foreign function.
type Function struct {
	sig    *Signature
	engine *Engine
}

// Signature returns the declaration.
func (f *Function) Signature() *Signature { return f.sig }

// Name returns the symbol name.
func (f *Function) Name() string { return f.sig.Name }

// Call lowers args, calls the symbol and lifts the result. Host storage
// cannot move and the arguments stay reachable until the call returns.
func (f *Function) Call(ctx context.Context, args ...any) (any, error) {
	return f.call(ctx, args)
}

// CallOn calls a function declared with a self parameter, substituting
// self for it.
func (f *Function) CallOn(ctx context.Context, self object.External, args ...any) (any, error) {
	if f.sig.Self < 0 {
		return nil, errors.New(errors.PhaseCall, errors.KindInvalidInput).
			Path(f.sig.Name).Detail("%s has no %s parameter", f.sig.Name, SelfName).Build()
	}
	if len(args) != f.sig.Arity()-1 {
		return nil, arityError(f.sig, len(args)+1)
	}
	full := make([]any, 0, len(args)+1)
	full = append(full, args[:f.sig.Self]...)
	full = append(full, self)
	full = append(full, args[f.sig.Self:]...)
	return f.call(ctx, full)
}

func (f *Function) call(ctx context.Context, args []any) (any, error) {
	sig := f.sig
	if len(args) != sig.Arity() {
		return nil, arityError(sig, len(args))
	}
	e := f.engine

	if e.host != nil {
		e.host.Guard()
		defer e.host.Unguard()
	}

	mem := e.memory()
	temps := NewTemps(e.alloc, mem)
	defer temps.Free()

	flat := make([]uint64, len(args))
	for i, p := range sig.Params {
		v, err := Lower(p.Type, args[i], temps)
		if err != nil {
			return nil, argError(err, sig.Name, p.Name)
		}
		flat[i] = v
	}

	results, err := e.caller.Call(ctx, sig.Name, flat...)
	runtime.KeepAlive(args)
	if err != nil {
		Logger().Debug("foreign call failed", zap.String("function", sig.Name), zap.Error(err))
		if errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
		return nil, callError(sig.Name, err)
	}

	if sig.Result == nil {
		return nil, nil
	}
	if len(results) == 0 {
		return nil, errors.InvalidData(errors.PhaseUnmarshal, []string{sig.Name}, "missing result")
	}
	var w Wrapper
	if e.host != nil {
		w = e.host
	}
	return Lift(sig.Result, results[0], mem, w)
}
