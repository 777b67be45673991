package marshal

import (
	"context"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-ffi/errors"
)

// Caller dispatches a call to a foreign symbol with flat arguments.
type Caller interface {
	Call(ctx context.Context, symbol string, args ...uint64) ([]uint64, error)
}

// Symbols is implemented by callers that can describe their symbols before
// a call. Bind uses it to reject missing symbols and arity mismatches at
// definition time.
type Symbols interface {
	Lookup(symbol string) (params, results int, ok bool)
}

// ModuleCaller calls the exported functions of a wazero module. Exports
// are resolved on first use and cached. Calls are serialized on the
// module's lock, which the module's allocator must share.
type ModuleCaller struct {
	mod   api.Module
	funcs map[string]api.Function
	mu    *sync.Mutex
}

var (
	_ Caller  = (*ModuleCaller)(nil)
	_ Symbols = (*ModuleCaller)(nil)
)

// NewModuleCaller returns a caller for mod's exports.
func NewModuleCaller(mod api.Module) *ModuleCaller {
	return &ModuleCaller{
		mod:   mod,
		funcs: make(map[string]api.Function),
		mu:    &sync.Mutex{},
	}
}

// Locker returns the lock held around every call into the module. Pass it
// to heap.WithLock so guest allocation and frees from finalizers never run
// concurrently with a call.
func (c *ModuleCaller) Locker() sync.Locker {
	return c.mu
}

// Lookup reports the flat parameter and result counts of an export.
func (c *ModuleCaller) Lookup(symbol string) (params, results int, ok bool) {
	def, ok := c.mod.ExportedFunctionDefinitions()[symbol]
	if !ok {
		return 0, 0, false
	}
	return len(def.ParamTypes()), len(def.ResultTypes()), true
}

// Symbols returns the exported function names in order.
func (c *ModuleCaller) Symbols() []string {
	defs := c.mod.ExportedFunctionDefinitions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes symbol. A missing export is a not-found error.
func (c *ModuleCaller) Call(ctx context.Context, symbol string, args ...uint64) ([]uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fn, ok := c.funcs[symbol]
	if !ok {
		fn = c.mod.ExportedFunction(symbol)
		if fn == nil {
			return nil, errors.NotFound(errors.PhaseCall, "function", symbol)
		}
		c.funcs[symbol] = fn
	}
	return fn.Call(ctx, args...)
}
