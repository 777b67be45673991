package runtime

import (
	"context"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-ffi/config"
	"github.com/wippyai/wasm-ffi/errors"
)

// Runtime owns a wazero runtime and the libraries loaded into it.
type Runtime struct {
	wz     wazero.Runtime
	cfg    *config.Config
	libs   map[string]*Library
	mu     sync.Mutex
	wasiMu sync.Mutex
}

// New creates a runtime. A nil cfg uses config.Default.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runtimeCfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.Memory.LimitPages).
		WithCloseOnContextDone(true)

	return &Runtime{
		wz:   wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		cfg:  cfg,
		libs: make(map[string]*Library),
	}, nil
}

// Config returns the configuration the runtime was created with.
func (r *Runtime) Config() *config.Config {
	return r.cfg
}

// Wazero returns the underlying wazero runtime, for registering host
// modules that libraries import.
func (r *Runtime) Wazero() wazero.Runtime {
	return r.wz
}

// Library returns a loaded library by name.
func (r *Runtime) Library(name string) (*Library, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lib, ok := r.libs[name]
	return lib, ok
}

// Libraries returns the names of the loaded libraries in order.
func (r *Runtime) Libraries() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.libs))
	for name := range r.libs {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)
	return names
}

// LoadLibrary compiles and instantiates wasm under name and wires a
// registry, lifecycle manager and marshalling engine for it. The types and
// functions declared in the runtime's configuration are applied.
func (r *Runtime) LoadLibrary(ctx context.Context, name string, wasm []byte) (*Library, error) {
	if name == "" {
		return nil, errors.InvalidInput(errors.PhaseLoad, "library name is empty")
	}
	r.mu.Lock()
	_, dup := r.libs[name]
	r.mu.Unlock()
	if dup {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Path(name).Detail("library %s already loaded", name).Build()
	}

	if r.cfg.WASI.Enabled {
		if err := r.ensureWASI(ctx); err != nil {
			return nil, err
		}
	}

	compiled, err := r.wz.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Load("compile module", err)
	}
	mod, err := r.wz.InstantiateModule(ctx, compiled, r.moduleConfig(name))
	if err != nil {
		return nil, errors.Load("instantiate module", err)
	}

	lib, err := newLibrary(ctx, r, name, mod)
	if err != nil {
		_ = mod.Close(ctx)
		return nil, err
	}
	if err := lib.Declare(r.cfg); err != nil {
		_ = lib.Close(ctx)
		return nil, err
	}

	r.mu.Lock()
	r.libs[name] = lib
	r.mu.Unlock()

	Logger().Info("library loaded",
		zap.String("library", name),
		zap.Bool("guest_allocator", lib.guestAlloc),
		zap.Uint32("host_space", lib.spaceSize))
	return lib, nil
}

func (r *Runtime) forget(name string) {
	r.mu.Lock()
	delete(r.libs, name)
	r.mu.Unlock()
}

// Close closes every library and then the wazero runtime.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	libs := make([]*Library, 0, len(r.libs))
	for _, lib := range r.libs {
		libs = append(libs, lib)
	}
	r.mu.Unlock()

	var errs error
	for _, lib := range libs {
		errs = multierr.Append(errs, lib.Close(ctx))
	}
	return multierr.Append(errs, r.wz.Close(ctx))
}
