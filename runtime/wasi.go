package runtime

import (
	"context"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/wippyai/wasm-ffi/errors"
)

const (
	wasiModule = wasi_snapshot_preview1.ModuleName
	// reactorInit is run after instantiation by modules built as reactors.
	reactorInit = "_initialize"
)

// ensureWASI instantiates wasi_snapshot_preview1 once per runtime.
func (r *Runtime) ensureWASI(ctx context.Context) error {
	r.wasiMu.Lock()
	defer r.wasiMu.Unlock()

	if r.wz.Module(wasiModule) != nil {
		return nil
	}
	builder := r.wz.NewHostModuleBuilder(wasiModule)
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)
	if _, err := builder.Instantiate(ctx); err != nil {
		if r.wz.Module(wasiModule) == nil {
			return errors.Load("instantiate WASI", err)
		}
	}
	return nil
}

// moduleConfig returns the instantiation config for a library.
func (r *Runtime) moduleConfig(name string) wazero.ModuleConfig {
	mc := wazero.NewModuleConfig().WithName(name)
	if !r.cfg.WASI.Enabled {
		return mc
	}
	mc = mc.WithStartFunctions(reactorInit)
	if r.cfg.WASI.Stdio {
		mc = mc.WithStdout(os.Stdout).WithStderr(os.Stderr)
	}
	return mc
}
