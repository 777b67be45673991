package lifecycle

import (
	"go.uber.org/zap"

	wasmffi "github.com/wippyai/wasm-ffi"
	"github.com/wippyai/wasm-ffi/resource"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger. The package logger is used
// otherwise.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithAliasTracking makes Release and auto-release report a second release
// of the same address as a double-release error instead of passing it to
// the allocator. An address leaves the released set when this manager
// allocates it again or when it is wrapped, by WrapHandle or as a call
// result. Aliases wrapped before the first release are caught; a stale
// address wrapped after it is not.
func WithAliasTracking() Option {
	return func(m *Manager) {
		m.tracking = true
	}
}

// WithHostSpace reserves [base, base+size) of mem as the host space used
// by AllocateHost.
func WithHostSpace(mem wasmffi.Memory, base, size uint32) Option {
	return func(m *Manager) {
		m.spaceMem = mem
		m.spaceBase = base
		m.spaceSize = size
	}
}

// WithObserver subscribes o to lifecycle events from the start.
func WithObserver(o resource.Observer) Option {
	return func(m *Manager) {
		m.observers.Subscribe(o)
	}
}
