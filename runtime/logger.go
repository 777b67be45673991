package runtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-ffi/heap"
	"github.com/wippyai/wasm-ffi/hostheap"
	"github.com/wippyai/wasm-ffi/lifecycle"
	"github.com/wippyai/wasm-ffi/marshal"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the runtime package's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the runtime package's logger and the loggers of the
// packages it wires together, each named after its package.
// This must be called before any Runtime is created.
func SetLogger(l *zap.Logger) {
	loggerOnce.Do(func() {})
	logger = l
	if l == nil {
		return
	}
	heap.SetLogger(l.Named("heap"))
	hostheap.SetLogger(l.Named("hostheap"))
	lifecycle.SetLogger(l.Named("lifecycle"))
	marshal.SetLogger(l.Named("marshal"))
}
