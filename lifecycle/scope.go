package lifecycle

import (
	"sync"

	"go.uber.org/multierr"

	"github.com/wippyai/wasm-ffi/errors"
	"github.com/wippyai/wasm-ffi/object"
)

// Scope releases the foreign objects it holds when closed, last added
// first. Objects whose handle is already Null are skipped, so releasing a
// scoped object early is allowed.
type Scope struct {
	m      *Manager
	objs   []object.External
	mu     sync.Mutex
	closed bool
}

// NewScope returns an empty scope.
func (m *Manager) NewScope() *Scope {
	return &Scope{m: m}
}

// Add hands ownership of obj to the scope and returns it.
func (s *Scope) Add(obj object.External) (object.External, error) {
	if _, err := releasable(errors.PhaseRelease, obj); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New(errors.PhaseRelease, errors.KindInvalidInput).
			Type(obj.Base().TypeName()).
			Detail("scope is closed").Build()
	}
	s.objs = append(s.objs, obj)
	return obj, nil
}

// AllocateForeign allocates through the manager and adds the object.
func (s *Scope) AllocateForeign(typeName string) (object.External, error) {
	obj, err := s.m.AllocateForeign(typeName)
	if err != nil {
		return nil, err
	}
	if _, err := s.Add(obj); err != nil {
		_ = s.m.Release(obj)
		return nil, err
	}
	return obj, nil
}

// Len returns the number of objects held.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objs)
}

// Close releases every held object in reverse order. It is idempotent and
// returns the combined release errors.
func (s *Scope) Close() error {
	s.mu.Lock()
	objs := s.objs
	s.objs = nil
	s.closed = true
	s.mu.Unlock()

	var err error
	for i := len(objs) - 1; i >= 0; i-- {
		if objs[i].IsNull() {
			continue
		}
		err = multierr.Append(err, s.m.Release(objs[i]))
	}
	return err
}
