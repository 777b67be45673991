package resource

import "sync"

// Observers is a set of subscribed observers.
type Observers struct {
	list   map[uint64]Observer
	nextID uint64
	mu     sync.RWMutex
}

// Subscribe adds o and returns a function that removes it.
func (s *Observers) Subscribe(o Observer) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.list == nil {
		s.list = make(map[uint64]Observer)
	}
	s.nextID++
	id := s.nextID
	s.list[id] = o
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.list, id)
	}
}

// Len returns the number of observers.
func (s *Observers) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.list)
}

// Notify delivers e to every observer.
func (s *Observers) Notify(e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.list {
		o.OnLifecycleEvent(e)
	}
}
