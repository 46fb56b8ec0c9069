package bus

import (
	"io"
	"sync"
)

// SessionKey is the Shared entry recognized by the engine as a
// session-scoped resource. When the value stored under this key implements
// io.Closer, the concurrent engine closes it at the end of each event
// fan-out step (and the entry is removed once closed).
const SessionKey = "session"

// Shared is the mutable key/value store passed by reference to every
// handler invocation within one top-level Handle or BatchHandle call,
// used for ambient resources such as a transactional session.
//
// Access is internally synchronized, since the concurrent engine hands the
// same Shared reference to handlers running in parallel. The engine imposes
// no further coordination on the values themselves: handlers that both need
// to mutate one entry must coordinate through values they place here.
type Shared struct {
	mx     sync.RWMutex
	values map[string]any
}

// NewShared returns a new empty Shared store.
func NewShared() *Shared {
	return &Shared{values: make(map[string]any)}
}

// Get returns the value stored under the provided key, if any.
func (s *Shared) Get(key string) (any, bool) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	value, ok := s.values[key]

	return value, ok
}

// Set stores a value under the provided key, replacing any previous value.
func (s *Shared) Set(key string, value any) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.values == nil {
		s.values = make(map[string]any)
	}

	s.values[key] = value
}

// Delete removes the entry stored under the provided key.
func (s *Shared) Delete(key string) {
	s.mx.Lock()
	defer s.mx.Unlock()

	delete(s.values, key)
}

// CloseSession closes and removes the session entry, if one is present
// and implements io.Closer. Calling CloseSession with no session stored
// is a no-op.
func (s *Shared) CloseSession() error {
	s.mx.Lock()
	value, ok := s.values[SessionKey]
	if ok {
		delete(s.values, SessionKey)
	}
	s.mx.Unlock()

	if !ok {
		return nil
	}

	closer, ok := value.(io.Closer)
	if !ok {
		return nil
	}

	return closer.Close()
}
