package mock

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoMock is returned for a key with no registered mock.
	ErrNoMock = errors.New("no mock registered")

	// ErrNotRestored means the main process still has the spy in place
	// after a restore.
	ErrNotRestored = errors.New("original function not restored")
)

// Key returns the registry key of an Electron API function.
func Key(apiName, methodName string) string {
	return "electron." + apiName + "." + methodName
}

func apiPrefix(apiName string) string {
	return "electron." + apiName + "."
}

// Store maps keys to live mocks, keeping insertion order for bulk
// operations. It holds at most one mock per key. A Store belongs to one
// session and is not safe for concurrent use.
type Store struct {
	keys  []string
	mocks map[string]*Mock
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{mocks: make(map[string]*Mock)}
}

// Get returns the mock registered under key.
func (s *Store) Get(key string) (*Mock, error) {
	mk, ok := s.mocks[key]
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoMock, key)
	}
	return mk, nil
}

// Has reports whether key is registered.
func (s *Store) Has(key string) bool {
	_, ok := s.mocks[key]
	return ok
}

// Put registers mk under its key, replacing nothing: putting a second mock
// for a registered key is an error.
func (s *Store) Put(mk *Mock) error {
	if _, ok := s.mocks[mk.Key]; ok {
		return fmt.Errorf("mock already registered for %s", mk.Key)
	}
	s.mocks[mk.Key] = mk
	s.keys = append(s.keys, mk.Key)
	return nil
}

// Delete removes key and reports whether it was present.
func (s *Store) Delete(key string) bool {
	if _, ok := s.mocks[key]; !ok {
		return false
	}
	delete(s.mocks, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of registered mocks.
func (s *Store) Len() int {
	return len(s.keys)
}

// Keys returns registered keys in insertion order.
func (s *Store) Keys() []string {
	return append([]string(nil), s.keys...)
}

// All returns every mock in insertion order.
func (s *Store) All() []*Mock {
	return s.Filter("")
}

// Filter returns the mocks of one API namespace, or all of them when
// apiName is empty.
func (s *Store) Filter(apiName string) []*Mock {
	out := make([]*Mock, 0, len(s.keys))
	prefix := apiPrefix(apiName)
	for _, k := range s.keys {
		if apiName == "" || strings.HasPrefix(k, prefix) {
			out = append(out, s.mocks[k])
		}
	}
	return out
}
