package derive

// Store is the persistence abstraction for derivation state.
// The Repository uses Store for all reads and writes and serializes access
// to it; Store implementations need no locking of their own.
type Store interface {
	Get(key Key) (*State, bool)
	Set(key Key, st *State)
	Keys() []Key
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	states map[Key]*State
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{states: make(map[Key]*State)}
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(key Key) (*State, bool) {
	st, ok := s.states[key]
	return st, ok
}

// Set implements Store.Set.
func (s *InMemoryStore) Set(key Key, st *State) {
	s.states[key] = st
}

// Keys implements Store.Keys.
func (s *InMemoryStore) Keys() []Key {
	keys := make([]Key, 0, len(s.states))
	for k := range s.states {
		keys = append(keys, k)
	}
	return keys
}
