package derive

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Repository defines the concurrency-safe contract for derivation state.
// Only the coordinator's state owner calls the mutating methods.
type Repository interface {
	// Register records key with its initial status. Registering an existing
	// key is a no-op that reports false.
	Register(key Key, kind Kind, status Status) bool

	// Update moves key to status through a validated transition and, if it
	// is allowed, applies mutate to the stored state.
	Update(key Key, status Status, mutate func(*State)) error

	// Get returns a copy of the state of key.
	Get(key Key) (State, bool)

	// Snapshot returns a copy of every tracked state.
	Snapshot() Snapshot

	// Freeze rejects all further updates.
	Freeze()
}

var (
	// ErrUnknownKey is returned when updating a key that was never registered.
	ErrUnknownKey = errors.New("unknown derivation key")

	// ErrFrozen is returned when updating state after Freeze.
	ErrFrozen = errors.New("derivation state is frozen")
)

// InMemoryRepository is a concurrency-safe implementation of Repository
// backed by a Store; by default an InMemoryStore. The lock is held only while
// applying one update or copying a snapshot.
type InMemoryRepository struct {
	mu     sync.RWMutex
	store  Store
	frozen bool
	now    func() time.Time
}

// NewInMemoryRepository constructs a repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Register implements Repository.Register.
func (r *InMemoryRepository) Register(key Key, kind Kind, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.store.Get(key); exists {
		return false
	}
	r.store.Set(key, &State{Kind: kind, Status: status, UpdatedAt: r.now()})
	return true
}

// Update implements Repository.Update.
func (r *InMemoryRepository) Update(key Key, status Status, mutate func(*State)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrFrozen
	}
	st, ok := r.store.Get(key)
	if !ok {
		return ErrUnknownKey
	}
	if err := Transition(st.Status, status); err != nil {
		return fmt.Errorf("%s %s: %w", st.Kind, keyLabel(key), err)
	}

	st.Status = status
	if mutate != nil {
		mutate(st)
	}
	st.UpdatedAt = r.now()
	return nil
}

// Get implements Repository.Get.
func (r *InMemoryRepository) Get(key Key) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.store.Get(key)
	if !ok {
		return State{}, false
	}
	return st.clone(), true
}

// Snapshot implements Repository.Snapshot.
func (r *InMemoryRepository) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{Segments: make(map[Key]State), Cancelled: r.frozen}
	for _, key := range r.store.Keys() {
		st, _ := r.store.Get(key)
		if key.Preview {
			snap.Preview = st.clone()
			continue
		}
		snap.Segments[key] = st.clone()
	}
	return snap
}

// Freeze implements Repository.Freeze. It is idempotent.
func (r *InMemoryRepository) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

func keyLabel(key Key) string {
	if key.Preview {
		return "preview"
	}
	return fmt.Sprintf("track %d segment %q@%s", key.TrackID, key.Segment.Source, key.Segment.Mapping.Target.Start)
}
