package session

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// Repository defines the concurrency-safe contract for the session registry.
type Repository interface {
	// Add registers a new session. Adding an existing ID is an error.
	Add(s *Session) error

	// Get returns the session or ErrSessionNotFound.
	Get(id ID) (*Session, error)

	// End marks a session as ended. Later events for it fail with
	// ErrSessionEnded; its stats stay readable until it is reaped.
	// Ending an ended session returns ErrSessionEnded.
	End(id ID) error

	// Reap removes sessions that have been idle since before now-idle and
	// returns their IDs, sorted.
	Reap(now time.Time, idle time.Duration) []ID

	// ActiveSessionCount returns the number of sessions that are not ended.
	// Used for metrics.
	ActiveSessionCount() int
}

var (
	// ErrSessionNotFound is returned for an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionEnded is returned for events on an ended session.
	ErrSessionEnded = errors.New("session has ended")

	// ErrSessionExists is returned when adding a duplicate session ID.
	ErrSessionExists = errors.New("session already exists")
)

// InMemoryRepository is a concurrency-safe implementation of Repository over
// a Store. Lock order is r.mu before any Session.mu.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
}

// NewInMemoryRepository constructs a new repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store}
}

// Add implements Repository.Add.
func (r *InMemoryRepository) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.store.GetSession(s.ID); exists {
		return ErrSessionExists
	}
	r.store.SetSession(s)
	return nil
}

// Get implements Repository.Get.
func (r *InMemoryRepository) Get(id ID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.store.GetSession(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// End implements Repository.End.
func (r *InMemoryRepository) End(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.store.GetSession(id)
	if !ok {
		return ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return ErrSessionEnded
	}
	s.ended = true
	return nil
}

// Reap implements Repository.Reap.
func (r *InMemoryRepository) Reap(now time.Time, idle time.Duration) []ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-idle)
	var reaped []ID
	for _, id := range r.store.ListSessionIDs() {
		s, ok := r.store.GetSession(id)
		if !ok || !s.idleSince(cutoff) {
			continue
		}
		r.store.DeleteSession(id)
		reaped = append(reaped, id)
	}
	sort.Slice(reaped, func(i, j int) bool { return reaped[i] < reaped[j] })
	return reaped
}

// ActiveSessionCount implements Repository.ActiveSessionCount.
func (r *InMemoryRepository) ActiveSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, id := range r.store.ListSessionIDs() {
		if s, ok := r.store.GetSession(id); ok && !s.Ended() {
			n++
		}
	}
	return n
}
