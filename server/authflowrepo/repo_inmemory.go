package authflowrepo

import (
	"errors"
	"sync"
	"time"
)

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface.
// Attempts older than ttl are rejected and swept on write.
type InMemoryRepo struct {
	mu     sync.Mutex
	states map[string]*AuthFlowState
	ttl    time.Duration
	now    func() time.Time
}

// NewInMemoryRepo creates a new in-memory auth flow state repository
func NewInMemoryRepo(ttl time.Duration) *InMemoryRepo {
	return &InMemoryRepo{
		states: make(map[string]*AuthFlowState),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Upsert stores or updates an auth flow state
func (r *InMemoryRepo) Upsert(state string, authState *AuthFlowState) error {
	if state == "" {
		return ErrEmptyState
	}
	if authState == nil {
		return errors.New("authState cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()

	stored := *authState
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.now()
	}
	r.states[state] = &stored
	return nil
}

// Consume removes the state and returns it if it is known and still fresh.
func (r *InMemoryRepo) Consume(state string) (*AuthFlowState, error) {
	if state == "" {
		return nil, ErrEmptyState
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	authState, exists := r.states[state]
	if !exists {
		return nil, ErrStateNotFound
	}
	delete(r.states, state)

	if r.expired(authState) {
		return nil, ErrStateExpired
	}

	out := *authState
	return &out, nil
}

// Delete removes an auth flow state
func (r *InMemoryRepo) Delete(state string) error {
	if state == "" {
		return ErrEmptyState
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.states, state)
	return nil
}

// Len reports how many attempts are pending.
func (r *InMemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func (r *InMemoryRepo) expired(s *AuthFlowState) bool {
	return r.ttl > 0 && r.now().Sub(s.CreatedAt) > r.ttl
}

func (r *InMemoryRepo) sweepLocked() {
	for k, v := range r.states {
		if r.expired(v) {
			delete(r.states, k)
		}
	}
}
