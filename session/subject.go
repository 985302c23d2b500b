package session

import "sync"

// Subject holds a current value and replays it to every new subscriber.
// Each subscription is a channel with a single slot: a slow reader skips intermediate values and
// always sees the latest one. Publishing never blocks.
type Subject[T any] struct {
	mu     sync.Mutex
	value  T
	subs   map[uint64]chan T
	nextID uint64
	equal  func(a, b T) bool
}

// NewSubject returns a subject seeded with initial. When equal is non-nil, publishing a value
// equal to the current one is a no-op.
func NewSubject[T any](initial T, equal func(a, b T) bool) *Subject[T] {
	return &Subject[T]{
		value: initial,
		subs:  make(map[uint64]chan T),
		equal: equal,
	}
}

func (s *Subject[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Publish replaces the current value and notifies subscribers. It reports whether subscribers
// were notified.
func (s *Subject[T]) Publish(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.equal != nil && s.equal(s.value, v) {
		return false
	}
	s.value = v
	for _, ch := range s.subs {
		offer(ch, v)
	}
	return true
}

// Subscribe returns a channel that immediately holds the current value, and a cancel func that
// closes it. Cancel is safe to call more than once.
func (s *Subject[T]) Subscribe() (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan T, 1)
	ch <- s.value
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

// offer replaces whatever is buffered in ch with v. Callers hold the subject lock so there is
// no competing sender.
func offer[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}
