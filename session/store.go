// Package session tracks whether the client holds a usable access token and who it belongs to.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-sso-bff/internal/errors"
	"github.com/jrsteele09/go-sso-bff/storage"
)

// ProfileFetcher loads the current user's profile using whatever token the store holds.
type ProfileFetcher func(ctx context.Context) (*UserProfile, error)

type Option func(*Store)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func WithProfileFetcher(f ProfileFetcher) Option {
	return func(s *Store) { s.fetch = f }
}

func WithFetchTimeout(d time.Duration) Option {
	return func(s *Store) { s.fetchTimeout = d }
}

// Store is the session state machine. Status starts Unknown and resolves to Authenticated or
// Unauthenticated. Status and profile are observable through replaying subscriptions.
type Store struct {
	mu         sync.RWMutex
	session    storage.Storage
	durable    storage.Storage
	generation uint64

	status  *Subject[Status]
	profile *Subject[*UserProfile]

	fetch        ProfileFetcher
	fetchTimeout time.Duration
	fetches      sync.WaitGroup
	logger       zerolog.Logger
}

// NewStore creates a store over the session tier (access token) and the durable tier (profile).
func NewStore(session, durable storage.Storage, opts ...Option) *Store {
	s := &Store{
		session:      session,
		durable:      durable,
		status:       NewSubject(StatusUnknown, func(a, b Status) bool { return a == b }),
		profile:      NewSubject[*UserProfile](nil, nil),
		fetchTimeout: 10 * time.Second,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Status() Status {
	return s.status.Value()
}

func (s *Store) Profile() *UserProfile {
	return s.profile.Value()
}

// AccessToken returns the token in the session tier, or "" when there is none.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessTokenLocked()
}

func (s *Store) SubscribeStatus() (<-chan Status, func()) {
	return s.status.Subscribe()
}

func (s *Store) SubscribeProfile() (<-chan *UserProfile, func()) {
	return s.profile.Subscribe()
}

func (s *Store) HasRole(role string) bool {
	return s.Profile().HasRole(role)
}

func (s *Store) IsAdmin() bool {
	return s.HasRole(AdminRole)
}

// SetAccessToken records a new token and marks the session Authenticated, then refreshes the
// profile in the background. An empty token clears the session: token and profile are removed
// and the status becomes Unauthenticated. Clearing is idempotent.
func (s *Store) SetAccessToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token == "" {
		s.clearLocked()
		return
	}

	if err := s.session.Set(storage.AccessTokenKey, token); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist access token")
	}
	s.generation++
	s.transitionLocked(StatusAuthenticated, false)
	s.startFetchLocked(context.Background())
}

// RestoreFromPersistence resolves the status from what the storage tiers hold. A cached profile
// is published straight away; a damaged one is discarded. A stored token makes the session
// optimistically Authenticated until the background profile fetch says otherwise.
func (s *Store) RestoreFromPersistence(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.restoreProfileLocked()

	if s.accessTokenLocked() == "" {
		s.clearLocked()
		return nil
	}

	s.generation++
	s.transitionLocked(StatusAuthenticated, false)
	s.startFetchLocked(context.WithoutCancel(ctx))
	return nil
}

// Reevaluate drops the status back to Unknown and resolves it again from storage.
func (s *Store) Reevaluate(ctx context.Context) error {
	s.mu.Lock()
	s.transitionLocked(StatusUnknown, true)
	s.mu.Unlock()

	return s.RestoreFromPersistence(ctx)
}

// AwaitResolved blocks until the status is no longer Unknown.
func (s *Store) AwaitResolved(ctx context.Context) (Status, error) {
	ch, cancel := s.status.Subscribe()
	defer cancel()

	for {
		select {
		case st := <-ch:
			if st != StatusUnknown {
				return st, nil
			}
		case <-ctx.Done():
			return StatusUnknown, ctx.Err()
		}
	}
}

// Wait blocks until background profile fetches have finished.
func (s *Store) Wait() {
	s.fetches.Wait()
}

func (s *Store) accessTokenLocked() string {
	token, ok, err := s.session.Get(storage.AccessTokenKey)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read access token")
		return ""
	}
	if !ok {
		return ""
	}
	return token
}

func (s *Store) restoreProfileLocked() {
	raw, ok, err := s.durable.Get(storage.UserProfileKey)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read cached profile")
		return
	}
	if !ok {
		return
	}

	p, err := decodeProfile(raw)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Discarding unreadable cached profile")
		if err := s.durable.Remove(storage.UserProfileKey); err != nil {
			s.logger.Error().Err(err).Msg("Failed to remove cached profile")
		}
		return
	}
	s.profile.Publish(p)
}

func (s *Store) clearLocked() {
	s.generation++
	if err := s.session.Remove(storage.AccessTokenKey); err != nil {
		s.logger.Error().Err(err).Msg("Failed to remove access token")
	}
	if err := s.durable.Remove(storage.UserProfileKey); err != nil {
		s.logger.Error().Err(err).Msg("Failed to remove cached profile")
	}
	if s.profile.Value() != nil {
		s.profile.Publish(nil)
	}
	s.transitionLocked(StatusUnauthenticated, false)
}

func (s *Store) transitionLocked(to Status, allowUnknown bool) {
	from := s.status.Value()
	if err := checkTransition(from, to, allowUnknown); err != nil {
		s.logger.Error().Err(err).Msg("Rejected session transition")
		return
	}
	if s.status.Publish(to) {
		s.logger.Debug().Stringer("from", from).Stringer("to", to).Msg("Session status changed")
	}
}

func (s *Store) startFetchLocked(ctx context.Context) {
	if s.fetch == nil {
		return
	}
	gen := s.generation
	fetch := s.fetch

	s.fetches.Add(1)
	go func() {
		defer s.fetches.Done()
		fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()

		p, err := fetch(fetchCtx)
		s.applyFetch(gen, p, err)
	}()
}

// applyFetch records a profile fetch result unless the token it was fetched for has since been
// replaced or cleared.
func (s *Store) applyFetch(gen uint64, p *UserProfile, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		s.logger.Debug().Msg("Discarding stale profile fetch")
		return
	}
	if err == nil && p == nil {
		err = errors.ErrNotFound
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("Profile fetch failed, clearing session")
		s.clearLocked()
		return
	}

	raw, encErr := encodeProfile(p)
	if encErr == nil {
		encErr = s.durable.Set(storage.UserProfileKey, raw)
	}
	if encErr != nil {
		s.logger.Error().Err(encErr).Msg("Failed to cache profile")
	}
	s.profile.Publish(p)
}
