package authclient

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-sso-bff/instrumentation"
	"github.com/jrsteele09/go-sso-bff/session"
)

// RefreshFunc obtains a new access token from the backend.
type RefreshFunc func(ctx context.Context) (string, error)

type CoordinatorOption func(*Coordinator)

func WithCoordinatorLogger(l zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

func WithCoordinatorMetrics(m *instrumentation.Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// WithFlightTimeout bounds a single refresh flight.
func WithFlightTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.flightTimeout = d }
}

// Stats counts coordinator activity since creation.
type Stats struct {
	Flights   int64 // refreshes actually sent
	Joiners   int64 // callers that waited on someone else's flight
	Failures  int64 // flights that ended without a token
	Shortcuts int64 // 401s answered with a token obtained by an earlier flight
}

type flight struct {
	done  chan struct{}
	token string
	err   error
}

// Coordinator makes sure at most one refresh is in flight. Every caller that asks while a
// refresh is running receives that refresh's outcome.
type Coordinator struct {
	refresh RefreshFunc
	store   *session.Store

	mu     sync.Mutex
	flight *flight

	flights   atomic.Int64
	joiners   atomic.Int64
	failures  atomic.Int64
	shortcuts atomic.Int64

	flightTimeout time.Duration
	logger        zerolog.Logger
	metrics       *instrumentation.Metrics
}

func NewCoordinator(refresh RefreshFunc, store *session.Store, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		refresh:       refresh,
		store:         store,
		flightTimeout: 30 * time.Second,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh starts a refresh, or joins the one in flight, and waits for its outcome.
// The store is updated before any caller is released: the new token on success, cleared on
// failure. Cancelling ctx abandons the wait but not the flight.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	f := c.flight
	if f == nil {
		f = &flight{done: make(chan struct{})}
		c.flight = f
		c.mu.Unlock()

		c.flights.Add(1)
		go c.fly(context.WithoutCancel(ctx), f)
	} else {
		c.mu.Unlock()

		c.joiners.Add(1)
		c.metrics.RecordRefreshJoiner(ctx)
	}

	select {
	case <-f.done:
		return f.token, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Authorize returns a token to retry req with. When the store already holds a token other than
// the one req failed with, a refresh completed after req was sent and that token is used.
func (c *Coordinator) Authorize(req *http.Request, failedToken string) (string, error) {
	if current := c.store.AccessToken(); current != "" && current != failedToken {
		c.shortcuts.Add(1)
		return current, nil
	}
	return c.Refresh(req.Context())
}

func (c *Coordinator) Stats() Stats {
	return Stats{
		Flights:   c.flights.Load(),
		Joiners:   c.joiners.Load(),
		Failures:  c.failures.Load(),
		Shortcuts: c.shortcuts.Load(),
	}
}

func (c *Coordinator) fly(ctx context.Context, f *flight) {
	ctx, cancel := context.WithTimeout(ctx, c.flightTimeout)
	defer cancel()

	token, err := c.refresh(ctx)
	if err == nil && token == "" {
		err = errEmptyToken
	}

	if err != nil {
		c.failures.Add(1)
		c.metrics.RecordRefreshFlight(ctx, instrumentation.OutcomeRejected)
		c.logger.Warn().Err(err).Msg("Token refresh failed, clearing session")
		c.store.SetAccessToken("")
	} else {
		c.metrics.RecordRefreshFlight(ctx, instrumentation.OutcomeSuccess)
		c.logger.Debug().Msg("Token refreshed")
		c.store.SetAccessToken(token)
	}

	c.mu.Lock()
	f.token, f.err = token, err
	if err != nil {
		f.token = ""
	}
	c.flight = nil
	close(f.done)
	c.mu.Unlock()
}
