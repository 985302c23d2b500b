package instrumentation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsToNoop(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	require.NotNil(t, m.CodeExchanged)
	require.NotNil(t, m.RequestReplayed)

	assert.NotPanics(t, func() {
		ctx := context.Background()
		m.RecordCodeExchange(ctx, OutcomeSuccess)
		m.RecordTokenRefresh(ctx, OutcomeRejected)
		m.RecordTokenRevoke(ctx, OutcomeUnavailable)
		m.RecordRateLimitExceeded(ctx, "/auth/refresh")
		m.RecordRefreshFlight(ctx, OutcomeSuccess)
		m.RecordRefreshJoiner(ctx)
		m.RecordReplay(ctx, "GET")
	})
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordCodeExchange(context.Background(), OutcomeSuccess)
		m.RecordReplay(context.Background(), "GET")
	})
}
