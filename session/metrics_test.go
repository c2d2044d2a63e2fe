package session

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("counts-events", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		reg := prometheus.NewRegistry()
		m, env := newTestManager(t, testManagerOpts{opt: []Option{WithMetrics(reg)}})
		require.True(m.CodeExchange(ctx, "?code=test-code"))
		require.NoError(m.Logout(ctx))
		require.NoError(m.Logout(ctx))

		mn, ok := m.notifier.(*metricsNotifier)
		require.True(ok)
		assert.Equal(float64(1), testutil.ToFloat64(mn.events.WithLabelValues(string(LoginSuccess))))
		assert.Equal(float64(2), testutil.ToFloat64(mn.events.WithLabelValues(string(LogoutSuccess))))
		assert.Equal(float64(0), testutil.ToFloat64(mn.events.WithLabelValues(string(LoginFail))))

		// handlers on the wrapped notifier still observe every event
		assert.Len(env.events.all(), 3)

		n, err := testutil.GatherAndCount(reg, "nylas_sessions_events_total")
		require.NoError(err)
		assert.Equal(3, n)
	})
	t.Run("shared-registry", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		reg := prometheus.NewRegistry()
		first, err := newMetricsNotifier(NewDispatcher(), reg)
		require.NoError(err)
		second, err := newMetricsNotifier(NewDispatcher(), reg)
		require.NoError(err)
		assert.Same(first.events, second.events)
	})
	t.Run("conflicting-collector", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		reg := prometheus.NewRegistry()
		require.NoError(reg.Register(prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nylas",
			Subsystem: "sessions",
			Name:      "events_total",
			Help:      "Session notifications emitted, by event.",
		}, []string{"event"})))
		_, err := newMetricsNotifier(NewDispatcher(), reg)
		require.Error(err)
		assert.Truef(errors.Is(err, ErrInvalidParameter), "wanted \"%s\" but got \"%s\"", ErrInvalidParameter, err)
	})
}
