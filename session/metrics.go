package session

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// newEventsCounter creates the counter of emitted notifications, by event name.
func newEventsCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nylas",
		Subsystem: "sessions",
		Name:      "events_total",
		Help:      "Session notifications emitted, by event.",
	}, []string{"event"})
}

// metricsNotifier counts every notification before handing it to the wrapped
// Notifier.
type metricsNotifier struct {
	Notifier
	events *prometheus.CounterVec
}

// newMetricsNotifier registers the events counter with r and wraps n.  When a
// counter is already registered (several managers sharing a registry) the
// existing one is reused.
func newMetricsNotifier(n Notifier, r prometheus.Registerer) (*metricsNotifier, error) {
	const op = "session.newMetricsNotifier"
	events := newEventsCounter()
	if err := r.Register(events); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("%s: events counter registered with another type: %w", op, ErrInvalidParameter)
		}
		events = existing
	}
	return &metricsNotifier{Notifier: n, events: events}, nil
}

// Emit implements Notifier.Emit
func (n *metricsNotifier) Emit(e Event) {
	n.events.WithLabelValues(string(e.Type)).Inc()
	n.Notifier.Emit(e)
}
