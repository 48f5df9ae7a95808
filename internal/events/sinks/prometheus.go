package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/accountlink/internal/connection"
	"github.com/JakeFAU/accountlink/internal/events"
)

// PrometheusSink exports connection lifecycle metrics via Prometheus. It owns
// all collectors for status transitions, connected accounts, failures and
// summary progress.
type PrometheusSink struct {
	transitions     *prometheus.CounterVec
	connected       prometheus.Gauge
	connectFailures prometheus.Counter
	coreErrors      prometheus.Counter
	authFailures    prometheus.Counter
	busyEvents      prometheus.Counter
	summaryProgress *prometheus.HistogramVec

	tracker *accountTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accountlink_status_transitions_total",
			Help: "Connection status transitions partitioned by the status entered.",
		}, []string{"status"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "accountlink_connections_connected",
			Help: "Current number of connections holding a core.",
		}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accountlink_connect_failures_total",
			Help: "Total core acquisitions that failed.",
		}),
		coreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accountlink_core_errors_total",
			Help: "Total errors reported by cores.",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accountlink_auth_failures_total",
			Help: "Total authentication failures handled.",
		}),
		busyEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accountlink_busy_events_total",
			Help: "Total busy notifications reported by cores.",
		}),
		summaryProgress: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "accountlink_summary_progress",
			Help:    "Distribution of summary progress fractions partitioned by status.",
			Buckets: []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1},
		}, []string{"status"}),
		tracker: newAccountTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.transitions,
		s.connected,
		s.connectFailures,
		s.coreErrors,
		s.authFailures,
		s.busyEvents,
		s.summaryProgress,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register connection collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt events.Event) {
	switch evt.Kind {
	case events.KindStatus:
		s.handleStatusEvent(evt)
	case events.KindConnectFailed:
		s.connectFailures.Inc()
	case events.KindCoreError:
		s.coreErrors.Inc()
	case events.KindAuthFailure:
		s.authFailures.Inc()
	case events.KindBusy:
		s.busyEvents.Inc()
	case events.KindSummary:
		s.summaryProgress.WithLabelValues(evt.Status).Observe(evt.Progress)
	}
}

func (s *PrometheusSink) handleStatusEvent(evt events.Event) {
	s.transitions.WithLabelValues(evt.Status).Inc()
	if connection.Status(evt.Status).HasCore() {
		if s.tracker.connect(evt.AccountID) {
			s.connected.Inc()
		}
		return
	}
	if s.tracker.disconnect(evt.AccountID) {
		s.connected.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type accountTracker struct {
	mu        sync.Mutex
	connected map[uuid.UUID]struct{}
}

func newAccountTracker() *accountTracker {
	return &accountTracker{connected: make(map[uuid.UUID]struct{})}
}

func (t *accountTracker) connect(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.connected[id]; ok {
		return false
	}
	t.connected[id] = struct{}{}
	return true
}

func (t *accountTracker) disconnect(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.connected[id]; !ok {
		return false
	}
	delete(t.connected, id)
	return true
}
