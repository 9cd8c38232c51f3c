// Package notify delivers triage records to observers. Sinks never block the
// pipeline and never fail a triage request.
package notify

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/beacon/internal/triage"
)

// Fanout publishes each record to every sink in order. A nil sink is skipped.
type Fanout []triage.Notifier

// Publish implements triage.Notifier.
func (f Fanout) Publish(ctx context.Context, rec triage.Record) {
	for _, n := range f {
		if n != nil {
			n.Publish(ctx, rec)
		}
	}
}

// Metrics counts records a sink could not deliver.
type Metrics struct {
	Dropped *prometheus.CounterVec
}

// NewMetrics registers and returns notify metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_notify_dropped_total",
			Help: "Records dropped by a notification sink because it was full or failed.",
		}, []string{"sink"}),
	}
	reg.MustRegister(m.Dropped)
	return m
}

// OnDrop returns a callback that counts drops for sink. A nil Metrics yields a no-op.
func (m *Metrics) OnDrop(sink string) func() {
	if m == nil {
		return func() {}
	}
	c := m.Dropped.WithLabelValues(sink)
	return c.Inc
}
