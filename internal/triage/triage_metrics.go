package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage pipeline.
type Metrics struct {
	TriagesTotal       *prometheus.CounterVec
	TriageDuration     *prometheus.HistogramVec
	ClassifierCalls    *prometheus.CounterVec
	ClassifierDuration prometheus.Histogram
	ClassifierRetries  prometheus.Counter
	Confidence         prometheus.Histogram
	CallsByPriority    *prometheus.CounterVec
	StoreAppendTime    *prometheus.HistogramVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TriagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_triages_total",
			Help: "Total triage requests by outcome.",
		}, []string{"outcome"}),
		TriageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beacon_triage_duration_seconds",
			Help:    "End to end duration of triage requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 9), // 0.25s .. 64s
		}, []string{"outcome"}),
		ClassifierCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_classifier_calls_total",
			Help: "Classifier attempts by result.",
		}, []string{"result"}),
		ClassifierDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "beacon_classifier_duration_seconds",
			Help:    "Duration of individual classifier attempts in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s .. 32s
		}),
		ClassifierRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_classifier_retries_total",
			Help: "Classifier attempts repeated after the classifier was unavailable.",
		}),
		Confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "beacon_triage_confidence",
			Help:    "Normalized classifier confidence of produced records.",
			Buckets: prometheus.LinearBuckets(0, 10, 11), // 0 .. 100
		}),
		CallsByPriority: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_calls_by_priority_total",
			Help: "Produced records by priority and department.",
		}, []string{"priority", "department"}),
		StoreAppendTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beacon_store_append_duration_seconds",
			Help:    "Duration of call log appends in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.TriagesTotal,
		m.TriageDuration,
		m.ClassifierCalls,
		m.ClassifierDuration,
		m.ClassifierRetries,
		m.Confidence,
		m.CallsByPriority,
		m.StoreAppendTime,
	)

	return m
}

// Hooks returns pipeline Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnClassify: func(duration float64, kind Kind, _ error) {
			result := "success"
			if kind != "" {
				result = string(kind)
			}
			m.ClassifierCalls.WithLabelValues(result).Inc()
			m.ClassifierDuration.Observe(duration)
		},
		OnRetry: func() {
			m.ClassifierRetries.Inc()
		},
		OnPersist: func(duration float64, err error) {
			status := "success"
			if err != nil {
				status = "error"
			}
			m.StoreAppendTime.WithLabelValues(status).Observe(duration)
		},
		OnComplete: func(e *CompleteEvent) {
			m.TriagesTotal.WithLabelValues(e.Outcome()).Inc()
			m.TriageDuration.WithLabelValues(e.Outcome()).Observe(e.Duration)
			if e.Produced() {
				m.Confidence.Observe(float64(e.Confidence))
				m.CallsByPriority.WithLabelValues(string(e.Priority), string(e.Department)).Inc()
			}
		},
	}
}
