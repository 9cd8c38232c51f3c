// Package postgres builds the pgx connection pool with tracing, query logging
// and query metrics attached.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/go-core/log"
)

// DefaultSlowQuery is the duration above which successful queries are logged.
const DefaultSlowQuery = 250 * time.Millisecond

// PoolOptions configures NewPool. Zero values select defaults.
type PoolOptions struct {
	MaxConns  int32
	SlowQuery time.Duration
	Logger    log.Logger
	Observer  QueryObserver
}

// NewPool parses databaseURL, attaches the otelpgx tracer wrapped with query
// logging, connects, and pings.
func NewPool(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	slow := opts.SlowQuery
	if slow <= 0 {
		slow = DefaultSlowQuery
	}
	cfg.ConnConfig.Tracer = wrapQueryTracer(otelpgx.NewTracer(), opts.Logger, opts.Observer, slow)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return pool, nil
}

// QueryMetrics is a QueryObserver backed by a Prometheus histogram.
type QueryMetrics struct {
	duration *prometheus.HistogramVec
}

// NewQueryMetrics registers and returns query metrics on the given registerer.
func NewQueryMetrics(reg prometheus.Registerer) *QueryMetrics {
	m := &QueryMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beacon_db_query_duration_seconds",
			Help:    "Duration of database queries in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms .. ~4s
		}, []string{"operation", "caller", "outcome"}),
	}
	reg.MustRegister(m.duration)
	return m
}

// ObserveQuery implements QueryObserver.
func (m *QueryMetrics) ObserveQuery(_ context.Context, operation, caller, outcome string, dur time.Duration) {
	m.duration.WithLabelValues(operation, caller, outcome).Observe(dur.Seconds())
}
