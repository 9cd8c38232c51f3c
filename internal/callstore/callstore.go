// Package callstore opens the configured call log backend.
package callstore

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/beacon/internal/postgres"
	"github.com/linnemanlabs/beacon/internal/triage"
	"github.com/linnemanlabs/beacon/internal/triage/filestore"
	"github.com/linnemanlabs/beacon/internal/triage/memstore"
	"github.com/linnemanlabs/beacon/internal/triage/pgstore"
)

// Backend names the store Open selected.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendFile     Backend = "file"
	BackendMemory   Backend = "memory"
)

// Config selects the backend: a database URL wins over a file path, and
// with neither the log lives in memory.
type Config struct {
	DatabaseURL string
	DBMaxConns  int
	SlowQuery   time.Duration
	CallLogPath string
}

// Opened is an open call log and the function that releases it.
type Opened struct {
	Store   triage.Store
	Backend Backend
	Close   func()
}

// Open connects the selected backend. reg may be nil, in which case query
// metrics are not recorded.
func Open(ctx context.Context, c Config, logger log.Logger, reg prometheus.Registerer) (*Opened, error) {
	if logger == nil {
		logger = log.Nop()
	}

	switch {
	case c.DatabaseURL != "":
		var observer postgres.QueryObserver
		if reg != nil {
			observer = postgres.NewQueryMetrics(reg)
		}
		pool, err := postgres.NewPool(ctx, c.DatabaseURL, postgres.PoolOptions{
			MaxConns:  int32(c.DBMaxConns), //nolint:gosec // validated 1..100
			SlowQuery: c.SlowQuery,
			Logger:    logger,
			Observer:  observer,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres pool: %w", err)
		}
		store, err := pgstore.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("pgstore init: %w", err)
		}
		return &Opened{Store: store, Backend: BackendPostgres, Close: pool.Close}, nil

	case c.CallLogPath != "":
		store, err := filestore.New(c.CallLogPath, filestore.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("filestore init: %w", err)
		}
		return &Opened{
			Store:   store,
			Backend: BackendFile,
			Close: func() {
				if err := store.Close(); err != nil {
					logger.Warn(context.Background(), "closing call log lock file", "error", err)
				}
			},
		}, nil

	default:
		return &Opened{Store: memstore.New(), Backend: BackendMemory, Close: func() {}}, nil
	}
}
