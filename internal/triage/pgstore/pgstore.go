// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/beacon/internal/triage"
)

const instrumentationName = "github.com/linnemanlabs/beacon/internal/triage/pgstore"

//go:embed schema.sql
var schema string

// Store persists the call log in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pgstore: nil pool")
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const recordColumns = `id, recorded_at, call_text, priority, department, summary, confidence`

// Append inserts rec as the newest row. The table lock serializes appenders
// across processes so recorded_at never goes backwards in seq order.
func (s *Store) Append(ctx context.Context, rec triage.Record) (triage.Record, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "pgstore.Append", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	// postgres keeps microseconds
	rec.Timestamp = rec.Timestamp.Truncate(time.Microsecond)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return triage.Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	stored, err := s.insert(ctx, tx, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return triage.Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return triage.Record{}, fmt.Errorf("commit: %w", err)
	}

	span.SetAttributes(attribute.String("beacon.triage.id", stored.ID))
	return stored, nil
}

func (s *Store) insert(ctx context.Context, tx pgx.Tx, rec triage.Record) (triage.Record, error) {
	if _, err := tx.Exec(ctx, `LOCK TABLE call_log IN EXCLUSIVE MODE`); err != nil {
		return triage.Record{}, fmt.Errorf("lock call_log: %w", err)
	}

	var last *time.Time
	if err := tx.QueryRow(ctx, `SELECT max(recorded_at) FROM call_log`).Scan(&last); err != nil {
		return triage.Record{}, fmt.Errorf("select last timestamp: %w", err)
	}
	if last != nil {
		rec = rec.NotBefore(*last)
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO call_log (`+recordColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.Timestamp, rec.Transcript, string(rec.Priority), string(rec.Department), rec.Summary, rec.Confidence,
	)
	if err != nil {
		return triage.Record{}, fmt.Errorf("insert call %s: %w", rec.ID, err)
	}
	return rec, nil
}

// LoadAll returns every record in append order.
func (s *Store) LoadAll(ctx context.Context) ([]triage.Record, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "pgstore.LoadAll", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM call_log ORDER BY seq`)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query call_log: %w", err)
	}
	defer rows.Close()

	records := []triage.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate call_log: %w", err)
	}

	span.SetAttributes(attribute.Int("beacon.call_log.records", len(records)))
	return records, nil
}

func scanRecord(row pgx.Row) (triage.Record, error) {
	var (
		rec        triage.Record
		priority   string
		department string
		confidence int16
	)
	if err := row.Scan(&rec.ID, &rec.Timestamp, &rec.Transcript, &priority, &department, &rec.Summary, &confidence); err != nil {
		return triage.Record{}, fmt.Errorf("scan: %w", err)
	}
	rec.Priority = triage.Priority(priority)
	rec.Department = triage.Department(department)
	rec.Confidence = int(confidence)
	rec.Timestamp = rec.Timestamp.UTC()
	return rec, nil
}
