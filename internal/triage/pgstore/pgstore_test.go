package pgstore_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/beacon/internal/triage"
	"github.com/linnemanlabs/beacon/internal/triage/pgstore"
)

var _ triage.Store = (*pgstore.Store)(nil)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("BEACON_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("BEACON_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)

	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE call_log`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func testRecord(id string, ts time.Time) triage.Record {
	return triage.Record{
		ID:         id,
		Timestamp:  ts,
		Transcript: "There's smoke coming out of the kitchen",
		Priority:   triage.PriorityRed,
		Department: triage.DepartmentFire,
		Summary:    "Kitchen fire",
		Confidence: 90,
	}
}

func TestNew_NilPool(t *testing.T) {
	t.Parallel()

	if _, err := pgstore.New(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil pool")
	}
}

func TestAppendAndLoadAll(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	r := testRecord("test-append-001", now)

	stored, err := s.Append(ctx, r)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}

	assertEqual(t, "ID", r.ID, got[0].ID)
	assertEqual(t, "Transcript", r.Transcript, got[0].Transcript)
	assertEqual(t, "Priority", string(r.Priority), string(got[0].Priority))
	assertEqual(t, "Department", string(r.Department), string(got[0].Department))
	assertEqual(t, "Summary", r.Summary, got[0].Summary)
	assertEqual(t, "Confidence", r.Confidence, got[0].Confidence)

	if !got[0].Timestamp.Equal(stored.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got[0].Timestamp, stored.Timestamp)
	}
}

func TestLoadAll_Empty(t *testing.T) {
	s := openStore(t)

	got, err := s.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil slice", got)
	}
}

func TestAppend_ClampsTimestamp(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	if _, err := s.Append(ctx, testRecord("test-clamp-late", now)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	stored, err := s.Append(ctx, testRecord("test-clamp-early", now.Add(-time.Hour)))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if !stored.Timestamp.Equal(now) {
		t.Errorf("stored timestamp = %v, want %v", stored.Timestamp, now)
	}
}

func TestAppend_RejectsUnknownLabel(t *testing.T) {
	s := openStore(t)

	r := testRecord("test-bad-label", time.Now())
	r.Department = "FIRDEPT"
	if _, err := s.Append(context.Background(), r); err == nil {
		t.Fatal("expected check constraint violation")
	}
}

func TestAppend_ConcurrentOrdering(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Append(ctx, testRecord(fmt.Sprintf("test-concurrent-%02d", i), time.Now())); err != nil {
				t.Errorf("Append %d: %v", i, err)
			}
		}()
	}
	wg.Wait()

	got, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(got) != 20 {
		t.Fatalf("len = %d, want 20", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Errorf("record %d (%v) precedes record %d (%v)", i, got[i].Timestamp, i-1, got[i-1].Timestamp)
		}
	}
}

func assertEqual[T comparable](t *testing.T, field string, want, got T) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %v, want %v", field, got, want)
	}
}
