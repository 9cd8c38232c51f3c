// Package filestore keeps the call log as a single JSON array on disk.
//
// Appends rewrite the whole file through an atomic rename, so a reader never
// observes a partially written log. Writers in one process are serialized by
// a mutex and writers in different processes by an advisory lock on a
// sibling ".lock" file.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/beacon/internal/triage"
)

const (
	instrumentationName = "github.com/linnemanlabs/beacon/internal/triage/filestore"

	lockRetryDelay = 10 * time.Millisecond
	filePerm       = 0o644
	dirPerm        = 0o755
)

// Store is the file-backed call log.
type Store struct {
	path   string
	logger log.Logger
	now    func() time.Time

	mu   sync.Mutex
	lock *flock.Flock
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for corrupt-file warnings.
func WithLogger(l log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a Store for path. The file and its directory are created on the first Append.
func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("filestore: empty path")
	}
	s := &Store{
		path:   path,
		logger: log.Nop(),
		now:    time.Now,
		lock:   flock.New(path + ".lock"),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Path returns the call log location.
func (s *Store) Path() string { return s.path }

// Close releases the lock file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock.Close()
}

// Append adds rec to the end of the log and returns it as stored. If the
// existing file cannot be parsed it is moved aside and a new log is started.
func (s *Store) Append(ctx context.Context, rec triage.Record) (triage.Record, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "filestore.Append", trace.WithAttributes(
		attribute.String("beacon.call_log.path", s.path),
	))
	defer span.End()

	stored, err := s.append(ctx, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return triage.Record{}, err
	}
	return stored, nil
}

func (s *Store) append(ctx context.Context, rec triage.Record) (triage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), dirPerm); err != nil {
		return triage.Record{}, fmt.Errorf("create call log dir: %w", err)
	}

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return triage.Record{}, fmt.Errorf("lock call log: %w", err)
	}
	if !locked {
		return triage.Record{}, errors.New("lock call log: not acquired")
	}
	defer s.lock.Unlock() //nolint:errcheck // closing the handle releases the lock anyway

	records, err := s.read()
	if errors.Is(err, errCorrupt) {
		quarantine := fmt.Sprintf("%s.corrupt-%s-%s", s.path, s.now().UTC().Format("20060102T150405Z"), ulid.Make())
		s.logger.Warn(ctx, "call log is not a JSON array, moving it aside",
			"path", s.path,
			"quarantine", quarantine,
			"error", err,
		)
		if rerr := os.Rename(s.path, quarantine); rerr != nil {
			return triage.Record{}, fmt.Errorf("quarantine corrupt call log: %w", rerr)
		}
		records = nil
	} else if err != nil {
		return triage.Record{}, err
	}

	if n := len(records); n > 0 {
		rec = rec.NotBefore(records[n-1].Timestamp)
	}
	records = append(records, rec)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return triage.Record{}, fmt.Errorf("encode call log: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, filePerm); err != nil {
		return triage.Record{}, fmt.Errorf("write call log: %w", err)
	}
	return rec, nil
}

// LoadAll returns every record in append order. A missing or empty file is an
// empty log; so is a corrupt one, which is logged.
func (s *Store) LoadAll(ctx context.Context) ([]triage.Record, error) {
	_, span := otel.Tracer(instrumentationName).Start(ctx, "filestore.LoadAll", trace.WithAttributes(
		attribute.String("beacon.call_log.path", s.path),
	))
	defer span.End()

	records, err := s.read()
	if errors.Is(err, errCorrupt) {
		s.logger.Warn(ctx, "call log is not a JSON array, treating it as empty",
			"path", s.path,
			"error", err,
		)
		return []triage.Record{}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("beacon.call_log.records", len(records)))
	return records, nil
}

var errCorrupt = errors.New("corrupt call log")

func (s *Store) read() ([]triage.Record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []triage.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read call log: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []triage.Record{}, nil
	}

	var records []triage.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %w", errCorrupt, err)
	}
	if records == nil {
		// the literal null
		return nil, fmt.Errorf("%w: not an array", errCorrupt)
	}
	return records, nil
}
