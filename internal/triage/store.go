package triage

import "context"

// Store is the append-only call log.
type Store interface {
	// Append persists rec after every earlier record and returns it as stored.
	// Implementations may move Timestamp forward to keep the log non-decreasing.
	Append(ctx context.Context, rec Record) (Record, error)

	// LoadAll returns every record in append order. A missing log is empty.
	LoadAll(ctx context.Context) ([]Record, error)
}

// Notifier delivers a record to live observers. Publish must not block on
// slow observers and has no failure mode the pipeline acts on.
type Notifier interface {
	Publish(ctx context.Context, rec Record)
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(ctx context.Context, rec Record)

// Publish calls f.
func (f NotifierFunc) Publish(ctx context.Context, rec Record) { f(ctx, rec) }
