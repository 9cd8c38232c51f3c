package triage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxRetries      = 1
	DefaultClassifyTimeout = 20 * time.Second
	DefaultPersistTimeout  = 5 * time.Second
)

// Options tunes the Pipeline. Zero values select the defaults.
type Options struct {
	// MaxRetries is how many times an unavailable classifier is retried; negative disables retries.
	MaxRetries      int
	ClassifyTimeout time.Duration
	PersistTimeout  time.Duration

	// NewBackOff builds the wait policy between classifier retries.
	NewBackOff func() backoff.BackOff

	// Now stamps completed records.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.ClassifyTimeout <= 0 {
		o.ClassifyTimeout = DefaultClassifyTimeout
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = DefaultPersistTimeout
	}
	if o.NewBackOff == nil {
		o.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Pipeline validates a transcript, classifies it, normalizes the verdict
// against the taxonomy, then persists and publishes the resulting Record.
// It is safe for concurrent use; the Store serializes appends.
type Pipeline struct {
	classifier Classifier
	store      Store
	notifier   Notifier
	logger     log.Logger
	hooks      Hooks
	opts       Options
}

// NewPipeline creates a Pipeline. A nil notifier disables publishing.
func NewPipeline(classifier Classifier, store Store, notifier Notifier, logger log.Logger, hooks Hooks, opts Options) *Pipeline {
	if logger == nil {
		logger = log.Nop()
	}
	return &Pipeline{
		classifier: classifier,
		store:      store,
		notifier:   notifier,
		logger:     logger,
		hooks:      hooks,
		opts:       opts.withDefaults(),
	}
}

// Triage runs one call through the pipeline.
//
// On success it returns the stored record and nil. When only the call log append
// failed it returns the record together with a KindPersistence *Error. Every
// other failure returns a zero Record and an *Error; nothing is persisted or
// published in that case.
func (p *Pipeline) Triage(ctx context.Context, transcript string) (Record, error) {
	start := time.Now()

	ctx, span := tracer().Start(ctx, "triage.run", trace.WithAttributes(
		attribute.Int("beacon.transcript.bytes", len(transcript)),
	))
	defer span.End()

	if strings.TrimSpace(transcript) == "" {
		return Record{}, p.fail(ctx, span, start, 0, transcript, &Error{Kind: KindEmptyInput})
	}

	raw, attempts, err := p.classify(ctx, transcript)
	if err != nil {
		return Record{}, p.fail(ctx, span, start, attempts, transcript, err)
	}

	rec, err := p.normalize(ctx, transcript, raw)
	if err != nil {
		return Record{}, p.fail(ctx, span, start, attempts, transcript, err)
	}

	// a caller that hung up during classification gets nothing recorded
	if cerr := ctx.Err(); cerr != nil {
		return Record{}, p.fail(ctx, span, start, attempts, transcript, &Error{Kind: KindCanceled, Err: cerr})
	}

	// the append and publish outlive the caller once the record is complete
	sideCtx := context.WithoutCancel(ctx)

	stored, perr := p.persist(sideCtx, rec)
	if perr == nil {
		rec = stored
	}

	if p.notifier != nil {
		p.notifier.Publish(sideCtx, rec)
	}

	span.SetAttributes(
		attribute.String("beacon.triage.id", rec.ID),
		attribute.String("beacon.triage.priority", string(rec.Priority)),
		attribute.String("beacon.triage.department", string(rec.Department)),
		attribute.Int("beacon.triage.confidence", rec.Confidence),
		attribute.Int("beacon.classifier.attempts", attempts),
	)

	L := p.logger.With("triage_id", rec.ID, "priority", rec.Priority, "department", rec.Department)

	if perr != nil {
		perr = &Error{Kind: KindPersistence, Transcript: transcript, Err: perr}
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
		L.Error(ctx, perr, "call log append failed, returning unpersisted record", "call_text", transcript)
		p.complete(ctx, start, attempts, KindPersistence, rec)
		return rec, perr
	}

	L.Info(ctx, "triage complete",
		"confidence", rec.Confidence,
		"attempts", attempts,
		"duration", time.Since(start).Seconds(),
	)
	p.complete(ctx, start, attempts, "", rec)
	return rec, nil
}

// classify calls the classifier, retrying only KindClassifierUnavailable.
func (p *Pipeline) classify(ctx context.Context, transcript string) (*RawClassification, int, error) {
	attempts := 0

	op := func() (*RawClassification, error) {
		attempts++

		actx, cancel := context.WithTimeout(ctx, p.opts.ClassifyTimeout)
		defer cancel()

		t0 := time.Now()
		raw, err := p.classifier.Classify(actx, transcript)
		if p.hooks.OnClassify != nil {
			p.hooks.OnClassify(time.Since(t0).Seconds(), KindOf(err), err)
		}
		if err == nil {
			return raw, nil
		}

		if cerr := ctx.Err(); cerr != nil {
			return nil, backoff.Permanent(&Error{Kind: KindCanceled, Err: cerr})
		}
		if KindOf(err) == "" {
			err = &Error{Kind: KindClassifierUnavailable, Err: err}
		}
		if KindOf(err) != KindClassifierUnavailable {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	raw, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(p.opts.NewBackOff()),
		backoff.WithMaxTries(uint(p.opts.MaxRetries+1)), //nolint:gosec // MaxRetries is clamped non-negative
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			if p.hooks.OnRetry != nil {
				p.hooks.OnRetry()
			}
			p.logger.Warn(ctx, "classifier unavailable, retrying",
				"error", err,
				"attempt", attempts,
				"backoff", next.String(),
			)
		}),
	)
	if err != nil {
		// Retry returns the bare context error when cancelled while waiting
		if KindOf(err) == "" && ctx.Err() != nil {
			err = &Error{Kind: KindCanceled, Err: err}
		}
		return nil, attempts, err
	}
	return raw, attempts, nil
}

// normalize maps the raw verdict onto the taxonomy. Unknown labels fail the
// request; confidence is clamped and a missing summary becomes "".
func (p *Pipeline) normalize(ctx context.Context, transcript string, raw *RawClassification) (Record, error) {
	if raw == nil {
		return Record{}, &Error{Kind: KindMalformedResponse, Err: errNoVerdict}
	}

	priority, err := ParsePriority(raw.Priority)
	if err != nil {
		return Record{}, &Error{Kind: KindUnknownLabel, Err: err}
	}
	department, err := ParseDepartment(raw.Department)
	if err != nil {
		return Record{}, &Error{Kind: KindUnknownLabel, Err: err}
	}

	confidence, ok := NormalizeConfidence(raw.Confidence)
	if !ok {
		p.logger.Warn(ctx, "classifier confidence is not numeric, using default",
			"confidence_raw", raw.Confidence,
			"present", raw.HasConfidence,
			"default", DefaultConfidence,
		)
	}

	summary := strings.TrimSpace(raw.Summary)
	if !raw.HasSummary {
		p.logger.Warn(ctx, "classifier returned no summary")
	}

	return Record{
		ID:         ulid.Make().String(),
		Timestamp:  p.opts.Now(),
		Transcript: transcript,
		Priority:   priority,
		Department: department,
		Summary:    summary,
		Confidence: confidence,
	}, nil
}

func (p *Pipeline) persist(ctx context.Context, rec Record) (Record, error) {
	if p.store == nil {
		return rec, errors.New("no call log store configured")
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.PersistTimeout)
	defer cancel()

	t0 := time.Now()
	stored, err := p.store.Append(ctx, rec)
	if p.hooks.OnPersist != nil {
		p.hooks.OnPersist(time.Since(t0).Seconds(), err)
	}
	return stored, err
}

// fail tags err with the transcript, records it on the span and in the logs,
// and reports the outcome.
func (p *Pipeline) fail(ctx context.Context, span trace.Span, start time.Time, attempts int, transcript string, err error) error {
	var te *Error
	if !errors.As(err, &te) {
		te = &Error{Kind: KindClassifierUnavailable, Err: err}
	}
	out := &Error{Kind: te.Kind, Transcript: transcript, Err: te.Err}

	span.RecordError(out)
	span.SetStatus(codes.Error, out.Error())
	span.SetAttributes(attribute.String("beacon.triage.failure", string(out.Kind)))

	p.logger.Error(ctx, out, "triage failed",
		"kind", out.Kind,
		"attempts", attempts,
		"call_text", transcript,
	)
	p.complete(ctx, start, attempts, out.Kind, Record{})
	return out
}

func (p *Pipeline) complete(_ context.Context, start time.Time, attempts int, kind Kind, rec Record) {
	if p.hooks.OnComplete == nil {
		return
	}
	p.hooks.OnComplete(&CompleteEvent{
		Kind:       kind,
		Priority:   rec.Priority,
		Department: rec.Department,
		Confidence: rec.Confidence,
		Attempts:   attempts,
		Duration:   time.Since(start).Seconds(),
	})
}
