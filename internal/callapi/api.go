// Package callapi exposes the triage pipeline over HTTP: a JSON API for
// dashboards and integrations, live call streams, and the voice webhook that
// a telephony provider drives during a call.
package callapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/beacon/internal/triage"
)

const (
	// MaxRequestBytes caps every request body the server accepts.
	MaxRequestBytes = 64 << 10

	// envelopeBytes covers the JSON around the transcript.
	envelopeBytes = 1 << 10

	// MaxTranscriptLimit is the longest transcript whose worst-case escaped
	// JSON body (six bytes per byte, as in \u0001) fits in MaxRequestBytes.
	MaxTranscriptLimit = (MaxRequestBytes - envelopeBytes) / 6

	// DefaultMaxTranscriptBytes bounds a submitted transcript.
	DefaultMaxTranscriptBytes = 8 << 10
)

// TriageService runs one transcript through the pipeline.
type TriageService interface {
	Triage(ctx context.Context, transcript string) (triage.Record, error)
}

// CallLog reads the call history.
type CallLog interface {
	LoadAll(ctx context.Context) ([]triage.Record, error)
}

// Stream is the live observer endpoint set.
type Stream interface {
	triage.Notifier
	ServeSSE(w http.ResponseWriter, r *http.Request)
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger        log.Logger
	svc           TriageService
	calls         CallLog
	stream        Stream
	maxTranscript int
}

// Option configures an API.
type Option func(*API)

// WithMaxTranscriptBytes rejects longer transcripts with 413. Values above
// MaxTranscriptLimit are lowered to it.
func WithMaxTranscriptBytes(n int) Option {
	return func(a *API) {
		if n > 0 {
			a.maxTranscript = min(n, MaxTranscriptLimit)
		}
	}
}

// New creates a new API handler. A nil stream disables the live routes.
func New(logger log.Logger, svc TriageService, calls CallLog, stream Stream, opts ...Option) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	if calls == nil {
		panic(xerrors.New("call log is required"))
	}
	a := &API{
		logger:        logger,
		svc:           svc,
		calls:         calls,
		stream:        stream,
		maxTranscript: DefaultMaxTranscriptBytes,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// RegisterRoutes attaches API and voice endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/triage", a.handleTriage)
		r.Get("/calls", a.handleListCalls)
		if a.stream != nil {
			r.Get("/calls/stream", a.stream.ServeSSE)
			r.Get("/calls/ws", a.stream.ServeWS)
			r.Post("/calls/test", a.handleTestMessage)
		}
	})
	r.Route("/voice", func(r chi.Router) {
		r.Post("/answer", a.handleVoiceAnswer)
		r.Post("/speech", a.handleVoiceSpeech)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}
