package callapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/beacon/internal/triage"
)

type triageRequest struct {
	Transcript string `json:"transcript"`
}

type triageResponse struct {
	triage.Record
	Persisted bool `json:"persisted"`
}

type errorResponse struct {
	Error string      `json:"error"`
	Kind  triage.Kind `json:"kind,omitempty"`
}

// statusForKind maps a triage failure onto an HTTP status.
func statusForKind(k triage.Kind) int {
	switch k {
	case triage.KindEmptyInput:
		return http.StatusBadRequest
	case triage.KindMalformedResponse, triage.KindUnknownLabel:
		return http.StatusBadGateway
	case triage.KindClassifierUnavailable:
		return http.StatusServiceUnavailable
	case triage.KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) handleTriage(w http.ResponseWriter, r *http.Request) {
	// JSON escaping can grow the body past the transcript limit
	r.Body = http.MaxBytesReader(w, r.Body, int64(a.maxTranscript)*6+envelopeBytes)

	var req triageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "transcript too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid payload"})
		return
	}
	if len(req.Transcript) > a.maxTranscript {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "transcript too large"})
		return
	}

	rec, err := a.svc.Triage(r.Context(), req.Transcript)
	kind := triage.KindOf(err)

	span := trace.SpanFromContext(r.Context())
	if err != nil && !triage.Degraded(err) {
		span.SetAttributes(attribute.String("beacon.triage.failure", string(kind)))
		writeJSON(w, statusForKind(kind), errorResponse{Error: failureMessage(kind), Kind: kind})
		return
	}

	span.SetAttributes(attribute.String("beacon.triage.id", rec.ID))
	writeJSON(w, http.StatusOK, triageResponse{Record: rec, Persisted: err == nil})
}

// failureMessage is the client-facing text; details stay in the logs.
func failureMessage(k triage.Kind) string {
	switch k {
	case triage.KindEmptyInput:
		return "transcript is empty"
	case triage.KindClassifierUnavailable:
		return "classifier unavailable"
	case triage.KindMalformedResponse:
		return "classifier returned an unusable response"
	case triage.KindUnknownLabel:
		return "classifier returned a label outside the taxonomy"
	case triage.KindCanceled:
		return "request canceled"
	default:
		return "internal error"
	}
}

func (a *API) handleListCalls(w http.ResponseWriter, r *http.Request) {
	records, err := a.calls.LoadAll(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to load call log")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.Int("beacon.call_log.records", len(records)))
	writeJSON(w, http.StatusOK, records)
}

// handleTestMessage pushes a fixed record to live observers. Nothing is persisted.
func (a *API) handleTestMessage(w http.ResponseWriter, r *http.Request) {
	rec := triage.Record{
		Timestamp:  time.Now().UTC(),
		Priority:   triage.PriorityGreen,
		Department: triage.DepartmentPolice,
		Summary:    "Test message",
		Confidence: 100,
	}
	a.stream.Publish(r.Context(), rec)
	a.logger.Info(r.Context(), "test message published")

	writeJSON(w, http.StatusAccepted, rec.Observation())
}
