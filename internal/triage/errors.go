package triage

import (
	"errors"
	"fmt"
)

// Kind tags why a triage request failed.
type Kind string

const (
	// KindEmptyInput means no transcript was supplied; no classifier call was made
	KindEmptyInput Kind = "empty_input"

	// KindClassifierUnavailable means the classifier call failed after all retries
	KindClassifierUnavailable Kind = "classifier_unavailable"

	// KindMalformedResponse means the classifier answered but not with the expected fields
	KindMalformedResponse Kind = "malformed_classifier_response"

	// KindUnknownLabel means the classifier returned a priority or department outside the taxonomy
	KindUnknownLabel Kind = "unknown_taxonomy_label"

	// KindPersistence means the call log append failed; the record is still returned
	KindPersistence Kind = "persistence_error"

	// KindCanceled means the caller went away before classification finished
	KindCanceled Kind = "canceled"
)

// Error is the failure returned by Pipeline.Triage and Adapter.Classify.
// Transcript carries the caller utterance for audit.
type Error struct {
	Kind       Kind
	Transcript string
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "triage: " + string(e.Kind)
	}
	return fmt.Sprintf("triage: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Degraded reports whether err still came with a usable record.
func Degraded(err error) bool {
	return IsKind(err, KindPersistence)
}
