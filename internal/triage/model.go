package triage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Record is a completed triage verdict. It is created once by the Pipeline,
// appended once to the Store and published once to the Notifier.
type Record struct {
	ID         string     `json:"id,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	Transcript string     `json:"call_text"`
	Priority   Priority   `json:"priority"`
	Department Department `json:"department"`
	Summary    string     `json:"summary"`
	Confidence int        `json:"confidence"`
}

// Observation is what live observers receive for each triaged call.
type Observation struct {
	Priority   Priority   `json:"priority"`
	Department Department `json:"department"`
	Summary    string     `json:"summary"`
	Confidence int        `json:"confidence"`
}

// Observation returns the observer payload for r.
func (r Record) Observation() Observation {
	return Observation{
		Priority:   r.Priority,
		Department: r.Department,
		Summary:    r.Summary,
		Confidence: r.Confidence,
	}
}

// NotBefore returns a copy of r stamped no earlier than t. Stores use it to
// keep timestamps non-decreasing across the log.
func (r Record) NotBefore(t time.Time) Record {
	if r.Timestamp.Before(t) {
		r.Timestamp = t
	}
	return r
}

// legacyTimestamp is the offset-less ISO form older call logs were written in.
const legacyTimestamp = "2006-01-02T15:04:05.999999999"

// UnmarshalJSON accepts the current record shape and the one older call logs
// use: timestamps without a UTC offset, read as local time, and confidence as
// a string.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var aux struct {
		plain
		Timestamp  string          `json:"timestamp"`
		Confidence json.RawMessage `json:"confidence"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	rec := Record(aux.plain)

	if ts := strings.TrimSpace(aux.Timestamp); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			t, err = time.ParseInLocation(legacyTimestamp, ts, time.Local)
		}
		if err != nil {
			return fmt.Errorf("record timestamp %q: %w", ts, err)
		}
		rec.Timestamp = t
	}

	rec.Confidence, _ = NormalizeConfidence(confidenceText(aux.Confidence))

	*r = rec
	return nil
}

func confidenceText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
