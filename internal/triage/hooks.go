package triage

// Hooks receives pipeline events for instrumentation. Nil fields are skipped.
type Hooks struct {
	// OnClassify fires after every classifier attempt; kind is "" on success.
	OnClassify func(duration float64, kind Kind, err error)

	// OnRetry fires before the pipeline waits to retry an unavailable classifier.
	OnRetry func()

	// OnPersist fires after every call log append.
	OnPersist func(duration float64, err error)

	// OnComplete fires once per Triage call.
	OnComplete func(*CompleteEvent)
}

// CompleteEvent summarizes one Triage call. Kind is "" on full success and
// KindPersistence when the record was produced but not stored.
type CompleteEvent struct {
	Kind       Kind
	Priority   Priority
	Department Department
	Confidence int
	Attempts   int
	Duration   float64
}

// Outcome is the metrics label for the event: "success" or the failure kind.
func (e *CompleteEvent) Outcome() string {
	if e.Kind == "" {
		return "success"
	}
	return string(e.Kind)
}

// Produced reports whether the call yielded a record.
func (e *CompleteEvent) Produced() bool {
	return e.Kind == "" || e.Kind == KindPersistence
}
