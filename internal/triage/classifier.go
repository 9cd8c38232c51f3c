package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ResponseTokens bounds the classifier's answer; a verdict is a few dozen tokens.
const ResponseTokens = 512

const instrumentationName = "github.com/linnemanlabs/beacon/internal/triage"

// tracer resolves the global provider on every call.
func tracer() trace.Tracer { return otel.Tracer(instrumentationName) }

// Classifier turns a transcript into a raw, not yet validated classification.
type Classifier interface {
	Classify(ctx context.Context, transcript string) (*RawClassification, error)
}

// RawClassification is the classifier's guess before taxonomy validation.
// Priority and Department are always present; Summary and Confidence may be
// missing, which the Has* flags record.
type RawClassification struct {
	Priority      string
	Department    string
	Summary       string
	Confidence    string
	HasSummary    bool
	HasConfidence bool

	Model        string
	InputTokens  int
	OutputTokens int
}

// Adapter is the Classifier backed by an LLM Provider. It owns the rubric and
// the response parsing; it never retries.
type Adapter struct {
	provider Provider
	rubric   string
}

// NewAdapter creates an Adapter. An empty rubric selects DefaultRubric.
func NewAdapter(provider Provider, rubric string) *Adapter {
	if strings.TrimSpace(rubric) == "" {
		rubric = DefaultRubric
	}
	return &Adapter{provider: provider, rubric: rubric}
}

// Rubric returns the system instruction the adapter sends.
func (a *Adapter) Rubric() string { return a.rubric }

// Classify sends transcript to the provider and parses the verdict fields.
// Provider failures are KindClassifierUnavailable; unparseable answers are
// KindMalformedResponse. Label validity is not checked here.
func (a *Adapter) Classify(ctx context.Context, transcript string) (*RawClassification, error) {
	ctx, span := tracer().Start(ctx, "classifier.call", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "classifier.call"),
		attribute.Int("beacon.transcript.bytes", len(transcript)),
	))
	defer span.End()

	resp, err := a.provider.Send(ctx, &LLMRequest{
		MaxTokens: ResponseTokens,
		System:    a.rubric,
		Messages: []Message{
			{Role: "user", Content: []ContentBlock{{Type: "text", Text: transcript}}},
		},
		Tools:      []ToolDef{ClassificationTool},
		ToolChoice: ClassificationToolName,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &Error{Kind: KindClassifierUnavailable, Transcript: transcript, Err: err}
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
		attribute.String("gen_ai.response.finish_reason", string(resp.StopReason)),
	)

	raw, err := ParseResponse(resp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &Error{Kind: KindMalformedResponse, Transcript: transcript, Err: err}
	}
	return raw, nil
}

var (
	errNoVerdict      = errors.New("response carries no verdict")
	errMissingField   = errors.New("required field missing")
	errNotJSONObject  = errors.New("verdict is not a JSON object")
	errFieldNotString = errors.New("field is not a string")
)

// ParseResponse extracts the verdict from a provider response. A call to
// ClassificationToolName wins; otherwise the text blocks must hold a JSON
// object, optionally inside a code fence.
func ParseResponse(resp *LLMResponse) (*RawClassification, error) {
	if resp == nil {
		return nil, errNoVerdict
	}

	var payload []byte
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "tool_use":
			if block.Name == ClassificationToolName && payload == nil {
				payload = block.Input
			}
		case "text":
			text.WriteString(block.Text)
		}
	}
	if payload == nil {
		obj, ok := extractJSONObject(text.String())
		if !ok {
			return nil, errNoVerdict
		}
		payload = obj
	}

	raw, err := decodeVerdict(payload)
	if err != nil {
		return nil, err
	}
	raw.Model = resp.Model
	raw.InputTokens = resp.Usage.InputTokens
	raw.OutputTokens = resp.Usage.OutputTokens
	return raw, nil
}

func decodeVerdict(payload []byte) (*RawClassification, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return nil, errNotJSONObject
	}

	// keys are matched case-insensitively
	norm := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		norm[strings.ToLower(strings.TrimSpace(k))] = v
	}

	raw := &RawClassification{}
	var err error

	if raw.Priority, err = requiredString(norm, "priority"); err != nil {
		return nil, err
	}
	if raw.Department, err = requiredString(norm, "department"); err != nil {
		return nil, err
	}

	if v, ok := present(norm, "summary"); ok {
		raw.Summary, raw.HasSummary = scalarText(v)
	}
	if v, ok := present(norm, "confidence"); ok {
		raw.Confidence, raw.HasConfidence = scalarText(v)
	}
	return raw, nil
}

func present(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	v, ok := fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, false
	}
	return v, true
}

func requiredString(fields map[string]json.RawMessage, key string) (string, error) {
	v, ok := present(fields, key)
	if !ok {
		return "", &fieldError{field: key, err: errMissingField}
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", &fieldError{field: key, err: errFieldNotString}
	}
	return s, nil
}

// scalarText renders a JSON string or number as text. Other JSON types are
// kept as their literal encoding so confidence parsing rejects them.
func scalarText(v json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String(), true
	}
	return string(bytes.TrimSpace(v)), true
}

type fieldError struct {
	field string
	err   error
}

func (e *fieldError) Error() string { return e.field + ": " + e.err.Error() }
func (e *fieldError) Unwrap() error { return e.err }

// extractJSONObject returns the outermost {...} span of s.
func extractJSONObject(s string) ([]byte, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	return []byte(s[start : end+1]), true
}
