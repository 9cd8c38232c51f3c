package triage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
)

const claudeTestModel = "claude-sonnet-4-20250514"

// mockProvider returns preconfigured responses in sequence and records requests.
type mockProvider struct {
	mu        sync.Mutex
	responses []*LLMResponse
	errs      []error
	requests  []*LLMRequest
}

func (m *mockProvider) Send(_ context.Context, req *LLMRequest) (*LLMResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := len(m.requests)
	m.requests = append(m.requests, req)

	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	if idx < len(m.responses) {
		return m.responses[idx], nil
	}
	return &LLMResponse{StopReason: StopEnd, Model: claudeTestModel}, nil
}

func toolVerdict(input string) *LLMResponse {
	return &LLMResponse{
		Content: []ContentBlock{
			{Type: "tool_use", ID: "toolu_01", Name: ClassificationToolName, Input: json.RawMessage(input)},
		},
		StopReason: StopToolUse,
		Usage:      Usage{InputTokens: 120, OutputTokens: 30},
		Model:      claudeTestModel,
	}
}

func textVerdict(text string) *LLMResponse {
	return &LLMResponse{
		Content:    []ContentBlock{{Type: "text", Text: text}},
		StopReason: StopEnd,
		Usage:      Usage{InputTokens: 120, OutputTokens: 30},
		Model:      claudeTestModel,
	}
}

func TestAdapter_Request(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{responses: []*LLMResponse{toolVerdict(`{"priority":"GREEN","department":"POLICEDEPT","summary":"cat tree lost","confidence":"60"}`)}}
	a := NewAdapter(provider, "")

	if _, err := a.Classify(context.Background(), "my cat is stuck in a tree"); err != nil {
		t.Fatalf("Classify: %v", err)
	}

	if len(provider.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(provider.requests))
	}
	req := provider.requests[0]
	if req.System != DefaultRubric {
		t.Error("expected default rubric as system instruction")
	}
	if req.ToolChoice != ClassificationToolName {
		t.Errorf("tool choice = %q, want %q", req.ToolChoice, ClassificationToolName)
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != ClassificationToolName {
		t.Errorf("tools = %+v, want only %s", req.Tools, ClassificationToolName)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Fatalf("messages = %+v, want one user message", req.Messages)
	}
	if got := req.Messages[0].Content[0].Text; got != "my cat is stuck in a tree" {
		t.Errorf("user text = %q", got)
	}
	if req.MaxTokens != ResponseTokens {
		t.Errorf("max tokens = %d, want %d", req.MaxTokens, ResponseTokens)
	}
}

func TestAdapter_CustomRubric(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{responses: []*LLMResponse{toolVerdict(`{"priority":"RED","department":"EMS"}`)}}
	a := NewAdapter(provider, "custom rubric")
	if a.Rubric() != "custom rubric" {
		t.Errorf("Rubric() = %q", a.Rubric())
	}
	if _, err := a.Classify(context.Background(), "help"); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if provider.requests[0].System != "custom rubric" {
		t.Errorf("system = %q, want custom rubric", provider.requests[0].System)
	}
}

func TestAdapter_ProviderError(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{errs: []error{errors.New("status 529: overloaded")}}
	a := NewAdapter(provider, "")

	_, err := a.Classify(context.Background(), "help")
	if !IsKind(err, KindClassifierUnavailable) {
		t.Fatalf("err = %v, want %s", err, KindClassifierUnavailable)
	}
	if !strings.Contains(err.Error(), "overloaded") {
		t.Errorf("expected provider cause in error, got %v", err)
	}
}

func TestAdapter_MalformedResponse(t *testing.T) {
	t.Parallel()

	a := NewAdapter(&mockProvider{responses: []*LLMResponse{textVerdict("I am not sure what to do here.")}}, "")

	_, err := a.Classify(context.Background(), "help")
	if !IsKind(err, KindMalformedResponse) {
		t.Fatalf("err = %v, want %s", err, KindMalformedResponse)
	}
	var te *Error
	if !errors.As(err, &te) || te.Transcript != "help" {
		t.Errorf("expected transcript on error, got %+v", te)
	}
}

func TestParseResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		resp    *LLMResponse
		want    RawClassification
		wantErr error
	}{
		{
			name: "tool call with numeric confidence",
			resp: toolVerdict(`{"priority":"RED","department":"EMS","summary":"Person bleeding","confidence":95}`),
			want: RawClassification{Priority: "RED", Department: "EMS", Summary: "Person bleeding", Confidence: "95", HasSummary: true, HasConfidence: true},
		},
		{
			name: "text json with string confidence",
			resp: textVerdict(`{"priority": "GREEN", "summary": "cat tree lost", "department": "POLICEDEPT", "confidence": "60"}`),
			want: RawClassification{Priority: "GREEN", Department: "POLICEDEPT", Summary: "cat tree lost", Confidence: "60", HasSummary: true, HasConfidence: true},
		},
		{
			name: "fenced json with prose",
			resp: textVerdict("Here is my answer:\n```json\n{\"priority\": \"ORANGE\", \"department\": \"FIREDEPT\", \"summary\": \"smoke smell\", \"confidence\": 70}\n```"),
			want: RawClassification{Priority: "ORANGE", Department: "FIREDEPT", Summary: "smoke smell", Confidence: "70", HasSummary: true, HasConfidence: true},
		},
		{
			name: "keys in other case",
			resp: textVerdict(`{"Priority":"RED","DEPARTMENT":"EMS","Summary":"overdose","Confidence":"80"}`),
			want: RawClassification{Priority: "RED", Department: "EMS", Summary: "overdose", Confidence: "80", HasSummary: true, HasConfidence: true},
		},
		{
			name: "optional fields missing or null",
			resp: toolVerdict(`{"priority":"GREEN","department":"POLICEDEPT","summary":null}`),
			want: RawClassification{Priority: "GREEN", Department: "POLICEDEPT"},
		},
		{
			name: "non numeric confidence kept as text",
			resp: toolVerdict(`{"priority":"GREEN","department":"EMS","summary":"x","confidence":"high"}`),
			want: RawClassification{Priority: "GREEN", Department: "EMS", Summary: "x", Confidence: "high", HasSummary: true, HasConfidence: true},
		},
		{
			name: "tool call wins over text",
			resp: &LLMResponse{Content: []ContentBlock{
				{Type: "text", Text: `{"priority":"GREEN","department":"EMS"}`},
				{Type: "tool_use", Name: ClassificationToolName, Input: json.RawMessage(`{"priority":"RED","department":"FIREDEPT"}`)},
			}},
			want: RawClassification{Priority: "RED", Department: "FIREDEPT"},
		},
		{
			name:    "nil response",
			resp:    nil,
			wantErr: errNoVerdict,
		},
		{
			name:    "no json at all",
			resp:    textVerdict("CODE RED, send an ambulance"),
			wantErr: errNoVerdict,
		},
		{
			name:    "truncated json",
			resp:    textVerdict(`{"priority": "RED", "department": `),
			wantErr: errNoVerdict,
		},
		{
			name:    "broken json",
			resp:    textVerdict(`{"priority": RED, "department": EMS}`),
			wantErr: errNotJSONObject,
		},
		{
			name:    "json array",
			resp:    toolVerdict(`["RED","EMS"]`),
			wantErr: errNotJSONObject,
		},
		{
			name:    "missing department",
			resp:    toolVerdict(`{"priority":"RED","summary":"help"}`),
			wantErr: errMissingField,
		},
		{
			name:    "null priority",
			resp:    toolVerdict(`{"priority":null,"department":"EMS"}`),
			wantErr: errMissingField,
		},
		{
			name:    "numeric priority",
			resp:    toolVerdict(`{"priority":3,"department":"EMS"}`),
			wantErr: errFieldNotString,
		},
		{
			name:    "unrelated tool call only",
			resp:    &LLMResponse{Content: []ContentBlock{{Type: "tool_use", Name: "other_tool", Input: json.RawMessage(`{}`)}}},
			wantErr: errNoVerdict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseResponse(tt.resp)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseResponse: %v", err)
			}

			got.Model, got.InputTokens, got.OutputTokens = "", 0, 0
			if *got != tt.want {
				t.Errorf("got %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestParseResponse_CarriesUsage(t *testing.T) {
	t.Parallel()

	got, err := ParseResponse(toolVerdict(`{"priority":"RED","department":"EMS"}`))
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if got.Model != claudeTestModel || got.InputTokens != 120 || got.OutputTokens != 30 {
		t.Errorf("usage = %s/%d/%d", got.Model, got.InputTokens, got.OutputTokens)
	}
}

func TestClassificationToolSchema(t *testing.T) {
	t.Parallel()

	var schema struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal(ClassificationTool.InputSchema, &schema); err != nil {
		t.Fatalf("schema is not valid JSON: %v", err)
	}
	if schema.Type != "object" {
		t.Errorf("type = %q, want object", schema.Type)
	}
	for _, f := range []string{"priority", "department", "summary", "confidence"} {
		if _, ok := schema.Properties[f]; !ok {
			t.Errorf("schema missing property %q", f)
		}
	}

	for _, p := range Priorities() {
		if !strings.Contains(string(schema.Properties["priority"]), `"`+string(p)+`"`) {
			t.Errorf("priority enum missing %s", p)
		}
	}
	for _, d := range Departments() {
		if !strings.Contains(string(schema.Properties["department"]), `"`+string(d)+`"`) {
			t.Errorf("department enum missing %s", d)
		}
		if !strings.Contains(DefaultRubric, string(d)) {
			t.Errorf("rubric does not mention %s", d)
		}
	}
}
