package callapi

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"github.com/linnemanlabs/beacon/internal/triage"
)

const (
	promptEmergency  = "Nine-one-one, what is your emergency?"
	promptRetry      = "I'm sorry, I didn't catch that. Please try again."
	fallbackOperator = "Unable to classify, routing you to a human operator."

	voiceAnswerPath = "/voice/answer"
	voiceSpeechPath = "/voice/speech"
)

// TwiML verbs used by the voice webhook.
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlGather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr"`
	SpeechTimeout string   `xml:"speechTimeout,attr"`
	Say           twimlSay
}

type twimlRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr"`
	URL     string   `xml:",chardata"`
}

func gatherSpeech(prompt string) []any {
	return []any{
		twimlGather{
			Input:         "speech",
			Action:        voiceSpeechPath,
			Method:        http.MethodPost,
			SpeechTimeout: "auto",
			Say:           twimlSay{Text: prompt},
		},
		// no speech at all: ask again
		twimlRedirect{Method: http.MethodPost, URL: voiceAnswerPath},
	}
}

func writeTwiML(w http.ResponseWriter, verbs ...any) {
	body, err := xml.Marshal(twimlResponse{Verbs: verbs})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}

func (a *API) handleVoiceAnswer(w http.ResponseWriter, r *http.Request) {
	a.logger.Info(r.Context(), "incoming call", "call_sid", r.PostFormValue("CallSid"))
	writeTwiML(w, gatherSpeech(promptEmergency)...)
}

func (a *API) handleVoiceSpeech(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	speech := r.PostFormValue("SpeechResult")
	callSid := r.PostFormValue("CallSid")

	if strings.TrimSpace(speech) == "" {
		a.logger.Warn(ctx, "no speech detected", "call_sid", callSid)
		writeTwiML(w, gatherSpeech(promptRetry)...)
		return
	}
	if len(speech) > a.maxTranscript {
		speech = strings.ToValidUTF8(speech[:a.maxTranscript], "")
	}

	rec, err := a.svc.Triage(ctx, speech)
	if err != nil && !triage.Degraded(err) {
		// the pipeline has already logged the failure with its kind
		a.logger.Warn(ctx, "routing caller to operator", "call_sid", callSid, "kind", triage.KindOf(err))
		writeTwiML(w, twimlSay{Text: fallbackOperator})
		return
	}

	writeTwiML(w, twimlSay{Text: spokenVerdict(rec)})
}

// spokenVerdict is what the caller hears once the call is classified.
func spokenVerdict(rec triage.Record) string {
	var lead string
	switch rec.Priority {
	case triage.PriorityRed:
		lead = "This is an emergency CODE RED."
	case triage.PriorityOrange:
		lead = "This is an urgent CODE ORANGE call."
	default:
		lead = "This call is CODE GREEN."
	}
	return fmt.Sprintf("%s Connecting you to %s. Please stay on the line.", lead, departmentName(rec.Department))
}

func departmentName(d triage.Department) string {
	switch d {
	case triage.DepartmentEMS:
		return "emergency medical services"
	case triage.DepartmentFire:
		return "the fire department"
	case triage.DepartmentPolice:
		return "the police department"
	default:
		return "an operator"
	}
}
