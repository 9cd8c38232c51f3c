package triage

import "encoding/json"

// ClassificationToolName is the tool the model is forced to call with its verdict.
const ClassificationToolName = "record_triage"

// DefaultRubric is the system instruction sent with every transcript.
const DefaultRubric = `You are an operator for an emergency call line. Decide, rapidly, how urgent the caller's words are and which department the call goes to.

Priority, one of:
RED - the words need rapid emergency services; the operator will read "This is an emergency CODE RED". For example the person is bleeding, or says things like "please help", "coming after me", "knife", "gun", anything that raises an immediate alarm.
ORANGE - there is a sense of urgency but it might not need an ambulance deployed immediately. Use it when the caller hesitates ("umm", "wait"), when you are unsure whether it is an immediate emergency, or when it could be something non-serious.
GREEN - the call does not sound immediately dangerous: a missing cat, a noise complaint about a neighbor, a suspicious person or car in the neighborhood.

Department, one of:
EMS - people's or living animals' physical health, such as bleeding out, injury, or coma.
FIREDEPT - fire hazards that need the fire department.
POLICEDEPT - violence, community safety, and everything else concerning policing.

Also give a summary of at most five words and your confidence in the priority as an integer from 0 to 100.

Example: {"priority": "GREEN", "summary": "cat tree lost", "department": "POLICEDEPT", "confidence": "60"}

Record your answer by calling the record_triage tool. If you cannot call tools, answer with only a JSON object with the fields priority, summary, department and confidence.`

// ClassificationTool is the tool definition carrying the verdict's field set.
var ClassificationTool = ToolDef{
	Name:        ClassificationToolName,
	Description: "Record the triage verdict for the emergency call transcript.",
	InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "priority": {"type": "string", "enum": ["RED", "ORANGE", "GREEN"], "description": "Urgency of the call"},
    "summary": {"type": "string", "description": "At most five words describing the event"},
    "department": {"type": "string", "enum": ["EMS", "FIREDEPT", "POLICEDEPT"], "description": "Department the call is dispatched to"},
    "confidence": {"type": ["integer", "string"], "description": "Confidence in the priority, 0 to 100"}
  },
  "required": ["priority", "summary", "department", "confidence"]
}`),
}
