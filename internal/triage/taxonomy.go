package triage

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Priority is the urgency assigned to a call.
type Priority string

const (
	// PriorityRed needs rapid emergency response
	PriorityRed Priority = "RED"

	// PriorityOrange is urgent but possibly not an immediate emergency
	PriorityOrange Priority = "ORANGE"

	// PriorityGreen needs no immediate response
	PriorityGreen Priority = "GREEN"
)

// Department is the service a call is dispatched to.
type Department string

const (
	DepartmentEMS    Department = "EMS"
	DepartmentFire   Department = "FIREDEPT"
	DepartmentPolice Department = "POLICEDEPT"
)

// DefaultConfidence is stored when the classifier reports a confidence that is not a number.
const DefaultConfidence = 0

// ErrInvalidLabel is matched by every *LabelError.
var ErrInvalidLabel = errors.New("invalid label")

// LabelError reports a classifier label outside the taxonomy.
type LabelError struct {
	Field string
	Label string
}

func (e *LabelError) Error() string {
	return fmt.Sprintf("%s: %q is not a known label", e.Field, e.Label)
}

// Is reports whether target is ErrInvalidLabel.
func (e *LabelError) Is(target error) bool {
	return target == ErrInvalidLabel
}

var priorities = []Priority{PriorityRed, PriorityOrange, PriorityGreen}

var departments = []Department{DepartmentEMS, DepartmentFire, DepartmentPolice}

// Priorities returns every priority, most urgent first.
func Priorities() []Priority {
	return append([]Priority(nil), priorities...)
}

// Departments returns every department.
func Departments() []Department {
	return append([]Department(nil), departments...)
}

// ParsePriority maps a label onto the taxonomy. Matching ignores case and
// surrounding whitespace; anything else is rejected.
func ParsePriority(label string) (Priority, error) {
	norm := strings.ToUpper(strings.TrimSpace(label))
	for _, p := range priorities {
		if string(p) == norm {
			return p, nil
		}
	}
	return "", &LabelError{Field: "priority", Label: label}
}

// ParseDepartment maps a label onto the taxonomy. Matching ignores case and
// surrounding whitespace; anything else is rejected.
func ParseDepartment(label string) (Department, error) {
	norm := strings.ToUpper(strings.TrimSpace(label))
	for _, d := range departments {
		if string(d) == norm {
			return d, nil
		}
	}
	return "", &LabelError{Field: "department", Label: label}
}

// Rank orders priorities by urgency: RED 3, ORANGE 2, GREEN 1, anything else 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityRed:
		return 3
	case PriorityOrange:
		return 2
	case PriorityGreen:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether p is as urgent as min or more.
func (p Priority) AtLeast(minimum Priority) bool {
	return p.Rank() > 0 && p.Rank() >= minimum.Rank()
}

// Valid reports whether p is a member of the taxonomy.
func (p Priority) Valid() bool { return p.Rank() > 0 }

// Valid reports whether d is a member of the taxonomy.
func (d Department) Valid() bool {
	for _, known := range departments {
		if d == known {
			return true
		}
	}
	return false
}

// NormalizeConfidence turns a classifier confidence into an integer in [0,100].
// Numeric input (optionally suffixed with "%") is rounded and clamped.
// Non-numeric input yields DefaultConfidence and ok=false.
func NormalizeConfidence(raw string) (confidence int, ok bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	if s == "" {
		return DefaultConfidence, false
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return DefaultConfidence, false
	}

	f = math.Round(f)
	switch {
	case f < 0:
		return 0, true
	case f > 100:
		return 100, true
	default:
		return int(f), true
	}
}
