package structuring

import (
	"regexp"
	"strconv"
	"strings"
)

// MarksRepresentation classifies how an education document states marks.
type MarksRepresentation string

const (
	MarksPercentage MarksRepresentation = "percentage"
	MarksCGPA       MarksRepresentation = "cgpa"
	MarksFraction   MarksRepresentation = "fraction"
)

var (
	percentPattern  = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*%?$`)
	cgpaPattern     = regexp.MustCompile(`(?i)^(?:cgpa\s*:?\s*)?(\d+(?:\.\d+)?)\s*(?:cgpa)?$`)
	fractionPattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*/\s*(\d+(?:\.\d+)?)$`)
)

// Marks holds the stated figure and, when derivable, an equivalent
// percentage. CGPA on a 10-point scale converts with a fixed weight;
// a fraction converts arithmetically; a stated percentage passes through.
type Marks struct {
	Representation MarksRepresentation
	Stated         *float64
	Derived        *float64
}

// ParseMarks interprets a marks value according to its stated
// representation. The weight (9.5 for the standard 10-point scale)
// multiplies CGPA to produce an equivalent percentage.
func ParseMarks(representation, value string, gradeWeight float64) (*Marks, bool) {
	rep := MarksRepresentation(strings.ToLower(strings.TrimSpace(representation)))
	val := strings.TrimSpace(value)
	if val == "" {
		return nil, false
	}

	switch rep {
	case MarksPercentage:
		m := percentPattern.FindStringSubmatch(val)
		if m == nil {
			return nil, false
		}
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil || pct < 0 || pct > 100 {
			return nil, false
		}
		return &Marks{Representation: rep, Stated: &pct}, true

	case MarksCGPA:
		m := cgpaPattern.FindStringSubmatch(val)
		if m == nil {
			return nil, false
		}
		cgpa, err := strconv.ParseFloat(m[1], 64)
		if err != nil || cgpa < 0 || cgpa > 10 {
			return nil, false
		}
		derived := cgpa * gradeWeight
		return &Marks{Representation: rep, Stated: &cgpa, Derived: &derived}, true

	case MarksFraction:
		m := fractionPattern.FindStringSubmatch(val)
		if m == nil {
			return nil, false
		}
		got, err1 := strconv.ParseFloat(m[1], 64)
		total, err2 := strconv.ParseFloat(m[2], 64)
		if err1 != nil || err2 != nil || total <= 0 || got < 0 || got > total {
			return nil, false
		}
		derived := got / total * 100
		return &Marks{Representation: rep, Stated: &got, Derived: &derived}, true

	default:
		return nil, false
	}
}
