// Package structuring turns raw extracted document text into validated,
// schema-exact field sets via the language-understanding service.
package structuring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/veridoc-ai/veridoc/internal/llm"
	"github.com/veridoc-ai/veridoc/internal/observability"
	"github.com/veridoc-ai/veridoc/internal/storage"
)

// MalformedError reports model output that failed schema validation.
// It is terminal for the submission: resending the same text is not
// expected to produce compliant output.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed structuring output: %s", e.Reason)
}

// IsRetryable reports whether a structuring failure is worth another
// attempt. Transient service failures are; malformed output is not.
func IsRetryable(err error) bool {
	var malformed *MalformedError
	if errors.As(err, &malformed) {
		return false
	}
	return errors.Is(err, llm.ErrTransient)
}

// Completer is the subset of the llm client the extractor needs.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Result is a validated field extraction ready for persistence.
type Result struct {
	Class             storage.SchemaClass
	Fields            map[string]storage.FieldValue
	StatedPercentage  *float64
	DerivedPercentage *float64
}

// Extractor prompts the model for structured fields and validates the
// response against the class schema.
type Extractor struct {
	client      Completer
	gradeWeight float64
	logger      *observability.Logger
}

// NewExtractor creates an extractor. gradeWeight converts CGPA on a
// 10-point scale to an equivalent percentage.
func NewExtractor(client Completer, gradeWeight float64, logger *observability.Logger) *Extractor {
	if gradeWeight <= 0 {
		gradeWeight = 9.5
	}
	if logger == nil {
		logger = observability.Nop()
	}
	return &Extractor{client: client, gradeWeight: gradeWeight, logger: logger}
}

// rawField mirrors the per-field object the model must emit.
type rawField struct {
	Value      *string  `json:"value"`
	Confidence *float64 `json:"confidence"`
}

// Structure extracts the field set for the given schema class from
// document text. Errors from the model service are retryable; output
// that violates the schema is a *MalformedError.
func (e *Extractor) Structure(ctx context.Context, class storage.SchemaClass, text string) (*Result, error) {
	schema, keys, err := SchemaFor(class)
	if err != nil {
		return nil, err
	}

	response, err := e.client.Complete(ctx, systemPrompt(class, keys), userPrompt(text))
	if err != nil {
		return nil, fmt.Errorf("structuring request: %w", err)
	}

	payload := llm.UnwrapJSON(response)

	var generic interface{}
	if err := json.Unmarshal([]byte(payload), &generic); err != nil {
		return nil, &MalformedError{Reason: fmt.Sprintf("response is not valid JSON: %v", err)}
	}
	if err := schema.Validate(generic); err != nil {
		return nil, &MalformedError{Reason: err.Error()}
	}

	var raw map[string]rawField
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, &MalformedError{Reason: fmt.Sprintf("response shape: %v", err)}
	}

	result := &Result{
		Class:  class,
		Fields: make(map[string]storage.FieldValue, len(keys)),
	}
	for _, key := range keys {
		field := raw[key]
		confidence := 0.0
		if field.Confidence != nil {
			confidence = *field.Confidence
		}
		value := field.Value
		if value != nil && strings.TrimSpace(*value) == "" {
			value = nil
		}
		if value != nil && key == "date_of_birth" {
			if normalized, ok := NormalizeDate(*value); ok {
				value = &normalized
			} else {
				e.logger.Warn().Str("field", key).Str("raw", *value).
					Msg("unparseable date dropped")
				value = nil
			}
		}
		result.Fields[key] = storage.FieldValue{Value: value, Confidence: confidence}
	}

	if class == storage.SchemaClassEducation {
		e.attachPercentages(result)
	}
	return result, nil
}

// attachPercentages fills the stated and derived percentage columns. The
// stated figure comes from the stated_percentage field, or from marks_value
// when the marks themselves are a percentage; CGPA and fraction marks derive
// a percentage independently, so both figures can coexist on one document.
// Unparseable values leave the column nil; the fields map still carries the
// raw values.
func (e *Extractor) attachPercentages(result *Result) {
	if stated := result.Fields["stated_percentage"].Value; stated != nil {
		if marks, ok := ParseMarks(string(MarksPercentage), *stated, e.gradeWeight); ok {
			result.StatedPercentage = marks.Stated
		} else {
			e.logger.Warn().Str("value", *stated).Msg("unparseable stated percentage")
		}
	}

	representation := result.Fields["marks_representation"].Value
	value := result.Fields["marks_value"].Value
	if representation == nil || value == nil {
		return
	}
	marks, ok := ParseMarks(*representation, *value, e.gradeWeight)
	if !ok {
		e.logger.Warn().Str("representation", *representation).Str("value", *value).
			Msg("unparseable marks value")
		return
	}
	switch marks.Representation {
	case MarksPercentage:
		if result.StatedPercentage == nil {
			result.StatedPercentage = marks.Stated
		}
	default:
		result.DerivedPercentage = marks.Derived
	}
}

func systemPrompt(class storage.SchemaClass, keys []string) string {
	var b strings.Builder
	b.WriteString("You extract structured fields from ")
	if class == storage.SchemaClassIdentity {
		b.WriteString("identity documents")
	} else {
		b.WriteString("education documents (marksheets, certificates)")
	}
	b.WriteString(".\n\nRespond with a single JSON object containing EXACTLY these keys:\n")
	for _, key := range keys {
		fmt.Fprintf(&b, "  - %s\n", key)
	}
	b.WriteString(`
Each key maps to an object {"value": <string or null>, "confidence": <0..1>}.
Use null for fields the document does not state; never invent values.
Dates must be formatted as they appear in the document.
For marks_representation use one of "percentage", "cgpa", "fraction".
For stated_percentage give the overall percentage printed on the document,
even when the marks are stated as CGPA or a fraction; null if absent.
Output ONLY the JSON object, no commentary.`)
	return b.String()
}

func userPrompt(text string) string {
	return "Document text:\n\n" + text
}
