// Package extraction converts a submitted document into raw text via a
// cascade of interchangeable strategies.
package extraction

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/veridoc-ai/veridoc/internal/storage"
)

// Input is one document to extract text from. Pages is populated by the
// engine once rasterization has run; strategies must not rasterize themselves.
type Input struct {
	Data    []byte
	Format  storage.DocumentFormat
	Capture storage.CaptureMethod

	// Pages holds PNG-encoded page images, set by the engine before OCR
	// strategies run.
	Pages [][]byte
}

// Strategy is one way of turning a document into text. Attempt returns the
// candidate text; the engine decides acceptance against MinChars.
type Strategy interface {
	Name() string
	// Applicable reports whether the strategy can run against this input.
	Applicable(in *Input) bool
	// MinChars is the minimum trimmed length for the result to be accepted.
	MinChars() int
	Attempt(ctx context.Context, in *Input) (string, error)
}

// Result is the accepted output of the cascade.
type Result struct {
	Text      string
	Strategy  string
	CharCount int
}

// AttemptDiagnostic records one strategy's failed attempt.
type AttemptDiagnostic struct {
	Strategy string `json:"strategy"`
	Chars    int    `json:"chars"`
	Err      string `json:"error,omitempty"`
}

// FailureError reports that every applicable strategy was exhausted.
type FailureError struct {
	Attempts []AttemptDiagnostic
}

func (e *FailureError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", a.Strategy, a.Err))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %d chars below threshold", a.Strategy, a.Chars))
		}
	}
	return "all extraction strategies exhausted: " + strings.Join(parts, "; ")
}

// DecodeCameraCapture converts a base64 camera capture (with or without a
// data-URI prefix) into raw image bytes.
func DecodeCameraCapture(data []byte) ([]byte, error) {
	s := string(data)
	if idx := strings.Index(s, ","); idx >= 0 && strings.HasPrefix(s, "data:image") {
		s = s[idx+1:]
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode camera capture: %w", err)
	}
	return decoded, nil
}
