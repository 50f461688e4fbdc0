package extraction

import (
	"context"
	"fmt"
	"strings"
)

// PageReader reads the text of one page image through an external service.
// Implemented by the nlu client's vision endpoint.
type PageReader interface {
	ReadPage(ctx context.Context, page []byte) (string, error)
}

// VisionOCR is the secondary OCR strategy: a vision model reads each
// rasterized page. Slower and metered, so it runs only after Tesseract
// falls short.
type VisionOCR struct {
	Reader PageReader
	Min    int
}

// NewVisionOCR creates the secondary OCR strategy.
func NewVisionOCR(reader PageReader, minChars int) *VisionOCR {
	return &VisionOCR{Reader: reader, Min: minChars}
}

// Name identifies the strategy in diagnostics and results.
func (s *VisionOCR) Name() string { return "vision_ocr" }

// Applicable is true whenever rasterized pages are available.
func (s *VisionOCR) Applicable(in *Input) bool { return len(in.Pages) > 0 }

// MinChars is the generic acceptance minimum.
func (s *VisionOCR) MinChars() int { return s.Min }

// Attempt sends every page through the reader and concatenates the results.
func (s *VisionOCR) Attempt(ctx context.Context, in *Input) (string, error) {
	var sb strings.Builder
	for i, page := range in.Pages {
		text, err := s.Reader.ReadPage(ctx, page)
		if err != nil {
			return "", fmt.Errorf("vision read page %d: %w", i+1, err)
		}
		sb.WriteString(strings.TrimSpace(text))
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String()), nil
}
