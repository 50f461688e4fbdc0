package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/veridoc-ai/veridoc/internal/storage"
)

// NativeText extracts the embedded text layer of a PDF. A tiny native layer
// usually means the PDF is really a scan, so the acceptance threshold sits
// above the generic OCR minimum.
type NativeText struct {
	MaxPages  int
	Threshold int
}

// NewNativeText creates the native text-layer strategy.
func NewNativeText(maxPages, threshold int) *NativeText {
	return &NativeText{MaxPages: maxPages, Threshold: threshold}
}

// Name identifies the strategy in diagnostics and results.
func (s *NativeText) Name() string { return "pdf_text_layer" }

// Applicable restricts the strategy to direct PDF uploads.
func (s *NativeText) Applicable(in *Input) bool {
	return in.Format == storage.FormatPDF && in.Capture != storage.CaptureCamera
}

// MinChars is the native acceptance threshold.
func (s *NativeText) MinChars() int { return s.Threshold }

// Attempt reads the text layer of every page and concatenates it.
func (s *NativeText) Attempt(ctx context.Context, in *Input) (string, error) {
	doc, err := fitz.NewFromMemory(in.Data)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if s.MaxPages > 0 && pageCount > s.MaxPages {
		pageCount = s.MaxPages
	}

	var sb strings.Builder
	for n := 0; n < pageCount; n++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		text, err := doc.Text(n)
		if err != nil {
			return "", fmt.Errorf("read page %d text: %w", n+1, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String()), nil
}
