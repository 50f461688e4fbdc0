package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"golang.org/x/sync/errgroup"
)

// ocrConcurrency bounds parallel Tesseract clients; each holds a full
// engine instance.
const ocrConcurrency = 4

// TesseractOCR is the primary OCR strategy, backed by a local Tesseract
// install through gosseract.
type TesseractOCR struct {
	Languages []string
	Min       int

	clientFactory func() *gosseract.Client
}

// NewTesseractOCR creates the primary OCR strategy.
func NewTesseractOCR(languages []string, minChars int) *TesseractOCR {
	return &TesseractOCR{
		Languages:     languages,
		Min:           minChars,
		clientFactory: gosseract.NewClient,
	}
}

// Name identifies the strategy in diagnostics and results.
func (s *TesseractOCR) Name() string { return "tesseract_ocr" }

// Applicable is true whenever rasterized pages are available.
func (s *TesseractOCR) Applicable(in *Input) bool { return len(in.Pages) > 0 }

// MinChars is the generic acceptance minimum.
func (s *TesseractOCR) MinChars() int { return s.Min }

// Attempt recognizes pages concurrently and concatenates the results in
// page order.
func (s *TesseractOCR) Attempt(ctx context.Context, in *Input) (string, error) {
	texts := make([]string, len(in.Pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ocrConcurrency)
	for i, page := range in.Pages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text, err := s.recognize(page)
			if err != nil {
				return fmt.Errorf("ocr page %d: %w", i+1, err)
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Join(texts, "\n")), nil
}

func (s *TesseractOCR) recognize(page []byte) (string, error) {
	c := s.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(page); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	if len(s.Languages) > 0 {
		if err := c.SetLanguage(s.Languages...); err != nil {
			return "", fmt.Errorf("set languages: %w", err)
		}
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}
