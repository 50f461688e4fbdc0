package extraction

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/gen2brain/go-fitz"

	"github.com/veridoc-ai/veridoc/internal/storage"
)

// Rasterizer turns a document into PNG-encoded page images for OCR.
type Rasterizer interface {
	Rasterize(ctx context.Context, in *Input) ([][]byte, error)
}

// FitzRasterizer renders PDF pages through MuPDF at a fixed density. Raster
// inputs are passed through as a single page.
type FitzRasterizer struct {
	MaxPages int
	DPI      int
}

// NewFitzRasterizer creates a rasterizer with the given page cap and density.
func NewFitzRasterizer(maxPages, dpi int) *FitzRasterizer {
	return &FitzRasterizer{MaxPages: maxPages, DPI: dpi}
}

// Rasterize renders up to MaxPages pages as PNG images.
func (r *FitzRasterizer) Rasterize(ctx context.Context, in *Input) ([][]byte, error) {
	if in.Format != storage.FormatPDF {
		// Already a raster image; one logical page.
		return [][]byte{in.Data}, nil
	}

	doc, err := fitz.NewFromMemory(in.Data)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}
	if r.MaxPages > 0 && pageCount > r.MaxPages {
		pageCount = r.MaxPages
	}

	pages := make([][]byte, 0, pageCount)
	for n := 0; n < pageCount; n++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		img, err := doc.ImageDPI(n, float64(r.DPI))
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", n+1, err)
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode page %d: %w", n+1, err)
		}
		pages = append(pages, buf.Bytes())
	}
	return pages, nil
}
