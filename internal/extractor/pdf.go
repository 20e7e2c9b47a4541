package extractor

import (
	"context"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// extractPDF joins the trimmed text of every non-empty page. A document with
// no text layer at all is a scan and needs OCR.
func extractPDF(ctx context.Context, data []byte) (Result, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return Result{}, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	var parts []string
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		text, err := doc.Text(i)
		if err != nil {
			return Result{}, fmt.Errorf("pdf page %d: %w", i+1, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}

	text := strings.TrimSpace(strings.Join(parts, "\n\n"))
	if text == "" {
		return Result{Status: StatusNeedsOCR}, nil
	}
	return Result{Status: StatusExtracted, Text: text}, nil
}
