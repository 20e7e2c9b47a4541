package extractor

import (
	"context"
	"strings"

	"prepareup/internal/ocr"
)

func (e *Extractor) extractImage(ctx context.Context, in Input) Result {
	if in.OCR != nil {
		if text := strings.TrimSpace(in.OCR(ctx, in.Data)); text != "" {
			return Result{Status: StatusOCRExtracted, Text: text}
		}
		return Result{Status: StatusOCRFailed}
	}

	switch c := e.ocr.(type) {
	case ocr.Available:
		if text := strings.TrimSpace(c.Backend.Recognize(ctx, in.Data, normalizeMIME(in.MIME))); text != "" {
			return Result{Status: StatusOCRExtracted, Text: text}
		}
		return Result{Status: StatusNeedsOCR}
	default:
		return Result{Status: StatusNeedsOCR}
	}
}
