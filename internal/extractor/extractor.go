// Package extractor turns uploaded document bytes into plain text and a
// status describing how extraction went. It never returns an error: parse
// failures are reported through Status.
package extractor

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"prepareup/internal/logger"
	"prepareup/internal/ocr"
)

// Status describes the outcome of extracting one file.
type Status string

const (
	StatusExtracted     Status = "extracted"
	StatusNeedsOCR      Status = "needs_ocr"
	StatusOCRExtracted  Status = "ocr_extracted"
	StatusOCRFailed     Status = "ocr_failed"
	StatusUnknownFormat Status = "unknown_format"
	StatusExtractFailed Status = "extract_failed"
	// StatusUploaded marks an empty file that was accepted without extraction.
	StatusUploaded Status = "uploaded"
)

// Result is the outcome for one file.
type Result struct {
	Status Status
	Text   string
}

// Input is one file to extract.
type Input struct {
	Filename string
	MIME     string
	Data     []byte
	// OCR, when set, is used for images instead of the configured backend.
	OCR ocr.Func
}

// DefaultMaxPartBytes caps how much of any single zip member is decompressed.
const DefaultMaxPartBytes = 64 << 20

// Extractor holds the startup OCR capability and parser limits.
type Extractor struct {
	ocr          ocr.Capability
	maxPartBytes int64
	log          *logger.Logger
}

type Option func(*Extractor)

// WithMaxPartBytes bounds decompression of DOCX/PPTX members.
func WithMaxPartBytes(n int64) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxPartBytes = n
		}
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(e *Extractor) {
		if log != nil {
			e.log = log
		}
	}
}

// New returns an Extractor. A nil capability is treated as ocr.Unavailable.
func New(capability ocr.Capability, opts ...Option) *Extractor {
	if capability == nil {
		capability = ocr.Unavailable{}
	}
	e := &Extractor{ocr: capability, maxPartBytes: DefaultMaxPartBytes, log: logger.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract classifies in and runs the matching extractor. Parser errors and
// panics are reported as StatusExtractFailed with empty text.
func (e *Extractor) Extract(ctx context.Context, in Input) (res Result) {
	format := Classify(in.Filename, in.MIME)
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("extractor panic", "file", in.Filename, "format", format.String(), "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			res = Result{Status: StatusExtractFailed}
		}
	}()

	var err error
	switch format {
	case FormatPDF:
		res, err = extractPDF(ctx, in.Data)
	case FormatDOCX:
		res, err = e.extractDOCX(ctx, in.Data)
	case FormatPPTX:
		res, err = e.extractPPTX(ctx, in.Data)
	case FormatText:
		res = extractText(in.Data)
	case FormatImage:
		res = e.extractImage(ctx, in)
	default:
		res = Result{Status: StatusUnknownFormat}
	}
	if err != nil {
		e.log.Warn("extraction failed", "file", in.Filename, "format", format.String(), "error", err)
		return Result{Status: StatusExtractFailed}
	}
	return res
}

func extracted(text string) Result {
	return Result{Status: StatusExtracted, Text: strings.TrimSpace(text)}
}
