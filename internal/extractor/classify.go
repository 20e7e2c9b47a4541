package extractor

import "strings"

// Format is the extractor selected for an upload.
type Format int

const (
	FormatUnknown Format = iota
	FormatPDF
	FormatDOCX
	FormatPPTX
	FormatText
	FormatImage
)

func (f Format) String() string {
	switch f {
	case FormatPDF:
		return "pdf"
	case FormatDOCX:
		return "docx"
	case FormatPPTX:
		return "pptx"
	case FormatText:
		return "text"
	case FormatImage:
		return "image"
	default:
		return "unknown"
	}
}

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimePPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
)

var textExts = []string{
	".txt", ".md", ".csv", ".json", ".log", ".py", ".js", ".ts", ".tsx", ".jsx",
	".html", ".css", ".sql", ".yaml", ".yml",
}

var imageExts = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".webp"}

// Classify picks the extractor for a file. The declared MIME type is checked
// before the extension at every step; the first matching format wins.
func Classify(filename, mime string) Format {
	name := strings.ToLower(strings.TrimSpace(filename))
	mime = normalizeMIME(mime)

	switch {
	case mime == mimePDF || strings.HasSuffix(name, ".pdf"):
		return FormatPDF
	case mime == mimeDOCX || strings.HasSuffix(name, ".docx"):
		return FormatDOCX
	case mime == mimePPTX || strings.HasSuffix(name, ".pptx"):
		return FormatPPTX
	case strings.HasPrefix(mime, "text/") || hasAnySuffix(name, textExts):
		return FormatText
	case strings.HasPrefix(mime, "image/") || hasAnySuffix(name, imageExts):
		return FormatImage
	default:
		return FormatUnknown
	}
}

// normalizeMIME lowercases and drops parameters such as "; charset=utf-8".
func normalizeMIME(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}
