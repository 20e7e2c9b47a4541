package extractor

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

const utf8BOM = "\uFEFF"

// extractText decodes UTF-8, falling back to Latin-1 which maps every byte
// and so cannot fail.
func extractText(data []byte) Result {
	if utf8.Valid(data) {
		return extracted(strings.TrimPrefix(string(data), utf8BOM))
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return extracted(strings.ToValidUTF8(string(data), "\uFFFD"))
	}
	return extracted(string(decoded))
}
