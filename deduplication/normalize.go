package deduplication

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText canonicalizes text before hashing: Unicode NFC, LF line endings,
// no leading or trailing whitespace. Interior whitespace is preserved.
func NormalizeText(text string) string {
	text = norm.NFC.String(text)
	if strings.Contains(text, "\r") {
		text = strings.ReplaceAll(text, "\r\n", "\n")
		text = strings.ReplaceAll(text, "\r", "\n")
	}
	return strings.TrimSpace(text)
}

// IsBlank reports whether text carries no content once normalized
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}
