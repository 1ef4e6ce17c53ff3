package pii

import "regexp"

// Best-effort masking of common PII shapes in support chats. This runs
// before any text reaches prompts or embeddings; it is not a guarantee.
var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d{2,3}[ \-]?\d{3,4}[ \-]?\d{4}`)
	// Account numbers and other long digit runs.
	digitRunPattern = regexp.MustCompile(`\b\d{7,16}\b`)
)

// Mask replaces email addresses, phone-number shapes and long digit runs
// with "***".
func Mask(text string) string {
	if text == "" {
		return ""
	}
	masked := emailPattern.ReplaceAllString(text, "***")
	masked = phonePattern.ReplaceAllString(masked, "***")
	masked = digitRunPattern.ReplaceAllString(masked, "***")
	return masked
}
