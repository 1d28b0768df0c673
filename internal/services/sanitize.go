package services

import (
	"html"
	"strings"

	"prohappy_backend/internal/forms"

	"github.com/microcosm-cc/bluemonday"
)

// maxCleanPasses bounds how many layers of entity encoding Clean unwraps.
const maxCleanPasses = 4

// TextSanitizer strips markup from user-authored prose before it is
// forwarded to the external system.
type TextSanitizer struct {
	policy *bluemonday.Policy
}

func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean removes every tag and leaves the text content. Entities are decoded
// so "A & B" stays "A & B", and the result is sanitized again until it no
// longer changes: decoding "&lt;script&gt;" must not bring a tag back. Text
// that is still changing after maxCleanPasses is returned entity-escaped.
func (s *TextSanitizer) Clean(text string) string {
	if !strings.ContainsAny(text, "<>&") {
		return text
	}
	cur := text
	for i := 0; i < maxCleanPasses; i++ {
		next := html.UnescapeString(s.policy.Sanitize(cur))
		if next == cur {
			return strings.TrimSpace(next)
		}
		cur = next
	}
	return strings.TrimSpace(s.policy.Sanitize(cur))
}

// SanitizeForm cleans the free-text fields of f in place.
func (s *TextSanitizer) SanitizeForm(f forms.Form) {
	for _, field := range f.FreeText() {
		*field = s.Clean(*field)
	}
}
