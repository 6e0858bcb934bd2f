package audit

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// Patterns matched against string metadata values. Card numbers go first so
// a 16-digit run is not partially consumed by the phone pattern.
var (
	cardPattern  = regexp.MustCompile(`\b\d(?:[ -]?\d){12,15}\b`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d().\s-]{7,}\d`)
)

// Field names whose values are structural rather than personal and are kept
// as-is: identifiers, timestamps, and money bookkeeping.
var safeFields = map[string]bool{
	"id":       true,
	"count":    true,
	"amount":   true,
	"currency": true,
	"status":   true,
	"category": true,
	"type":     true,
	"page":     true,
	"limit":    true,
}

func isSafeField(name string) bool {
	lower := strings.ToLower(name)
	if safeFields[lower] {
		return true
	}
	return strings.HasSuffix(lower, "_id") || strings.HasSuffix(lower, "_at") || strings.HasSuffix(lower, "_count")
}

// MaskValue redacts email addresses, card numbers, social security numbers,
// and phone numbers inside a string.
func MaskValue(value string) string {
	value = cardPattern.ReplaceAllString(value, redacted)
	value = ssnPattern.ReplaceAllString(value, redacted)
	value = emailPattern.ReplaceAllString(value, redacted)
	value = phonePattern.ReplaceAllString(value, redacted)
	return value
}

// MaskMetadata returns a copy of metadata with personal data redacted from
// string values. Fields on the safe list keep their values. Nested maps and
// slices are masked recursively. The input map is not modified.
func MaskMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	masked := make(map[string]any, len(metadata))
	for key, value := range metadata {
		if isSafeField(key) {
			masked[key] = value
			continue
		}
		masked[key] = maskAny(value)
	}
	return masked
}

func maskAny(value any) any {
	switch v := value.(type) {
	case string:
		return MaskValue(v)
	case map[string]any:
		return MaskMetadata(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = maskAny(item)
		}
		return out
	default:
		return v
	}
}
