package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultMaxPayloadBytes is the payload size ceiling applied when the
// pipeline is configured with no explicit limit.
const DefaultMaxPayloadBytes = 64 * 1024

// sanitizeValues trims whitespace from every string value, recursing into
// nested maps and slices, and rejects payloads whose serialized form
// exceeds maxBytes. The input map is not modified.
func sanitizeValues(values map[string]any, maxBytes int) (map[string]any, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPayloadBytes
	}

	raw, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("serialize payload: %w", err)
	}
	if len(raw) > maxBytes {
		return nil, &SecurityError{Violations: []string{
			fmt.Sprintf("payload size %d exceeds limit of %d bytes", len(raw), maxBytes),
		}}
	}

	return sanitizeMap(values), nil
}

func sanitizeMap(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for key, value := range values {
		out[key] = sanitizeAny(value)
	}
	return out
}

func sanitizeAny(value any) any {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		return sanitizeMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = sanitizeAny(item)
		}
		return out
	default:
		return v
	}
}
