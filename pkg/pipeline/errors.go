package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// SecurityError is returned when a payload fails a structural safety check
// before validation even runs, such as exceeding the size ceiling.
type SecurityError struct {
	// Violations lists every failed check.
	Violations []string
}

// Error implements the error interface.
func (e *SecurityError) Error() string {
	return fmt.Sprintf("security validation failed: %s", strings.Join(e.Violations, "; "))
}

// ValidationError is returned when payload fields fail their schema rules.
type ValidationError struct {
	// Fields maps each failing field name to a message naming the rule.
	Fields map[string]string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s: %s", name, e.Fields[name])
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(parts, "; "))
}
