package pipeline

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Rule validates one payload field.
type Rule struct {
	// Required rejects mutations that omit the field or pass nil.
	Required bool

	// Tag is a validator tag expression applied to the value, for example
	// "min=1,max=200" or "oneof=card bank wallet".
	Tag string
}

// Schema maps field names to their rules. Fields not named in the schema
// pass through unvalidated.
type Schema map[string]Rule

// CheckFunc is a caller-supplied validator run after schema validation,
// for checks that need context, such as lookups against other records.
type CheckFunc func(ctx context.Context, values map[string]any) error

var validate = validator.New()

// validateValues applies schema to values and collects every failing field
// into one ValidationError, so callers see all problems at once.
func validateValues(values map[string]any, schema Schema) error {
	fields := make(map[string]string)
	for name, rule := range schema {
		value, ok := values[name]
		if !ok || value == nil {
			if rule.Required {
				fields[name] = "field is required"
			}
			continue
		}
		if rule.Tag == "" {
			continue
		}
		if err := validate.Var(value, rule.Tag); err != nil {
			fields[name] = ruleMessage(err, rule.Tag)
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func ruleMessage(err error, tag string) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		return fmt.Sprintf("fails rule %q", verrs[0].Tag())
	}
	return fmt.Sprintf("fails rule %q", tag)
}
