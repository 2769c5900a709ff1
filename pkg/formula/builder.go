package formula

import (
	"fmt"
	"strings"
)

// Builder constructs Airtable filterByFormula strings with quoting handled.
// All methods are pure functions with no side effects.
// Zero value is ready to use.
type Builder struct{}

// StatusParams selects dependent records by status.
type StatusParams struct {
	StatusField string
	Statuses    []string
	// BlankField, when set, additionally requires this field to be empty.
	BlankField string
}

// BuildStatusQuery returns a formula matching records whose status is any of
// p.Statuses, optionally restricted to records with BlankField unset.
func (b Builder) BuildStatusQuery(p StatusParams) string {
	var parts []string

	if sf := b.buildAnyOf(p.StatusField, p.Statuses); sf != "" {
		parts = append(parts, sf)
	}
	if p.BlankField != "" {
		parts = append(parts, fmt.Sprintf("%s=BLANK()", b.field(p.BlankField)))
	}

	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	default:
		return "AND(" + strings.Join(parts, ", ") + ")"
	}
}

// Equals returns a single field comparison.
func (b Builder) Equals(field, value string) string {
	return fmt.Sprintf("%s=%s", b.field(field), b.quote(value))
}

func (b Builder) buildAnyOf(field string, values []string) string {
	if field == "" || len(values) == 0 {
		return ""
	}
	if len(values) == 1 {
		return b.Equals(field, values[0])
	}
	terms := make([]string, len(values))
	for i, v := range values {
		terms[i] = b.Equals(field, v)
	}
	return "OR(" + strings.Join(terms, ", ") + ")"
}

// field wraps a field name in braces. Closing braces cannot be escaped in a
// field reference, so they are dropped.
func (b Builder) field(name string) string {
	return "{" + strings.ReplaceAll(name, "}", "") + "}"
}

func (b Builder) quote(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(value) + "'"
}
