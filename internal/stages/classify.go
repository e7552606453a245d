package stages

import (
	"strings"

	"github.com/trinity/guided-upload/internal/models"
)

// DetectType maps a raw backend dtype to a detected type. Every dtype maps
// to exactly one type; unmatched dtypes get the default type.
func (r *Rules) DetectType(dtype string) models.DataType {
	d := strings.ToLower(strings.TrimSpace(dtype))
	for _, rule := range r.Dtypes {
		if rule.matches(d) {
			return rule.Type
		}
	}
	return r.DefaultType
}

// DetectRole classifies a column by name keywords, then by raw dtype, and
// defaults to identifier.
func (r *Rules) DetectRole(columnName, dtype string) models.ColumnRole {
	name := strings.ToLower(strings.TrimSpace(columnName))
	tokens := tokenize(name)

	if matchKeyword(name, tokens, r.IdentifierKeywords) {
		return models.RoleIdentifier
	}
	if matchKeyword(name, tokens, r.MeasureKeywords) {
		return models.RoleMeasure
	}

	d := strings.ToLower(dtype)
	if containsAny(d, r.IdentifierDtypes) {
		return models.RoleIdentifier
	}
	if containsAny(d, r.MeasureDtypes) {
		return models.RoleMeasure
	}
	return models.RoleIdentifier
}

// RoleForType is the role implied by a user's type choice.
func RoleForType(t models.DataType) models.ColumnRole {
	if t.IsNumeric() {
		return models.RoleMeasure
	}
	return models.RoleIdentifier
}

func tokenize(name string) map[string]struct{} {
	fields := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

func matchKeyword(name string, tokens map[string]struct{}, keywords []string) bool {
	for _, kw := range keywords {
		if _, ok := tokens[kw]; ok {
			return true
		}
		if len(kw) >= 4 && strings.Contains(name, kw) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
