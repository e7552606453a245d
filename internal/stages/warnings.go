package stages

import (
	"strconv"
	"strings"

	"github.com/trinity/guided-upload/internal/models"
)

// WarningKind names a data quality heuristic.
type WarningKind string

const (
	WarningLooksNumeric   WarningKind = "looks_numeric"
	WarningShouldBeText   WarningKind = "should_be_text"
	WarningLooksLikeDates WarningKind = "looks_like_dates"
)

// Warning is a data quality flag on a column. SuggestedType, when set, can be
// applied with ApplySuggestion.
type Warning struct {
	Kind          WarningKind     `json:"kind"`
	Message       string          `json:"message"`
	SuggestedType models.DataType `json:"suggestedType,omitempty"`
}

// DetectWarning inspects the samples of a column typed as selected.
func (r *Rules) DetectWarning(selected models.DataType, samples []string) *Warning {
	values := nonEmpty(samples)
	if len(values) == 0 {
		return nil
	}

	switch {
	case selected.IsTextual():
		if allNumeric(values) {
			suggested := models.DataTypeNumber
			if !allIntegers(values) {
				suggested = models.DataTypeFloat
			}
			return &Warning{
				Kind:          WarningLooksNumeric,
				Message:       "All sample values are numbers. Should this column be numeric?",
				SuggestedType: suggested,
			}
		}
		if r.allDates(values) {
			return &Warning{
				Kind:          WarningLooksLikeDates,
				Message:       "Sample values look like dates.",
				SuggestedType: models.DataTypeDate,
			}
		}
	case selected.IsNumeric():
		if !allNumeric(values) {
			return &Warning{
				Kind:          WarningShouldBeText,
				Message:       "Some sample values are not numbers. Should this column be text?",
				SuggestedType: models.DataTypeText,
			}
		}
	}
	return nil
}

// LooksLikeDate reports whether v matches one of the configured date patterns.
func (r *Rules) LooksLikeDate(v string) bool {
	v = strings.TrimSpace(v)
	for _, re := range r.datePatterns {
		if re.MatchString(v) {
			return true
		}
	}
	return false
}

func (r *Rules) allDates(values []string) bool {
	for _, v := range values {
		if !r.LooksLikeDate(v) {
			return false
		}
	}
	return true
}

func nonEmpty(samples []string) []string {
	out := make([]string, 0, len(samples))
	for _, s := range samples {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseNumber(v string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
	return f, err == nil
}

func allNumeric(values []string) bool {
	for _, v := range values {
		if _, ok := parseNumber(v); !ok {
			return false
		}
	}
	return true
}

func allIntegers(values []string) bool {
	for _, v := range values {
		f, ok := parseNumber(v)
		if !ok || f != float64(int64(f)) {
			return false
		}
	}
	return true
}
