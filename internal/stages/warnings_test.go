package stages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trinity/guided-upload/internal/models"
)

func TestDetectWarning(t *testing.T) {
	rules := DefaultRules()
	tests := []struct {
		name      string
		selected  models.DataType
		samples   []string
		kind      WarningKind
		suggested models.DataType
	}{
		{"integers in text", models.DataTypeText, []string{"1", "2", "3"}, WarningLooksNumeric, models.DataTypeNumber},
		{"decimals in text", models.DataTypeString, []string{"1.5", "2"}, WarningLooksNumeric, models.DataTypeFloat},
		{"thousands separators", models.DataTypeText, []string{"1,200", "35"}, WarningLooksNumeric, models.DataTypeNumber},
		{"iso dates", models.DataTypeText, []string{"2024-01-02", "2024-02-03"}, WarningLooksLikeDates, models.DataTypeDate},
		{"us dates", models.DataTypeText, []string{"01/02/2024", "12/31/2023"}, WarningLooksLikeDates, models.DataTypeDate},
		{"month names", models.DataTypeText, []string{"Jan 5, 2024", "March 10 2024"}, WarningLooksLikeDates, models.DataTypeDate},
		{"timestamps", models.DataTypeText, []string{"2024-01-02 10:30:00"}, WarningLooksLikeDates, models.DataTypeDate},
		{"text in numbers", models.DataTypeNumber, []string{"1", "n/a"}, WarningShouldBeText, models.DataTypeText},
		{"text in floats", models.DataTypeFloat, []string{"abc"}, WarningShouldBeText, models.DataTypeText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := rules.DetectWarning(tt.selected, tt.samples)
			require.NotNil(t, w)
			assert.Equal(t, tt.kind, w.Kind)
			assert.Equal(t, tt.suggested, w.SuggestedType)
			assert.NotEmpty(t, w.Message)
		})
	}
}

func TestDetectWarning_None(t *testing.T) {
	rules := DefaultRules()
	tests := []struct {
		name     string
		selected models.DataType
		samples  []string
	}{
		{"clean numbers", models.DataTypeNumber, []string{"1", "2.5"}},
		{"free text", models.DataTypeText, []string{"hello", "2024-01-02"}},
		{"no samples", models.DataTypeText, nil},
		{"blank samples", models.DataTypeText, []string{" ", ""}},
		{"boolean", models.DataTypeBoolean, []string{"x"}},
		{"dates already typed", models.DataTypeDate, []string{"2024-01-02"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, rules.DetectWarning(tt.selected, tt.samples))
		})
	}
}
