package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FileMetadataRequest is the body of POST /file-metadata.
type FileMetadataRequest struct {
	FilePath  string `json:"file_path"`
	ClientID  string `json:"client_id,omitempty"`
	AppID     string `json:"app_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

// ColumnMetadata describes one column as reported by the backend.
type ColumnMetadata struct {
	Name              string  `json:"name"`
	Dtype             string  `json:"dtype"`
	SampleValues      []any   `json:"sample_values"`
	MissingPercentage float64 `json:"missing_percentage"`
	MissingCount      int     `json:"missing_count"`
	HistoricalType    string  `json:"historical_type,omitempty"`
	HistoricalRole    string  `json:"historical_role,omitempty"`
}

// Samples returns the non-null sample values rendered as strings.
func (c ColumnMetadata) Samples() []string {
	out := make([]string, 0, len(c.SampleValues))
	for _, v := range c.SampleValues {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			out = append(out, val)
		case float64:
			out = append(out, strconv.FormatFloat(val, 'f', -1, 64))
		default:
			out = append(out, fmt.Sprint(val))
		}
	}
	return out
}

// FileMetadata is the response of POST /file-metadata.
type FileMetadata struct {
	Columns   []ColumnMetadata `json:"columns"`
	TotalRows int              `json:"total_rows"`
}

// TransformInstruction is one missing-value instruction for /process_saved_dataframe.
type TransformInstruction struct {
	Column          string       `json:"column"`
	MissingStrategy StrategyKind `json:"missing_strategy"`
	CustomValue     any          `json:"custom_value,omitempty"`
}

// ProcessDataframeRequest is the body of POST /process_saved_dataframe.
type ProcessDataframeRequest struct {
	ObjectName   string                 `json:"object_name"`
	Instructions []TransformInstruction `json:"instructions"`
}

// MissingFill is the per-column fill sent to /apply-data-transformations.
type MissingFill struct {
	Strategy StrategyKind `json:"strategy"`
	Value    any          `json:"value,omitempty"`
}

// ApplyTransformationsRequest is the body of POST /apply-data-transformations.
type ApplyTransformationsRequest struct {
	FilePath               string                 `json:"file_path"`
	ColumnRenames          map[string]string      `json:"column_renames"`
	DtypeChanges           map[string]DataType    `json:"dtype_changes"`
	MissingValueStrategies map[string]MissingFill `json:"missing_value_strategies"`
}

// PreviewResult is the response of POST /apply-data-transformations.
type PreviewResult struct {
	FilePath  string           `json:"file_path,omitempty"`
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	TotalRows int              `json:"total_rows"`
}

// DetectFormatRequest is the body of POST /detect-datetime-format.
type DetectFormatRequest struct {
	FilePath   string `json:"file_path"`
	ColumnName string `json:"column_name"`
}

// DetectFormatResult is the response of POST /detect-datetime-format.
type DetectFormatResult struct {
	CanDetect       bool   `json:"can_detect"`
	DetectedFormat  string `json:"detected_format,omitempty"`
	DetectionMethod string `json:"detection_method,omitempty"`
}

// CustomValue is the wire form of a custom fill value for a column of type t.
// Only numeric columns get a number, and only for finite values; everything
// else keeps the text as typed so values like "00501" survive.
func CustomValue(v string, t DataType) any {
	if !t.IsNumeric() {
		return v
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return v
	}
	return f
}
