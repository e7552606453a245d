package testutil

import (
	"testing"

	"github.com/trinity/guided-upload/internal/models"
)

// SalesFile is the single-sheet fixture file used across packages.
func SalesFile() models.UploadedFileInfo {
	return models.UploadedFileInfo{Name: "sales.csv", Path: "tmp/sales.csv", Size: 2048}
}

// StoresFile is a second fixture file for multi-file flows.
func StoresFile() models.UploadedFileInfo {
	sheets := 2
	return models.UploadedFileInfo{Name: "stores.xlsx", Path: "tmp/stores.xlsx", Size: 4096, TotalSheets: &sheets}
}

// SalesMetadata describes sales.csv:
//
//	customer_id int64    identifier by keyword
//	region      object   identifier by keyword, 1 missing
//	sales       float64  measure by keyword, 2 missing
//	order_date  object   date-like strings
//	qty         object   numeric-looking strings, measure by keyword
//	notes       object   free text, 5 missing
func SalesMetadata() *models.FileMetadata {
	return &models.FileMetadata{
		TotalRows: 100,
		Columns: []models.ColumnMetadata{
			{Name: "customer_id", Dtype: "int64", SampleValues: []any{1.0, 2.0, 3.0}},
			{Name: "region", Dtype: "object", SampleValues: []any{"North", "South", nil}, MissingCount: 1, MissingPercentage: 1},
			{Name: "sales", Dtype: "float64", SampleValues: []any{10.5, 20.0, nil}, MissingCount: 2, MissingPercentage: 2},
			{Name: "order_date", Dtype: "object", SampleValues: []any{"2024-01-02", "2024-02-03"}},
			{Name: "qty", Dtype: "object", SampleValues: []any{"1", "2", "3"}},
			{Name: "notes", Dtype: "object", SampleValues: []any{"late delivery", "ok"}, MissingCount: 5, MissingPercentage: 5},
		},
	}
}

// StoresMetadata describes stores.xlsx.
func StoresMetadata() *models.FileMetadata {
	return &models.FileMetadata{
		TotalRows: 12,
		Columns: []models.ColumnMetadata{
			{Name: "store_id", Dtype: "int64", SampleValues: []any{1.0, 2.0}},
			{Name: "opened", Dtype: "datetime64[ns]", SampleValues: []any{"2020-01-01T00:00:00"}},
			{Name: "revenue", Dtype: "float64", SampleValues: []any{100.0}, MissingCount: 3, MissingPercentage: 25},
		},
	}
}

// NewSalesBackend starts a fake backend preloaded with both fixture files.
func NewSalesBackend(t testing.TB) *FakeBackend {
	t.Helper()
	f := NewFakeBackend(t)
	f.SetMetadata(SalesFile().Path, SalesMetadata())
	f.SetMetadata(StoresFile().Path, StoresMetadata())
	return f
}
