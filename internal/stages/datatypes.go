package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/trinity/guided-upload/internal/models"
	"go.uber.org/zap"
)

var (
	ErrInvalidType  = errors.New("invalid data type")
	ErrInvalidRole  = errors.New("invalid column role")
	ErrNoSuggestion = errors.New("column has no suggestion")
)

type typeRow struct {
	original       string
	sel            models.DataTypeSelection
	detectedRole   models.ColumnRole
	edited         bool
	historicalType models.DataType
	historicalRole models.ColumnRole
	samples        []string
	warning        *Warning
}

func (r typeRow) diverges() bool {
	return r.sel.SelectedType != r.sel.DetectedType || r.sel.ColumnRole != r.detectedRole
}

func (r typeRow) tag() models.Tag {
	switch {
	case r.edited || r.diverges():
		return models.TagEditedByUser
	case r.historicalType != "" && r.historicalType == r.sel.SelectedType:
		return models.TagPreviouslyUsedType
	case r.historicalRole != "" && r.historicalRole == r.sel.ColumnRole:
		return models.TagPreviouslyUsedRole
	default:
		return models.TagAISuggestion
	}
}

// DataTypesStage is U4: review detected types and roles of the kept columns.
type DataTypesStage struct {
	base
	rows        []typeRow
	dismissed   map[string]bool
	formatTried map[string]bool
	marksFor    models.FetchKey // file the two maps above belong to
}

// TypeRow is one row of the U4 table.
type TypeRow struct {
	ColumnName     string            `json:"columnName"`
	OriginalName   string            `json:"originalName"`
	SelectedType   models.DataType   `json:"selectedType"`
	DetectedType   models.DataType   `json:"detectedType"`
	ColumnRole     models.ColumnRole `json:"columnRole"`
	DetectedRole   models.ColumnRole `json:"detectedRole"`
	Format         string            `json:"format,omitempty"`
	Tag            models.Tag        `json:"tag"`
	Warning        *Warning          `json:"warning,omitempty"`
	Samples        []string          `json:"samples"`
	HistoricalType models.DataType   `json:"historicalType,omitempty"`
	HistoricalRole models.ColumnRole `json:"historicalRole,omitempty"`
}

// DataTypesView is the U4 view model.
type DataTypesView struct {
	Stage              models.Stage      `json:"stage"`
	File               FileView          `json:"file"`
	Status             Status            `json:"status"`
	Columns            []TypeRow         `json:"columns"`
	Types              []models.DataType `json:"types"`
	NumericIdentifiers int               `json:"numericIdentifiers"`
	TextMeasures       int               `json:"textMeasures"`
}

func NewDataTypesStage(deps Deps) *DataTypesStage {
	s := &DataTypesStage{
		dismissed:   make(map[string]bool),
		formatTried: make(map[string]bool),
	}
	s.init(models.StageReviewDataTypes, deps, s)
	return s
}

func (s *DataTypesStage) Reset() {
	s.base.Reset()
	s.mu.Lock()
	s.dismissed = make(map[string]bool)
	s.formatTried = make(map[string]bool)
	s.mu.Unlock()
}

// Load rebuilds the rows and then tries to detect the format of date
// columns that have none.
func (s *DataTypesStage) Load(ctx context.Context) error {
	if err := s.loadMetadata(ctx, s.rebuild); err != nil {
		return err
	}

	s.mu.Lock()
	var pending []string
	for _, r := range s.rows {
		if r.sel.SelectedType.IsDate() && r.sel.Format == "" && !s.formatTried[r.sel.ColumnName] {
			pending = append(pending, r.sel.ColumnName)
		}
	}
	s.mu.Unlock()

	for _, col := range pending {
		s.detectFormat(ctx, col)
	}
	return nil
}

// rebuild derives one row per kept column. Stored selections win over fresh
// detection; selections for columns no longer kept are dropped.
func (s *DataTypesStage) rebuild() {
	if s.marksFor != s.file.Key() {
		s.dismissed = make(map[string]bool)
		s.formatTried = make(map[string]bool)
		s.marksFor = s.file.Key()
	}

	st := s.Store.Snapshot()
	edits := keptEdits(st.ColumnNameEdits[s.file.Name], s.meta)
	stored := make(map[string]models.DataTypeSelection)
	for _, sel := range st.DataTypeSelections[s.file.Name] {
		stored[sel.ColumnName] = sel
	}

	s.rows = make([]typeRow, 0, len(edits))
	for _, e := range edits {
		c, ok := s.columnMeta(e.OriginalName)
		if !ok {
			continue
		}
		detected := s.Rules.DetectType(c.Dtype)
		row := typeRow{
			original:       e.OriginalName,
			detectedRole:   s.Rules.DetectRole(e.EditedName, c.Dtype),
			historicalType: models.DataType(c.HistoricalType),
			historicalRole: models.ColumnRole(c.HistoricalRole),
			samples:        c.Samples(),
		}
		row.sel = models.DataTypeSelection{
			ColumnName:   e.EditedName,
			SelectedType: detected,
			DetectedType: detected,
			ColumnRole:   row.detectedRole,
		}
		if prev, ok := stored[e.EditedName]; ok {
			if prev.SelectedType.Valid() {
				row.sel.SelectedType = prev.SelectedType
			}
			if prev.ColumnRole.Valid() {
				row.sel.ColumnRole = prev.ColumnRole
			}
			row.sel.Format = prev.Format
		}
		if !s.dismissed[e.EditedName] {
			row.warning = s.Rules.DetectWarning(row.sel.SelectedType, row.samples)
		}
		s.rows = append(s.rows, row)
	}
}

func (s *DataTypesStage) View() any {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := DataTypesView{
		Stage:   s.id,
		File:    s.fileView(),
		Status:  s.status(),
		Columns: make([]TypeRow, 0, len(s.rows)),
		Types:   models.DataTypes,
	}
	for _, r := range s.rows {
		v.Columns = append(v.Columns, TypeRow{
			ColumnName:     r.sel.ColumnName,
			OriginalName:   r.original,
			SelectedType:   r.sel.SelectedType,
			DetectedType:   r.sel.DetectedType,
			ColumnRole:     r.sel.ColumnRole,
			DetectedRole:   r.detectedRole,
			Format:         r.sel.Format,
			Tag:            r.tag(),
			Warning:        r.warning,
			Samples:        r.samples,
			HistoricalType: r.historicalType,
			HistoricalRole: r.historicalRole,
		})
		if isNumericIdentifier(r.sel) {
			v.NumericIdentifiers++
		}
		if isTextMeasure(r.sel) {
			v.TextMeasures++
		}
	}
	return v
}

// Selections returns the in-memory selections.
func (s *DataTypesStage) Selections() []models.DataTypeSelection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.DataTypeSelection, len(s.rows))
	for i, r := range s.rows {
		out[i] = r.sel
	}
	return out
}

// SetType changes a column's type and recomputes its role from the type.
// Choosing a date type triggers format detection.
func (s *DataTypesStage) SetType(ctx context.Context, column string, t models.DataType) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, t)
	}

	s.mu.Lock()
	r := s.row(column)
	if r == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownColumn, column)
	}
	r.sel.SelectedType = t
	r.sel.ColumnRole = RoleForType(t)
	if !t.IsDate() {
		r.sel.Format = ""
	}
	r.edited = true
	r.warning = nil
	s.dismissed[column] = true
	needsFormat := t.IsDate() && r.sel.Format == ""
	s.mu.Unlock()

	if needsFormat {
		s.detectFormat(ctx, column)
	}
	return nil
}

// SetRole changes only the role of a column.
func (s *DataTypesStage) SetRole(column string, role models.ColumnRole) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.row(column)
	if r == nil {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, column)
	}
	r.sel.ColumnRole = role
	r.edited = true
	return nil
}

// SetFormat overrides the datetime format of a column.
func (s *DataTypesStage) SetFormat(column, format string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.row(column)
	if r == nil {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, column)
	}
	r.sel.Format = format
	r.edited = true
	return nil
}

// ApplySuggestion applies the suggested type of the column's warning.
func (s *DataTypesStage) ApplySuggestion(ctx context.Context, column string) error {
	s.mu.Lock()
	r := s.row(column)
	if r == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownColumn, column)
	}
	if r.warning == nil || r.warning.SuggestedType == "" {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoSuggestion, column)
	}
	t := r.warning.SuggestedType
	s.mu.Unlock()

	return s.SetType(ctx, column, t)
}

// DismissWarning hides a column's warning until the file changes.
func (s *DataTypesStage) DismissWarning(column string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.row(column)
	if r == nil {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, column)
	}
	r.warning = nil
	s.dismissed[column] = true
	return nil
}

// Checkpoint captures the in-memory rows and warning marks; the returned
// func restores them.
func (s *DataTypesStage) Checkpoint() func() {
	s.mu.Lock()
	rows := append([]typeRow(nil), s.rows...)
	dismissed := copyMarks(s.dismissed)
	tried := copyMarks(s.formatTried)
	marksFor := s.marksFor
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.rows = rows
		s.dismissed = dismissed
		s.formatTried = tried
		s.marksFor = marksFor
		s.mu.Unlock()
	}
}

func copyMarks(m map[string]bool) map[string]bool {
	if m == nil {
		return nil
	}
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ConvertNumericIdentifiersToMeasures sets every numeric identifier column to
// measure and returns how many changed.
func (s *DataTypesStage) ConvertNumericIdentifiersToMeasures() int {
	return s.convert(isNumericIdentifier, models.RoleMeasure)
}

// ConvertTextMeasuresToIdentifiers sets every text measure column to
// identifier and returns how many changed.
func (s *DataTypesStage) ConvertTextMeasuresToIdentifiers() int {
	return s.convert(isTextMeasure, models.RoleIdentifier)
}

func (s *DataTypesStage) convert(match func(models.DataTypeSelection) bool, role models.ColumnRole) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.rows {
		if match(s.rows[i].sel) {
			s.rows[i].sel.ColumnRole = role
			s.rows[i].edited = true
			n++
		}
	}
	return n
}

// Commit stores the selections. It is a no-op while the file's columns are
// not loaded.
func (s *DataTypesStage) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta == nil {
		return nil
	}
	sels := make([]models.DataTypeSelection, len(s.rows))
	for i, r := range s.rows {
		sels[i] = r.sel
	}
	return s.Store.SetDataTypeSelections(s.file.Name, sels)
}

// detectFormat asks the backend for a column's datetime format. Failures are
// logged and leave the format empty.
func (s *DataTypesStage) detectFormat(ctx context.Context, column string) {
	s.mu.Lock()
	r := s.row(column)
	if r == nil {
		s.mu.Unlock()
		return
	}
	key := s.file.Key()
	req := models.DetectFormatRequest{FilePath: s.file.Path, ColumnName: r.original}
	s.formatTried[column] = true
	s.mu.Unlock()

	res, err := s.Gateway.DetectDatetimeFormat(ctx, req)
	if err != nil {
		s.logger.Warn("datetime format detection failed",
			zap.String("file", key.FileName), zap.String("column", column), zap.Error(err))
		return
	}
	if !res.CanDetect {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file.Key() != key {
		return
	}
	if r := s.row(column); r != nil && r.sel.SelectedType.IsDate() && r.sel.Format == "" {
		r.sel.Format = res.DetectedFormat
	}
}

func (s *DataTypesStage) row(column string) *typeRow {
	for i := range s.rows {
		if s.rows[i].sel.ColumnName == column {
			return &s.rows[i]
		}
	}
	return nil
}

func isNumericIdentifier(sel models.DataTypeSelection) bool {
	return sel.SelectedType.IsNumeric() && sel.ColumnRole == models.RoleIdentifier
}

func isTextMeasure(sel models.DataTypeSelection) bool {
	return sel.SelectedType.IsTextual() && sel.ColumnRole == models.RoleMeasure
}
