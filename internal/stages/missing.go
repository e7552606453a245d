package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/trinity/guided-upload/internal/models"
	"go.uber.org/zap"
)

var ErrStrategyNotAllowed = errors.New("strategy not allowed for column type")

var (
	numericStrategies = []models.StrategyKind{
		models.StrategyNone, models.StrategyDrop, models.StrategyMean,
		models.StrategyMedian, models.StrategyZero, models.StrategyCustom,
	}
	textStrategies = []models.StrategyKind{
		models.StrategyNone, models.StrategyDrop, models.StrategyMode,
		models.StrategyEmpty, models.StrategyCustom,
	}
)

// StrategyOptions lists the strategies offered for a column of type t.
func StrategyOptions(t models.DataType) []models.StrategyKind {
	if t.IsNumeric() {
		return numericStrategies
	}
	return textStrategies
}

func strategyAllowed(t models.DataType, kind models.StrategyKind) bool {
	for _, k := range StrategyOptions(t) {
		if k == kind {
			return true
		}
	}
	return false
}

// BuildInstructions turns the strategies of a file into backend instructions.
// Columns left untreated are omitted. Instructions address the columns by
// their original names since renames are applied later. Custom values are
// typed by the column's selected type.
func BuildInstructions(strategies []models.MissingValueStrategy, edits []models.ColumnNameEdit, selections []models.DataTypeSelection) []models.TransformInstruction {
	types := selectedTypes(selections)
	originals := make(map[string]string, len(edits))
	for _, e := range edits {
		if e.Keep {
			originals[e.EditedName] = e.OriginalName
		}
	}

	out := make([]models.TransformInstruction, 0, len(strategies))
	for _, s := range strategies {
		kind := s.Kind()
		if kind == models.StrategyNone {
			continue
		}
		column := s.ColumnName
		if orig, ok := originals[column]; ok {
			column = orig
		}
		ins := models.TransformInstruction{Column: column, MissingStrategy: kind}
		if c, ok := s.Treatment.(models.Custom); ok {
			ins.CustomValue = models.CustomValue(c.Value, types[s.ColumnName])
		}
		out = append(out, ins)
	}
	return out
}

func selectedTypes(selections []models.DataTypeSelection) map[string]models.DataType {
	out := make(map[string]models.DataType, len(selections))
	for _, sel := range selections {
		out[sel.ColumnName] = sel.SelectedType
	}
	return out
}

type missingRow struct {
	column       string
	original     string
	dataType     models.DataType
	missingCount int
	missingPct   float64
	treatment    models.Treatment
}

// MissingStage is U5: choose how missing values are treated per column.
type MissingStage struct {
	base
	rows      []missingRow
	totalRows int
}

// MissingRow is one row of the U5 table.
type MissingRow struct {
	ColumnName        string                `json:"columnName"`
	OriginalName      string                `json:"originalName"`
	DataType          models.DataType       `json:"dataType"`
	MissingCount      int                   `json:"missingCount"`
	MissingPercentage float64               `json:"missingPercentage"`
	Strategy          models.StrategyKind   `json:"strategy"`
	Value             string                `json:"value,omitempty"`
	Options           []models.StrategyKind `json:"options"`
}

// MissingView is the U5 view model.
type MissingView struct {
	Stage     models.Stage `json:"stage"`
	File      FileView     `json:"file"`
	Status    Status       `json:"status"`
	Columns   []MissingRow `json:"columns"`
	TotalRows int          `json:"totalRows"`
}

func NewMissingStage(deps Deps) *MissingStage {
	s := &MissingStage{}
	s.init(models.StageMissingValues, deps, s)
	return s
}

func (s *MissingStage) Load(ctx context.Context) error {
	return s.loadMetadata(ctx, s.rebuild)
}

// rebuild lists the kept columns that have missing values.
func (s *MissingStage) rebuild() {
	st := s.Store.Snapshot()
	edits := keptEdits(st.ColumnNameEdits[s.file.Name], s.meta)
	types := make(map[string]models.DataType)
	for _, sel := range st.DataTypeSelections[s.file.Name] {
		types[sel.ColumnName] = sel.SelectedType
	}
	stored := make(map[string]models.Treatment)
	for _, ms := range st.MissingValueStrategies[s.file.Name] {
		if ms.Treatment != nil {
			stored[ms.ColumnName] = ms.Treatment
		}
	}

	s.totalRows = s.meta.TotalRows
	s.rows = make([]missingRow, 0, len(edits))
	for _, e := range edits {
		c, ok := s.columnMeta(e.OriginalName)
		if !ok || c.MissingCount <= 0 {
			continue
		}
		t, ok := types[e.EditedName]
		if !ok {
			t = s.Rules.DetectType(c.Dtype)
		}
		row := missingRow{
			column:       e.EditedName,
			original:     e.OriginalName,
			dataType:     t,
			missingCount: c.MissingCount,
			missingPct:   c.MissingPercentage,
			treatment:    models.NoTreatment{},
		}
		if tr, ok := stored[e.EditedName]; ok {
			if strategyAllowed(t, tr.Kind()) {
				row.treatment = tr
			} else {
				s.logger.Info("dropping strategy not offered for column type",
					zap.String("column", e.EditedName), zap.String("strategy", string(tr.Kind())))
			}
		}
		s.rows = append(s.rows, row)
	}
}

func (s *MissingStage) View() any {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := MissingView{
		Stage:     s.id,
		File:      s.fileView(),
		Status:    s.status(),
		Columns:   make([]MissingRow, 0, len(s.rows)),
		TotalRows: s.totalRows,
	}
	for _, r := range s.rows {
		row := MissingRow{
			ColumnName:        r.column,
			OriginalName:      r.original,
			DataType:          r.dataType,
			MissingCount:      r.missingCount,
			MissingPercentage: r.missingPct,
			Strategy:          r.treatment.Kind(),
			Options:           StrategyOptions(r.dataType),
		}
		if c, ok := r.treatment.(models.Custom); ok {
			row.Value = c.Value
		}
		v.Columns = append(v.Columns, row)
	}
	return v
}

// SetStrategy chooses the treatment of a column. Custom requires a non-empty value.
func (s *MissingStage) SetStrategy(column string, kind models.StrategyKind, value string) error {
	tr, err := models.ParseTreatment(kind, value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].column != column {
			continue
		}
		if !strategyAllowed(s.rows[i].dataType, tr.Kind()) {
			return fmt.Errorf("%w: %s on %s column %s", ErrStrategyNotAllowed, tr.Kind(), s.rows[i].dataType, column)
		}
		s.rows[i].treatment = tr
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownColumn, column)
}

// Checkpoint captures the in-memory strategies; the returned func restores them.
func (s *MissingStage) Checkpoint() func() {
	s.mu.Lock()
	saved := append([]missingRow(nil), s.rows...)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.rows = saved
		s.mu.Unlock()
	}
}

// Strategies returns the in-memory strategy of every listed column.
func (s *MissingStage) Strategies() []models.MissingValueStrategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.MissingValueStrategy, len(s.rows))
	for i, r := range s.rows {
		out[i] = models.MissingValueStrategy{ColumnName: r.column, Treatment: r.treatment}
	}
	return out
}

// Commit stores the columns that have a treatment other than none. It is a
// no-op while the file's columns are not loaded.
func (s *MissingStage) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta == nil {
		return nil
	}
	var chosen []models.MissingValueStrategy
	for _, r := range s.rows {
		if r.treatment.Kind() != models.StrategyNone {
			chosen = append(chosen, models.MissingValueStrategy{ColumnName: r.column, Treatment: r.treatment})
		}
	}
	return s.Store.SetMissingValueStrategies(s.file.Name, chosen)
}
