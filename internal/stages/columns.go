package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/trinity/guided-upload/internal/models"
)

var (
	ErrEmptyColumnName = errors.New("column name is required")
	ErrDuplicateColumn = errors.New("duplicate column name")
)

// ColumnsStage is U3: rename columns and choose which to keep.
type ColumnsStage struct {
	base
	edits []models.ColumnNameEdit
}

// ColumnRow is one row of the U3 table.
type ColumnRow struct {
	OriginalName string   `json:"originalName"`
	EditedName   string   `json:"editedName"`
	Keep         bool     `json:"keep"`
	Dtype        string   `json:"dtype"`
	Samples      []string `json:"samples"`
	MissingCount int      `json:"missingCount"`
}

// ColumnsView is the U3 view model.
type ColumnsView struct {
	Stage   models.Stage `json:"stage"`
	File    FileView     `json:"file"`
	Status  Status       `json:"status"`
	Columns []ColumnRow  `json:"columns"`
	Kept    int          `json:"kept"`
	Dropped int          `json:"dropped"`
}

func NewColumnsStage(deps Deps) *ColumnsStage {
	s := &ColumnsStage{}
	s.init(models.StageReviewColumns, deps, s)
	return s
}

func (s *ColumnsStage) Load(ctx context.Context) error {
	return s.loadMetadata(ctx, s.rebuild)
}

// rebuild lists every column of the file, keeping stored edits for columns
// that are still present.
func (s *ColumnsStage) rebuild() {
	stored := s.Store.Snapshot().ColumnNameEdits[s.file.Name]
	byOriginal := make(map[string]models.ColumnNameEdit, len(stored))
	for _, e := range stored {
		byOriginal[e.OriginalName] = e
	}

	s.edits = make([]models.ColumnNameEdit, 0, len(s.meta.Columns))
	for _, c := range s.meta.Columns {
		if e, ok := byOriginal[c.Name]; ok {
			s.edits = append(s.edits, e)
			continue
		}
		s.edits = append(s.edits, models.ColumnNameEdit{OriginalName: c.Name, EditedName: c.Name, Keep: true})
	}
}

func (s *ColumnsStage) View() any {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := ColumnsView{Stage: s.id, File: s.fileView(), Status: s.status(), Columns: []ColumnRow{}}
	for _, e := range s.edits {
		row := ColumnRow{OriginalName: e.OriginalName, EditedName: e.EditedName, Keep: e.Keep}
		if c, ok := s.columnMeta(e.OriginalName); ok {
			row.Dtype = c.Dtype
			row.Samples = c.Samples()
			row.MissingCount = c.MissingCount
		}
		v.Columns = append(v.Columns, row)
		if e.Keep {
			v.Kept++
		} else {
			v.Dropped++
		}
	}
	return v
}

// Rename sets the edited name of a column.
func (s *ColumnsStage) Rename(original, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyColumnName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(original)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, original)
	}
	s.edits[i].EditedName = name
	return nil
}

// SetKeep includes or excludes a column from every later stage.
func (s *ColumnsStage) SetKeep(original string, keep bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(original)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, original)
	}
	s.edits[i].Keep = keep
	return nil
}

// Edits returns a copy of the in-memory edits.
func (s *ColumnsStage) Edits() []models.ColumnNameEdit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ColumnNameEdit(nil), s.edits...)
}

// Commit validates that kept names are unique and stores the edits. It is a
// no-op while the file's columns are not loaded.
func (s *ColumnsStage) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta == nil {
		return nil
	}

	seen := make(map[string]string, len(s.edits))
	for _, e := range s.edits {
		if !e.Keep {
			continue
		}
		if other, dup := seen[e.EditedName]; dup {
			return fmt.Errorf("%w: %q used by %s and %s", ErrDuplicateColumn, e.EditedName, other, e.OriginalName)
		}
		seen[e.EditedName] = e.OriginalName
	}
	return s.Store.SetColumnNameEdits(s.file.Name, s.edits)
}

// Checkpoint captures the in-memory edits; the returned func restores them.
func (s *ColumnsStage) Checkpoint() func() {
	s.mu.Lock()
	saved := append([]models.ColumnNameEdit(nil), s.edits...)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.edits = saved
		s.mu.Unlock()
	}
}

func (s *ColumnsStage) indexOf(original string) int {
	for i, e := range s.edits {
		if e.OriginalName == original {
			return i
		}
	}
	return -1
}
