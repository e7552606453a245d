package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/trinity/guided-upload/internal/models"
)

var ErrInvalidHeader = errors.New("invalid header selection")

// HeaderStage is U2: confirm the header row and sheet of each file.
type HeaderStage struct {
	base
	selection models.HeaderSelection
}

// HeaderView is the U2 view model.
type HeaderView struct {
	Stage       models.Stage           `json:"stage"`
	File        FileView               `json:"file"`
	Status      Status                 `json:"status"`
	Selection   models.HeaderSelection `json:"selection"`
	TotalSheets int                    `json:"totalSheets"`
	Columns     []string               `json:"columns"`
	TotalRows   int                    `json:"totalRows"`
}

func NewHeaderStage(deps Deps) *HeaderStage {
	s := &HeaderStage{}
	s.init(models.StageConfirmStructure, deps, s)
	return s
}

// Load seeds the selection from the store. Metadata only feeds the column
// preview, so the selection is usable even when the fetch fails.
func (s *HeaderStage) Load(ctx context.Context) error {
	err := s.loadMetadata(ctx, func() {})
	if errors.Is(err, ErrNoFile) {
		return err
	}
	s.mu.Lock()
	s.rebuild()
	s.mu.Unlock()
	return err
}

func (s *HeaderStage) rebuild() {
	st := s.Store.Snapshot()
	s.selection = st.HeaderSelections[s.file.Name]
}

func (s *HeaderStage) View() any {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := HeaderView{
		Stage:       s.id,
		File:        s.fileView(),
		Status:      s.status(),
		Selection:   s.selection,
		TotalSheets: sheetCount(s.file),
		Columns:     []string{},
	}
	if s.meta != nil {
		for _, c := range s.meta.Columns {
			v.Columns = append(v.Columns, c.Name)
		}
		v.TotalRows = s.meta.TotalRows
	}
	return v
}

// SetHeaderRow selects the header row.
func (s *HeaderStage) SetHeaderRow(row int) error {
	if row < 0 {
		return fmt.Errorf("%w: row %d", ErrInvalidHeader, row)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection.HeaderRowIndex = row
	return nil
}

// Checkpoint captures the in-memory selection; the returned func restores it.
func (s *HeaderStage) Checkpoint() func() {
	s.mu.Lock()
	saved := s.selection
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.selection = saved
		s.mu.Unlock()
	}
}

// SetSheet selects the sheet of a multi-sheet file.
func (s *HeaderStage) SetSheet(sheet int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sheet < 0 || sheet >= sheetCount(s.file) {
		return fmt.Errorf("%w: sheet %d of %d", ErrInvalidHeader, sheet, sheetCount(s.file))
	}
	s.selection.SheetIndex = sheet
	return nil
}

func (s *HeaderStage) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file.Name == "" {
		return ErrNotLoaded
	}
	return s.Store.SetHeaderSelection(s.file.Name, s.selection)
}

func sheetCount(f models.UploadedFileInfo) int {
	if f.TotalSheets == nil || *f.TotalSheets < 1 {
		return 1
	}
	return *f.TotalSheets
}
