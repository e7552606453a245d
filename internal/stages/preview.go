package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/trinity/guided-upload/internal/models"
	"go.uber.org/zap"
)

var ErrShortcutNotAllowed = errors.New("stage cannot be reached from the final preview")

// Shortcuts are the stages the final preview can jump back to.
var Shortcuts = []models.Stage{models.StageReviewColumns, models.StageReviewDataTypes, models.StageMissingValues}

const (
	SourceBackend = "backend"
	SourceLocal   = "local"
)

// Summary aggregates every decision taken for a file.
type Summary struct {
	TotalColumns       int                         `json:"totalColumns"`
	DroppedColumns     int                         `json:"droppedColumns"`
	RenamedColumns     int                         `json:"renamedColumns"`
	NumericColumns     int                         `json:"numericColumns"`
	CategoricalColumns int                         `json:"categoricalColumns"`
	DateColumns        int                         `json:"dateColumns"`
	Identifiers        int                         `json:"identifiers"`
	Measures           int                         `json:"measures"`
	MissingTreatments  map[models.StrategyKind]int `json:"missingTreatments"`
}

// PreviewColumn describes one kept column of the resulting dataset.
type PreviewColumn struct {
	Name         string              `json:"name"`
	OriginalName string              `json:"originalName"`
	Type         models.DataType     `json:"type"`
	Role         models.ColumnRole   `json:"role"`
	Strategy     models.StrategyKind `json:"strategy"`
}

// PreviewView is the U6 view model.
type PreviewView struct {
	Stage     models.Stage     `json:"stage"`
	File      FileView         `json:"file"`
	Status    Status           `json:"status"`
	Summary   Summary          `json:"summary"`
	Columns   []PreviewColumn  `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	TotalRows int              `json:"totalRows"`
	Source    string           `json:"source"`
	Notice    string           `json:"notice,omitempty"`
	Shortcuts []models.Stage   `json:"shortcuts"`
}

// PreviewStage is U6: summarize the decisions and preview the result.
type PreviewStage struct {
	base
	request   *models.ApplyTransformationsRequest
	summary   Summary
	columns   []PreviewColumn
	preview   *models.PreviewResult
	notice    string
	relocated string
}

func NewPreviewStage(deps Deps) *PreviewStage {
	s := &PreviewStage{}
	s.init(models.StageFinalPreview, deps, s)
	return s
}

// BuildTransformRequest assembles the /apply-data-transformations body for a
// file from its stored decisions.
func BuildTransformRequest(file models.UploadedFileInfo, st models.GuidedUploadFlowState) models.ApplyTransformationsRequest {
	req := models.ApplyTransformationsRequest{
		FilePath:               file.Path,
		ColumnRenames:          map[string]string{},
		DtypeChanges:           map[string]models.DataType{},
		MissingValueStrategies: map[string]models.MissingFill{},
	}
	kept := map[string]bool{}
	for _, e := range st.ColumnNameEdits[file.Name] {
		if !e.Keep {
			continue
		}
		kept[e.EditedName] = true
		if e.EditedName != e.OriginalName {
			req.ColumnRenames[e.OriginalName] = e.EditedName
		}
	}
	keep := func(name string) bool { return len(kept) == 0 || kept[name] }

	for _, sel := range st.DataTypeSelections[file.Name] {
		if keep(sel.ColumnName) {
			req.DtypeChanges[sel.ColumnName] = sel.SelectedType
		}
	}
	for _, ms := range st.MissingValueStrategies[file.Name] {
		if ms.Kind() == models.StrategyNone || !keep(ms.ColumnName) {
			continue
		}
		fill := models.MissingFill{Strategy: ms.Kind()}
		if c, ok := ms.Treatment.(models.Custom); ok {
			fill.Value = models.CustomValue(c.Value, req.DtypeChanges[ms.ColumnName])
		}
		req.MissingValueStrategies[ms.ColumnName] = fill
	}
	return req
}

// Summarize computes the local summary and column list of a file.
func Summarize(file models.UploadedFileInfo, st models.GuidedUploadFlowState) (Summary, []PreviewColumn) {
	sum := Summary{MissingTreatments: map[models.StrategyKind]int{}}
	edits := st.ColumnNameEdits[file.Name]

	sels := make(map[string]models.DataTypeSelection)
	order := make([]string, 0)
	for _, sel := range st.DataTypeSelections[file.Name] {
		sels[sel.ColumnName] = sel
		order = append(order, sel.ColumnName)
	}
	strategies := make(map[string]models.StrategyKind)
	for _, ms := range st.MissingValueStrategies[file.Name] {
		strategies[ms.ColumnName] = ms.Kind()
	}

	var cols []PreviewColumn
	if len(edits) > 0 {
		for _, e := range edits {
			if !e.Keep {
				sum.DroppedColumns++
				continue
			}
			if e.EditedName != e.OriginalName {
				sum.RenamedColumns++
			}
			cols = append(cols, PreviewColumn{Name: e.EditedName, OriginalName: e.OriginalName})
		}
	} else {
		for _, name := range order {
			cols = append(cols, PreviewColumn{Name: name, OriginalName: name})
		}
	}

	for i := range cols {
		c := &cols[i]
		c.Type = models.DataTypeText
		c.Role = models.RoleIdentifier
		if sel, ok := sels[c.Name]; ok {
			c.Type, c.Role = sel.SelectedType, sel.ColumnRole
		}
		c.Strategy = models.StrategyNone
		if k, ok := strategies[c.Name]; ok {
			c.Strategy = k
		}

		switch {
		case c.Type.IsNumeric():
			sum.NumericColumns++
		case c.Type.IsDate():
			sum.DateColumns++
		default:
			sum.CategoricalColumns++
		}
		if c.Role == models.RoleMeasure {
			sum.Measures++
		} else {
			sum.Identifiers++
		}
		if c.Strategy != models.StrategyNone {
			sum.MissingTreatments[c.Strategy]++
		}
	}
	sum.TotalColumns = len(cols)
	return sum, cols
}

// Load recomputes the summary from the store and fetches a backend preview
// once per file and decision set. A failed preview falls back to the local
// summary and is not reported as an error.
func (s *PreviewStage) Load(ctx context.Context) error {
	file, err := s.bind()
	if err != nil {
		return err
	}

	st := s.Store.Snapshot()
	sum, cols := Summarize(file, st)
	req := BuildTransformRequest(file, st)

	s.mu.Lock()
	s.summary, s.columns = sum, cols
	if s.request == nil || !cmp.Equal(*s.request, req, cmpopts.EquateEmpty()) {
		s.fetch.Reset()
		s.preview = nil
		s.relocated = ""
	}
	s.request = &req
	s.mu.Unlock()

	ticket, started := s.fetch.Begin(file.Key())
	if !started {
		return nil
	}

	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	res, err := s.Gateway.ApplyDataTransformations(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fetch.Finish(ticket, err == nil) || ticket.Key != s.file.Key() {
		s.logger.Debug("discarding stale preview", zap.String("file", file.Name))
		if !s.fetch.InFlight() {
			s.loading = false
		}
		return nil
	}
	s.loading = false
	if err != nil {
		s.preview = nil
		s.notice = "Preview unavailable; showing a summary of your choices."
		s.logger.Warn("preview failed, using local summary", zap.String("file", file.Name), zap.Error(err))
		return nil
	}
	s.notice = ""
	s.preview = filterPreview(res, cols)
	if res.FilePath != "" && res.FilePath != file.Path {
		s.relocated = res.FilePath
	}
	return nil
}

// filterPreview keeps only the columns of the resulting dataset.
func filterPreview(res *models.PreviewResult, cols []PreviewColumn) *models.PreviewResult {
	if len(cols) == 0 {
		return res
	}
	kept := make(map[string]bool, len(cols))
	for _, c := range cols {
		kept[c.Name] = true
	}

	out := &models.PreviewResult{FilePath: res.FilePath, TotalRows: res.TotalRows, Columns: []string{}}
	for _, c := range res.Columns {
		if kept[c] {
			out.Columns = append(out.Columns, c)
		}
	}
	for _, row := range res.Rows {
		r := make(map[string]any, len(out.Columns))
		for _, c := range out.Columns {
			if v, ok := row[c]; ok {
				r[c] = v
			}
		}
		out.Rows = append(out.Rows, r)
	}
	return out
}

func (s *PreviewStage) View() any {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := PreviewView{
		Stage:     s.id,
		File:      s.fileView(),
		Status:    s.status(),
		Summary:   s.summary,
		Columns:   s.columns,
		Rows:      []map[string]any{},
		Source:    SourceLocal,
		Notice:    s.notice,
		Shortcuts: Shortcuts,
	}
	if v.Columns == nil {
		v.Columns = []PreviewColumn{}
	}
	if s.preview != nil {
		v.Source = SourceBackend
		v.Rows = s.preview.Rows
		v.TotalRows = s.preview.TotalRows
	}
	return v
}

// Commit is a no-op; the final preview holds no edits of its own.
func (s *PreviewStage) Commit() error { return nil }

// GoBackTo jumps to an earlier stage for corrections.
func (s *PreviewStage) GoBackTo(ctx context.Context, stage models.Stage) error {
	allowed := false
	for _, sc := range Shortcuts {
		if sc == stage {
			allowed = true
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %q", ErrShortcutNotAllowed, stage)
	}
	if s.Hooks.OnGoToStage == nil {
		return nil
	}
	return s.Hooks.OnGoToStage(ctx, stage)
}

// Confirm records a relocated file path, if the preview returned one, and
// hands off to the controller to prime the flow.
func (s *PreviewStage) Confirm(ctx context.Context) error {
	s.mu.Lock()
	name, relocated := s.file.Name, s.relocated
	s.mu.Unlock()

	if relocated != "" {
		if err := s.Store.UpdateFilePath(name, relocated); err != nil {
			return err
		}
	}
	if s.Hooks.OnConfirm == nil {
		return nil
	}
	return s.Hooks.OnConfirm(ctx)
}
