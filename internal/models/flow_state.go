package models

// GuidedUploadFlowState aggregates the wizard position and every per-file decision.
// All per-file maps are keyed by UploadedFileInfo.Name.
type GuidedUploadFlowState struct {
	CurrentStage           Stage                             `json:"currentStage" msgpack:"currentStage"`
	UploadedFiles          []UploadedFileInfo                `json:"uploadedFiles" msgpack:"uploadedFiles"`
	SelectedFileIndex      int                               `json:"selectedFileIndex" msgpack:"selectedFileIndex"`
	HeaderSelections       map[string]HeaderSelection        `json:"headerSelections" msgpack:"headerSelections"`
	ColumnNameEdits        map[string][]ColumnNameEdit       `json:"columnNameEdits" msgpack:"columnNameEdits"`
	DataTypeSelections     map[string][]DataTypeSelection    `json:"dataTypeSelections" msgpack:"dataTypeSelections"`
	MissingValueStrategies map[string][]MissingValueStrategy `json:"missingValueStrategies" msgpack:"missingValueStrategies"`
}

// NewFlowState returns a fresh state at the initial stage holding files.
func NewFlowState(files []UploadedFileInfo) GuidedUploadFlowState {
	st := GuidedUploadFlowState{
		CurrentStage:           InitialStage,
		UploadedFiles:          make([]UploadedFileInfo, 0, len(files)),
		HeaderSelections:       make(map[string]HeaderSelection),
		ColumnNameEdits:        make(map[string][]ColumnNameEdit),
		DataTypeSelections:     make(map[string][]DataTypeSelection),
		MissingValueStrategies: make(map[string][]MissingValueStrategy),
	}
	st.UploadedFiles = append(st.UploadedFiles, files...)
	return st
}

// SelectedFile returns the active file, if any.
func (s GuidedUploadFlowState) SelectedFile() (UploadedFileInfo, bool) {
	if s.SelectedFileIndex < 0 || s.SelectedFileIndex >= len(s.UploadedFiles) {
		return UploadedFileInfo{}, false
	}
	return s.UploadedFiles[s.SelectedFileIndex], true
}

// Clone returns a deep copy of s.
func (s GuidedUploadFlowState) Clone() GuidedUploadFlowState {
	out := GuidedUploadFlowState{
		CurrentStage:           s.CurrentStage,
		SelectedFileIndex:      s.SelectedFileIndex,
		UploadedFiles:          make([]UploadedFileInfo, len(s.UploadedFiles)),
		HeaderSelections:       make(map[string]HeaderSelection, len(s.HeaderSelections)),
		ColumnNameEdits:        make(map[string][]ColumnNameEdit, len(s.ColumnNameEdits)),
		DataTypeSelections:     make(map[string][]DataTypeSelection, len(s.DataTypeSelections)),
		MissingValueStrategies: make(map[string][]MissingValueStrategy, len(s.MissingValueStrategies)),
	}
	for i, f := range s.UploadedFiles {
		if f.TotalSheets != nil {
			n := *f.TotalSheets
			f.TotalSheets = &n
		}
		out.UploadedFiles[i] = f
	}
	for k, v := range s.HeaderSelections {
		out.HeaderSelections[k] = v
	}
	for k, v := range s.ColumnNameEdits {
		out.ColumnNameEdits[k] = append([]ColumnNameEdit(nil), v...)
	}
	for k, v := range s.DataTypeSelections {
		out.DataTypeSelections[k] = append([]DataTypeSelection(nil), v...)
	}
	for k, v := range s.MissingValueStrategies {
		out.MissingValueStrategies[k] = append([]MissingValueStrategy(nil), v...)
	}
	return out
}

// Valid checks the structural invariants of the state.
func (s GuidedUploadFlowState) Valid() bool {
	if !s.CurrentStage.Valid() {
		return false
	}
	if len(s.UploadedFiles) > 0 && (s.SelectedFileIndex < 0 || s.SelectedFileIndex >= len(s.UploadedFiles)) {
		return false
	}
	seen := make(map[string]struct{}, len(s.UploadedFiles))
	for _, f := range s.UploadedFiles {
		if _, dup := seen[f.Name]; dup {
			return false
		}
		seen[f.Name] = struct{}{}
	}
	return true
}
