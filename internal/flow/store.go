// Package flow holds the guided upload flow state and its transitions.
package flow

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/trinity/guided-upload/internal/models"
)

var (
	ErrInvalidStage        = errors.New("invalid stage")
	ErrFileIndexOutOfRange = errors.New("file index out of range")
	ErrUnknownFile         = errors.New("unknown file")
	ErrEmptyFileName       = errors.New("file name is required")
	ErrInvalidState        = errors.New("invalid flow state")
)

// Listener observes committed state changes. Listeners must not write to the store.
type Listener func(prev, next models.GuidedUploadFlowState)

type moveKind int

const (
	moveLinear moveKind = iota
	moveJump
)

// move is the single description every stage transition goes through.
type move struct {
	kind   moveKind
	step   int // +1 or -1 for linear moves
	target models.Stage
}

var equalOpts = []cmp.Option{cmpopts.EquateEmpty()}

// Store is the flow state container. All reads return deep copies and every
// write replaces the state wholesale.
type Store struct {
	writeMu sync.Mutex // serializes updates and listener dispatch
	mu      sync.RWMutex
	state   models.GuidedUploadFlowState

	listenersMu  sync.Mutex
	listeners    map[int]Listener
	nextListener int
}

// NewStore creates a store at the initial stage holding files.
func NewStore(files []models.UploadedFileInfo) *Store {
	st := models.NewFlowState(nil)
	st.UploadedFiles = dedupeFiles(files)
	return &Store{state: st, listeners: make(map[int]Listener)}
}

// NewStoreFromState resumes a store from a saved state.
func NewStoreFromState(state models.GuidedUploadFlowState) (*Store, error) {
	if !state.Valid() {
		return nil, fmt.Errorf("%w: stage %q, %d files, selected %d",
			ErrInvalidState, state.CurrentStage, len(state.UploadedFiles), state.SelectedFileIndex)
	}
	st := state.Clone()
	if len(st.UploadedFiles) == 0 {
		st.SelectedFileIndex = 0
	}
	return &Store{state: st, listeners: make(map[int]Listener)}, nil
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() models.GuidedUploadFlowState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// CurrentStage returns the current stage token.
func (s *Store) CurrentStage() models.Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.CurrentStage
}

// SelectedFile returns the active file and its index.
func (s *Store) SelectedFile() (models.UploadedFileInfo, int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.state.SelectedFile()
	return f, s.state.SelectedFileIndex, ok
}

// FileCount returns the number of uploaded files.
func (s *Store) FileCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.UploadedFiles)
}

// Subscribe registers l and returns a function removing it.
func (s *Store) Subscribe(l Listener) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l
	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

// GoToNextStage advances one stage. It is a no-op at the terminal stage.
func (s *Store) GoToNextStage() {
	_ = s.apply(move{kind: moveLinear, step: 1})
}

// GoToPreviousStage moves back one stage. It is a no-op at the initial stage.
func (s *Store) GoToPreviousStage() {
	_ = s.apply(move{kind: moveLinear, step: -1})
}

// GoToStage jumps directly to stage.
func (s *Store) GoToStage(stage models.Stage) error {
	return s.apply(move{kind: moveJump, target: stage})
}

func (s *Store) apply(m move) error {
	return s.update(func(st *models.GuidedUploadFlowState) error {
		switch m.kind {
		case moveLinear:
			if m.step > 0 {
				st.CurrentStage = st.CurrentStage.Next()
			} else {
				st.CurrentStage = st.CurrentStage.Previous()
			}
		case moveJump:
			if !m.target.Valid() {
				return fmt.Errorf("%w: %q", ErrInvalidStage, m.target)
			}
			st.CurrentStage = m.target
		}
		return nil
	})
}

// AddUploadedFiles appends files. A file whose name is already present replaces
// the existing entry in place.
func (s *Store) AddUploadedFiles(files ...models.UploadedFileInfo) error {
	for _, f := range files {
		if f.Name == "" {
			return ErrEmptyFileName
		}
	}
	return s.update(func(st *models.GuidedUploadFlowState) error {
		st.UploadedFiles = dedupeFiles(append(st.UploadedFiles, files...))
		return nil
	})
}

// SetSelectedFileIndex changes the active file.
func (s *Store) SetSelectedFileIndex(i int) error {
	return s.update(func(st *models.GuidedUploadFlowState) error {
		if i < 0 || i >= len(st.UploadedFiles) {
			return fmt.Errorf("%w: %d of %d", ErrFileIndexOutOfRange, i, len(st.UploadedFiles))
		}
		st.SelectedFileIndex = i
		return nil
	})
}

// UpdateFilePath records that the backend relocated a file.
func (s *Store) UpdateFilePath(fileName, path string) error {
	return s.update(func(st *models.GuidedUploadFlowState) error {
		i := indexOf(st.UploadedFiles, fileName)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownFile, fileName)
		}
		st.UploadedFiles[i].Path = path
		return nil
	})
}

// SetHeaderSelection replaces the header selection of a file.
func (s *Store) SetHeaderSelection(fileName string, sel models.HeaderSelection) error {
	return s.updateFile(fileName, func(st *models.GuidedUploadFlowState) {
		st.HeaderSelections[fileName] = sel
	})
}

// SetColumnNameEdits replaces the column edits of a file. An empty list removes the entry.
func (s *Store) SetColumnNameEdits(fileName string, edits []models.ColumnNameEdit) error {
	edits = append([]models.ColumnNameEdit(nil), edits...)
	return s.updateFile(fileName, func(st *models.GuidedUploadFlowState) {
		if len(edits) == 0 {
			delete(st.ColumnNameEdits, fileName)
			return
		}
		st.ColumnNameEdits[fileName] = edits
	})
}

// SetDataTypeSelections replaces the data type selections of a file.
func (s *Store) SetDataTypeSelections(fileName string, selections []models.DataTypeSelection) error {
	selections = append([]models.DataTypeSelection(nil), selections...)
	return s.updateFile(fileName, func(st *models.GuidedUploadFlowState) {
		if len(selections) == 0 {
			delete(st.DataTypeSelections, fileName)
			return
		}
		st.DataTypeSelections[fileName] = selections
	})
}

// SetMissingValueStrategies replaces the missing value strategies of a file.
func (s *Store) SetMissingValueStrategies(fileName string, strategies []models.MissingValueStrategy) error {
	strategies = append([]models.MissingValueStrategy(nil), strategies...)
	return s.updateFile(fileName, func(st *models.GuidedUploadFlowState) {
		if len(strategies) == 0 {
			delete(st.MissingValueStrategies, fileName)
			return
		}
		st.MissingValueStrategies[fileName] = strategies
	})
}

// Restart returns to the initial stage and clears every per-file decision.
// Uploaded files are retained and the first file becomes active.
func (s *Store) Restart() {
	_ = s.update(func(st *models.GuidedUploadFlowState) error {
		fresh := models.NewFlowState(st.UploadedFiles)
		*st = fresh
		return nil
	})
}

func (s *Store) updateFile(fileName string, fn func(st *models.GuidedUploadFlowState)) error {
	return s.update(func(st *models.GuidedUploadFlowState) error {
		if indexOf(st.UploadedFiles, fileName) < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownFile, fileName)
		}
		fn(st)
		return nil
	})
}

// update computes the next state from a copy and commits it only when it
// differs structurally from the current one.
func (s *Store) update(fn func(st *models.GuidedUploadFlowState) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	prev := s.state
	next := prev.Clone()
	s.mu.RUnlock()

	if err := fn(&next); err != nil {
		return err
	}
	if cmp.Equal(prev, next, equalOpts...) {
		return nil
	}

	s.mu.Lock()
	s.state = next
	s.mu.Unlock()

	s.listenersMu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenersMu.Unlock()

	for _, l := range listeners {
		l(prev.Clone(), next.Clone())
	}
	return nil
}

func dedupeFiles(files []models.UploadedFileInfo) []models.UploadedFileInfo {
	out := make([]models.UploadedFileInfo, 0, len(files))
	for _, f := range files {
		if i := indexOf(out, f.Name); i >= 0 {
			out[i] = f
			continue
		}
		out = append(out, f)
	}
	return out
}

func indexOf(files []models.UploadedFileInfo, name string) int {
	for i, f := range files {
		if f.Name == name {
			return i
		}
	}
	return -1
}
