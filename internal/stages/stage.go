// Package stages implements the five stages of the guided upload flow. Each
// stage fetches what it needs for the selected file, keeps the user's edits
// in memory, and writes them to the flow store on Next.
package stages

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/trinity/guided-upload/internal/flow"
	"github.com/trinity/guided-upload/internal/gateway"
	"github.com/trinity/guided-upload/internal/models"
	"go.uber.org/zap"
)

var (
	ErrNoFile         = errors.New("no file selected")
	ErrNoNextFile     = errors.New("already at the last file")
	ErrNoPreviousFile = errors.New("already at the first file")
	ErrUnknownColumn  = errors.New("unknown column")
	ErrNotLoaded      = errors.New("stage data not loaded")
)

// Hooks are the navigation callbacks a stage is given by its controller.
type Hooks struct {
	OnNext      func(ctx context.Context) error
	OnBack      func(ctx context.Context) error
	OnRestart   func(ctx context.Context) error
	OnCancel    func(ctx context.Context) error
	OnConfirm   func(ctx context.Context) error
	OnGoToStage func(ctx context.Context, stage models.Stage) error
}

// Deps are the collaborators shared by every stage.
type Deps struct {
	Store   *flow.Store
	Gateway gateway.Client
	Env     models.EnvironmentProvider
	Rules   *Rules
	Logger  *zap.Logger
	Hooks   Hooks
}

// Stage is one step of the wizard.
type Stage interface {
	ID() models.Stage
	// Load binds the stage to the selected file, fetching its data at most
	// once per (file name, file path), and rebuilds the in-memory edits from
	// the store.
	Load(ctx context.Context) error
	View() any
	// Commit writes the in-memory edits to the store.
	Commit() error
	Next(ctx context.Context) error
	Back(ctx context.Context) error
	NextFile(ctx context.Context) error
	PreviousFile(ctx context.Context) error
	Restart(ctx context.Context) error
	Cancel(ctx context.Context) error
	// Reset forgets fetched data so the next Load fetches again.
	Reset()
}

// FileView identifies the file a stage view is bound to.
type FileView struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Index       int    `json:"index"`
	Count       int    `json:"count"`
	HasPrevious bool   `json:"hasPrevious"`
	HasNext     bool   `json:"hasNext"`
}

// Status is the loading state shared by every view.
type Status struct {
	Loading bool   `json:"loading"`
	Error   string `json:"error,omitempty"`
}

// base carries the file binding, metadata fetch and navigation common to all stages.
type base struct {
	Deps
	id     models.Stage
	logger *zap.Logger
	fetch  FetchTracker

	// self is the embedding stage, used for Commit and Load.
	self Stage

	mu        sync.Mutex
	file      models.UploadedFileInfo
	fileIndex int
	fileCount int
	meta      *models.FileMetadata
	loading   bool
	lastErr   string
}

func (b *base) init(id models.Stage, deps Deps, self Stage) {
	b.Deps = deps
	b.id = id
	b.self = self
	if b.Rules == nil {
		b.Rules = DefaultRules()
	}
	if b.Logger == nil {
		b.Logger = zap.NewNop()
	}
	b.logger = b.Logger.Named("stage").With(zap.String("stage", string(id)))
}

func (b *base) ID() models.Stage { return b.id }

// Reset forgets fetched data.
func (b *base) Reset() {
	b.fetch.Reset()
	b.mu.Lock()
	b.meta = nil
	b.loading = false
	b.lastErr = ""
	b.mu.Unlock()
}

// bind points the stage at the selected file, resetting fetch tracking when
// the file key changed.
func (b *base) bind() (models.UploadedFileInfo, error) {
	file, idx, ok := b.Store.SelectedFile()
	if !ok {
		return models.UploadedFileInfo{}, ErrNoFile
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file.Key() != file.Key() {
		b.fetch.Reset()
		b.meta = nil
		b.loading = false
		b.lastErr = ""
	}
	b.file = file
	b.fileIndex = idx
	b.fileCount = b.Store.FileCount()
	return file, nil
}

// loadMetadata fetches metadata for the bound file once per key. rebuild runs
// with b.mu held whenever metadata for the bound file is available.
func (b *base) loadMetadata(ctx context.Context, rebuild func()) error {
	file, err := b.bind()
	if err != nil {
		return err
	}

	ticket, started := b.fetch.Begin(file.Key())
	if !started {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.meta != nil {
			rebuild()
		}
		return nil
	}

	b.mu.Lock()
	b.loading = true
	b.mu.Unlock()

	req := models.FileMetadataRequest{FilePath: file.Path}
	if b.Env != nil {
		env := b.Env.Get()
		req.ClientID, req.AppID, req.ProjectID = env.ClientID, env.AppID, env.ProjectID
	}
	md, err := b.Gateway.FileMetadata(ctx, req)

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.fetch.Finish(ticket, err == nil) || ticket.Key != b.file.Key() {
		b.logger.Debug("discarding stale metadata", zap.String("file", file.Name))
		if !b.fetch.InFlight() {
			b.loading = false
		}
		return nil
	}
	b.loading = false
	if err != nil {
		b.lastErr = err.Error()
		b.logger.Error("metadata fetch failed", zap.String("file", file.Name), zap.Error(err))
		return fmt.Errorf("loading %s: %w", file.Name, err)
	}
	b.meta = md
	b.lastErr = ""
	rebuild()
	return nil
}

// fileView and status must be called with b.mu held.
func (b *base) fileView() FileView {
	return FileView{
		Name:        b.file.Name,
		Path:        b.file.Path,
		Index:       b.fileIndex,
		Count:       b.fileCount,
		HasPrevious: b.fileIndex > 0,
		HasNext:     b.fileIndex+1 < b.fileCount,
	}
}

func (b *base) status() Status {
	return Status{Loading: b.loading, Error: b.lastErr}
}

func (b *base) columnMeta(original string) (models.ColumnMetadata, bool) {
	if b.meta == nil {
		return models.ColumnMetadata{}, false
	}
	for _, c := range b.meta.Columns {
		if c.Name == original {
			return c, true
		}
	}
	return models.ColumnMetadata{}, false
}

// Next commits, then moves to the next file or hands off to the controller
// when this was the last file.
func (b *base) Next(ctx context.Context) error {
	if err := b.self.Commit(); err != nil {
		return err
	}
	_, idx, ok := b.Store.SelectedFile()
	if ok && idx+1 < b.Store.FileCount() {
		return b.switchFile(ctx, idx+1)
	}
	if b.Hooks.OnNext == nil {
		return nil
	}
	return b.Hooks.OnNext(ctx)
}

// Back hands off to the controller without committing.
func (b *base) Back(ctx context.Context) error {
	if b.Hooks.OnBack == nil {
		return nil
	}
	return b.Hooks.OnBack(ctx)
}

// NextFile commits and activates the next file.
func (b *base) NextFile(ctx context.Context) error {
	_, idx, ok := b.Store.SelectedFile()
	if !ok || idx+1 >= b.Store.FileCount() {
		return ErrNoNextFile
	}
	if err := b.self.Commit(); err != nil {
		return err
	}
	return b.switchFile(ctx, idx+1)
}

// PreviousFile commits and activates the previous file.
func (b *base) PreviousFile(ctx context.Context) error {
	_, idx, ok := b.Store.SelectedFile()
	if !ok || idx == 0 {
		return ErrNoPreviousFile
	}
	if err := b.self.Commit(); err != nil {
		return err
	}
	return b.switchFile(ctx, idx-1)
}

func (b *base) switchFile(ctx context.Context, idx int) error {
	if err := b.Store.SetSelectedFileIndex(idx); err != nil {
		return err
	}
	b.self.Reset()
	return b.self.Load(ctx)
}

func (b *base) Restart(ctx context.Context) error {
	if b.Hooks.OnRestart == nil {
		return nil
	}
	return b.Hooks.OnRestart(ctx)
}

func (b *base) Cancel(ctx context.Context) error {
	if b.Hooks.OnCancel == nil {
		return nil
	}
	return b.Hooks.OnCancel(ctx)
}

// keptEdits returns the kept column edits of a file. A file without stored
// edits keeps every column of md under its original name.
func keptEdits(edits []models.ColumnNameEdit, md *models.FileMetadata) []models.ColumnNameEdit {
	if len(edits) == 0 {
		if md == nil {
			return nil
		}
		out := make([]models.ColumnNameEdit, 0, len(md.Columns))
		for _, c := range md.Columns {
			out = append(out, models.ColumnNameEdit{OriginalName: c.Name, EditedName: c.Name, Keep: true})
		}
		return out
	}
	out := make([]models.ColumnNameEdit, 0, len(edits))
	for _, e := range edits {
		if e.Keep {
			out = append(out, e)
		}
	}
	return out
}
