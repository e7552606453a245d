// Package controller sequences the stages of a guided upload flow, persists
// its state between sessions and runs the cross-stage side effects.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/trinity/guided-upload/internal/flow"
	"github.com/trinity/guided-upload/internal/gateway"
	"github.com/trinity/guided-upload/internal/models"
	"github.com/trinity/guided-upload/internal/persistence"
	"github.com/trinity/guided-upload/internal/stages"
	"go.uber.org/zap"
)

var (
	ErrFlowFinished = errors.New("flow is finished")
	ErrWrongStage   = errors.New("action not available at the current stage")
)

const defaultSaveTimeout = 5 * time.Second

// Chrome is the window state of the wizard. It is independent of the flow state.
type Chrome string

const (
	ChromeNormal    Chrome = "normal"
	ChromeMinimized Chrome = "minimized"
	ChromeMaximized Chrome = "maximized"
)

var titles = map[models.Stage]string{
	models.StageConfirmStructure: "Confirm File Structure",
	models.StageReviewColumns:    "Review Column Names",
	models.StageReviewDataTypes:  "Review Data Types",
	models.StageMissingValues:    "Handle Missing Values",
	models.StageFinalPreview:     "Final Preview",
}

// Title returns the heading shown for a stage.
func Title(s models.Stage) string {
	return titles[s]
}

// Progress returns the completion percentage shown while at stage s.
func Progress(s models.Stage) int {
	i := s.Index()
	if i < 0 {
		return 0
	}
	return (i + 1) * 100 / len(models.Stages)
}

// ShowFooter reports whether the shared Back/Continue footer is shown. U2 and
// U6 carry their own navigation.
func ShowFooter(s models.Stage) bool {
	return s != models.StageConfirmStructure && s != models.StageFinalPreview
}

// Options configures a Controller.
type Options struct {
	FlowKey     string
	Files       []models.UploadedFileInfo
	Persistence persistence.StatePersistence
	Env         models.EnvironmentProvider
	Gateway     gateway.Client
	Rules       *stages.Rules
	Logger      *zap.Logger
	SaveTimeout time.Duration
	// OnComplete receives the final state once the flow is confirmed.
	OnComplete func(ctx context.Context, state models.GuidedUploadFlowState)
}

// View is the wizard frame around the current stage view.
type View struct {
	FlowKey           string                    `json:"flowKey"`
	Stage             models.Stage              `json:"stage"`
	Title             string                    `json:"title"`
	Progress          int                       `json:"progress"`
	ShowFooter        bool                      `json:"showFooter"`
	Chrome            Chrome                    `json:"chrome"`
	Resumed           bool                      `json:"resumed"`
	Finished          bool                      `json:"finished"`
	Canceled          bool                      `json:"canceled"`
	Files             []models.UploadedFileInfo `json:"files"`
	SelectedFileIndex int                       `json:"selectedFileIndex"`
	Body              any                       `json:"body"`
}

// Controller drives one flow.
type Controller struct {
	flowKey     string
	key         string
	store       *flow.Store
	persist     persistence.StatePersistence
	gateway     gateway.Client
	logger      *zap.Logger
	saveTimeout time.Duration
	onComplete  func(ctx context.Context, state models.GuidedUploadFlowState)

	header   *stages.HeaderStage
	columns  *stages.ColumnsStage
	types    *stages.DataTypesStage
	missing  *stages.MissingStage
	preview  *stages.PreviewStage
	byStage  map[models.Stage]stages.Stage
	stopSave func()

	// opMu serializes every operation that reads or moves the current stage.
	opMu    sync.Mutex
	entered models.Stage

	mu       sync.Mutex
	chrome   Chrome
	resumed  bool
	finished bool
	canceled bool
}

// New creates a controller. A non-primed state saved under the flow key is
// resumed as is; otherwise the flow starts at U2 with opts.Files.
func New(ctx context.Context, opts Options) (*Controller, error) {
	if opts.Gateway == nil {
		return nil, errors.New("controller: gateway is required")
	}
	if opts.Persistence == nil {
		opts.Persistence = persistence.NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = defaultSaveTimeout
	}
	var env models.Environment
	if opts.Env != nil {
		env = opts.Env.Get()
	}

	c := &Controller{
		flowKey:     opts.FlowKey,
		key:         persistence.Key(env, opts.FlowKey),
		persist:     opts.Persistence,
		gateway:     opts.Gateway,
		logger:      opts.Logger.Named("controller").With(zap.String("flow", opts.FlowKey)),
		saveTimeout: opts.SaveTimeout,
		onComplete:  opts.OnComplete,
		chrome:      ChromeNormal,
	}

	c.store = c.restore(ctx, opts.Files)
	if !c.resumed {
		c.save(ctx, c.store.Snapshot(), false)
	}
	c.stopSave = c.store.Subscribe(func(_, next models.GuidedUploadFlowState) {
		saveCtx, cancel := context.WithTimeout(context.Background(), c.saveTimeout)
		defer cancel()
		c.save(saveCtx, next, false)
	})

	deps := stages.Deps{
		Store:   c.store,
		Gateway: opts.Gateway,
		Env:     opts.Env,
		Rules:   opts.Rules,
		Logger:  opts.Logger.With(zap.String("flow", opts.FlowKey)),
		Hooks: stages.Hooks{
			OnNext:      c.advance,
			OnBack:      c.retreat,
			OnRestart:   c.restart,
			OnCancel:    c.cancel,
			OnConfirm:   c.confirm,
			OnGoToStage: c.jump,
		},
	}
	c.header = stages.NewHeaderStage(deps)
	c.columns = stages.NewColumnsStage(deps)
	c.types = stages.NewDataTypesStage(deps)
	c.missing = stages.NewMissingStage(deps)
	c.preview = stages.NewPreviewStage(deps)
	c.byStage = map[models.Stage]stages.Stage{
		models.StageConfirmStructure: c.header,
		models.StageReviewColumns:    c.columns,
		models.StageReviewDataTypes:  c.types,
		models.StageMissingValues:    c.missing,
		models.StageFinalPreview:     c.preview,
	}
	return c, nil
}

func (c *Controller) restore(ctx context.Context, files []models.UploadedFileInfo) *flow.Store {
	env, err := c.persist.Load(ctx, c.key)
	if err != nil {
		c.logger.Warn("saved flow state unreadable, starting fresh", zap.Error(err))
		return flow.NewStore(files)
	}
	if env == nil || env.Primed {
		return flow.NewStore(files)
	}
	store, err := flow.NewStoreFromState(env.State)
	if err != nil {
		c.logger.Warn("saved flow state rejected, starting fresh", zap.Error(err))
		return flow.NewStore(files)
	}
	c.resumed = true
	c.logger.Info("resumed flow",
		zap.String("stage", string(env.State.CurrentStage)),
		zap.Int("files", len(env.State.UploadedFiles)),
		zap.Time("saved_at", env.SavedAt))
	return store
}

func (c *Controller) save(ctx context.Context, st models.GuidedUploadFlowState, primed bool) error {
	if err := c.persist.Save(ctx, c.key, persistence.NewEnvelope(st, primed)); err != nil {
		c.logger.Error("failed to save flow state", zap.Bool("primed", primed), zap.Error(err))
		return err
	}
	return nil
}

// Start loads the current stage. It must be called once before the first view.
func (c *Controller) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.entered = ""
	c.settle(ctx)
	return nil
}

// settle loads the current stage when the stage changed since the last
// operation. Stage data errors are reported through the stage view.
// Must be called with opMu held.
func (c *Controller) settle(ctx context.Context) {
	cur := c.store.CurrentStage()
	if cur == c.entered {
		return
	}
	c.entered = cur
	if err := c.byStage[cur].Load(ctx); err != nil {
		c.logger.Warn("stage load failed", zap.String("stage", string(cur)), zap.Error(err))
	}
}

// do runs fn against the current stage and settles afterwards.
func (c *Controller) do(ctx context.Context, fn func(s stages.Stage) error) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	err := fn(c.byStage[c.store.CurrentStage()])
	if !c.closed() {
		c.settle(ctx)
	}
	return err
}

// Edit runs fn when the flow is at stage. It is how stage specific edits reach
// a stage without racing navigation. A batch is all or nothing: when fn fails
// the stage's in-memory edits are restored to what they were before.
func (c *Controller) Edit(ctx context.Context, stage models.Stage, fn func() error) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	if cur := c.store.CurrentStage(); cur != stage {
		return fmt.Errorf("%w: at %s, not %s", ErrWrongStage, cur, stage)
	}
	if cp, ok := c.byStage[stage].(checkpointer); ok {
		restore := cp.Checkpoint()
		if err := fn(); err != nil {
			restore()
			return err
		}
		return nil
	}
	return fn()
}

// checkpointer is a stage whose in-memory edits can be rolled back.
type checkpointer interface {
	Checkpoint() func()
}

func (c *Controller) Next(ctx context.Context) error {
	return c.do(ctx, func(s stages.Stage) error { return s.Next(ctx) })
}

func (c *Controller) Back(ctx context.Context) error {
	return c.do(ctx, func(s stages.Stage) error { return s.Back(ctx) })
}

func (c *Controller) NextFile(ctx context.Context) error {
	return c.do(ctx, func(s stages.Stage) error { return s.NextFile(ctx) })
}

func (c *Controller) PreviousFile(ctx context.Context) error {
	return c.do(ctx, func(s stages.Stage) error { return s.PreviousFile(ctx) })
}

func (c *Controller) Restart(ctx context.Context) error {
	return c.do(ctx, func(s stages.Stage) error { return s.Restart(ctx) })
}

func (c *Controller) Cancel(ctx context.Context) error {
	return c.do(ctx, func(s stages.Stage) error { return s.Cancel(ctx) })
}

// GoBackTo jumps from the final preview to an earlier stage.
func (c *Controller) GoBackTo(ctx context.Context, stage models.Stage) error {
	return c.do(ctx, func(s stages.Stage) error {
		if s.ID() != models.StageFinalPreview {
			return fmt.Errorf("%w: shortcuts are only offered by the final preview", ErrWrongStage)
		}
		return c.preview.GoBackTo(ctx, stage)
	})
}

// Confirm primes the flow from the final preview.
func (c *Controller) Confirm(ctx context.Context) error {
	return c.do(ctx, func(s stages.Stage) error {
		if s.ID() != models.StageFinalPreview {
			return fmt.Errorf("%w: confirm is only offered by the final preview", ErrWrongStage)
		}
		return c.preview.Confirm(ctx)
	})
}

// Reload drops the fetched data of the current stage and fetches it again.
func (c *Controller) Reload(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	cur := c.store.CurrentStage()
	c.byStage[cur].Reset()
	return c.byStage[cur].Load(ctx)
}

// AddFiles adds files to the flow. A file with a known name replaces the
// earlier entry.
func (c *Controller) AddFiles(ctx context.Context, files ...models.UploadedFileInfo) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.store.AddUploadedFiles(files...); err != nil {
		return err
	}
	c.entered = ""
	c.settle(ctx)
	return nil
}

// hooks, called by stages with opMu held

func (c *Controller) advance(ctx context.Context) error {
	if c.store.CurrentStage() == models.StageMissingValues {
		c.applyMissingValues(ctx)
	}
	c.store.GoToNextStage()
	if c.store.FileCount() > 0 {
		if err := c.store.SetSelectedFileIndex(0); err != nil {
			return err
		}
	}
	return nil
}

// applyMissingValues sends the treatments of the selected file to the
// backend. Failures are logged and never block the flow.
func (c *Controller) applyMissingValues(ctx context.Context) {
	st := c.store.Snapshot()
	file, ok := st.SelectedFile()
	if !ok {
		return
	}
	instructions := stages.BuildInstructions(st.MissingValueStrategies[file.Name], st.ColumnNameEdits[file.Name], st.DataTypeSelections[file.Name])
	if len(instructions) == 0 {
		return
	}
	err := c.gateway.ProcessSavedDataframe(ctx, models.ProcessDataframeRequest{
		ObjectName:   file.Path,
		Instructions: instructions,
	})
	if err != nil {
		c.logger.Warn("applying missing value strategies failed, continuing",
			zap.String("file", file.Name), zap.Int("instructions", len(instructions)), zap.Error(err))
		return
	}
	c.logger.Info("applied missing value strategies",
		zap.String("file", file.Name), zap.Int("instructions", len(instructions)))
}

func (c *Controller) retreat(ctx context.Context) error {
	c.store.GoToPreviousStage()
	return nil
}

func (c *Controller) jump(ctx context.Context, stage models.Stage) error {
	return c.store.GoToStage(stage)
}

func (c *Controller) restart(ctx context.Context) error {
	c.store.Restart()
	for _, s := range c.byStage {
		s.Reset()
	}
	c.entered = ""
	c.logger.Info("flow restarted")
	return nil
}

func (c *Controller) cancel(ctx context.Context) error {
	c.stopSave()
	c.mu.Lock()
	c.canceled = true
	c.mu.Unlock()
	if err := c.persist.Delete(ctx, c.key); err != nil {
		c.logger.Warn("failed to discard saved flow state", zap.Error(err))
	}
	c.logger.Info("flow canceled")
	return nil
}

func (c *Controller) confirm(ctx context.Context) error {
	st := c.store.Snapshot()
	if err := c.save(ctx, st, true); err != nil {
		return fmt.Errorf("priming flow: %w", err)
	}
	c.stopSave()
	c.mu.Lock()
	c.finished = true
	c.mu.Unlock()
	c.logger.Info("flow primed", zap.Int("files", len(st.UploadedFiles)))
	if c.onComplete != nil {
		c.onComplete(ctx, st)
	}
	return nil
}

func (c *Controller) checkOpen() error {
	if c.closed() {
		return ErrFlowFinished
	}
	return nil
}

func (c *Controller) closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished || c.canceled
}

// Minimize, Maximize and RestoreChrome change the window state only.
func (c *Controller) Minimize() { c.setChrome(ChromeMinimized) }
func (c *Controller) Maximize() { c.setChrome(ChromeMaximized) }
func (c *Controller) RestoreChrome() {
	c.setChrome(ChromeNormal)
}

func (c *Controller) setChrome(ch Chrome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chrome = ch
}

// Chrome returns the window state.
func (c *Controller) Chrome() Chrome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chrome
}

// Finished reports whether the flow was confirmed or canceled.
func (c *Controller) Finished() bool {
	return c.closed()
}

// Snapshot returns a copy of the flow state.
func (c *Controller) Snapshot() models.GuidedUploadFlowState {
	return c.store.Snapshot()
}

// Subscribe registers fn for state changes. fn must not call back into the
// controller.
func (c *Controller) Subscribe(fn func(models.GuidedUploadFlowState)) func() {
	return c.store.Subscribe(func(_, next models.GuidedUploadFlowState) { fn(next) })
}

func (c *Controller) Header() *stages.HeaderStage       { return c.header }
func (c *Controller) Columns() *stages.ColumnsStage     { return c.columns }
func (c *Controller) DataTypes() *stages.DataTypesStage { return c.types }
func (c *Controller) Missing() *stages.MissingStage     { return c.missing }
func (c *Controller) Preview() *stages.PreviewStage     { return c.preview }

// View renders the wizard frame and the current stage.
func (c *Controller) View() View {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	st := c.store.Snapshot()
	c.mu.Lock()
	v := View{
		FlowKey:           c.flowKey,
		Stage:             st.CurrentStage,
		Title:             Title(st.CurrentStage),
		Progress:          Progress(st.CurrentStage),
		ShowFooter:        ShowFooter(st.CurrentStage),
		Chrome:            c.chrome,
		Resumed:           c.resumed,
		Finished:          c.finished,
		Canceled:          c.canceled,
		Files:             st.UploadedFiles,
		SelectedFileIndex: st.SelectedFileIndex,
	}
	c.mu.Unlock()
	v.Body = c.byStage[st.CurrentStage].View()
	return v
}
