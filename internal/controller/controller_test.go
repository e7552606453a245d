package controller

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trinity/guided-upload/internal/gateway"
	"github.com/trinity/guided-upload/internal/models"
	"github.com/trinity/guided-upload/internal/persistence"
	"github.com/trinity/guided-upload/internal/stages"
	"github.com/trinity/guided-upload/internal/testutil"
)

var (
	ctx     = context.Background()
	testEnv = models.StaticEnvironment{ClientID: "acme", AppID: "trinity", ProjectID: "p1"}
)

type harness struct {
	ctrl      *Controller
	backend   *testutil.FakeBackend
	persist   *persistence.MemoryStore
	completed []models.GuidedUploadFlowState
}

func newHarness(t *testing.T, persist *persistence.MemoryStore, backend *testutil.FakeBackend, files ...models.UploadedFileInfo) *harness {
	t.Helper()
	if persist == nil {
		persist = persistence.NewMemoryStore()
	}
	if backend == nil {
		backend = testutil.NewSalesBackend(t)
	}
	if len(files) == 0 {
		files = []models.UploadedFileInfo{testutil.SalesFile()}
	}
	h := &harness{backend: backend, persist: persist}
	ctrl, err := New(ctx, Options{
		FlowKey:     "flow-1",
		Files:       files,
		Persistence: persist,
		Env:         testEnv,
		Gateway: gateway.NewHTTPClient(gateway.Options{
			BaseURL:       backend.URL(),
			Timeout:       5 * time.Second,
			RetryInterval: time.Millisecond,
		}),
		OnComplete: func(_ context.Context, st models.GuidedUploadFlowState) {
			h.completed = append(h.completed, st)
		},
	})
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(ctx))
	h.ctrl = ctrl
	return h
}

func (h *harness) saved(t *testing.T) *persistence.Envelope {
	t.Helper()
	env, err := h.persist.Load(ctx, persistence.Key(testEnv.Get(), "flow-1"))
	require.NoError(t, err)
	return env
}

func (h *harness) nextTo(t *testing.T, stage models.Stage) {
	t.Helper()
	for h.ctrl.Snapshot().CurrentStage != stage {
		require.NoError(t, h.ctrl.Next(ctx))
	}
}

func TestStageChrome(t *testing.T) {
	want := []struct {
		title    string
		progress int
		footer   bool
	}{
		{"Confirm File Structure", 20, false},
		{"Review Column Names", 40, true},
		{"Review Data Types", 60, true},
		{"Handle Missing Values", 80, true},
		{"Final Preview", 100, false},
	}
	for i, s := range models.Stages {
		assert.Equal(t, want[i].title, Title(s), s)
		assert.Equal(t, want[i].progress, Progress(s), s)
		assert.Equal(t, want[i].footer, ShowFooter(s), s)
	}
	assert.Equal(t, 0, Progress("U9"))
}

func TestController_WalkToPrime(t *testing.T) {
	h := newHarness(t, nil, nil)

	v := h.ctrl.View()
	assert.Equal(t, models.StageConfirmStructure, v.Stage)
	assert.False(t, v.ShowFooter)
	require.IsType(t, stages.HeaderView{}, v.Body)

	h.nextTo(t, models.StageReviewColumns)
	require.NoError(t, h.ctrl.Edit(ctx, models.StageReviewColumns, func() error {
		return h.ctrl.Columns().Rename("sales", "revenue")
	}))

	h.nextTo(t, models.StageMissingValues)
	require.NoError(t, h.ctrl.Edit(ctx, models.StageMissingValues, func() error {
		return h.ctrl.Missing().SetStrategy("revenue", models.StrategyCustom, "0")
	}))
	require.NoError(t, h.ctrl.Edit(ctx, models.StageMissingValues, func() error {
		return h.ctrl.Missing().SetStrategy("region", models.StrategyMode, "")
	}))
	require.NoError(t, h.ctrl.Next(ctx))
	assert.Equal(t, models.StageFinalPreview, h.ctrl.Snapshot().CurrentStage)

	reqs := h.backend.ProcessRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "tmp/sales.csv", reqs[0].ObjectName)
	assert.ElementsMatch(t, []models.TransformInstruction{
		{Column: "sales", MissingStrategy: models.StrategyCustom, CustomValue: 0.0},
		{Column: "region", MissingStrategy: models.StrategyMode},
	}, reqs[0].Instructions)

	pv := h.ctrl.View().Body.(stages.PreviewView)
	assert.Equal(t, stages.SourceLocal, pv.Source, "no preview registered, local summary is shown")
	assert.Equal(t, 1, pv.Summary.RenamedColumns)

	require.NoError(t, h.ctrl.Confirm(ctx))
	require.Len(t, h.completed, 1)
	assert.Equal(t, models.StageFinalPreview, h.completed[0].CurrentStage)

	env := h.saved(t)
	require.NotNil(t, env)
	assert.True(t, env.Primed)

	assert.ErrorIs(t, h.ctrl.Next(ctx), ErrFlowFinished)
	assert.ErrorIs(t, h.ctrl.Confirm(ctx), ErrFlowFinished)
	assert.Len(t, h.completed, 1)
	assert.True(t, h.ctrl.View().Finished)
}

func TestController_MissingValueFailureDoesNotBlock(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.nextTo(t, models.StageMissingValues)
	require.NoError(t, h.ctrl.Edit(ctx, models.StageMissingValues, func() error {
		return h.ctrl.Missing().SetStrategy("sales", models.StrategyMedian, "")
	}))

	h.backend.FailNext(testutil.PathProcessSavedFrame, http.StatusBadGateway)
	require.NoError(t, h.ctrl.Next(ctx))

	assert.Equal(t, models.StageFinalPreview, h.ctrl.Snapshot().CurrentStage)
	assert.Equal(t, 1, h.backend.Calls(testutil.PathProcessSavedFrame))
	strategies := h.ctrl.Snapshot().MissingValueStrategies["sales.csv"]
	require.Len(t, strategies, 1)
	assert.Equal(t, models.StrategyMedian, strategies[0].Kind())
}

func TestController_NoInstructionsNoCall(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.nextTo(t, models.StageFinalPreview)
	assert.Zero(t, h.backend.Calls(testutil.PathProcessSavedFrame))
}

func TestController_ResumesSavedState(t *testing.T) {
	persist := persistence.NewMemoryStore()
	backend := testutil.NewSalesBackend(t)

	first := newHarness(t, persist, backend)
	first.nextTo(t, models.StageReviewColumns)
	require.NoError(t, first.ctrl.Edit(ctx, models.StageReviewColumns, func() error {
		return first.ctrl.Columns().SetKeep("notes", false)
	}))
	first.nextTo(t, models.StageReviewDataTypes)
	want := first.ctrl.Snapshot()

	second := newHarness(t, persist, backend, testutil.StoresFile())
	v := second.ctrl.View()
	assert.True(t, v.Resumed)
	assert.Equal(t, models.StageReviewDataTypes, v.Stage)
	assert.Equal(t, want.UploadedFiles, v.Files, "saved files win over the files passed in")
	assert.Equal(t, want.ColumnNameEdits, second.ctrl.Snapshot().ColumnNameEdits)

	tv := v.Body.(stages.DataTypesView)
	for _, c := range tv.Columns {
		assert.NotEqual(t, "notes", c.ColumnName)
	}
}

func TestController_PrimedStateIsNotResumed(t *testing.T) {
	persist := persistence.NewMemoryStore()
	backend := testutil.NewSalesBackend(t)

	first := newHarness(t, persist, backend)
	first.nextTo(t, models.StageFinalPreview)
	require.NoError(t, first.ctrl.Confirm(ctx))

	second := newHarness(t, persist, backend)
	v := second.ctrl.View()
	assert.False(t, v.Resumed)
	assert.Equal(t, models.StageConfirmStructure, v.Stage)
	assert.False(t, second.saved(t).Primed, "the fresh flow overwrites the primed record")
}

func TestController_CorruptSaveStartsFresh(t *testing.T) {
	persist := persistence.NewMemoryStore()
	bad := models.NewFlowState([]models.UploadedFileInfo{testutil.SalesFile()})
	bad.CurrentStage = "U9"
	require.NoError(t, persist.Save(ctx, persistence.Key(testEnv.Get(), "flow-1"), persistence.NewEnvelope(bad, false)))

	h := newHarness(t, persist, nil)
	assert.False(t, h.ctrl.View().Resumed)
	assert.Equal(t, models.StageConfirmStructure, h.ctrl.Snapshot().CurrentStage)
}

func TestController_PersistsEveryChange(t *testing.T) {
	h := newHarness(t, nil, nil)
	require.NotNil(t, h.saved(t), "fresh flow is saved immediately")

	require.NoError(t, h.ctrl.Next(ctx))
	assert.Equal(t, models.StageReviewColumns, h.saved(t).State.CurrentStage)

	require.NoError(t, h.ctrl.Back(ctx))
	assert.Equal(t, models.StageConfirmStructure, h.saved(t).State.CurrentStage)
}

func TestController_Restart(t *testing.T) {
	h := newHarness(t, nil, nil, testutil.SalesFile(), testutil.StoresFile())
	h.nextTo(t, models.StageReviewDataTypes)
	require.NoError(t, h.ctrl.NextFile(ctx))
	h.ctrl.Maximize()

	require.NoError(t, h.ctrl.Restart(ctx))

	st := h.ctrl.Snapshot()
	assert.Equal(t, models.StageConfirmStructure, st.CurrentStage)
	assert.Equal(t, 0, st.SelectedFileIndex)
	assert.Len(t, st.UploadedFiles, 2)
	assert.Empty(t, st.HeaderSelections)
	assert.Empty(t, st.ColumnNameEdits)
	assert.Empty(t, st.DataTypeSelections)
	assert.Empty(t, st.MissingValueStrategies)
	assert.Equal(t, ChromeMaximized, h.ctrl.Chrome(), "chrome is not flow state")

	hv := h.ctrl.View().Body.(stages.HeaderView)
	assert.Equal(t, "sales.csv", hv.File.Name)
}

func TestController_MultiFileNext(t *testing.T) {
	h := newHarness(t, nil, nil, testutil.SalesFile(), testutil.StoresFile())
	h.nextTo(t, models.StageReviewColumns)

	require.NoError(t, h.ctrl.Next(ctx))
	st := h.ctrl.Snapshot()
	assert.Equal(t, models.StageReviewColumns, st.CurrentStage, "next file first")
	assert.Equal(t, 1, st.SelectedFileIndex)
	cv := h.ctrl.View().Body.(stages.ColumnsView)
	assert.Equal(t, "stores.xlsx", cv.File.Name)

	require.NoError(t, h.ctrl.Next(ctx))
	st = h.ctrl.Snapshot()
	assert.Equal(t, models.StageReviewDataTypes, st.CurrentStage)
	assert.Equal(t, 0, st.SelectedFileIndex, "forward moves start at the first file")
	assert.Contains(t, st.ColumnNameEdits, "sales.csv")
	assert.Contains(t, st.ColumnNameEdits, "stores.xlsx")

	assert.ErrorIs(t, h.ctrl.PreviousFile(ctx), stages.ErrNoPreviousFile)
}

func TestController_Cancel(t *testing.T) {
	h := newHarness(t, nil, nil)
	require.NoError(t, h.ctrl.Next(ctx))
	require.Equal(t, 1, h.persist.Len())

	require.NoError(t, h.ctrl.Cancel(ctx))
	assert.Zero(t, h.persist.Len())
	assert.True(t, h.ctrl.Finished())
	assert.Empty(t, h.completed)
	assert.ErrorIs(t, h.ctrl.Back(ctx), ErrFlowFinished)
}

func TestController_StageGuards(t *testing.T) {
	h := newHarness(t, nil, nil)

	err := h.ctrl.Edit(ctx, models.StageMissingValues, func() error { return nil })
	assert.ErrorIs(t, err, ErrWrongStage)
	assert.ErrorIs(t, h.ctrl.Confirm(ctx), ErrWrongStage)
	assert.ErrorIs(t, h.ctrl.GoBackTo(ctx, models.StageReviewColumns), ErrWrongStage)

	h.nextTo(t, models.StageFinalPreview)
	assert.ErrorIs(t, h.ctrl.GoBackTo(ctx, models.StageConfirmStructure), stages.ErrShortcutNotAllowed)

	require.NoError(t, h.ctrl.GoBackTo(ctx, models.StageReviewDataTypes))
	v := h.ctrl.View()
	assert.Equal(t, models.StageReviewDataTypes, v.Stage)
	assert.True(t, v.ShowFooter)
}

func TestController_Chrome(t *testing.T) {
	h := newHarness(t, nil, nil)
	assert.Equal(t, ChromeNormal, h.ctrl.Chrome())
	h.ctrl.Minimize()
	assert.Equal(t, ChromeMinimized, h.ctrl.View().Chrome)
	h.ctrl.RestoreChrome()
	assert.Equal(t, ChromeNormal, h.ctrl.Chrome())
	assert.Equal(t, models.StageConfirmStructure, h.ctrl.Snapshot().CurrentStage)
}

func TestController_Subscribe(t *testing.T) {
	h := newHarness(t, nil, nil)
	var seen []models.Stage
	stop := h.ctrl.Subscribe(func(st models.GuidedUploadFlowState) {
		seen = append(seen, st.CurrentStage)
	})
	require.NoError(t, h.ctrl.Next(ctx))
	stop()
	require.NoError(t, h.ctrl.Next(ctx))
	assert.Contains(t, seen, models.StageReviewColumns)
	assert.NotContains(t, seen, models.StageReviewDataTypes)
}

func TestController_FailedEditRollsBack(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.nextTo(t, models.StageReviewColumns)

	before := h.ctrl.Columns().Edits()
	err := h.ctrl.Edit(ctx, models.StageReviewColumns, func() error {
		require.NoError(t, h.ctrl.Columns().Rename("sales", "revenue"))
		require.NoError(t, h.ctrl.Columns().SetKeep("notes", false))
		return h.ctrl.Columns().Rename("ghost", "x")
	})
	assert.ErrorIs(t, err, stages.ErrUnknownColumn)
	assert.Equal(t, before, h.ctrl.Columns().Edits())

	h.nextTo(t, models.StageReviewDataTypes)
	sels := h.ctrl.DataTypes().Selections()
	err = h.ctrl.Edit(ctx, models.StageReviewDataTypes, func() error {
		require.NoError(t, h.ctrl.DataTypes().SetRole("qty", models.RoleIdentifier))
		require.NoError(t, h.ctrl.DataTypes().SetType(ctx, "region", models.DataTypeDate))
		return h.ctrl.DataTypes().SetRole("ghost", models.RoleMeasure)
	})
	assert.ErrorIs(t, err, stages.ErrUnknownColumn)
	assert.Equal(t, sels, h.ctrl.DataTypes().Selections())

	require.NoError(t, h.ctrl.Edit(ctx, models.StageReviewDataTypes, func() error {
		return h.ctrl.DataTypes().SetRole("qty", models.RoleIdentifier)
	}))
	assert.NotEqual(t, sels, h.ctrl.DataTypes().Selections())
}
