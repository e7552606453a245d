package stages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trinity/guided-upload/internal/models"
	"github.com/trinity/guided-upload/internal/testutil"
)

func TestHeaderStage(t *testing.T) {
	deps, _, calls := newTestDeps(t, testutil.SalesFile(), testutil.StoresFile())
	s := NewHeaderStage(deps)
	require.NoError(t, s.Load(ctx))

	v := s.View().(HeaderView)
	assert.Equal(t, models.StageConfirmStructure, v.Stage)
	assert.Equal(t, 1, v.TotalSheets)
	assert.Equal(t, 100, v.TotalRows)
	assert.Equal(t, []string{"customer_id", "region", "sales", "order_date", "qty", "notes"}, v.Columns)
	assert.True(t, v.File.HasNext)

	require.NoError(t, s.SetHeaderRow(2))
	assert.ErrorIs(t, s.SetHeaderRow(-1), ErrInvalidHeader)
	assert.ErrorIs(t, s.SetSheet(1), ErrInvalidHeader, "single sheet file")

	// Next on the first of two files moves to the second file.
	require.NoError(t, s.Next(ctx))
	assert.Equal(t, 0, calls.next)
	assert.Equal(t, models.HeaderSelection{HeaderRowIndex: 2}, deps.Store.Snapshot().HeaderSelections["sales.csv"])

	v = s.View().(HeaderView)
	assert.Equal(t, "stores.xlsx", v.File.Name)
	assert.Equal(t, 2, v.TotalSheets)
	require.NoError(t, s.SetSheet(1))

	// Next on the last file hands off to the controller.
	require.NoError(t, s.Next(ctx))
	assert.Equal(t, 1, calls.next)
	assert.Equal(t, 1, deps.Store.Snapshot().HeaderSelections["stores.xlsx"].SheetIndex)
}

func TestHeaderStage_UsableWithoutMetadata(t *testing.T) {
	deps, _, calls := newTestDeps(t, models.UploadedFileInfo{Name: "gone.csv", Path: "tmp/gone.csv"})
	s := NewHeaderStage(deps)

	require.Error(t, s.Load(ctx))
	v := s.View().(HeaderView)
	assert.NotEmpty(t, v.Status.Error)
	assert.Empty(t, v.Columns)

	require.NoError(t, s.SetHeaderRow(1))
	require.NoError(t, s.Next(ctx))
	assert.Equal(t, 1, calls.next)
	assert.Equal(t, 1, deps.Store.Snapshot().HeaderSelections["gone.csv"].HeaderRowIndex)
}

func TestHeaderStage_RestoresStoredSelection(t *testing.T) {
	deps, _, _ := newTestDeps(t, testutil.StoresFile())
	require.NoError(t, deps.Store.SetHeaderSelection("stores.xlsx", models.HeaderSelection{HeaderRowIndex: 3, SheetIndex: 1}))

	s := NewHeaderStage(deps)
	require.NoError(t, s.Load(ctx))
	assert.Equal(t, models.HeaderSelection{HeaderRowIndex: 3, SheetIndex: 1}, s.View().(HeaderView).Selection)
}

func TestStage_HooksPassThrough(t *testing.T) {
	deps, _, calls := newTestDeps(t)
	s := NewHeaderStage(deps)

	require.NoError(t, s.Back(ctx))
	require.NoError(t, s.Restart(ctx))
	require.NoError(t, s.Cancel(ctx))
	assert.Equal(t, 1, calls.back)
	assert.Equal(t, 1, calls.restart)
	assert.Equal(t, 1, calls.cancel)
}

func TestStage_NoFile(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	s := NewColumnsStage(Deps{Store: emptyStore(), Gateway: deps.Gateway})
	assert.ErrorIs(t, s.Load(ctx), ErrNoFile)
	assert.ErrorIs(t, s.NextFile(ctx), ErrNoNextFile)
	assert.ErrorIs(t, s.PreviousFile(ctx), ErrNoPreviousFile)
}
