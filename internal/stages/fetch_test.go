package stages

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trinity/guided-upload/internal/models"
	"github.com/trinity/guided-upload/internal/testutil"
)

func TestFetchTracker(t *testing.T) {
	a := models.FetchKey{FileName: "a.csv", FilePath: "tmp/a.csv"}
	b := models.FetchKey{FileName: "b.csv", FilePath: "tmp/b.csv"}

	t.Run("in flight key is not claimed twice", func(t *testing.T) {
		var tr FetchTracker
		tk, ok := tr.Begin(a)
		require.True(t, ok)
		_, ok = tr.Begin(a)
		assert.False(t, ok)

		assert.True(t, tr.Finish(tk, true))
		assert.True(t, tr.Loaded(a))
		_, ok = tr.Begin(a)
		assert.False(t, ok, "loaded key must not be fetched again")

		_, ok = tr.Begin(b)
		assert.True(t, ok)
	})

	t.Run("failure leaves key retryable", func(t *testing.T) {
		var tr FetchTracker
		tk, _ := tr.Begin(a)
		assert.True(t, tr.Finish(tk, false))
		assert.False(t, tr.Loaded(a))
		assert.False(t, tr.InFlight())
		_, ok := tr.Begin(a)
		assert.True(t, ok)
	})

	t.Run("reset makes outstanding tickets stale", func(t *testing.T) {
		var tr FetchTracker
		tk, _ := tr.Begin(a)
		tr.Reset()
		assert.False(t, tr.Finish(tk, true))
		assert.False(t, tr.Loaded(a))
	})

	t.Run("path change is a new key", func(t *testing.T) {
		var tr FetchTracker
		tk, _ := tr.Begin(a)
		tr.Finish(tk, true)
		_, ok := tr.Begin(models.FetchKey{FileName: "a.csv", FilePath: "saved/a.arrow"})
		assert.True(t, ok)
	})
}

func TestLoad_OneCallPerKey(t *testing.T) {
	deps, backend, _ := newTestDeps(t)
	s := NewColumnsStage(deps)
	backend.HoldMetadata()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.Load(ctx))
	}()
	require.Eventually(t, func() bool { return backend.Calls(testutil.PathFileMetadata) == 1 },
		2*time.Second, 5*time.Millisecond)

	// concurrent load while the first is in flight
	require.NoError(t, s.Load(ctx))
	assert.True(t, s.View().(ColumnsView).Status.Loading)

	backend.Release()
	wg.Wait()
	assert.Equal(t, 1, backend.Calls(testutil.PathFileMetadata))

	require.NoError(t, s.Load(ctx))
	require.NoError(t, s.Load(ctx))
	assert.Equal(t, 1, backend.Calls(testutil.PathFileMetadata), "loaded key must not be refetched")
	assert.Len(t, s.View().(ColumnsView).Columns, 6)
}

func TestLoad_StaleResultDiscarded(t *testing.T) {
	deps, backend, _ := newTestDeps(t, testutil.SalesFile(), testutil.StoresFile())
	s := NewColumnsStage(deps)
	backend.HoldMetadata()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.Load(ctx))
	}()
	require.Eventually(t, func() bool { return backend.Calls(testutil.PathFileMetadata) == 1 },
		2*time.Second, 5*time.Millisecond)

	require.NoError(t, deps.Store.SetSelectedFileIndex(1))
	s.Reset()
	backend.Release()
	wg.Wait()

	assert.Empty(t, s.View().(ColumnsView).Columns, "result for the previous file must be discarded")

	require.NoError(t, s.Load(ctx))
	v := s.View().(ColumnsView)
	assert.Equal(t, "stores.xlsx", v.File.Name)
	require.Len(t, v.Columns, 3)
	assert.Equal(t, "store_id", v.Columns[0].OriginalName)
}

func TestLoad_FailureIsRetried(t *testing.T) {
	deps, backend, _ := newTestDeps(t)
	backend.FailNext(testutil.PathFileMetadata, 500)
	s := NewColumnsStage(deps)

	err := s.Load(ctx)
	require.Error(t, err)
	v := s.View().(ColumnsView)
	assert.NotEmpty(t, v.Status.Error)
	assert.False(t, v.Status.Loading)

	require.NoError(t, s.Load(ctx))
	v = s.View().(ColumnsView)
	assert.Empty(t, v.Status.Error)
	assert.Len(t, v.Columns, 6)
	assert.Equal(t, 2, backend.Calls(testutil.PathFileMetadata))
}

func TestLoad_MalformedMetadata(t *testing.T) {
	deps, backend, _ := newTestDeps(t)
	backend.SetRaw(testutil.PathFileMetadata, 200, `{"total_rows": 10}`)
	s := NewDataTypesStage(deps)

	require.Error(t, s.Load(ctx))
	v := s.View().(DataTypesView)
	assert.Empty(t, v.Columns)
	assert.Contains(t, v.Status.Error, "malformed")

	// nothing was loaded, so nothing is written
	require.NoError(t, s.Commit())
	assert.Empty(t, deps.Store.Snapshot().DataTypeSelections)
}

func TestLoad_SendsEnvironment(t *testing.T) {
	deps, backend, _ := newTestDeps(t)
	s := NewHeaderStage(deps)
	require.NoError(t, s.Load(ctx))

	reqs := backend.MetadataRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, models.FileMetadataRequest{FilePath: "tmp/sales.csv", ClientID: "acme", AppID: "trinity", ProjectID: "p1"}, reqs[0])
}
