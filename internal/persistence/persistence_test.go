package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trinity/guided-upload/internal/models"
)

var ctx = context.Background()

func sampleState() models.GuidedUploadFlowState {
	sheets := 3
	st := models.NewFlowState([]models.UploadedFileInfo{
		{Name: "sales.csv", Path: "tmp/sales.csv", Size: 2048},
		{Name: "stores.xlsx", Path: "tmp/stores.xlsx", Size: 4096, TotalSheets: &sheets},
	})
	st.CurrentStage = models.StageMissingValues
	st.SelectedFileIndex = 1
	st.HeaderSelections["stores.xlsx"] = models.HeaderSelection{HeaderRowIndex: 2, SheetIndex: 1}
	st.ColumnNameEdits["sales.csv"] = []models.ColumnNameEdit{
		{OriginalName: "customer_id", EditedName: "client", Keep: true},
		{OriginalName: "notes", EditedName: "notes", Keep: false},
	}
	st.DataTypeSelections["sales.csv"] = []models.DataTypeSelection{
		{ColumnName: "client", SelectedType: models.DataTypeText, DetectedType: models.DataTypeNumber, ColumnRole: models.RoleIdentifier},
		{ColumnName: "ordered", SelectedType: models.DataTypeDate, DetectedType: models.DataTypeText, ColumnRole: models.RoleIdentifier, Format: "%Y-%m-%d"},
	}
	st.MissingValueStrategies["sales.csv"] = []models.MissingValueStrategy{
		{ColumnName: "sales", Treatment: models.Custom{Value: "5"}},
		{ColumnName: "region", Treatment: models.Mode{}},
		{ColumnName: "qty", Treatment: models.Drop{}},
	}
	return st
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	file, err := NewFileStore(filepath.Join(t.TempDir(), "flows"))
	require.NoError(t, err)
	duck, err := NewDuckStore(filepath.Join(t.TempDir(), "flows.duckdb"), DuckOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { duck.Close() })
	return map[string]Store{
		"file":   file,
		"duckdb": duck,
		"memory": NewMemoryStore(),
	}
}

func TestStores_RoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			key := Key(models.Environment{ClientID: "acme", AppID: "trinity", ProjectID: "p1"}, "upload-1")

			got, err := s.Load(ctx, key)
			require.NoError(t, err)
			assert.Nil(t, got, "nothing stored yet")

			want := sampleState()
			require.NoError(t, s.Save(ctx, key, NewEnvelope(want, false)))

			got, err = s.Load(ctx, key)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, EnvelopeVersion, got.Version)
			assert.False(t, got.Primed)
			assert.False(t, got.SavedAt.IsZero())
			assert.True(t, cmp.Equal(want, got.State, cmpopts.EquateEmpty()), cmp.Diff(want, got.State, cmpopts.EquateEmpty()))

			// overwrite as primed
			require.NoError(t, s.Save(ctx, key, NewEnvelope(want, true)))
			got, err = s.Load(ctx, key)
			require.NoError(t, err)
			assert.True(t, got.Primed)

			require.NoError(t, s.Delete(ctx, key))
			got, err = s.Load(ctx, key)
			require.NoError(t, err)
			assert.Nil(t, got)

			require.NoError(t, s.Delete(ctx, key), "deleting a missing key is not an error")
		})
	}
}

func TestStores_KeysAreIsolated(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			a := Key(models.Environment{ClientID: "acme"}, "f")
			b := Key(models.Environment{ClientID: "globex"}, "f")

			st := sampleState()
			require.NoError(t, s.Save(ctx, a, NewEnvelope(st, false)))

			got, err := s.Load(ctx, b)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestStores_RejectInvalidState(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			st := sampleState()
			st.CurrentStage = "U9"
			require.NoError(t, s.Save(ctx, "k", NewEnvelope(st, false)))
			_, err := s.Load(ctx, "k")
			assert.ErrorIs(t, err, ErrCorruptState)

			env := NewEnvelope(sampleState(), false)
			env.Version = 99
			require.NoError(t, s.Save(ctx, "v", env))
			_, err = s.Load(ctx, "v")
			assert.ErrorIs(t, err, ErrUnsupportedVersion)
		})
	}
}

func TestMemoryStore_SavesACopy(t *testing.T) {
	s := NewMemoryStore()
	st := sampleState()
	require.NoError(t, s.Save(ctx, "k", NewEnvelope(st, false)))
	st.ColumnNameEdits["sales.csv"][0].EditedName = "changed"

	got, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "client", got.State.ColumnNameEdits["sales.csv"][0].EditedName)
	assert.Equal(t, 1, s.Len())
}

func TestFileStore_CorruptDocument(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.path("k"), []byte("{not json"), 0644))

	_, err = s.Load(ctx, "k")
	assert.ErrorIs(t, err, ErrCorruptState)
}

func TestDuckStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flows.duckdb")
	s, err := NewDuckStore(path, DuckOptions{Threads: 1})
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "a", NewEnvelope(sampleState(), true)))
	require.NoError(t, s.Save(ctx, "b", NewEnvelope(sampleState(), false)))
	n, err := s.CountPrimed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, s.Close())

	s, err = NewDuckStore(path, DuckOptions{Threads: 1})
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Load(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StageMissingValues, got.State.CurrentStage)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "guided-upload:acme:trinity:p1:flow-7",
		Key(models.Environment{ClientID: "acme", AppID: "trinity", ProjectID: "p1"}, "flow-7"))
	assert.Equal(t, "guided-upload:_:_:_:_", Key(models.Environment{}, " "))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	for _, driver := range []string{"file", "duckdb", "memory", ""} {
		s, err := Open(driver, dir, DuckOptions{})
		require.NoError(t, err, driver)
		require.NoError(t, s.Close())
	}
	_, err := Open("redis", dir, DuckOptions{})
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestDuckOptions_Pragmas(t *testing.T) {
	assert.Equal(t, []string{
		"PRAGMA memory_limit='1GB'",
		"PRAGMA threads=4",
		"PRAGMA enable_progress_bar=false",
	}, DuckOptions{}.pragmas())
	assert.Equal(t, []string{
		"PRAGMA memory_limit='512MB'",
		"PRAGMA threads=2",
		"PRAGMA enable_progress_bar=false",
	}, DuckOptions{Threads: 2, MemoryLimit: " 512MB "}.pragmas())
}

func TestDuckStore_AppliesOptions(t *testing.T) {
	s, err := NewDuckStore(filepath.Join(t.TempDir(), "flows.duckdb"), DuckOptions{Threads: 3, MemoryLimit: "512MB"})
	require.NoError(t, err)
	defer s.Close()

	var threads int64
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT current_setting('threads')`).Scan(&threads))
	assert.Equal(t, int64(3), threads)

	_, err = NewDuckStore(filepath.Join(t.TempDir(), "bad.duckdb"), DuckOptions{MemoryLimit: "lots"})
	assert.Error(t, err)
}
