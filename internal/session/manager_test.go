package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trinity/guided-upload/internal/gateway"
	"github.com/trinity/guided-upload/internal/models"
	"github.com/trinity/guided-upload/internal/persistence"
	"github.com/trinity/guided-upload/internal/testutil"
)

var ctx = context.Background()

func newTestManager(t *testing.T, maxFlows int) (*Manager, *persistence.MemoryStore) {
	t.Helper()
	backend := testutil.NewSalesBackend(t)
	persist := persistence.NewMemoryStore()
	m := NewManager(Config{
		Persistence: persist,
		Gateway: gateway.NewHTTPClient(gateway.Options{
			BaseURL:       backend.URL(),
			RetryInterval: time.Millisecond,
		}),
		MaxFlows: maxFlows,
	})
	return m, persist
}

func salesRequest(key string) StartRequest {
	return StartRequest{
		FlowKey: key,
		Env:     models.Environment{ClientID: "acme", AppID: "trinity", ProjectID: "p1"},
		Files:   []models.UploadedFileInfo{testutil.SalesFile()},
	}
}

func TestManager_StartFlow(t *testing.T) {
	m, persist := newTestManager(t, 0)

	fs, err := m.StartFlow(ctx, salesRequest("upload-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, fs.ID)
	assert.Equal(t, "upload-1", fs.FlowKey)
	assert.Equal(t, models.StageConfirmStructure, fs.Controller.Snapshot().CurrentStage)
	assert.Equal(t, 1, persist.Len())

	again, err := m.StartFlow(ctx, salesRequest(" upload-1 "))
	require.NoError(t, err)
	assert.Equal(t, fs.ID, again.ID, "live flow with the same key is reused")

	other := salesRequest("upload-1")
	other.Env.ClientID = "globex"
	third, err := m.StartFlow(ctx, other)
	require.NoError(t, err)
	assert.NotEqual(t, fs.ID, third.ID)

	anon, err := m.StartFlow(ctx, salesRequest(""))
	require.NoError(t, err)
	assert.Equal(t, anon.ID, anon.FlowKey)
	assert.Equal(t, 3, m.Count())
}

func TestManager_ResumeAfterRemove(t *testing.T) {
	m, _ := newTestManager(t, 0)

	fs, err := m.StartFlow(ctx, salesRequest("upload-1"))
	require.NoError(t, err)
	require.NoError(t, fs.Controller.Next(ctx))
	require.True(t, m.RemoveFlow(fs.ID))
	assert.False(t, m.RemoveFlow(fs.ID))

	resumed, err := m.StartFlow(ctx, salesRequest("upload-1"))
	require.NoError(t, err)
	assert.NotEqual(t, fs.ID, resumed.ID)
	assert.Equal(t, models.StageReviewColumns, resumed.Controller.Snapshot().CurrentStage)
}

func TestManager_Capacity(t *testing.T) {
	m, _ := newTestManager(t, 2)

	a, err := m.StartFlow(ctx, salesRequest("a"))
	require.NoError(t, err)
	_, err = m.StartFlow(ctx, salesRequest("b"))
	require.NoError(t, err)

	_, err = m.StartFlow(ctx, salesRequest("c"))
	assert.ErrorIs(t, err, ErrTooManyFlows)

	require.NoError(t, a.Controller.Cancel(ctx))
	c, err := m.StartFlow(ctx, salesRequest("c"))
	require.NoError(t, err)
	assert.Equal(t, 2, m.Count())

	_, ok := m.GetFlow(a.ID)
	assert.False(t, ok, "finished flow was evicted")
	_, ok = m.GetFlow(c.ID)
	assert.True(t, ok)
}

func TestManager_CleanupOldFlows(t *testing.T) {
	m, _ := newTestManager(t, 0)

	stale, err := m.StartFlow(ctx, salesRequest("stale"))
	require.NoError(t, err)
	fresh, err := m.StartFlow(ctx, salesRequest("fresh"))
	require.NoError(t, err)

	m.mu.Lock()
	m.flows[stale.ID].LastAccessed = time.Now().Add(-2 * time.Hour)
	m.flows[fresh.ID].LastAccessed = time.Now().Add(-time.Minute)
	m.mu.Unlock()

	assert.Equal(t, 1, m.CleanupOldFlows(30*time.Minute))
	_, ok := m.GetFlow(stale.ID)
	assert.False(t, ok)
	_, ok = m.GetFlow(fresh.ID)
	assert.True(t, ok)

	m.mu.Lock()
	m.flows[fresh.ID].LastAccessed = time.Now().Add(-2 * time.Hour)
	m.mu.Unlock()
	require.True(t, m.TouchFlow(fresh.ID))
	assert.Zero(t, m.CleanupOldFlows(30*time.Minute), "touched flow is kept alive")
	assert.False(t, m.TouchFlow("missing"))
}

func TestManager_OnComplete(t *testing.T) {
	backend := testutil.NewSalesBackend(t)
	var got []string
	m := NewManager(Config{
		Persistence: persistence.NewMemoryStore(),
		Gateway:     gateway.NewHTTPClient(gateway.Options{BaseURL: backend.URL(), RetryInterval: time.Millisecond}),
		OnComplete: func(_ context.Context, id string, st models.GuidedUploadFlowState) {
			got = append(got, id)
		},
	})

	fs, err := m.StartFlow(ctx, salesRequest("upload-1"))
	require.NoError(t, err)
	for fs.Controller.Snapshot().CurrentStage != models.StageFinalPreview {
		require.NoError(t, fs.Controller.Next(ctx))
	}
	require.NoError(t, fs.Controller.Confirm(ctx))
	assert.Equal(t, []string{fs.ID}, got)
}
