package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/trinity/guided-upload/internal/models"
)

func TestLatestState_KeepsNewest(t *testing.T) {
	l := newLatestState()

	assert.False(t, l.offer(models.GuidedUploadFlowState{CurrentStage: models.StageReviewColumns}))
	assert.True(t, l.offer(models.GuidedUploadFlowState{CurrentStage: models.StageReviewDataTypes}))
	assert.True(t, l.offer(models.GuidedUploadFlowState{CurrentStage: models.StageMissingValues}))

	st := <-l.updates()
	assert.Equal(t, models.StageMissingValues, st.CurrentStage)

	select {
	case extra := <-l.updates():
		t.Fatalf("unexpected queued state %s", extra.CurrentStage)
	default:
	}

	assert.False(t, l.offer(models.GuidedUploadFlowState{CurrentStage: models.StageFinalPreview}))
	assert.Equal(t, models.StageFinalPreview, (<-l.updates()).CurrentStage)
}
