package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SnipeRadar/internal/domain/models"
	"SnipeRadar/pkg/logger"
	"SnipeRadar/pkg/metrics"
)

type fakeRecorder struct {
	recorded []models.Activity
	err      error
}

func (r *fakeRecorder) Record(_ context.Context, a models.Activity) error {
	if r.err != nil {
		return r.err
	}
	r.recorded = append(r.recorded, a)
	return nil
}

func TestActivitySignalsHandler(t *testing.T) {
	rec := &fakeRecorder{}
	h := NewActivitySignalsHandler("activity-signals", rec, metrics.Nop{}, logger.NewNop())
	assert.Equal(t, "activity-signals", h.Topic())

	ctx := context.Background()
	require.NoError(t, h.Handle(ctx, []byte(`{"activityId":"a1","currency":" abc ","activityType":"sun_shine","ts":1767268800000}`)))
	require.Len(t, rec.recorded, 1)
	assert.Equal(t, models.Activity{ActivityID: "a1", Currency: "ABC", ActivityType: "SUN_SHINE"}, rec.recorded[0])

	assert.NoError(t, h.Handle(ctx, []byte(`not json`)), "malformed payloads are dropped, not retried")
	assert.NoError(t, h.Handle(ctx, []byte(`{"currency":"ABC"}`)))
	assert.Len(t, rec.recorded, 1)

	rec.err = errors.New("redis down")
	assert.Error(t, h.Handle(ctx, []byte(`{"currency":"ABC","activityType":"PROMOTION"}`)))
}
