package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SnipeRadar/internal/domain/models"
	"SnipeRadar/pkg/cache"
	"SnipeRadar/pkg/logger"
)

type fakeUpstream struct {
	calls int
	acts  []models.Activity
	err   error
}

func (f *fakeUpstream) Activities(_ context.Context, _ string) ([]models.Activity, error) {
	f.calls++
	return f.acts, f.err
}

func TestCachedProviderCachesUpstream(t *testing.T) {
	up := &fakeUpstream{acts: []models.Activity{{ActivityID: "1", Currency: "XYZ", ActivityType: "SUN_SHINE"}}}
	mc := cache.NewMemoryCache()
	defer mc.Close()
	p := NewCachedProvider(up, mc, time.Minute, logger.NewNop())

	for i := 0; i < 3; i++ {
		acts, err := p.Activities(context.Background(), "xyz")
		require.NoError(t, err)
		require.Len(t, acts, 1)
	}
	assert.Equal(t, 1, up.calls)
}

func TestCachedProviderUpstreamError(t *testing.T) {
	up := &fakeUpstream{err: errors.New("boom")}
	mc := cache.NewMemoryCache()
	defer mc.Close()
	p := NewCachedProvider(up, mc, time.Minute, logger.NewNop())

	_, err := p.Activities(context.Background(), "XYZ")
	assert.Error(t, err)
}

func TestRecordMergesAndDedups(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	p := NewCachedProvider(nil, mc, time.Minute, logger.NewNop())
	ctx := context.Background()

	a := models.Activity{ActivityID: "a1", Currency: "XYZ", ActivityType: "LAUNCHPAD"}
	require.NoError(t, p.Record(ctx, a))
	require.NoError(t, p.Record(ctx, a))
	require.NoError(t, p.Record(ctx, models.Activity{ActivityID: "a2", Currency: "XYZ", ActivityType: "PROMOTION"}))
	assert.Error(t, p.Record(ctx, models.Activity{Currency: "XYZ"}))

	acts, err := p.Activities(ctx, "XYZ")
	require.NoError(t, err)
	assert.Len(t, acts, 2)
}

func TestRecordDoesNotHideUpstreamActivities(t *testing.T) {
	up := &fakeUpstream{acts: []models.Activity{{ActivityID: "k0", Currency: "XYZ", ActivityType: "LAUNCHPAD"}}}
	mc := cache.NewMemoryCache()
	defer mc.Close()
	p := NewCachedProvider(up, mc, time.Minute, logger.NewNop())
	ctx := context.Background()

	require.NoError(t, p.Record(ctx, models.Activity{ActivityID: "k1", Currency: "XYZ", ActivityType: "PROMOTION"}))

	acts, err := p.Activities(ctx, "XYZ")
	require.NoError(t, err)
	assert.Equal(t, 1, up.calls)
	require.Len(t, acts, 2)
	assert.Equal(t, "LAUNCHPAD", acts[0].ActivityType)
	assert.Equal(t, "PROMOTION", acts[1].ActivityType)

	// an upstream copy of a recorded activity is not counted twice
	require.NoError(t, p.Record(ctx, models.Activity{ActivityID: "k0", Currency: "XYZ", ActivityType: "LAUNCHPAD"}))
	acts, err = p.Activities(ctx, "XYZ")
	require.NoError(t, err)
	assert.Len(t, acts, 2)
	assert.Equal(t, 1, up.calls)
}

func TestRecordedSignalsSurviveUpstreamFailure(t *testing.T) {
	up := &fakeUpstream{err: errors.New("exchange down")}
	mc := cache.NewMemoryCache()
	defer mc.Close()
	p := NewCachedProvider(up, mc, time.Minute, logger.NewNop())
	ctx := context.Background()

	require.NoError(t, p.Record(ctx, models.Activity{ActivityID: "k1", Currency: "XYZ", ActivityType: "SUN_SHINE"}))

	acts, err := p.Activities(ctx, "XYZ")
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, "SUN_SHINE", acts[0].ActivityType)
}
