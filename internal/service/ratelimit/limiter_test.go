package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowConsumesAndRefills(t *testing.T) {
	now := time.Unix(0, 0)
	l := New(2, 1)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("calendar"))
	assert.True(t, l.Allow("calendar"))
	assert.False(t, l.Allow("calendar"))
	assert.True(t, l.Allow("symbols"), "keys are independent")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("calendar"))
	assert.False(t, l.Allow("calendar"))
}

func TestWaitHonoursContext(t *testing.T) {
	l := New(1, 0.001)
	require.NoError(t, l.Wait(context.Background(), "k"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx, "k"), context.DeadlineExceeded)
}
