package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLSetMarkSeenOnce(t *testing.T) {
	s := NewTTLSet(time.Hour, 10)
	ctx := context.Background()

	first, err := s.MarkSeen(ctx, "123|XYZ")
	require.NoError(t, err)
	assert.True(t, first)

	again, _ := s.MarkSeen(ctx, "123|XYZ")
	assert.False(t, again)

	n, _ := s.Size(ctx)
	assert.Equal(t, 1, n)
}

func TestTTLSetExpiry(t *testing.T) {
	now := time.Unix(0, 0)
	s := NewTTLSet(time.Minute, 10)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = s.MarkSeen(ctx, "a")
	now = now.Add(30 * time.Second)
	_, _ = s.MarkSeen(ctx, "b")
	now = now.Add(45 * time.Second)

	assert.False(t, s.Contains("a"))
	assert.True(t, s.Contains("b"))

	fresh, _ := s.MarkSeen(ctx, "a")
	assert.True(t, fresh, "expired keys can be seen again")
}

func TestTTLSetEvictsOldest(t *testing.T) {
	s := NewTTLSet(0, 2)
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		_, _ = s.MarkSeen(ctx, k)
	}
	assert.False(t, s.Contains("a"))
	assert.True(t, s.Contains("b"))
	assert.True(t, s.Contains("c"))
}

func TestTTLSetConcurrentMarkSeenIsAtomic(t *testing.T) {
	s := NewTTLSet(time.Hour, 100)
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.MarkSeen(context.Background(), "same"); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestTTLSetRemove(t *testing.T) {
	s := NewTTLSet(time.Hour, 10)
	ctx := context.Background()

	_, _ = s.MarkSeen(ctx, "a")
	require.NoError(t, s.Remove(ctx, "a"))
	require.NoError(t, s.Remove(ctx, "missing"))
	assert.False(t, s.Contains("a"))

	fresh, err := s.MarkSeen(ctx, "a")
	require.NoError(t, err)
	assert.True(t, fresh)
}
