package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"SnipeRadar/pkg/logger"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() {
		_ = client.Close()
		_ = container.Terminate(ctx)
	})
	return client
}

func TestRedisQueuePublish(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	q := NewRedisQueue(logger.NewNop(), client, WithMaxLen(2))
	assert.Error(t, q.PublishMessage(ctx, "target_ready", nil), "publishing before start fails")
	require.NoError(t, q.Start())
	defer q.Stop(ctx)
	assert.Equal(t, "snipe:ready", q.Key())

	for _, sym := range []string{"AAAUSDT", "BBBUSDT", "CCCUSDT"} {
		require.NoError(t, q.PublishMessage(ctx, "target_ready", map[string]string{"symbol": sym}))
	}

	n, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	raw, err := client.RPop(ctx, q.Key()).Result()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Equal(t, "target_ready", msg.Type)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, map[string]interface{}{"symbol": "BBBUSDT"}, msg.Payload)
}
