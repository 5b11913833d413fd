package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"SnipeRadar/pkg/logger"
)

// RedisQueue publishes messages onto a Redis list. Consumers pop from the
// right end, so delivery is FIFO.
type RedisQueue struct {
	logger    *logger.Logger
	client    *redis.Client
	mu        sync.RWMutex
	isRunning bool
	keyPrefix string
	name      string
	maxLen    int64
}

var _ QueueService = (*RedisQueue)(nil)

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		r.keyPrefix = prefix
	}
}

// WithQueueName sets the list name under the prefix.
func WithQueueName(name string) RedisQueueOption {
	return func(r *RedisQueue) {
		r.name = name
	}
}

// WithMaxLen caps the list; the oldest messages are trimmed first.
func WithMaxLen(n int64) RedisQueueOption {
	return func(r *RedisQueue) {
		r.maxLen = n
	}
}

// NewRedisQueue creates a publisher. Call Start before publishing.
func NewRedisQueue(lgr *logger.Logger, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	rq := &RedisQueue{
		logger:    lgr,
		client:    client,
		keyPrefix: "snipe",
		name:      "ready",
	}
	for _, opt := range opts {
		opt(rq)
	}
	return rq
}

// NewRedisPublisher creates and starts a publisher.
func NewRedisPublisher(lgr *logger.Logger, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	q := NewRedisQueue(lgr, client, opts...)
	if err := q.Start(); err != nil {
		lgr.Error("redis publisher start failed", logger.Error(err))
	}
	return q
}

// Start checks the connection and marks the queue running.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isRunning {
		return fmt.Errorf("queue already running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	r.isRunning = true
	r.logger.Info("redis publisher started",
		logger.String("addr", r.client.Options().Addr),
		logger.String("queue", r.Key()))
	return nil
}

// Stop marks the queue stopped. Later publishes fail.
func (r *RedisQueue) Stop(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isRunning {
		return nil
	}
	r.isRunning = false
	r.logger.Info("redis publisher stopped", logger.String("queue", r.Key()))
	return nil
}

// Enqueue adds a message to the queue.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.RLock()
	running := r.isRunning
	r.mu.RUnlock()
	if !running {
		return fmt.Errorf("queue not running")
	}

	msg := Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	msgData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.Key(), msgData)
	if r.maxLen > 0 {
		pipe.LTrim(ctx, r.Key(), 0, r.maxLen-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

// PublishMessage publishes a message (implements QueueService).
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	return r.Enqueue(ctx, msgType, payload)
}

// Depth returns the number of queued messages.
func (r *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := r.client.LLen(ctx, r.Key()).Result()
	if err != nil {
		return 0, fmt.Errorf("llen: %w", err)
	}
	return n, nil
}

// Key returns the Redis list key.
func (r *RedisQueue) Key() string {
	return fmt.Sprintf("%s:%s", r.keyPrefix, r.name)
}
