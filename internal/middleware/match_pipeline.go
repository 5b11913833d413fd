package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SnipeRadar/internal/domain/models"
	domrepo "SnipeRadar/internal/domain/repository"
	"SnipeRadar/pkg/logger"
)

// Backpressure policies.
const (
	PolicyBlock      = "block"
	PolicyDropOldest = "drop_oldest"
)

var (
	ErrPipelineFull    = errors.New("pipeline full")
	ErrPipelineStopped = errors.New("pipeline stopped")
)

// BatchHandler is the downstream stage, normally the target bridge.
type BatchHandler interface {
	HandleBatch(ctx context.Context, batch models.PatternBatch) error
}

// MatchPipeline is the bounded queue between detection and the bridge.
// When the bridge falls behind, Enqueue either blocks up to a timeout and
// then drops the new batch, or evicts the oldest queued batch.
type MatchPipeline struct {
	handler        BatchHandler
	metrics        domrepo.Metrics
	log            *logger.Logger
	bufSize        int
	policy         string
	enqueueTimeout time.Duration
	maxRetries     int

	ch      chan models.PatternBatch
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	// serializes drop_oldest eviction against concurrent producers
	evictMu sync.Mutex
}

type PipelineOption func(*MatchPipeline)

// WithBufferSize sets the queue capacity in batches.
func WithBufferSize(n int) PipelineOption {
	return func(p *MatchPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithPolicy sets the backpressure policy. Unknown values keep the default.
func WithPolicy(policy string) PipelineOption {
	return func(p *MatchPipeline) {
		if policy == PolicyBlock || policy == PolicyDropOldest {
			p.policy = policy
		}
	}
}

// WithEnqueueTimeout bounds how long a blocking Enqueue waits for space.
func WithEnqueueTimeout(d time.Duration) PipelineOption {
	return func(p *MatchPipeline) {
		if d > 0 {
			p.enqueueTimeout = d
		}
	}
}

// WithMaxRetries bounds redelivery of a batch whose handler failed.
func WithMaxRetries(n int) PipelineOption {
	return func(p *MatchPipeline) {
		if n >= 0 {
			p.maxRetries = n
		}
	}
}

func NewMatchPipeline(handler BatchHandler, metrics domrepo.Metrics, log *logger.Logger, opts ...PipelineOption) *MatchPipeline {
	p := &MatchPipeline{
		handler:        handler,
		metrics:        metrics,
		log:            log.With(logger.String("component", "match_pipeline")),
		bufSize:        256,
		policy:         PolicyBlock,
		enqueueTimeout: 2 * time.Second,
		maxRetries:     3,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ch = make(chan models.PatternBatch, p.bufSize)
	p.stopCh = make(chan struct{})
	return p
}

// Policy returns the active backpressure policy.
func (p *MatchPipeline) Policy() string { return p.policy }

// Depth returns the number of queued batches.
func (p *MatchPipeline) Depth() int { return len(p.ch) }

// Enqueue queues a batch for the bridge. Empty batches are ignored.
func (p *MatchPipeline) Enqueue(ctx context.Context, batch models.PatternBatch) error {
	if len(batch.Matches) == 0 {
		return nil
	}
	stop := p.stopSignal()
	select {
	case <-stop:
		return ErrPipelineStopped
	default:
	}
	if batch.Enqueued.IsZero() {
		batch.Enqueued = time.Now()
	}

	var err error
	if p.policy == PolicyDropOldest {
		p.enqueueDropOldest(batch)
	} else {
		err = p.enqueueBlock(ctx, batch, stop)
	}
	p.metrics.SetPipelineDepth(len(p.ch))
	return err
}

func (p *MatchPipeline) enqueueBlock(ctx context.Context, batch models.PatternBatch, stop <-chan struct{}) error {
	select {
	case p.ch <- batch:
		return nil
	default:
	}

	timer := time.NewTimer(p.enqueueTimeout)
	defer timer.Stop()
	select {
	case p.ch <- batch:
		return nil
	case <-timer.C:
		p.drop(batch, "enqueue timeout")
		return fmt.Errorf("enqueue %d matches: %w", len(batch.Matches), ErrPipelineFull)
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return ErrPipelineStopped
	}
}

func (p *MatchPipeline) enqueueDropOldest(batch models.PatternBatch) {
	p.evictMu.Lock()
	defer p.evictMu.Unlock()
	for {
		select {
		case p.ch <- batch:
			return
		default:
		}
		select {
		case old := <-p.ch:
			p.drop(old, "evicted oldest")
		default:
		}
	}
}

func (p *MatchPipeline) drop(batch models.PatternBatch, reason string) {
	p.metrics.RecordPipelineDrop(p.policy)
	p.log.Warn("pattern batch dropped",
		logger.String("reason", reason),
		logger.String("source", string(batch.Source)),
		logger.Int("matches", len(batch.Matches)),
		logger.Duration("age", time.Since(batch.Enqueued)))
}

func (p *MatchPipeline) stopSignal() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopCh
}

// Start launches the consumer. Calling Start twice is a no-op; Start after
// Stop resumes consuming whatever is still queued.
func (p *MatchPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	select {
	case <-p.stopCh:
		p.stopCh = make(chan struct{})
	default:
	}
	stop := p.stopCh
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case b := <-p.ch:
				p.metrics.SetPipelineDepth(len(p.ch))
				p.deliver(ctx, b, stop)
			}
		}
	}()
}

// deliver hands a batch to the bridge, retrying with exponential backoff
// while the handler reports a failure.
func (p *MatchPipeline) deliver(ctx context.Context, b models.PatternBatch, stop <-chan struct{}) {
	backoff := 50 * time.Millisecond
	for attempt := 0; ; attempt++ {
		start := time.Now()
		err := p.handler.HandleBatch(ctx, b)
		if err == nil {
			p.metrics.RecordLatency("pipeline_deliver", time.Since(start).Seconds())
			return
		}
		p.metrics.RecordError("pipeline_deliver")
		if attempt >= p.maxRetries || ctx.Err() != nil {
			p.log.Error("bridge failed to handle batch",
				logger.Error(err),
				logger.String("source", string(b.Source)),
				logger.Int("matches", len(b.Matches)),
				logger.Int("attempts", attempt+1))
			p.metrics.RecordPipelineDrop("handler_error")
			return
		}
		p.log.Warn("bridge batch failed, retrying", logger.Error(err), logger.Duration("backoff", backoff))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		case <-stop:
			return
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
}

// Stop stops the consumer and waits for an in-flight batch to finish.
func (p *MatchPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	p.mu.Unlock()
	p.wg.Wait()
}
