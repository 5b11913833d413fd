package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"SnipeRadar/internal/domain/models"
	domrepo "SnipeRadar/internal/domain/repository"
	"SnipeRadar/pkg/logger"
)

// pollFunc performs one fetch-normalize-analyze cycle for a layer.
type pollFunc func(ctx context.Context) (models.DetectionResult, error)

// LayerHealth is the observable state of one detection layer.
type LayerHealth struct {
	Source              models.LayerSource `json:"source"`
	Interval            time.Duration      `json:"interval"`
	Polls               int64              `json:"polls"`
	Failures            int64              `json:"failures"`
	ConsecutiveFailures int                `json:"consecutiveFailures"`
	SkippedTicks        int64              `json:"skippedTicks"`
	LastSuccess         time.Time          `json:"lastSuccess,omitempty"`
	LastError           string             `json:"lastError,omitempty"`
	NextAttempt         time.Time          `json:"nextAttempt,omitempty"`
}

// layerPoller runs one periodic detection layer. A failed poll is emitted as
// an error result and pushes the next attempt out by an exponential backoff;
// ticks before that point are skipped, but the ticker itself keeps running.
type layerPoller struct {
	source   models.LayerSource
	interval time.Duration
	timeout  time.Duration
	poll     pollFunc
	emit     func(models.DetectionResult)
	metrics  domrepo.Metrics
	log      *logger.Logger
	now      func() time.Time

	mu     sync.Mutex
	bo     *backoff.Backoff
	health LayerHealth
}

func newLayerPoller(source models.LayerSource, interval, timeout time.Duration, poll pollFunc, emit func(models.DetectionResult), metrics domrepo.Metrics, log *logger.Logger) *layerPoller {
	return &layerPoller{
		source:   source,
		interval: interval,
		timeout:  timeout,
		poll:     poll,
		emit:     emit,
		metrics:  metrics,
		log:      log.With(logger.String("layer", string(source))),
		now:      time.Now,
		bo: &backoff.Backoff{
			Min:    interval,
			Max:    10 * interval,
			Factor: 2,
			Jitter: true,
		},
		health: LayerHealth{Source: source, Interval: interval},
	}
}

// run polls immediately and then on every tick until ctx is done.
func (p *layerPoller) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *layerPoller) tick(ctx context.Context) {
	now := p.now()
	p.mu.Lock()
	if now.Before(p.health.NextAttempt) {
		p.health.SkippedTicks++
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	pollCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := p.now()
	res, err := p.safePoll(pollCtx)
	took := p.now().Sub(start)
	if ctx.Err() != nil {
		// shutting down; the in-flight poll was cancelled, not failed
		return
	}

	res.Source = p.source
	if res.Timestamp.IsZero() {
		res.Timestamp = start
	}
	p.metrics.RecordLayerPoll(string(p.source), err == nil, took.Seconds())

	p.mu.Lock()
	p.health.Polls++
	if err != nil {
		p.health.Failures++
		p.health.ConsecutiveFailures++
		p.health.LastError = err.Error()
		// half an interval of slack so tick jitter never skips an extra tick
		delay := p.bo.Duration()
		p.health.NextAttempt = now.Add(delay - p.interval/2)
		failures := p.health.ConsecutiveFailures
		p.mu.Unlock()

		res.Success = false
		res.Error = err.Error()
		p.log.Warn("layer poll failed",
			logger.Error(err),
			logger.Int("consecutive_failures", failures),
			logger.Duration("retry_in", delay))
	} else {
		p.health.ConsecutiveFailures = 0
		p.health.LastError = ""
		p.health.LastSuccess = start
		p.health.NextAttempt = time.Time{}
		p.bo.Reset()
		p.mu.Unlock()

		res.Success = true
		p.log.Debug("layer poll completed",
			logger.Int("listings", len(res.Listings)),
			logger.Int("patterns", len(res.Patterns)),
			logger.Duration("took", took))
	}
	p.emit(res)
}

func (p *layerPoller) safePoll(ctx context.Context) (res models.DetectionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("layer poll panicked: %v", r)
		}
	}()
	return p.poll(ctx)
}

// Health returns a snapshot of the layer state.
func (p *layerPoller) Health() LayerHealth {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.health
}
