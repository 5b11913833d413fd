package usecase

import (
	"context"
	"sync"
	"time"

	"SnipeRadar/internal/domain/models"
	domrepo "SnipeRadar/internal/domain/repository"
	"SnipeRadar/internal/validation"
	"SnipeRadar/pkg/logger"
)

// DetectionSource is what the processor consumes; DetectionCoordinator
// satisfies it.
type DetectionSource interface {
	Results() <-chan models.DetectionResult
	NewListings() <-chan models.NewListingEvent
}

// BatchEnqueuer accepts pattern batches for the bridge.
type BatchEnqueuer interface {
	Enqueue(ctx context.Context, batch models.PatternBatch) error
}

// DetectionProcessor drains coordinator output: it validates matches,
// publishes events, records analytics and hands batches to the bridge.
// Sink and publisher failures are logged and never stop processing.
type DetectionProcessor struct {
	source    DetectionSource
	publisher domrepo.EventPublisher
	sink      domrepo.DetectionSink
	pipeline  BatchEnqueuer
	notifier  domrepo.Notifier
	metrics   domrepo.Metrics
	log       *logger.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDetectionProcessor builds a processor. notifier may be nil.
func NewDetectionProcessor(source DetectionSource, publisher domrepo.EventPublisher, sink domrepo.DetectionSink, pipeline BatchEnqueuer, notifier domrepo.Notifier, metrics domrepo.Metrics, log *logger.Logger) *DetectionProcessor {
	return &DetectionProcessor{
		source:    source,
		publisher: publisher,
		sink:      sink,
		pipeline:  pipeline,
		notifier:  notifier,
		metrics:   metrics,
		log:       log.With(logger.String("component", "detection_processor")),
		now:       time.Now,
	}
}

func (p *DetectionProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case res := <-p.source.Results():
				p.HandleResult(ctx, res)
			}
		}
	}()
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-p.source.NewListings():
				p.HandleNewListing(ctx, ev)
			}
		}
	}()
}

func (p *DetectionProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
}

// HandleResult processes one detection result.
func (p *DetectionProcessor) HandleResult(ctx context.Context, res models.DetectionResult) {
	if err := p.sink.StoreResult(ctx, res); err != nil {
		p.metrics.RecordError("sink_result")
	}
	if len(res.Patterns) == 0 {
		return
	}

	valid := make([]models.PatternMatch, 0, len(res.Patterns))
	for _, m := range res.Patterns {
		v := validation.ValidatePatternMatch(m)
		if !v.IsValid {
			p.metrics.RecordError("invalid_match")
			p.log.Warn("dropping invalid match",
				logger.String("symbol", m.Symbol),
				logger.String("pattern_type", string(m.PatternType)),
				logger.Strings("errors", v.Errors))
			continue
		}
		valid = append(valid, m)
	}
	if len(valid) == 0 {
		return
	}

	events := onlyValid(res.Events, len(valid) != len(res.Patterns))
	if len(events) > 0 {
		if err := p.publisher.PublishPatterns(ctx, events); err != nil {
			p.metrics.RecordError("publish_patterns")
			p.log.Warn("failed to publish patterns", logger.String("layer", string(res.Source)), logger.Error(err))
		}
	}
	if err := p.sink.StoreMatches(ctx, res.Source, valid); err != nil {
		p.metrics.RecordError("sink_matches")
	}

	batch := models.PatternBatch{Source: res.Source, Matches: valid, Enqueued: p.now()}
	if err := p.pipeline.Enqueue(ctx, batch); err != nil {
		p.log.Warn("pattern batch not enqueued",
			logger.String("layer", string(res.Source)),
			logger.Int("matches", len(valid)),
			logger.Error(err))
	}
}

// HandleNewListing publishes and announces a newly seen listing.
func (p *DetectionProcessor) HandleNewListing(ctx context.Context, ev models.NewListingEvent) {
	if err := p.publisher.PublishNewListing(ctx, ev); err != nil {
		p.metrics.RecordError("publish_listing")
		p.log.Warn("failed to publish new listing", logger.String("key", ev.Key), logger.Error(err))
	}
	if p.notifier == nil {
		return
	}
	if err := p.notifier.NotifyNewListing(ctx, ev); err != nil {
		p.metrics.RecordError("notify_listing")
		p.log.Warn("failed to notify new listing", logger.String("key", ev.Key), logger.Error(err))
	}
}

// onlyValid strips invalid matches from events, dropping events left empty.
// When filter is false the events are returned as is.
func onlyValid(events []models.PatternsDetectedEvent, filter bool) []models.PatternsDetectedEvent {
	if !filter {
		return events
	}
	out := make([]models.PatternsDetectedEvent, 0, len(events))
	for _, ev := range events {
		kept := ev.Matches[:0:0]
		for _, m := range ev.Matches {
			if validation.ValidatePatternMatch(m).IsValid {
				kept = append(kept, m)
			}
		}
		if len(kept) == 0 {
			continue
		}
		ev.Matches = kept
		out = append(out, ev)
	}
	return out
}
