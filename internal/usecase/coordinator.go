package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"SnipeRadar/internal/domain/models"
	domrepo "SnipeRadar/internal/domain/repository"
	"SnipeRadar/internal/validation"
	"SnipeRadar/pkg/logger"
)

// CoordinatorConfig sets layer cadence and buffer sizes.
type CoordinatorConfig struct {
	CalendarInterval     time.Duration
	SymbolsInterval      time.Duration
	ExchangeInfoInterval time.Duration
	PollTimeout          time.Duration
	ResultBuffer         int
	ListingBuffer        int
	EnableStream         bool
}

func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		CalendarInterval:     30 * time.Second,
		SymbolsInterval:      15 * time.Second,
		ExchangeInfoInterval: 60 * time.Second,
		PollTimeout:          15 * time.Second,
		ResultBuffer:         256,
		ListingBuffer:        256,
		EnableStream:         true,
	}
}

// DetectionCoordinator runs the detection layers. Each layer is an
// independent goroutine; the only state they share is the known-listings
// registry, whose MarkSeen is an atomic check-and-insert.
type DetectionCoordinator struct {
	cfg      CoordinatorConfig
	exchange domrepo.ExchangeClient
	stream   domrepo.PushStream
	analyzer *PatternAnalyzer
	registry domrepo.ListingRegistry
	metrics  domrepo.Metrics
	log      *logger.Logger

	results  chan models.DetectionResult
	listings chan models.NewListingEvent

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	pollers []*layerPoller

	streamMu     sync.Mutex
	streamHealth LayerHealth

	// exchange-info symbols from the previous successful poll
	exMu       sync.Mutex
	exBaseline map[string]struct{}
}

// NewDetectionCoordinator wires the layers. stream may be nil.
func NewDetectionCoordinator(cfg CoordinatorConfig, exchange domrepo.ExchangeClient, stream domrepo.PushStream, analyzer *PatternAnalyzer, registry domrepo.ListingRegistry, metrics domrepo.Metrics, log *logger.Logger) *DetectionCoordinator {
	def := DefaultCoordinatorConfig()
	if cfg.CalendarInterval <= 0 {
		cfg.CalendarInterval = def.CalendarInterval
	}
	if cfg.SymbolsInterval <= 0 {
		cfg.SymbolsInterval = def.SymbolsInterval
	}
	if cfg.ExchangeInfoInterval <= 0 {
		cfg.ExchangeInfoInterval = def.ExchangeInfoInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.ResultBuffer <= 0 {
		cfg.ResultBuffer = def.ResultBuffer
	}
	if cfg.ListingBuffer <= 0 {
		cfg.ListingBuffer = def.ListingBuffer
	}
	c := &DetectionCoordinator{
		cfg:          cfg,
		exchange:     exchange,
		stream:       stream,
		analyzer:     analyzer,
		registry:     registry,
		metrics:      metrics,
		log:          log.With(logger.String("component", "coordinator")),
		results:      make(chan models.DetectionResult, cfg.ResultBuffer),
		listings:     make(chan models.NewListingEvent, cfg.ListingBuffer),
		streamHealth: LayerHealth{Source: models.LayerStream},
	}
	c.pollers = []*layerPoller{
		newLayerPoller(models.LayerCalendar, cfg.CalendarInterval, cfg.PollTimeout, c.pollCalendar, c.publish, metrics, c.log),
		newLayerPoller(models.LayerSymbols, cfg.SymbolsInterval, cfg.PollTimeout, c.pollSymbols, c.publish, metrics, c.log),
		newLayerPoller(models.LayerExchangeInfo, cfg.ExchangeInfoInterval, cfg.PollTimeout, c.pollExchangeInfo, c.publish, metrics, c.log),
	}
	return c
}

// Results carries every layer result, failed polls included. The channel
// is never closed; results are dropped when it is full.
func (c *DetectionCoordinator) Results() <-chan models.DetectionResult { return c.results }

// NewListings carries one event per registry retention window per listing key.
func (c *DetectionCoordinator) NewListings() <-chan models.NewListingEvent { return c.listings }

// Start launches all layers. Calling Start on a running coordinator is a no-op.
func (c *DetectionCoordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	for _, p := range c.pollers {
		c.wg.Add(1)
		go func(p *layerPoller) {
			defer c.wg.Done()
			p.run(runCtx)
		}(p)
	}
	if c.stream != nil && c.cfg.EnableStream {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.runStream(runCtx)
		}()
	}

	c.log.Info("detection coordinator started",
		logger.Duration("calendar_interval", c.cfg.CalendarInterval),
		logger.Duration("symbols_interval", c.cfg.SymbolsInterval),
		logger.Duration("exchange_info_interval", c.cfg.ExchangeInfoInterval),
		logger.Bool("stream", c.stream != nil && c.cfg.EnableStream))
	return nil
}

// Stop cancels all layers and waits for in-flight polls to return.
// Calling Stop on a stopped coordinator is a no-op.
func (c *DetectionCoordinator) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	var err error
	if c.stream != nil && c.cfg.EnableStream {
		err = c.stream.Close()
	}
	c.wg.Wait()
	c.log.Info("detection coordinator stopped")
	return err
}

// Running reports whether Start has been called without a matching Stop.
func (c *DetectionCoordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Health returns a snapshot of every layer, stream last.
func (c *DetectionCoordinator) Health() []LayerHealth {
	out := make([]LayerHealth, 0, len(c.pollers)+1)
	for _, p := range c.pollers {
		out = append(out, p.Health())
	}
	if c.stream != nil && c.cfg.EnableStream {
		c.streamMu.Lock()
		out = append(out, c.streamHealth)
		c.streamMu.Unlock()
	}
	return out
}

// KnownListings returns the registry size.
func (c *DetectionCoordinator) KnownListings(ctx context.Context) (int, error) {
	return c.registry.Size(ctx)
}

// Layer 1: calendar announcements become advance-opportunity matches.
func (c *DetectionCoordinator) pollCalendar(ctx context.Context) (models.DetectionResult, error) {
	entries, err := c.exchange.FetchCalendar(ctx)
	if err != nil {
		return models.DetectionResult{}, fmt.Errorf("fetch calendar: %w", err)
	}

	res := models.DetectionResult{Source: models.LayerCalendar, Timestamp: time.Now()}
	valid := make([]models.CalendarEntry, 0, len(entries))
	for i := range entries {
		e := entries[i]
		if !validation.ValidateCalendarEntry(e).IsValid {
			continue
		}
		valid = append(valid, e)
		res.Listings = append(res.Listings, models.Listing{
			VcoinID:       e.VcoinID,
			Symbol:        e.Symbol,
			ProjectName:   e.ProjectName,
			FirstOpenTime: e.FirstOpenTime,
			Calendar:      &e,
		})
	}
	res.Patterns = c.analyzer.DetectAdvanceOpportunities(ctx, valid)
	c.finish(ctx, &res, time.Since(res.Timestamp))
	return res, nil
}

// Layer 2: status snapshots checked for ready and almost-ready codes.
func (c *DetectionCoordinator) pollSymbols(ctx context.Context) (models.DetectionResult, error) {
	entries, err := c.exchange.FetchSymbols(ctx)
	if err != nil {
		return models.DetectionResult{}, fmt.Errorf("fetch symbols: %w", err)
	}

	res := models.DetectionResult{Source: models.LayerSymbols, Timestamp: time.Now()}
	for i := range entries {
		e := entries[i]
		if e.IsReadyState() {
			res.Listings = append(res.Listings, models.Listing{VcoinID: e.VcoinID, Symbol: e.Cd, FirstOpenTime: e.Ot, Snapshot: &e})
		}
	}
	res.Patterns = append(res.Patterns, c.analyzer.DetectReadyStatePattern(ctx, entries)...)
	res.Patterns = append(res.Patterns, c.analyzer.DetectPreReadyPatterns(ctx, entries)...)
	c.finish(ctx, &res, time.Since(res.Timestamp))
	return res, nil
}

// Layer 3: the exchange-wide symbol list. The first successful poll sets a
// baseline; later polls report symbols that were not in the previous one.
func (c *DetectionCoordinator) pollExchangeInfo(ctx context.Context) (models.DetectionResult, error) {
	symbols, err := c.exchange.FetchExchangeInfo(ctx)
	if err != nil {
		return models.DetectionResult{}, fmt.Errorf("fetch exchange info: %w", err)
	}

	current := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		current[s.Symbol] = struct{}{}
	}

	c.exMu.Lock()
	prev := c.exBaseline
	c.exBaseline = current
	c.exMu.Unlock()

	res := models.DetectionResult{Source: models.LayerExchangeInfo, Timestamp: time.Now()}
	if prev != nil {
		for _, s := range symbols {
			if _, ok := prev[s.Symbol]; !ok {
				res.Listings = append(res.Listings, models.Listing{Symbol: s.Symbol})
			}
		}
	}
	c.finish(ctx, &res, time.Since(res.Timestamp))
	return res, nil
}

// Layer 4: push-stream status events, checked for the ready state as they arrive.
func (c *DetectionCoordinator) runStream(ctx context.Context) {
	bo := &backoff.Backoff{Min: time.Second, Max: time.Minute, Factor: 2, Jitter: true}
	connected := false

	for ctx.Err() == nil {
		var err error
		if !connected {
			err = c.stream.Connect(ctx)
			if err == nil {
				err = c.stream.Subscribe(ctx)
			}
		} else {
			err = c.stream.Reconnect(ctx)
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.streamFailed(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(bo.Duration()):
			}
			continue
		}
		connected = true
		bo.Reset()

		err = c.consumeStream(ctx)
		if ctx.Err() != nil {
			return
		}
		c.streamFailed(err)
	}
}

func (c *DetectionCoordinator) consumeStream(ctx context.Context) error {
	events, errs := c.stream.Read(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if ok && err != nil {
				return err
			}
			errs = nil
		case ev, ok := <-events:
			if !ok {
				return errors.New("stream closed")
			}
			c.handleStreamEvent(ctx, ev)
		}
	}
}

func (c *DetectionCoordinator) handleStreamEvent(ctx context.Context, ev models.StreamEvent) {
	if ev.Status == nil {
		return
	}
	start := time.Now()
	entry := *ev.Status
	if entry.Cd == "" {
		entry.Cd = ev.Symbol
	}

	res := models.DetectionResult{Timestamp: start, Source: models.LayerStream, Success: true}
	if entry.IsReadyState() {
		res.Listings = append(res.Listings, models.Listing{VcoinID: entry.VcoinID, Symbol: entry.Cd, FirstOpenTime: entry.Ot, Snapshot: &entry})
	}
	res.Patterns = c.analyzer.DetectReadyStatePattern(ctx, []models.SymbolEntry{entry})
	if len(res.Listings) == 0 && len(res.Patterns) == 0 {
		return
	}
	c.finish(ctx, &res, time.Since(start))

	c.streamMu.Lock()
	c.streamHealth.Polls++
	c.streamHealth.ConsecutiveFailures = 0
	c.streamHealth.LastError = ""
	c.streamHealth.LastSuccess = start
	c.streamMu.Unlock()

	c.metrics.RecordLayerPoll(string(models.LayerStream), true, time.Since(start).Seconds())
	c.publish(res)
}

func (c *DetectionCoordinator) streamFailed(err error) {
	if err == nil {
		return
	}
	c.streamMu.Lock()
	c.streamHealth.Failures++
	c.streamHealth.ConsecutiveFailures++
	c.streamHealth.LastError = err.Error()
	c.streamMu.Unlock()

	c.metrics.RecordLayerPoll(string(models.LayerStream), false, 0)
	c.log.Warn("stream layer failed", logger.String("layer", string(models.LayerStream)), logger.Error(err))
	c.publish(models.DetectionResult{
		Source:    models.LayerStream,
		Timestamp: time.Now(),
		Success:   false,
		Error:     err.Error(),
	})
}

// finish builds pattern events and emits new-listing events.
func (c *DetectionCoordinator) finish(ctx context.Context, res *models.DetectionResult, took time.Duration) {
	res.Events = c.analyzer.BuildEvents(string(res.Source), res.Patterns, took)
	c.announce(ctx, res)
}

// announce marks every listing as seen and emits the ones that were new.
func (c *DetectionCoordinator) announce(ctx context.Context, res *models.DetectionResult) {
	if len(res.Listings) == 0 {
		return
	}
	for _, l := range res.Listings {
		fresh, err := c.registry.MarkSeen(ctx, l.Key())
		if err != nil {
			// no event without a successful mark, or it could repeat
			c.metrics.RecordError("registry")
			c.log.Warn("listing registry unavailable", logger.String("key", l.Key()), logger.Error(err))
			continue
		}
		if !fresh {
			continue
		}
		ev := models.NewListingEvent{Key: l.Key(), Listing: l, Source: res.Source, DetectedAt: res.Timestamp}
		c.metrics.RecordNewListing(string(res.Source))
		select {
		case c.listings <- ev:
		default:
			c.metrics.RecordError("new_listing_dropped")
			c.log.Warn("new listing channel full, event dropped", logger.String("key", ev.Key))
		}
	}
	if n, err := c.registry.Size(ctx); err == nil {
		c.metrics.SetKnownListings(n)
	}
}

func (c *DetectionCoordinator) publish(res models.DetectionResult) {
	select {
	case c.results <- res:
	default:
		c.metrics.RecordError("detection_result_dropped")
		c.log.Warn("detection result channel full, result dropped", logger.String("layer", string(res.Source)))
	}
}
