package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SnipeRadar/internal/domain/models"
	domrepo "SnipeRadar/internal/domain/repository"
	"SnipeRadar/internal/service/cache"
	"SnipeRadar/internal/services/confidence"
	"SnipeRadar/pkg/logger"
	"SnipeRadar/pkg/metrics"
)

type fakeExchange struct {
	mu          sync.Mutex
	calendar    []models.CalendarEntry
	symbols     []models.SymbolEntry
	exchange    [][]models.ExchangeSymbol
	exCalls     int
	calendarErr error
	calCalls    atomic.Int64
	symCalls    atomic.Int64
}

func (f *fakeExchange) FetchCalendar(_ context.Context) ([]models.CalendarEntry, error) {
	f.calCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calendar, f.calendarErr
}

func (f *fakeExchange) FetchSymbols(_ context.Context) ([]models.SymbolEntry, error) {
	f.symCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.symbols, nil
}

func (f *fakeExchange) FetchExchangeInfo(_ context.Context) ([]models.ExchangeSymbol, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.exCalls
	if i >= len(f.exchange) {
		i = len(f.exchange) - 1
	}
	f.exCalls++
	if i < 0 {
		return nil, nil
	}
	return f.exchange[i], nil
}

type fakeStream struct {
	events    chan models.StreamEvent
	errs      chan error
	connects  atomic.Int64
	closed    atomic.Bool
	connected atomic.Bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan models.StreamEvent, 8), errs: make(chan error, 1)}
}

func (s *fakeStream) Connect(context.Context) error {
	s.connects.Add(1)
	s.connected.Store(true)
	return nil
}
func (s *fakeStream) Subscribe(context.Context) error { return nil }
func (s *fakeStream) Read(context.Context) (<-chan models.StreamEvent, <-chan error) {
	return s.events, s.errs
}
func (s *fakeStream) Reconnect(ctx context.Context) error { return s.Connect(ctx) }
func (s *fakeStream) Close() error {
	s.closed.Store(true)
	s.connected.Store(false)
	return nil
}
func (s *fakeStream) IsConnected() bool { return s.connected.Load() }

func testCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		CalendarInterval:     20 * time.Millisecond,
		SymbolsInterval:      20 * time.Millisecond,
		ExchangeInfoInterval: 20 * time.Millisecond,
		PollTimeout:          time.Second,
		ResultBuffer:         1024,
		ListingBuffer:        1024,
		EnableStream:         true,
	}
}

func newTestCoordinator(ex *fakeExchange, stream *fakeStream) *DetectionCoordinator {
	cfg := testCoordinatorConfig()
	var ps domrepo.PushStream
	if stream != nil {
		ps = stream
	} else {
		cfg.EnableStream = false
	}
	a := newTestAnalyzer(confidence.NewRuleBased(), nil)
	return NewDetectionCoordinator(cfg, ex, ps, a, cache.NewTTLSet(time.Hour, 100), metrics.Nop{}, logger.NewNop())
}

func collectResults(t *testing.T, c *DetectionCoordinator, until func(map[models.LayerSource][]models.DetectionResult) bool) map[models.LayerSource][]models.DetectionResult {
	t.Helper()
	got := map[models.LayerSource][]models.DetectionResult{}
	deadline := time.After(3 * time.Second)
	for !until(got) {
		select {
		case r := <-c.Results():
			got[r.Source] = append(got[r.Source], r)
		case <-deadline:
			t.Fatalf("timed out waiting for detection results, got %d sources", len(got))
		}
	}
	return got
}

func TestCoordinatorRunsAllLayers(t *testing.T) {
	ex := &fakeExchange{
		calendar: []models.CalendarEntry{calendar("XYZ", 5*time.Hour)},
		symbols:  []models.SymbolEntry{symbol("ABCUSDT", 2, 2, 4), symbol("DEFUSDT", 2, 2, 3)},
		exchange: [][]models.ExchangeSymbol{
			{{Symbol: "BTCUSDT"}},
			{{Symbol: "BTCUSDT"}, {Symbol: "NEWUSDT"}},
		},
	}
	c := newTestCoordinator(ex, nil)

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Start(context.Background()), "second start is a no-op")
	assert.True(t, c.Running())

	got := collectResults(t, c, func(m map[models.LayerSource][]models.DetectionResult) bool {
		return len(m[models.LayerCalendar]) >= 2 && len(m[models.LayerSymbols]) >= 2 && len(m[models.LayerExchangeInfo]) >= 2
	})
	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop(), "second stop is a no-op")
	assert.False(t, c.Running())

	cal := got[models.LayerCalendar][0]
	assert.True(t, cal.Success)
	require.Len(t, cal.Patterns, 1)
	assert.Equal(t, models.PatternLaunchSequence, cal.Patterns[0].PatternType)
	require.Len(t, cal.Events, 1)
	assert.Equal(t, "calendar", cal.Events[0].Metadata.Source)

	sym := got[models.LayerSymbols][0]
	require.Len(t, sym.Patterns, 2)
	assert.Equal(t, models.PatternReadyState, sym.Patterns[0].PatternType)
	assert.Equal(t, models.PatternPreReady, sym.Patterns[1].PatternType)
	require.Len(t, sym.Listings, 1)
	assert.Equal(t, "ABCUSDT", sym.Listings[0].Symbol)

	assert.Empty(t, got[models.LayerExchangeInfo][0].Listings, "first exchange-info poll is the baseline")
	require.Len(t, got[models.LayerExchangeInfo][1].Listings, 1)
	assert.Equal(t, "NEWUSDT", got[models.LayerExchangeInfo][1].Listings[0].Symbol)

	// each listing key is announced once despite repeated polls
	seen := map[string]int{}
	for len(c.NewListings()) > 0 {
		ev := <-c.NewListings()
		seen[ev.Key]++
	}
	assert.Equal(t, map[string]int{"v-XYZ|XYZ": 1, "v-ABCUSDT|ABCUSDT": 1, "|NEWUSDT": 1}, seen)
}

func TestCoordinatorLayerFailureIsIsolated(t *testing.T) {
	ex := &fakeExchange{
		calendarErr: errors.New("upstream 503"),
		symbols:     []models.SymbolEntry{symbol("ABCUSDT", 2, 2, 4)},
	}
	c := newTestCoordinator(ex, nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	got := collectResults(t, c, func(m map[models.LayerSource][]models.DetectionResult) bool {
		return len(m[models.LayerCalendar]) >= 1 && len(m[models.LayerSymbols]) >= 3
	})

	failed := got[models.LayerCalendar][0]
	assert.False(t, failed.Success)
	assert.Contains(t, failed.Error, "upstream 503")
	for _, r := range got[models.LayerSymbols] {
		assert.True(t, r.Success)
	}

	var calHealth LayerHealth
	for _, h := range c.Health() {
		if h.Source == models.LayerCalendar {
			calHealth = h
		}
	}
	assert.GreaterOrEqual(t, calHealth.Failures, int64(1))
	assert.Contains(t, calHealth.LastError, "upstream 503")
}

func TestCoordinatorStreamLayer(t *testing.T) {
	ex := &fakeExchange{}
	stream := newFakeStream()
	c := newTestCoordinator(ex, stream)
	require.NoError(t, c.Start(context.Background()))

	st := symbol("QQQUSDT", 2, 2, 4)
	stream.events <- models.StreamEvent{Channel: "spot@public.status", Symbol: "QQQUSDT", Kind: "status", Status: &st}
	stream.events <- models.StreamEvent{Channel: "spot@public.deals", Symbol: "QQQUSDT", Kind: "deal"}

	got := collectResults(t, c, func(m map[models.LayerSource][]models.DetectionResult) bool {
		return len(m[models.LayerStream]) >= 1
	})
	require.NoError(t, c.Stop())

	res := got[models.LayerStream][0]
	assert.True(t, res.Success)
	require.Len(t, res.Patterns, 1)
	assert.Equal(t, "QQQUSDT", res.Patterns[0].Symbol)
	assert.Equal(t, int64(1), stream.connects.Load())
	assert.True(t, stream.closed.Load())
}

func TestCoordinatorAnnounceIsExactlyOnceUnderConcurrency(t *testing.T) {
	c := newTestCoordinator(&fakeExchange{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			src := models.LayerCalendar
			if i%2 == 0 {
				src = models.LayerSymbols
			}
			res := &models.DetectionResult{Source: src, Timestamp: time.Now(), Listings: []models.Listing{{VcoinID: "1", Symbol: "XYZUSDT"}}}
			c.announce(context.Background(), res)
		}(i)
	}
	wg.Wait()

	assert.Len(t, c.NewListings(), 1)
	n, err := c.KnownListings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLayerPollerBacksOffAfterFailures(t *testing.T) {
	var calls int
	fail := true
	var emitted []models.DetectionResult
	p := newLayerPoller(models.LayerCalendar, 10*time.Second, time.Second,
		func(context.Context) (models.DetectionResult, error) {
			calls++
			if fail {
				return models.DetectionResult{}, errors.New("down")
			}
			return models.DetectionResult{}, nil
		},
		func(r models.DetectionResult) { emitted = append(emitted, r) },
		metrics.Nop{}, logger.NewNop())
	p.bo.Jitter = false

	clock := time.Unix(0, 0)
	p.now = func() time.Time { return clock }
	step := func() {
		p.tick(context.Background())
		clock = clock.Add(10 * time.Second)
	}

	step() // fails, retry on the next tick
	step() // fails, wait two intervals
	assert.Equal(t, 2, calls)
	step() // skipped
	assert.Equal(t, 2, calls)
	step() // fails, wait four intervals
	assert.Equal(t, 3, calls)
	step()
	step()
	step()
	assert.Equal(t, 3, calls)
	fail = false
	step()
	assert.Equal(t, 4, calls)
	step()
	assert.Equal(t, 5, calls, "success resets the backoff")

	h := p.Health()
	assert.Equal(t, int64(5), h.Polls)
	assert.Equal(t, int64(3), h.Failures)
	assert.Equal(t, int64(4), h.SkippedTicks)
	assert.Zero(t, h.ConsecutiveFailures)

	require.Len(t, emitted, 5)
	assert.False(t, emitted[0].Success)
	assert.Equal(t, models.LayerCalendar, emitted[0].Source)
	assert.True(t, emitted[4].Success)
}

func TestLayerPollerRecoversPanics(t *testing.T) {
	var emitted []models.DetectionResult
	p := newLayerPoller(models.LayerSymbols, time.Second, time.Second,
		func(context.Context) (models.DetectionResult, error) { panic("nil map") },
		func(r models.DetectionResult) { emitted = append(emitted, r) },
		metrics.Nop{}, logger.NewNop())

	p.tick(context.Background())
	require.Len(t, emitted, 1)
	assert.False(t, emitted[0].Success)
	assert.Contains(t, emitted[0].Error, "panicked")
}
