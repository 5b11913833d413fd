package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SnipeRadar/internal/domain/models"
	"SnipeRadar/internal/repository"
	"SnipeRadar/internal/service/cache"
	"SnipeRadar/pkg/logger"
	"SnipeRadar/pkg/metrics"
)

type bridgeFixture struct {
	bridge  *TargetBridge
	targets *repository.MemoryTargetStore
	prefs   *repository.MemoryPreferenceStore
	dedup   *cache.TTLSet
}

func newBridgeFixture(t *testing.T, cfg BridgeConfig, dispatcher *TargetDispatcher, seed ...models.SnipeTarget) *bridgeFixture {
	t.Helper()
	f := &bridgeFixture{
		targets: repository.NewMemoryTargetStore(seed...),
		prefs:   repository.NewMemoryPreferenceStore(),
		dedup:   cache.NewTTLSet(2*cfg.DedupGranularity, 1000),
	}
	f.bridge = NewTargetBridge(cfg, f.targets, f.prefs, f.dedup, dispatcher, metrics.Nop{}, logger.NewNop())
	f.bridge.now = func() time.Time { return fixedNow }
	return f
}

func usersConfig(users ...string) BridgeConfig {
	cfg := DefaultBridgeConfig()
	cfg.DefaultUserIDs = users
	return cfg
}

func readyMatch(sym string, conf float64) models.PatternMatch {
	return models.PatternMatch{
		PatternType:    models.PatternReadyState,
		Confidence:     conf,
		Symbol:         sym,
		VcoinID:        "v-" + sym,
		DetectedAt:     fixedNow,
		RiskLevel:      models.RiskLow,
		Recommendation: models.RecommendImmediateAction,
	}
}

func launchMatch(sym string, conf, hours float64) models.PatternMatch {
	return models.PatternMatch{
		PatternType:        models.PatternLaunchSequence,
		Confidence:         conf,
		Symbol:             sym,
		VcoinID:            "v-" + sym,
		DetectedAt:         fixedNow,
		AdvanceNoticeHours: hours,
		RiskLevel:          models.RiskLow,
		Recommendation:     models.RecommendPrepareEntry,
	}
}

func preReadyMatch(sym string, conf float64) models.PatternMatch {
	return models.PatternMatch{
		PatternType:        models.PatternPreReady,
		Confidence:         conf,
		Symbol:             sym,
		DetectedAt:         fixedNow,
		AdvanceNoticeHours: 2,
		RiskLevel:          models.RiskMedium,
		Recommendation:     models.RecommendMonitorClosely,
	}
}

func reasons(r BridgeReport) []string {
	out := make([]string, 0, len(r.Skipped))
	for _, s := range r.Skipped {
		out = append(out, s.Reason)
	}
	return out
}

func TestBridgeCreatesReadyTargetWithDefaults(t *testing.T) {
	f := newBridgeFixture(t, usersConfig("u1"), nil)

	report, err := f.bridge.ProcessBatch(context.Background(), models.PatternBatch{
		Matches: []models.PatternMatch{readyMatch("ABCUSDT", 92)},
	})
	require.NoError(t, err)
	require.Len(t, report.Created, 1)
	assert.Empty(t, report.Skipped)

	tg := report.Created[0]
	assert.NotEmpty(t, tg.ID)
	assert.Equal(t, "u1", tg.UserID)
	assert.Equal(t, "ABCUSDT", tg.SymbolName)
	assert.Equal(t, "v-ABCUSDT", tg.VcoinID)
	assert.Equal(t, models.TargetReady, tg.Status)
	assert.Equal(t, 1, tg.Priority)
	assert.True(t, decimal.NewFromInt(100).Equal(tg.PositionSizeUsdt))
	assert.Equal(t, 5.0, tg.StopLossPercent)
	assert.Equal(t, 2, tg.TakeProfitLevel)
	assert.Equal(t, "market", tg.EntryStrategy)
	assert.Equal(t, fixedNow.Add(5*time.Second), tg.TargetExecutionTime)
	assert.Equal(t, 92.0, tg.ConfidenceScore)
	assert.Len(t, f.targets.All(), 1)
}

func TestBridgeAppliesUserPreferences(t *testing.T) {
	f := newBridgeFixture(t, DefaultBridgeConfig(), nil)
	tp := 40.0
	f.prefs.Upsert(models.UserPreferences{
		UserID:               "u2",
		DefaultBuyAmountUsdt: decimal.NewFromFloat(250.5),
		StopLossPercent:      8,
		TakeProfitLevel:      3,
		TakeProfitCustom:     &tp,
		EntryStrategy:        "limit",
		AutoSnipeEnabled:     true,
	})

	report, err := f.bridge.ProcessBatch(context.Background(), models.PatternBatch{
		Matches: []models.PatternMatch{launchMatch("XYZ", 82, 5)},
	})
	require.NoError(t, err)
	require.Len(t, report.Created, 1)

	tg := report.Created[0]
	assert.Equal(t, "u2", tg.UserID, "auto-snipe users are used when the batch names none")
	assert.Equal(t, models.TargetPending, tg.Status)
	assert.True(t, decimal.NewFromFloat(250.5).Equal(tg.PositionSizeUsdt))
	assert.Equal(t, 8.0, tg.StopLossPercent)
	assert.Equal(t, 3, tg.TakeProfitLevel)
	assert.Equal(t, &tp, tg.TakeProfitCustom)
	assert.Equal(t, "limit", tg.EntryStrategy)
	assert.Equal(t, fixedNow.Add(5*time.Hour), tg.TargetExecutionTime)
	assert.Equal(t, 1, tg.Priority)
}

func TestBridgeDeduplicatesRepeatedPattern(t *testing.T) {
	f := newBridgeFixture(t, usersConfig("u1"), nil)
	batch := models.PatternBatch{Matches: []models.PatternMatch{readyMatch("ABCUSDT", 92)}}

	_, err := f.bridge.ProcessBatch(context.Background(), batch)
	require.NoError(t, err)

	again := readyMatch("ABCUSDT", 92)
	again.DetectedAt = fixedNow.Add(3 * time.Second) // same 15s bucket
	report, err := f.bridge.ProcessBatch(context.Background(), models.PatternBatch{Matches: []models.PatternMatch{again}})
	require.NoError(t, err)
	assert.Empty(t, report.Created)
	assert.Equal(t, []string{SkipDuplicatePattern}, reasons(report))
	assert.Len(t, f.targets.All(), 1)
}

func TestBridgeSkipsExistingPendingTarget(t *testing.T) {
	existing := models.SnipeTarget{ID: "t0", UserID: "u1", SymbolName: "ABCUSDT", Status: models.TargetPending}
	f := newBridgeFixture(t, usersConfig("u1", "u2"), nil, existing)

	report, err := f.bridge.ProcessBatch(context.Background(), models.PatternBatch{
		Matches: []models.PatternMatch{readyMatch("ABCUSDT", 92)},
	})
	require.NoError(t, err)
	require.Len(t, report.Created, 1)
	assert.Equal(t, "u2", report.Created[0].UserID)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, BridgeSkip{Symbol: "ABCUSDT", PatternType: models.PatternReadyState, UserID: "u1", Reason: SkipExistingTarget}, report.Skipped[0])
}

func TestBridgeSameUserSymbolInOneBatch(t *testing.T) {
	f := newBridgeFixture(t, usersConfig("u1"), nil)

	report, err := f.bridge.ProcessBatch(context.Background(), models.PatternBatch{
		Matches: []models.PatternMatch{launchMatch("XYZ", 82, 5), preReadyMatch("XYZ", 80)},
	})
	require.NoError(t, err)
	require.Len(t, report.Created, 1)
	assert.Equal(t, models.PatternLaunchSequence, report.Created[0].PatternType)
	assert.Equal(t, []string{SkipDuplicateInBatch}, reasons(report))
	assert.Len(t, f.targets.All(), 1)
}

func TestBridgeBatchesStoreQueries(t *testing.T) {
	f := newBridgeFixture(t, DefaultBridgeConfig(), nil)
	for i := 0; i < 5; i++ {
		f.prefs.Upsert(models.UserPreferences{UserID: fmt.Sprintf("u%d", i), AutoSnipeEnabled: true, MaxConcurrentTargets: 100})
	}

	var matches []models.PatternMatch
	for i := 0; i < 20; i++ {
		matches = append(matches, readyMatch(fmt.Sprintf("S%02dUSDT", i), 90))
	}
	report, err := f.bridge.ProcessBatch(context.Background(), models.PatternBatch{Matches: matches})
	require.NoError(t, err)
	assert.Len(t, report.Created, 100)

	tc := f.targets.Counts()
	assert.Equal(t, int64(1), tc.ExistingPending)
	assert.Equal(t, int64(1), tc.CountActive)
	assert.Equal(t, int64(1), tc.InsertBatch)
	pc := f.prefs.Counts()
	assert.Equal(t, int64(1), pc.GetPreferences)
	assert.Equal(t, int64(1), pc.AutoSnipeUsers)
}

func TestBridgeEnforcesUserCap(t *testing.T) {
	cfg := DefaultBridgeConfig()
	cfg.DefaultUserIDs = []string{"u1"}
	cfg.MaxConcurrentPerUser = 3
	var seed []models.SnipeTarget
	for i, st := range []models.TargetStatus{models.TargetPending, models.TargetReady, models.TargetExecuting, models.TargetCompleted} {
		seed = append(seed, models.SnipeTarget{ID: fmt.Sprint(i), UserID: "u1", SymbolName: fmt.Sprintf("OLD%dUSDT", i), Status: st})
	}
	f := newBridgeFixture(t, cfg, nil, seed...)

	report, err := f.bridge.ProcessBatch(context.Background(), models.PatternBatch{
		Matches: []models.PatternMatch{readyMatch("AAAUSDT", 95), readyMatch("BBBUSDT", 95)},
	})
	require.NoError(t, err)
	assert.Empty(t, report.Created)
	assert.Equal(t, []string{SkipUserCap, SkipUserCap}, reasons(report))
	assert.Len(t, f.targets.All(), 4)
}

func TestBridgeCapCountsTargetsPlannedInBatch(t *testing.T) {
	cfg := DefaultBridgeConfig()
	cfg.DefaultUserIDs = []string{"u1"}
	cfg.MaxConcurrentPerUser = 2
	f := newBridgeFixture(t, cfg, nil)

	report, err := f.bridge.ProcessBatch(context.Background(), models.PatternBatch{
		Matches: []models.PatternMatch{readyMatch("AAAUSDT", 95), readyMatch("BBBUSDT", 95), readyMatch("CCCUSDT", 95)},
	})
	require.NoError(t, err)
	assert.Len(t, report.Created, 2)
	assert.Equal(t, []string{SkipUserCap}, reasons(report))
}

func TestBridgeFilters(t *testing.T) {
	f := newBridgeFixture(t, usersConfig("u1"), nil)

	risky := launchMatch("RSKUSDT", 80, 200)
	risky.RiskLevel = models.RiskHigh
	riskyButSure := launchMatch("SURUSDT", 88, 200)
	riskyButSure.RiskLevel = models.RiskHigh
	warning := readyMatch("WRNUSDT", 95)
	warning.PatternType = models.PatternRiskWarning
	invalid := readyMatch("", 95)

	report, err := f.bridge.ProcessBatch(context.Background(), models.PatternBatch{
		Matches: []models.PatternMatch{readyMatch("LOWUSDT", 70), risky, riskyButSure, warning, invalid},
	})
	require.NoError(t, err)
	require.Len(t, report.Created, 1)
	assert.Equal(t, "SURUSDT", report.Created[0].SymbolName)
	assert.Equal(t, []string{SkipLowConfidence, SkipHighRisk, SkipUnsupportedType, SkipInvalid}, reasons(report))
}

func TestBridgeNoUsers(t *testing.T) {
	f := newBridgeFixture(t, DefaultBridgeConfig(), nil)
	report, err := f.bridge.ProcessBatch(context.Background(), models.PatternBatch{Matches: []models.PatternMatch{readyMatch("ABCUSDT", 92)}})
	require.NoError(t, err)
	assert.Equal(t, []string{SkipNoUsers}, reasons(report))

	cfg := DefaultBridgeConfig()
	cfg.DefaultUserIDs = []string{"ops"}
	f = newBridgeFixture(t, cfg, nil)
	report, err = f.bridge.ProcessBatch(context.Background(), models.PatternBatch{Matches: []models.PatternMatch{readyMatch("ABCUSDT", 92)}})
	require.NoError(t, err)
	require.Len(t, report.Created, 1)
	assert.Equal(t, "ops", report.Created[0].UserID)
}

func TestBridgeAutoSnipeUsersTakePrecedenceOverDefaults(t *testing.T) {
	f := newBridgeFixture(t, usersConfig("ops"), nil)
	f.prefs.Upsert(models.UserPreferences{UserID: "u2", AutoSnipeEnabled: true})

	report, err := f.bridge.ProcessBatch(context.Background(), models.PatternBatch{
		Matches: []models.PatternMatch{readyMatch("ABCUSDT", 92)},
	})
	require.NoError(t, err)
	require.Len(t, report.Created, 1)
	assert.Equal(t, "u2", report.Created[0].UserID)
	assert.Len(t, f.targets.All(), 1)
}

func TestBridgeAutoSnipeDisabled(t *testing.T) {
	f := newBridgeFixture(t, usersConfig("u1"), nil)
	f.prefs.Upsert(models.UserPreferences{UserID: "u1", AutoSnipeEnabled: false})

	report, err := f.bridge.ProcessBatch(context.Background(), models.PatternBatch{
		Matches: []models.PatternMatch{readyMatch("ABCUSDT", 92)},
	})
	require.NoError(t, err)
	assert.Empty(t, report.Created)
	assert.Equal(t, []string{SkipAutoSnipeDisabled}, reasons(report))
}

func TestBridgePropagatesStoreErrorAndReleasesDedup(t *testing.T) {
	f := newBridgeFixture(t, usersConfig("u1"), nil)
	batch := models.PatternBatch{Matches: []models.PatternMatch{readyMatch("ABCUSDT", 92)}}

	f.targets.FailWith(errors.New("connection refused"))
	_, err := f.bridge.ProcessBatch(context.Background(), batch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Error(t, f.bridge.HandleBatch(context.Background(), batch))

	f.targets.FailWith(nil)
	report, err := f.bridge.ProcessBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.Len(t, report.Created, 1, "a retried batch is not treated as a duplicate")
}

func TestBridgeStats(t *testing.T) {
	f := newBridgeFixture(t, usersConfig("u1"), nil)
	_, err := f.bridge.ProcessBatch(context.Background(), models.PatternBatch{
		Matches: []models.PatternMatch{readyMatch("ABCUSDT", 92), readyMatch("LOWUSDT", 50)},
	})
	require.NoError(t, err)

	stats, err := f.bridge.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.ProcessedPatterns)
	assert.Equal(t, int64(1), stats.CreatedTargets)
	assert.Equal(t, int64(1), stats.Skips[SkipLowConfidence])
	assert.Equal(t, 1, stats.DedupCacheSize)
	assert.Equal(t, 1, stats.TargetsByStatus[models.TargetReady])
}

func TestBridgeUpdateConfig(t *testing.T) {
	f := newBridgeFixture(t, usersConfig("u1"), nil)

	bad := DefaultBridgeConfig()
	bad.MinConfidence = 140
	assert.Error(t, f.bridge.UpdateConfig(bad))

	bad = DefaultBridgeConfig()
	bad.SupportedPatterns = []models.PatternType{"moonshot"}
	assert.Error(t, f.bridge.UpdateConfig(bad))

	good := usersConfig("u1")
	good.SupportedPatterns = []models.PatternType{models.PatternReadyState}
	good.MinConfidence = 90
	require.NoError(t, f.bridge.UpdateConfig(good))
	assert.Equal(t, 90.0, f.bridge.Config().MinConfidence)

	report, err := f.bridge.ProcessBatch(context.Background(), models.PatternBatch{
		Matches: []models.PatternMatch{launchMatch("XYZ", 95, 5), readyMatch("ABCUSDT", 85)},
	})
	require.NoError(t, err)
	assert.Empty(t, report.Created)
	assert.Equal(t, []string{SkipUnsupportedType, SkipLowConfidence}, reasons(report))
}

func TestTargetPriority(t *testing.T) {
	tests := []struct {
		name string
		m    models.PatternMatch
		want int
	}{
		{"ready, very confident, low risk", readyMatch("A", 95), 1},
		{"pre-ready 80 medium", preReadyMatch("A", 80), 2},
		{"pre-ready 76 medium", preReadyMatch("A", 76), 3},
		{"pre-ready 72 medium", preReadyMatch("A", 72), 4},
		{"pre-ready 60 medium", preReadyMatch("A", 60), 5},
		{"launch 82 low", launchMatch("A", 82, 5), 1},
		{"launch 72 low", launchMatch("A", 72, 5), 2},
		{"pre-ready 60 high", func() models.PatternMatch { m := preReadyMatch("A", 60); m.RiskLevel = models.RiskHigh; return m }(), 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TargetPriority(tt.m))
		})
	}
}

func TestExecutionTime(t *testing.T) {
	assert.Equal(t, fixedNow.Add(5*time.Second), ExecutionTime(readyMatch("A", 90), fixedNow, 5*time.Second, 30*time.Minute))
	assert.Equal(t, fixedNow.Add(90*time.Minute), ExecutionTime(launchMatch("A", 90, 1.5), fixedNow, 5*time.Second, 30*time.Minute))
	assert.Equal(t, fixedNow.Add(30*time.Minute), ExecutionTime(preReadyMatch("A", 90), fixedNow, 5*time.Second, 30*time.Minute))
}

type recordingQueue struct {
	mu   sync.Mutex
	msgs []interface{}
}

func (q *recordingQueue) PublishMessage(_ context.Context, msgType string, payload interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if msgType != ReadyMessageType {
		return fmt.Errorf("unexpected type %s", msgType)
	}
	q.msgs = append(q.msgs, payload)
	return nil
}

type recordingNotifier struct {
	targets []models.SnipeTarget
}

func (n *recordingNotifier) NotifyNewListing(context.Context, models.NewListingEvent) error {
	return nil
}

func (n *recordingNotifier) NotifyTargets(_ context.Context, targets []models.SnipeTarget) error {
	n.targets = append(n.targets, targets...)
	return nil
}

func TestBridgeDispatchesCreatedTargets(t *testing.T) {
	q := &recordingQueue{}
	n := &recordingNotifier{}
	d := NewTargetDispatcher(nil, q, n, 2, metrics.Nop{}, logger.NewNop())
	f := newBridgeFixture(t, usersConfig("u1"), d)

	report, err := f.bridge.ProcessBatch(context.Background(), models.PatternBatch{
		Matches: []models.PatternMatch{readyMatch("ABCUSDT", 92), preReadyMatch("DEFUSDT", 76)},
	})
	require.NoError(t, err)
	require.Len(t, report.Created, 2)

	require.Len(t, q.msgs, 1, "only ready targets are handed to the execution queue")
	assert.Equal(t, "ABCUSDT", q.msgs[0].(models.SnipeTarget).SymbolName)
	require.Len(t, n.targets, 1, "only urgent targets are notified")
	assert.Equal(t, "ABCUSDT", n.targets[0].SymbolName)
}
