package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"SnipeRadar/internal/domain/models"
	domrepo "SnipeRadar/internal/domain/repository"
	domsvc "SnipeRadar/internal/domain/service"
	"SnipeRadar/internal/validation"
	"SnipeRadar/pkg/logger"
)

// AnalyzerConfig holds pattern thresholds.
type AnalyzerConfig struct {
	ReadyMinConfidence    float64
	AdvanceMinConfidence  float64
	PreReadyMinConfidence float64
	AdvanceBoostScale     float64
	Workers               int
	ActivityTimeout       time.Duration
}

func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		ReadyMinConfidence:    85,
		AdvanceMinConfidence:  70,
		PreReadyMinConfidence: 60,
		AdvanceBoostScale:     0.8,
		Workers:               8,
		ActivityTimeout:       5 * time.Second,
	}
}

// PatternAnalyzer turns validated exchange records into pattern matches.
// Each detect operation is independent and only returns matches.
type PatternAnalyzer struct {
	cfg      AnalyzerConfig
	strategy domsvc.ConfidenceStrategy
	activity domrepo.ActivityProvider
	metrics  domrepo.Metrics
	log      *logger.Logger
	now      func() time.Time
}

// NewPatternAnalyzer builds an analyzer. activity may be nil.
func NewPatternAnalyzer(cfg AnalyzerConfig, strategy domsvc.ConfidenceStrategy, activity domrepo.ActivityProvider, metrics domrepo.Metrics, log *logger.Logger) *PatternAnalyzer {
	def := DefaultAnalyzerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.AdvanceBoostScale <= 0 {
		cfg.AdvanceBoostScale = def.AdvanceBoostScale
	}
	if cfg.ActivityTimeout <= 0 {
		cfg.ActivityTimeout = def.ActivityTimeout
	}
	return &PatternAnalyzer{
		cfg:      cfg,
		strategy: strategy,
		activity: activity,
		metrics:  metrics,
		log:      log,
		now:      time.Now,
	}
}

// AlgorithmVersion reports the confidence strategy in use.
func (a *PatternAnalyzer) AlgorithmVersion() string { return a.strategy.Version() }

// DetectReadyStatePattern emits a ready_state match for every snapshot
// carrying exactly sts=2, st=2, tt=4.
func (a *PatternAnalyzer) DetectReadyStatePattern(ctx context.Context, symbols []models.SymbolEntry) []models.PatternMatch {
	return fanOut(ctx, a, symbols, models.PatternReadyState, func(e models.SymbolEntry) string { return e.Cd }, a.readyState)
}

func (a *PatternAnalyzer) readyState(ctx context.Context, e models.SymbolEntry) (*models.PatternMatch, error) {
	if !a.validSymbol(e) || !e.IsReadyState() {
		return nil, nil
	}
	conf, err := a.strategy.ReadyStateConfidence(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("ready confidence: %w", err)
	}
	if conf < a.cfg.ReadyMinConfidence {
		return nil, nil
	}

	info := a.activityInfo(ctx, baseCurrency(e.Cd), 1)
	if info != nil {
		conf += info.ActivityBoost
	}

	return &models.PatternMatch{
		PatternType:        models.PatternReadyState,
		Confidence:         domsvc.ClampConfidence(conf),
		Symbol:             e.Cd,
		VcoinID:            e.VcoinID,
		Indicators:         models.Indicators{Sts: e.Sts, St: e.St, Tt: e.Tt},
		ActivityInfo:       info,
		DetectedAt:         a.now(),
		AdvanceNoticeHours: 0,
		RiskLevel:          readyRisk(e),
		Recommendation:     models.RecommendImmediateAction,
	}, nil
}

// readyRisk grades entries that already passed validSymbol, so the core
// fields are always present here.
func readyRisk(e models.SymbolEntry) models.RiskLevel {
	if e.HasPrecision() {
		return models.RiskLow
	}
	return models.RiskMedium
}

// DetectAdvanceOpportunities emits launch_sequence matches for calendar
// entries opening at least 3.5 hours from now.
func (a *PatternAnalyzer) DetectAdvanceOpportunities(ctx context.Context, entries []models.CalendarEntry) []models.PatternMatch {
	return fanOut(ctx, a, entries, models.PatternLaunchSequence, func(e models.CalendarEntry) string { return e.Symbol }, a.advanceOpportunity)
}

func (a *PatternAnalyzer) advanceOpportunity(ctx context.Context, e models.CalendarEntry) (*models.PatternMatch, error) {
	if res := validation.ValidateCalendarEntry(e); !res.IsValid {
		a.log.Debug("calendar entry rejected", logger.String("symbol", e.Symbol), logger.Strings("errors", res.Errors))
		return nil, nil
	}
	hours := e.AdvanceHours(a.now())
	if hours < validation.MinAdvanceHours {
		return nil, nil
	}
	conf, err := a.strategy.AdvanceOpportunityConfidence(ctx, e, hours)
	if err != nil {
		return nil, fmt.Errorf("advance confidence: %w", err)
	}
	if conf < a.cfg.AdvanceMinConfidence {
		return nil, nil
	}

	info := a.activityInfo(ctx, e.Symbol, a.cfg.AdvanceBoostScale)
	if info != nil {
		conf += info.ActivityBoost
	}
	conf = domsvc.ClampConfidence(conf)

	return &models.PatternMatch{
		PatternType:        models.PatternLaunchSequence,
		Confidence:         conf,
		Symbol:             e.Symbol,
		VcoinID:            e.VcoinID,
		Indicators:         models.Indicators{AdvanceHours: hours},
		ActivityInfo:       info,
		DetectedAt:         a.now(),
		AdvanceNoticeHours: hours,
		RiskLevel:          advanceRisk(hours),
		Recommendation:     advanceRecommendation(conf, hours),
	}, nil
}

func advanceRisk(hours float64) models.RiskLevel {
	switch {
	case hours > 168 || hours < 1:
		return models.RiskHigh
	case hours >= 3.5 && hours <= 48:
		return models.RiskLow
	default:
		return models.RiskMedium
	}
}

func advanceRecommendation(conf, hours float64) models.Recommendation {
	switch {
	case conf >= 80 && hours >= 3.5 && hours <= 12:
		return models.RecommendPrepareEntry
	case conf >= 70 && hours >= 1:
		return models.RecommendMonitorClosely
	case conf < 60:
		return models.RecommendWait
	default:
		return models.RecommendMonitorClosely
	}
}

// DetectPreReadyPatterns emits pre_ready matches for snapshots the
// strategy scores as close to ready.
func (a *PatternAnalyzer) DetectPreReadyPatterns(ctx context.Context, symbols []models.SymbolEntry) []models.PatternMatch {
	return fanOut(ctx, a, symbols, models.PatternPreReady, func(e models.SymbolEntry) string { return e.Cd }, a.preReady)
}

func (a *PatternAnalyzer) preReady(ctx context.Context, e models.SymbolEntry) (*models.PatternMatch, error) {
	if !a.validSymbol(e) {
		return nil, nil
	}
	score, err := a.strategy.PreReadyScore(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("pre-ready score: %w", err)
	}
	if !score.IsPreReady || score.Confidence < a.cfg.PreReadyMinConfidence {
		return nil, nil
	}
	return &models.PatternMatch{
		PatternType:        models.PatternPreReady,
		Confidence:         domsvc.ClampConfidence(score.Confidence),
		Symbol:             e.Cd,
		VcoinID:            e.VcoinID,
		Indicators:         models.Indicators{Sts: e.Sts, St: e.St, Tt: e.Tt},
		DetectedAt:         a.now(),
		AdvanceNoticeHours: math.Max(0, score.EstimatedTimeToReady),
		RiskLevel:          models.RiskMedium,
		Recommendation:     models.RecommendMonitorClosely,
	}, nil
}

// AnalyzeSymbolCorrelations reports launch-timing clusters (symbols opening
// in the same hour) and status clusters (three or more symbols sharing a
// status triple). Signals are advisory only.
func (a *PatternAnalyzer) AnalyzeSymbolCorrelations(symbols []models.SymbolEntry) []models.CorrelationSignal {
	var out []models.CorrelationSignal

	byHour := map[int64][]string{}
	byStatus := map[string][]string{}
	withStatus := 0
	for _, s := range symbols {
		if s.Ot > 0 {
			h := time.UnixMilli(s.Ot).Truncate(time.Hour).Unix()
			byHour[h] = append(byHour[h], s.Cd)
		}
		if s.Sts != nil && s.St != nil && s.Tt != nil {
			k := fmt.Sprintf("%d/%d/%d", *s.Sts, *s.St, *s.Tt)
			byStatus[k] = append(byStatus[k], s.Cd)
			withStatus++
		}
	}

	for h, syms := range byHour {
		if len(syms) < 2 {
			continue
		}
		sort.Strings(syms)
		out = append(out, models.CorrelationSignal{
			Type:     "launch_timing",
			Symbols:  syms,
			Strength: math.Min(1, float64(len(syms))/5),
			Insight:  fmt.Sprintf("%d symbols open in the hour starting %s", len(syms), time.Unix(h, 0).UTC().Format(time.RFC3339)),
		})
	}
	for k, syms := range byStatus {
		if len(syms) < 3 {
			continue
		}
		sort.Strings(syms)
		out = append(out, models.CorrelationSignal{
			Type:     "status_cluster",
			Symbols:  syms,
			Strength: float64(len(syms)) / float64(withStatus),
			Insight:  fmt.Sprintf("%d symbols share status %s", len(syms), k),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return strings.Join(out[i].Symbols, ",") < strings.Join(out[j].Symbols, ",")
	})
	return out
}

// Analyze validates req and runs the detect operations its type calls for.
func (a *PatternAnalyzer) Analyze(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResult, error) {
	start := a.now()
	if res := validation.ValidateAnalysisRequest(req); !res.IsValid {
		return models.AnalysisResult{}, fmt.Errorf("invalid analysis request: %s", strings.Join(res.Errors, "; "))
	} else if len(res.Warnings) > 0 {
		a.log.Debug("analysis request warnings", logger.String("source", req.Source), logger.Strings("warnings", res.Warnings))
	}

	var matches []models.PatternMatch
	switch req.AnalysisType {
	case models.AnalysisDiscovery:
		matches = append(matches, a.DetectAdvanceOpportunities(ctx, req.Calendar)...)
		matches = append(matches, a.DetectReadyStatePattern(ctx, req.Symbols)...)
	case models.AnalysisMonitoring:
		matches = append(matches, a.DetectReadyStatePattern(ctx, req.Symbols)...)
		matches = append(matches, a.DetectPreReadyPatterns(ctx, req.Symbols)...)
	case models.AnalysisValidation:
		matches = append(matches, a.DetectReadyStatePattern(ctx, req.Symbols)...)
	}

	result := models.AnalysisResult{}
	for _, m := range matches {
		if m.Confidence < req.ConfidenceThreshold {
			result.Skipped++
			continue
		}
		result.Matches = append(result.Matches, m)
	}
	if req.IncludeCorrelations || req.AnalysisType == models.AnalysisCorrelation {
		result.Correlations = a.AnalyzeSymbolCorrelations(req.Symbols)
	}

	result.Duration = a.now().Sub(start)
	result.Events = a.BuildEvents(req.Source, result.Matches, result.Duration)
	for _, ev := range result.Events {
		a.metrics.RecordPatterns(string(ev.PatternType), len(ev.Matches))
	}
	a.metrics.RecordLatency("analyze_"+string(req.AnalysisType), result.Duration.Seconds())
	return result, nil
}

var eventOrder = []models.PatternType{
	models.PatternReadyState,
	models.PatternLaunchSequence,
	models.PatternPreReady,
	models.PatternRiskWarning,
}

// BuildEvents groups matches into one patterns-detected event per type.
func (a *PatternAnalyzer) BuildEvents(source string, matches []models.PatternMatch, took time.Duration) []models.PatternsDetectedEvent {
	grouped := map[models.PatternType][]models.PatternMatch{}
	for _, m := range matches {
		grouped[m.PatternType] = append(grouped[m.PatternType], m)
	}

	now := a.now()
	var events []models.PatternsDetectedEvent
	for _, pt := range eventOrder {
		ms := grouped[pt]
		if len(ms) == 0 {
			continue
		}
		var sum float64
		for _, m := range ms {
			sum += m.Confidence
		}
		events = append(events, models.PatternsDetectedEvent{
			PatternType: pt,
			Matches:     ms,
			Metadata: models.PatternsMetadata{
				Source:            source,
				Timestamp:         now,
				AverageConfidence: sum / float64(len(ms)),
				AlgorithmVersion:  a.strategy.Version(),
				ProcessingTimeMs:  took.Milliseconds(),
			},
		})
	}
	return events
}

func (a *PatternAnalyzer) validSymbol(e models.SymbolEntry) bool {
	res := validation.ValidateSymbolEntry(e)
	if !res.IsValid {
		a.log.Debug("symbol entry rejected", logger.String("symbol", e.Cd), logger.Strings("errors", res.Errors))
		return false
	}
	if len(res.Warnings) > 0 {
		a.log.Debug("symbol entry warnings", logger.String("symbol", e.Cd), logger.Strings("warnings", res.Warnings))
	}
	return true
}

// activityInfo looks up activities for currency and scales the boost.
// Lookup failures only drop the enrichment.
func (a *PatternAnalyzer) activityInfo(ctx context.Context, currency string, scale float64) *models.ActivityInfo {
	if a.activity == nil || currency == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ActivityTimeout)
	defer cancel()

	acts, err := a.activity.Activities(ctx, currency)
	if err != nil {
		a.log.Debug("activity lookup failed", logger.String("currency", currency), logger.Error(err))
		return nil
	}
	if len(acts) == 0 {
		return nil
	}
	types := make([]string, 0, len(acts))
	for _, act := range acts {
		types = append(types, act.ActivityType)
	}
	return &models.ActivityInfo{
		Activities:      acts,
		ActivityBoost:   domsvc.ActivityBoost(acts) * scale,
		HasHighPriority: domsvc.HasHighPriorityActivity(acts),
		ActivityTypes:   types,
	}
}

var quoteAssets = []string{"USDT", "USDC", "BTC", "ETH"}

// baseCurrency strips a trailing quote asset: ABCUSDT -> ABC.
func baseCurrency(symbol string) string {
	for _, q := range quoteAssets {
		if len(symbol) > len(q) && strings.HasSuffix(symbol, q) {
			return strings.TrimSuffix(symbol, q)
		}
	}
	return symbol
}

// fanOut runs fn over items on a bounded worker pool. An error or panic in
// one item is logged and skipped; it never aborts the batch.
func fanOut[T any](
	ctx context.Context,
	a *PatternAnalyzer,
	items []T,
	pattern models.PatternType,
	symbolOf func(T) string,
	fn func(context.Context, T) (*models.PatternMatch, error),
) []models.PatternMatch {
	if len(items) == 0 {
		return nil
	}
	results := make([]*models.PatternMatch, len(items))

	var g errgroup.Group
	g.SetLimit(a.cfg.Workers)
	for i := range items {
		i := i
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
				if err != nil {
					a.metrics.RecordError("analyze_" + string(pattern))
					a.log.Warn("pattern analysis failed for entry",
						logger.String("symbol", symbolOf(items[i])),
						logger.String("pattern_type", string(pattern)),
						logger.Error(err))
				}
			}()
			if ctx.Err() != nil {
				return nil
			}
			results[i], err = fn(ctx, items[i])
			return err
		})
	}
	_ = g.Wait() // per-entry errors are already logged

	out := make([]models.PatternMatch, 0, len(items))
	for _, m := range results {
		if m != nil {
			out = append(out, *m)
		}
	}
	return out
}
