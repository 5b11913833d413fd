package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"SnipeRadar/internal/domain/models"
	domrepo "SnipeRadar/internal/domain/repository"
	"SnipeRadar/internal/validation"
	"SnipeRadar/pkg/logger"
)

// Skip reasons.
const (
	SkipInvalid           = "invalid_match"
	SkipUnsupportedType   = "unsupported_pattern"
	SkipLowConfidence     = "low_confidence"
	SkipHighRisk          = "high_risk"
	SkipDuplicatePattern  = "duplicate_pattern"
	SkipNoUsers           = "no_target_users"
	SkipAutoSnipeDisabled = "auto_snipe_disabled"
	SkipExistingTarget    = "existing_target"
	SkipDuplicateInBatch  = "duplicate_in_batch"
	SkipUserCap           = "user_cap_reached"
)

// HighRiskOverrideConfidence admits a high-risk match when RejectHighRisk is set.
const HighRiskOverrideConfidence = 85

// TargetDefaults fill in preferences for users without a stored row.
type TargetDefaults struct {
	PositionSizeUsdt decimal.Decimal `json:"positionSizeUsdt"`
	StopLossPercent  float64         `json:"stopLossPercent"`
	TakeProfitLevel  int             `json:"takeProfitLevel"`
	EntryStrategy    string          `json:"entryStrategy"`
}

// BridgeConfig is the runtime-adjustable bridge policy.
type BridgeConfig struct {
	SupportedPatterns    []models.PatternType `json:"supportedPatterns" validate:"required,min=1,dive,oneof=ready_state pre_ready launch_sequence risk_warning"`
	MinConfidence        float64              `json:"minConfidence" validate:"gte=0,lte=100"`
	RejectHighRisk       bool                 `json:"rejectHighRisk"`
	MaxConcurrentPerUser int                  `json:"maxConcurrentPerUser" validate:"gte=1"`
	DedupGranularity     time.Duration        `json:"dedupGranularity" validate:"gt=0"`
	ReadyBuffer          time.Duration        `json:"readyBuffer" validate:"gte=0"`
	PreReadyDelay        time.Duration        `json:"preReadyDelay" validate:"gte=0"`
	DefaultUserIDs       []string             `json:"defaultUserIds,omitempty"`
	Defaults             TargetDefaults       `json:"defaults"`
}

func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		SupportedPatterns:    []models.PatternType{models.PatternReadyState, models.PatternLaunchSequence, models.PatternPreReady},
		MinConfidence:        75,
		RejectHighRisk:       true,
		MaxConcurrentPerUser: 10,
		DedupGranularity:     15 * time.Second,
		ReadyBuffer:          5 * time.Second,
		PreReadyDelay:        30 * time.Minute,
		Defaults: TargetDefaults{
			PositionSizeUsdt: decimal.NewFromInt(100),
			StopLossPercent:  5,
			TakeProfitLevel:  2,
			EntryStrategy:    "market",
		},
	}
}

// BridgeSkip records why a match, or a match for one user, produced no target.
type BridgeSkip struct {
	Symbol      string             `json:"symbol"`
	PatternType models.PatternType `json:"patternType"`
	UserID      string             `json:"userId,omitempty"`
	Reason      string             `json:"reason"`
}

// BridgeReport is the outcome of one batch.
type BridgeReport struct {
	Received int                  `json:"received"`
	Created  []models.SnipeTarget `json:"created"`
	Skipped  []BridgeSkip         `json:"skipped"`
}

// BridgeStats is the read-only status view.
type BridgeStats struct {
	ProcessedPatterns int64                       `json:"processedPatterns"`
	CreatedTargets    int64                       `json:"createdTargets"`
	Batches           int64                       `json:"batches"`
	Skips             map[string]int64            `json:"skips"`
	DedupCacheSize    int                         `json:"dedupCacheSize"`
	TargetsByStatus   map[models.TargetStatus]int `json:"targetsByStatus"`
	LastBatchAt       time.Time                   `json:"lastBatchAt,omitempty"`
}

// TargetBridge converts pattern matches into persisted snipe targets.
//
// Per batch it issues one preference query, at most one auto-snipe user
// query, one existing-target query, one active-count query and one insert,
// regardless of how many matches or users the batch spans.
type TargetBridge struct {
	targets    domrepo.TargetStore
	prefs      domrepo.PreferenceStore
	dedup      domrepo.ListingRegistry
	dispatcher *TargetDispatcher
	metrics    domrepo.Metrics
	log        *logger.Logger
	now        func() time.Time

	cfgMu sync.RWMutex
	cfg   BridgeConfig

	statsMu sync.Mutex
	stats   BridgeStats
}

// NewTargetBridge builds a bridge. dispatcher may be nil.
func NewTargetBridge(cfg BridgeConfig, targets domrepo.TargetStore, prefs domrepo.PreferenceStore, dedup domrepo.ListingRegistry, dispatcher *TargetDispatcher, metrics domrepo.Metrics, log *logger.Logger) *TargetBridge {
	return &TargetBridge{
		targets:    targets,
		prefs:      prefs,
		dedup:      dedup,
		dispatcher: dispatcher,
		metrics:    metrics,
		log:        log.With(logger.String("component", "bridge")),
		now:        time.Now,
		cfg:        cfg,
		stats:      BridgeStats{Skips: map[string]int64{}},
	}
}

// Config returns a copy of the active policy.
func (b *TargetBridge) Config() BridgeConfig {
	b.cfgMu.RLock()
	defer b.cfgMu.RUnlock()
	cfg := b.cfg
	cfg.SupportedPatterns = append([]models.PatternType(nil), b.cfg.SupportedPatterns...)
	cfg.DefaultUserIDs = append([]string(nil), b.cfg.DefaultUserIDs...)
	return cfg
}

// UpdateConfig validates and swaps in a new policy. Batches already in
// flight finish under the previous one.
func (b *TargetBridge) UpdateConfig(cfg BridgeConfig) error {
	if res := validation.ValidateStruct(cfg); !res.IsValid {
		return fmt.Errorf("invalid bridge config: %v", res.Errors)
	}
	b.cfgMu.Lock()
	b.cfg = cfg
	b.cfgMu.Unlock()
	b.log.Info("bridge config updated",
		logger.Float64("min_confidence", cfg.MinConfidence),
		logger.Int("max_concurrent_per_user", cfg.MaxConcurrentPerUser),
		logger.Bool("reject_high_risk", cfg.RejectHighRisk))
	return nil
}

// HandleBatch implements the pipeline's downstream stage.
func (b *TargetBridge) HandleBatch(ctx context.Context, batch models.PatternBatch) error {
	_, err := b.ProcessBatch(ctx, batch)
	return err
}

// ProcessBatch filters, deduplicates and persists targets for a batch. A
// store failure is returned, and any dedup keys taken by the batch are
// released so a retry is not mistaken for a duplicate.
func (b *TargetBridge) ProcessBatch(ctx context.Context, batch models.PatternBatch) (BridgeReport, error) {
	start := b.now()
	cfg := b.Config()
	report := BridgeReport{Received: len(batch.Matches), Created: []models.SnipeTarget{}, Skipped: []BridgeSkip{}}

	var marked []string
	release := func() {
		for _, k := range marked {
			if err := b.dedup.Remove(ctx, k); err != nil {
				b.log.Warn("failed to release dedup key", logger.String("key", k), logger.Error(err))
			}
		}
	}

	matches := make([]models.PatternMatch, 0, len(batch.Matches))
	for _, m := range batch.Matches {
		if reason := b.admit(cfg, m); reason != "" {
			report.skip(m, "", reason)
			continue
		}
		key := dedupKey(m, cfg.DedupGranularity)
		fresh, err := b.dedup.MarkSeen(ctx, key)
		if err != nil {
			// the unique index still guards the store
			b.log.Warn("dedup registry unavailable", logger.String("key", key), logger.Error(err))
		} else if !fresh {
			report.skip(m, "", SkipDuplicatePattern)
			continue
		} else {
			marked = append(marked, key)
		}
		matches = append(matches, m)
	}
	if len(matches) == 0 {
		b.finish(report, start)
		return report, nil
	}

	users, err := b.targetUsers(ctx, cfg)
	if err != nil {
		release()
		return report, err
	}
	if len(users) == 0 {
		for _, m := range matches {
			report.skip(m, "", SkipNoUsers)
		}
		b.finish(report, start)
		return report, nil
	}

	prefs, err := b.prefs.GetPreferences(ctx, users)
	if err != nil {
		release()
		return report, fmt.Errorf("load preferences: %w", err)
	}

	pairs := make([]models.UserSymbol, 0, len(matches)*len(users))
	for _, m := range matches {
		for _, u := range users {
			pairs = append(pairs, models.UserSymbol{UserID: u, Symbol: m.Symbol})
		}
	}
	existingPairs, err := b.targets.ExistingPending(ctx, pairs)
	if err != nil {
		release()
		return report, fmt.Errorf("check existing targets: %w", err)
	}
	existing := make(map[models.UserSymbol]struct{}, len(existingPairs))
	for _, p := range existingPairs {
		existing[p] = struct{}{}
	}

	active, err := b.targets.CountActive(ctx, users)
	if err != nil {
		release()
		return report, fmt.Errorf("count active targets: %w", err)
	}

	now := b.now()
	planned := make(map[models.UserSymbol]struct{})
	perUser := make(map[string]int)
	var candidates []models.SnipeTarget
	for _, m := range matches {
		for _, u := range users {
			pair := models.UserSymbol{UserID: u, Symbol: m.Symbol}
			pref, hasPref := prefs[u]
			switch {
			case hasPref && !pref.AutoSnipeEnabled:
				report.skip(m, u, SkipAutoSnipeDisabled)
				continue
			case contains(existing, pair):
				report.skip(m, u, SkipExistingTarget)
				continue
			case contains(planned, pair):
				report.skip(m, u, SkipDuplicateInBatch)
				continue
			}
			limit := cfg.MaxConcurrentPerUser
			if hasPref && pref.MaxConcurrentTargets > 0 {
				limit = pref.MaxConcurrentTargets
			}
			if active[u]+perUser[u] >= limit {
				report.skip(m, u, SkipUserCap)
				continue
			}
			planned[pair] = struct{}{}
			perUser[u]++
			candidates = append(candidates, b.buildTarget(cfg, m, u, pref, hasPref, now))
		}
	}

	if len(candidates) > 0 {
		inserted, err := b.targets.InsertBatch(ctx, candidates)
		if err != nil {
			release()
			return report, fmt.Errorf("insert targets: %w", err)
		}
		written := make(map[models.UserSymbol]struct{}, len(inserted))
		for _, t := range inserted {
			written[models.UserSymbol{UserID: t.UserID, Symbol: t.SymbolName}] = struct{}{}
		}
		for _, t := range candidates {
			if !contains(written, models.UserSymbol{UserID: t.UserID, Symbol: t.SymbolName}) {
				// lost a race with a concurrent batch; the unique index kept one
				report.Skipped = append(report.Skipped, BridgeSkip{Symbol: t.SymbolName, PatternType: t.PatternType, UserID: t.UserID, Reason: SkipExistingTarget})
			}
		}
		report.Created = inserted
	}

	b.finish(report, start)
	if b.dispatcher != nil && len(report.Created) > 0 {
		b.dispatcher.Dispatch(ctx, report.Created)
	}
	return report, nil
}

// admit applies the type, confidence and risk filters. It returns the skip
// reason, or "" when the match passes.
func (b *TargetBridge) admit(cfg BridgeConfig, m models.PatternMatch) string {
	if !validation.ValidatePatternMatch(m).IsValid {
		return SkipInvalid
	}
	supported := false
	for _, pt := range cfg.SupportedPatterns {
		if pt == m.PatternType {
			supported = true
			break
		}
	}
	switch {
	case !supported:
		return SkipUnsupportedType
	case m.Confidence < cfg.MinConfidence:
		return SkipLowConfidence
	case cfg.RejectHighRisk && m.RiskLevel == models.RiskHigh && m.Confidence < HighRiskOverrideConfidence:
		return SkipHighRisk
	}
	return ""
}

// targetUsers resolves who a batch fans out to: every auto-snipe user, or the
// configured defaults when nobody has opted in.
func (b *TargetBridge) targetUsers(ctx context.Context, cfg BridgeConfig) ([]string, error) {
	users, err := b.prefs.AutoSnipeUsers(ctx)
	if err != nil && !errors.Is(err, domrepo.ErrNotFound) {
		return nil, fmt.Errorf("load auto-snipe users: %w", err)
	}
	if len(users) == 0 {
		users = cfg.DefaultUserIDs
	}
	return uniqueStrings(users), nil
}

func (b *TargetBridge) buildTarget(cfg BridgeConfig, m models.PatternMatch, userID string, pref models.UserPreferences, hasPref bool, now time.Time) models.SnipeTarget {
	t := models.SnipeTarget{
		ID:                  uuid.NewString(),
		UserID:              userID,
		VcoinID:             m.VcoinID,
		SymbolName:          m.Symbol,
		EntryStrategy:       cfg.Defaults.EntryStrategy,
		PositionSizeUsdt:    cfg.Defaults.PositionSizeUsdt,
		StopLossPercent:     cfg.Defaults.StopLossPercent,
		TakeProfitLevel:     cfg.Defaults.TakeProfitLevel,
		Status:              InitialStatus(m),
		Priority:            TargetPriority(m),
		TargetExecutionTime: ExecutionTime(m, now, cfg.ReadyBuffer, cfg.PreReadyDelay),
		ConfidenceScore:     m.Confidence,
		RiskLevel:           m.RiskLevel,
		PatternType:         m.PatternType,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if t.VcoinID == "" {
		t.VcoinID = m.Symbol
	}
	if !hasPref {
		return t
	}
	if pref.EntryStrategy != "" {
		t.EntryStrategy = pref.EntryStrategy
	}
	if pref.DefaultBuyAmountUsdt.IsPositive() {
		t.PositionSizeUsdt = pref.DefaultBuyAmountUsdt
	}
	if pref.StopLossPercent > 0 {
		t.StopLossPercent = pref.StopLossPercent
	}
	if pref.TakeProfitLevel > 0 {
		t.TakeProfitLevel = pref.TakeProfitLevel
	}
	t.TakeProfitCustom = pref.TakeProfitCustom
	return t
}

func (b *TargetBridge) finish(r BridgeReport, start time.Time) {
	reasons := map[string]int{}
	for _, s := range r.Skipped {
		reasons[s.Reason]++
		b.metrics.RecordBridgeSkip(s.Reason)
		b.log.Debug("pattern skipped",
			logger.String("reason", s.Reason),
			logger.String("symbol", s.Symbol),
			logger.String("pattern_type", string(s.PatternType)),
			logger.String("user_id", s.UserID))
	}
	byStatus := map[models.TargetStatus]int{}
	for _, t := range r.Created {
		byStatus[t.Status]++
	}
	for st, n := range byStatus {
		b.metrics.RecordTargetsCreated(string(st), n)
	}
	b.metrics.RecordLatency("bridge_batch", b.now().Sub(start).Seconds())

	b.statsMu.Lock()
	b.stats.Batches++
	b.stats.ProcessedPatterns += int64(r.Received)
	b.stats.CreatedTargets += int64(len(r.Created))
	for reason, n := range reasons {
		b.stats.Skips[reason] += int64(n)
	}
	b.stats.LastBatchAt = start
	b.statsMu.Unlock()

	if len(r.Created) > 0 || len(r.Skipped) > 0 {
		b.log.Info("pattern batch bridged",
			logger.Int("received", r.Received),
			logger.Int("created", len(r.Created)),
			logger.Int("skipped", len(r.Skipped)))
	}
}

// Stats returns counters plus live store and dedup sizes.
func (b *TargetBridge) Stats(ctx context.Context) (BridgeStats, error) {
	b.statsMu.Lock()
	out := b.stats
	out.Skips = make(map[string]int64, len(b.stats.Skips))
	for k, v := range b.stats.Skips {
		out.Skips[k] = v
	}
	b.statsMu.Unlock()

	n, err := b.dedup.Size(ctx)
	if err != nil {
		return out, fmt.Errorf("dedup size: %w", err)
	}
	out.DedupCacheSize = n

	counts, err := b.targets.CountByStatus(ctx)
	if err != nil {
		return out, fmt.Errorf("count targets: %w", err)
	}
	out.TargetsByStatus = counts
	return out, nil
}

func (r *BridgeReport) skip(m models.PatternMatch, userID, reason string) {
	r.Skipped = append(r.Skipped, BridgeSkip{Symbol: m.Symbol, PatternType: m.PatternType, UserID: userID, Reason: reason})
}

// dedupKey buckets detectedAt to the polling granularity so the same
// pattern seen by consecutive polls collapses to one key.
func dedupKey(m models.PatternMatch, granularity time.Duration) string {
	bucket := m.DetectedAt.Truncate(granularity).Unix()
	return m.Symbol + "|" + string(m.PatternType) + "|" + strconv.FormatInt(bucket, 10)
}

func contains[K comparable](m map[K]struct{}, k K) bool {
	_, ok := m[k]
	return ok
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
