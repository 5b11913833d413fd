package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"SnipeRadar/internal/domain/models"
	drepo "SnipeRadar/internal/domain/repository"
	"SnipeRadar/pkg/cache"
	"SnipeRadar/pkg/logger"
)

const (
	keyPrefix      = "activity"
	recordedPrefix = "activity_recorded"
)

// CachedProvider fronts an upstream ActivityProvider with a TTL cache.
// Activities pushed through Record are kept under their own key and merged
// with the upstream list on read, so a recorded signal never hides the
// exchange's own activities.
type CachedProvider struct {
	upstream drepo.ActivityProvider
	cache    cache.Service
	ttl      time.Duration
	log      *logger.Logger
}

func NewCachedProvider(upstream drepo.ActivityProvider, c cache.Service, ttl time.Duration, log *logger.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedProvider{upstream: upstream, cache: c, ttl: ttl, log: log}
}

func key(currency string) string {
	return cache.GenerateKey(keyPrefix, strings.ToUpper(currency))
}

func recordedKey(currency string) string {
	return cache.GenerateKey(recordedPrefix, strings.ToUpper(currency))
}

// Activities returns the upstream activities for currency plus any recorded
// ones. When the upstream fails but signals were recorded, those are
// returned alone.
func (p *CachedProvider) Activities(ctx context.Context, currency string) ([]models.Activity, error) {
	recorded, err := p.recorded(ctx, currency)
	if err != nil {
		p.log.Warn("recorded activity read failed", logger.String("currency", currency), logger.Error(err))
	}

	upstream, err := p.fromUpstream(ctx, currency)
	if err != nil {
		if len(recorded) == 0 {
			return nil, err
		}
		p.log.Warn("activity upstream failed, using recorded signals", logger.String("currency", currency), logger.Error(err))
	}
	return merge(upstream, recorded), nil
}

func (p *CachedProvider) fromUpstream(ctx context.Context, currency string) ([]models.Activity, error) {
	var acts []models.Activity
	err := p.cache.Get(ctx, key(currency), &acts)
	if err == nil {
		return acts, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		p.log.Warn("activity cache read failed", logger.String("currency", currency), logger.Error(err))
	}

	if p.upstream == nil {
		return nil, nil
	}
	acts, err = p.upstream.Activities(ctx, currency)
	if err != nil {
		return nil, fmt.Errorf("activities %s: %w", currency, err)
	}
	if acts == nil {
		acts = []models.Activity{}
	}
	if err := p.cache.Set(ctx, key(currency), acts, p.ttl); err != nil {
		p.log.Warn("activity cache write failed", logger.String("currency", currency), logger.Error(err))
	}
	return acts, nil
}

func (p *CachedProvider) recorded(ctx context.Context, currency string) ([]models.Activity, error) {
	var acts []models.Activity
	if err := p.cache.Get(ctx, recordedKey(currency), &acts); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		return nil, err
	}
	return acts, nil
}

// merge appends extra to base, skipping activities whose ID is already present.
func merge(base, extra []models.Activity) []models.Activity {
	if len(extra) == 0 {
		return base
	}
	seen := make(map[string]struct{}, len(base))
	out := make([]models.Activity, 0, len(base)+len(extra))
	for _, a := range base {
		if a.ActivityID != "" {
			seen[a.ActivityID] = struct{}{}
		}
		out = append(out, a)
	}
	for _, a := range extra {
		if _, dup := seen[a.ActivityID]; dup && a.ActivityID != "" {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Record stores an externally observed activity next to the upstream cache
// entry. It does not touch the upstream entry.
func (p *CachedProvider) Record(ctx context.Context, a models.Activity) error {
	if a.Currency == "" || a.ActivityType == "" {
		return errors.New("activity requires currency and activityType")
	}
	acts, err := p.recorded(ctx, a.Currency)
	if err != nil {
		return fmt.Errorf("read activities: %w", err)
	}
	for _, existing := range acts {
		if existing.ActivityID != "" && existing.ActivityID == a.ActivityID {
			return nil
		}
	}
	acts = append(acts, a)
	if err := p.cache.Set(ctx, recordedKey(a.Currency), acts, p.ttl); err != nil {
		return fmt.Errorf("write activities: %w", err)
	}
	return nil
}

var _ drepo.ActivityProvider = (*CachedProvider)(nil)
