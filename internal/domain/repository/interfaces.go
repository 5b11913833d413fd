package repository

import (
	"context"
	"errors"

	"SnipeRadar/internal/domain/models"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateKey     = errors.New("duplicate key")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ExchangeClient fetches the three polled exchange sources.
type ExchangeClient interface {
	FetchCalendar(ctx context.Context) ([]models.CalendarEntry, error)
	FetchSymbols(ctx context.Context) ([]models.SymbolEntry, error)
	FetchExchangeInfo(ctx context.Context) ([]models.ExchangeSymbol, error)
}

// PushStream is the exchange push-stream source.
type PushStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan models.StreamEvent, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// ActivityProvider returns activities for a currency. An empty result is valid.
type ActivityProvider interface {
	Activities(ctx context.Context, currency string) ([]models.Activity, error)
}

// ListingRegistry is a retention-bounded set with atomic check-and-insert.
type ListingRegistry interface {
	// MarkSeen inserts key and reports whether it was absent.
	MarkSeen(ctx context.Context, key string) (bool, error)
	// Remove forgets key, so a later MarkSeen reports it as new again.
	Remove(ctx context.Context, key string) error
	Size(ctx context.Context) (int, error)
}

// TargetStore persists snipe targets.
type TargetStore interface {
	// ExistingPending returns which of pairs already hold a pending or ready
	// target. Implementations must issue a single query.
	ExistingPending(ctx context.Context, pairs []models.UserSymbol) ([]models.UserSymbol, error)
	// CountActive returns pending/ready/executing counts per user in one query.
	CountActive(ctx context.Context, userIDs []string) (map[string]int, error)
	// InsertBatch inserts targets, skipping rows that collide with an
	// existing pending or ready target for the same pair. It returns the
	// rows actually written.
	InsertBatch(ctx context.Context, targets []models.SnipeTarget) ([]models.SnipeTarget, error)
	CountByStatus(ctx context.Context) (map[models.TargetStatus]int, error)
	Health(ctx context.Context) error
}

// PreferenceStore resolves user trading preferences.
type PreferenceStore interface {
	// GetPreferences loads preferences for all userIDs in one query. Users
	// without a row are absent from the map.
	GetPreferences(ctx context.Context, userIDs []string) (map[string]models.UserPreferences, error)
	AutoSnipeUsers(ctx context.Context) ([]string, error)
}

// EventPublisher fans detection events out to downstream consumers.
type EventPublisher interface {
	PublishPatterns(ctx context.Context, events []models.PatternsDetectedEvent) error
	PublishNewListing(ctx context.Context, ev models.NewListingEvent) error
	PublishTargets(ctx context.Context, targets []models.SnipeTarget) error
	Close() error
}

// DetectionSink records detection history for analytics.
type DetectionSink interface {
	StoreResult(ctx context.Context, res models.DetectionResult) error
	StoreMatches(ctx context.Context, source models.LayerSource, matches []models.PatternMatch) error
	Health(ctx context.Context) error
}

// ReadyQueue hands ready targets to the execution engine.
type ReadyQueue interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// Notifier delivers human-facing alerts.
type Notifier interface {
	NotifyNewListing(ctx context.Context, ev models.NewListingEvent) error
	NotifyTargets(ctx context.Context, targets []models.SnipeTarget) error
}

type Metrics interface {
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordLayerPoll(layer string, success bool, seconds float64)
	RecordPatterns(patternType string, n int)
	RecordNewListing(source string)
	RecordBridgeSkip(reason string)
	RecordTargetsCreated(status string, n int)
	RecordPipelineDrop(policy string)
	SetPipelineDepth(n int)
	SetKnownListings(n int)
}
