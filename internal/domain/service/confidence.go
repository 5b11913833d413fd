package service

import (
	"context"
	"math"
	"strings"

	"SnipeRadar/internal/domain/models"
)

// PreReadyScore is the strategy's verdict on an almost-ready snapshot.
type PreReadyScore struct {
	IsPreReady           bool    `json:"isPreReady"`
	Confidence           float64 `json:"confidence"`
	EstimatedTimeToReady float64 `json:"estimatedTimeToReady"` // hours
}

// ConfidenceStrategy scores raw records. The analyzer only sees this
// interface; implementations live under internal/services.
type ConfidenceStrategy interface {
	Version() string
	ReadyStateConfidence(ctx context.Context, entry models.SymbolEntry) (float64, error)
	AdvanceOpportunityConfidence(ctx context.Context, entry models.CalendarEntry, advanceHours float64) (float64, error)
	PreReadyScore(ctx context.Context, entry models.SymbolEntry) (PreReadyScore, error)
}

// Activity boost points per activity type.
var activityPoints = map[string]float64{
	"SUN_SHINE": 8,
	"PROMOTION": 5,
	"LAUNCHPAD": 10,
}

const (
	unknownActivityPoints = 2
	MaxActivityBoost      = 15
)

var highPriorityActivities = map[string]struct{}{
	"SUN_SHINE": {},
	"LAUNCHPAD": {},
	"IEO":       {},
}

// ActivityBoost sums per-activity points, capped at MaxActivityBoost.
func ActivityBoost(activities []models.Activity) float64 {
	var total float64
	for _, a := range activities {
		if p, ok := activityPoints[strings.ToUpper(a.ActivityType)]; ok {
			total += p
		} else {
			total += unknownActivityPoints
		}
	}
	return math.Min(total, MaxActivityBoost)
}

// HasHighPriorityActivity reports whether any activity is SUN_SHINE, LAUNCHPAD or IEO.
func HasHighPriorityActivity(activities []models.Activity) bool {
	for _, a := range activities {
		if _, ok := highPriorityActivities[strings.ToUpper(a.ActivityType)]; ok {
			return true
		}
	}
	return false
}

// ClampConfidence bounds c to [0,100].
func ClampConfidence(c float64) float64 {
	if math.IsNaN(c) {
		return 0
	}
	return math.Max(0, math.Min(100, c))
}
