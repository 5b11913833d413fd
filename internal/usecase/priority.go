package usecase

import (
	"time"

	"SnipeRadar/internal/domain/models"
)

const (
	MinPriority     = 1
	MaxPriority     = 10
	defaultPriority = 5
)

// TargetPriority ranks a match, 1 being the most urgent.
func TargetPriority(m models.PatternMatch) int {
	p := defaultPriority
	switch {
	case m.Confidence >= 90:
		p = 1
	case m.Confidence >= 80:
		p = 2
	case m.Confidence >= 75:
		p = 3
	case m.Confidence >= 70:
		p = 4
	}

	if m.PatternType == models.PatternReadyState || m.PatternType == models.PatternLaunchSequence {
		p--
	}
	switch m.RiskLevel {
	case models.RiskLow:
		p--
	case models.RiskHigh:
		p++
	}

	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// ExecutionTime is when the execution engine should act on a target.
func ExecutionTime(m models.PatternMatch, now time.Time, readyBuffer, preReadyDelay time.Duration) time.Time {
	switch m.PatternType {
	case models.PatternReadyState:
		return now.Add(readyBuffer)
	case models.PatternLaunchSequence:
		return now.Add(time.Duration(m.AdvanceNoticeHours * float64(time.Hour)))
	default:
		return now.Add(preReadyDelay)
	}
}

// InitialStatus is ready for ready-state matches and pending otherwise.
func InitialStatus(m models.PatternMatch) models.TargetStatus {
	if m.PatternType == models.PatternReadyState {
		return models.TargetReady
	}
	return models.TargetPending
}
