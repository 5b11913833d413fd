package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TargetStatus string

const (
	TargetPending   TargetStatus = "pending"
	TargetReady     TargetStatus = "ready"
	TargetExecuting TargetStatus = "executing"
	TargetCompleted TargetStatus = "completed"
	TargetFailed    TargetStatus = "failed"
	TargetCancelled TargetStatus = "cancelled"
)

// ActiveStatuses count against a user's concurrent target cap.
var ActiveStatuses = []TargetStatus{TargetPending, TargetReady, TargetExecuting}

// SnipeTarget is a persisted intent to trade a symbol.
type SnipeTarget struct {
	ID                  string          `json:"id"`
	UserID              string          `json:"userId"`
	VcoinID             string          `json:"vcoinId"`
	SymbolName          string          `json:"symbolName"`
	EntryStrategy       string          `json:"entryStrategy"`
	PositionSizeUsdt    decimal.Decimal `json:"positionSizeUsdt"`
	StopLossPercent     float64         `json:"stopLossPercent"`
	TakeProfitLevel     int             `json:"takeProfitLevel"`
	TakeProfitCustom    *float64        `json:"takeProfitCustom,omitempty"`
	Status              TargetStatus    `json:"status"`
	Priority            int             `json:"priority"`
	TargetExecutionTime time.Time       `json:"targetExecutionTime"`
	ConfidenceScore     float64         `json:"confidenceScore"`
	RiskLevel           RiskLevel       `json:"riskLevel"`
	PatternType         PatternType     `json:"patternType"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// UserSymbol is a (userId, symbol) pair.
type UserSymbol struct {
	UserID string
	Symbol string
}

// UserPreferences are per-user trading defaults.
type UserPreferences struct {
	UserID               string          `json:"userId"`
	DefaultBuyAmountUsdt decimal.Decimal `json:"defaultBuyAmountUsdt"`
	StopLossPercent      float64         `json:"stopLossPercent"`
	TakeProfitLevel      int             `json:"takeProfitLevel"`
	TakeProfitCustom     *float64        `json:"takeProfitCustom,omitempty"`
	EntryStrategy        string          `json:"entryStrategy"`
	MaxConcurrentTargets int             `json:"maxConcurrentTargets,omitempty"` // 0 means use the global cap
	AutoSnipeEnabled     bool            `json:"autoSnipeEnabled"`
}
