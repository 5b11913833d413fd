package models

import "time"

type PatternType string

const (
	PatternReadyState     PatternType = "ready_state"
	PatternPreReady       PatternType = "pre_ready"
	PatternLaunchSequence PatternType = "launch_sequence"
	PatternRiskWarning    PatternType = "risk_warning"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type Recommendation string

const (
	RecommendImmediateAction Recommendation = "immediate_action"
	RecommendMonitorClosely  Recommendation = "monitor_closely"
	RecommendPrepareEntry    Recommendation = "prepare_entry"
	RecommendWait            Recommendation = "wait"
	RecommendAvoid           Recommendation = "avoid"
)

// Indicators is the evidence a match was derived from.
type Indicators struct {
	Sts          *int    `json:"sts,omitempty"`
	St           *int    `json:"st,omitempty"`
	Tt           *int    `json:"tt,omitempty"`
	AdvanceHours float64 `json:"advanceHours,omitempty"`
}

// ActivityInfo describes the activity boost applied to a match.
type ActivityInfo struct {
	Activities      []Activity `json:"activities"`
	ActivityBoost   float64    `json:"activityBoost"`
	HasHighPriority bool       `json:"hasHighPriorityActivity"`
	ActivityTypes   []string   `json:"activityTypes"`
}

// PatternMatch is a single analyzer finding.
type PatternMatch struct {
	PatternType        PatternType    `json:"patternType" validate:"required,oneof=ready_state pre_ready launch_sequence risk_warning"`
	Confidence         float64        `json:"confidence" validate:"gte=0,lte=100" warn:"gte=50"`
	Symbol             string         `json:"symbol" validate:"required" warn:"symbolfmt"`
	VcoinID            string         `json:"vcoinId,omitempty"`
	Indicators         Indicators     `json:"indicators"`
	ActivityInfo       *ActivityInfo  `json:"activityInfo,omitempty"`
	DetectedAt         time.Time      `json:"detectedAt" validate:"required"`
	AdvanceNoticeHours float64        `json:"advanceNoticeHours" validate:"gte=0" warn:"lte=720"`
	RiskLevel          RiskLevel      `json:"riskLevel" validate:"required,oneof=low medium high"`
	Recommendation     Recommendation `json:"recommendation" validate:"required,oneof=immediate_action monitor_closely prepare_entry wait avoid"`
}

// CorrelationSignal is an advisory clustering signal across symbols.
type CorrelationSignal struct {
	Type     string   `json:"type"` // launch_timing or status_cluster
	Symbols  []string `json:"symbols"`
	Strength float64  `json:"strength"` // [0,1]
	Insight  string   `json:"insight"`
}

// PatternsMetadata accompanies a patterns-detected event.
type PatternsMetadata struct {
	Source            string    `json:"source"`
	Timestamp         time.Time `json:"timestamp"`
	AverageConfidence float64   `json:"averageConfidence"`
	AlgorithmVersion  string    `json:"algorithmVersion"`
	ProcessingTimeMs  int64     `json:"processingTimeMs"`
}

// PatternsDetectedEvent groups the matches of one pattern type from one cycle.
type PatternsDetectedEvent struct {
	PatternType PatternType      `json:"patternType"`
	Matches     []PatternMatch   `json:"matches"`
	Metadata    PatternsMetadata `json:"metadata"`
}

type AnalysisType string

const (
	AnalysisDiscovery   AnalysisType = "discovery"
	AnalysisMonitoring  AnalysisType = "monitoring"
	AnalysisValidation  AnalysisType = "validation"
	AnalysisCorrelation AnalysisType = "correlation"
)

// AnalysisRequest asks the analyzer to run over a batch of raw records.
type AnalysisRequest struct {
	Symbols             []SymbolEntry   `json:"symbols,omitempty"`
	Calendar            []CalendarEntry `json:"calendarEntries,omitempty"`
	AnalysisType        AnalysisType    `json:"analysisType" validate:"required,oneof=discovery monitoring validation correlation"`
	ConfidenceThreshold float64         `json:"confidenceThreshold" validate:"gte=0,lte=100"`
	IncludeCorrelations bool            `json:"includeCorrelations"`
	Source              string          `json:"source"`
}

// AnalysisResult is the outcome of one analyzer run.
type AnalysisResult struct {
	Matches      []PatternMatch          `json:"matches"`
	Events       []PatternsDetectedEvent `json:"events"`
	Correlations []CorrelationSignal     `json:"correlations,omitempty"`
	Skipped      int                     `json:"skipped"`
	Duration     time.Duration           `json:"duration"`
}
