package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SnipeRadar/internal/domain/models"
)

func readySymbol(cd string) models.SymbolEntry {
	return models.SymbolEntry{
		Cd:  cd,
		Sts: models.Ptr(2), St: models.Ptr(2), Tt: models.Ptr(4),
		Ca: models.Ptr(1.0), Ps: models.Ptr(2.0), Qs: models.Ptr(2.0),
	}
}

func TestValidateSymbolEntry(t *testing.T) {
	res := ValidateSymbolEntry(readySymbol("ABCUSDT"))
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
}

func TestValidateSymbolEntryMissingFieldsFailFast(t *testing.T) {
	e := readySymbol("abc") // would also warn on format
	e.Sts = nil

	res := ValidateSymbolEntry(e)
	require.False(t, res.IsValid)
	assert.Equal(t, []string{"sts is required"}, res.Errors)
	assert.Empty(t, res.Warnings, "range and format checks must not run after a required-field failure")
}

func TestValidateSymbolEntryRangeIsWarning(t *testing.T) {
	e := readySymbol("abc-usdt")
	e.Sts = models.Ptr(7)
	e.Tt = models.Ptr(11)

	res := ValidateSymbolEntry(e)
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Errors)
	assert.Len(t, res.Warnings, 3)
	assert.Contains(t, res.Warnings[0], "cd")
}

func TestValidateCalendarEntry(t *testing.T) {
	ok := models.CalendarEntry{VcoinID: "123", Symbol: "XYZ", ProjectName: "Xyz", FirstOpenTime: time.Now().Add(5 * time.Hour).UnixMilli()}
	assert.True(t, ValidateCalendarEntry(ok).IsValid)

	noName := ok
	noName.ProjectName = ""
	res := ValidateCalendarEntry(noName)
	assert.True(t, res.IsValid)
	assert.Equal(t, []string{"projectName is required"}, res.Warnings)

	missing := models.CalendarEntry{Symbol: "XYZ"}
	res = ValidateCalendarEntry(missing)
	assert.False(t, res.IsValid)
	assert.ElementsMatch(t, []string{"vcoinId is required", "firstOpenTime is required"}, res.Errors)
}

func validMatch() models.PatternMatch {
	return models.PatternMatch{
		PatternType:    models.PatternReadyState,
		Confidence:     92,
		Symbol:         "ABCUSDT",
		DetectedAt:     time.Now(),
		RiskLevel:      models.RiskLow,
		Recommendation: models.RecommendImmediateAction,
	}
}

func TestValidatePatternMatch(t *testing.T) {
	assert.True(t, ValidatePatternMatch(validMatch()).IsValid)

	tests := []struct {
		name   string
		mutate func(m *models.PatternMatch)
	}{
		{"confidence above range", func(m *models.PatternMatch) { m.Confidence = 101 }},
		{"confidence below range", func(m *models.PatternMatch) { m.Confidence = -1 }},
		{"unknown pattern", func(m *models.PatternMatch) { m.PatternType = "moonshot" }},
		{"missing symbol", func(m *models.PatternMatch) { m.Symbol = "" }},
		{"missing detectedAt", func(m *models.PatternMatch) { m.DetectedAt = time.Time{} }},
		{"bad risk", func(m *models.PatternMatch) { m.RiskLevel = "extreme" }},
		{"short advance notice", func(m *models.PatternMatch) {
			m.PatternType = models.PatternLaunchSequence
			m.AdvanceNoticeHours = 2
			m.Recommendation = models.RecommendMonitorClosely
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMatch()
			tt.mutate(&m)
			res := ValidatePatternMatch(m)
			assert.False(t, res.IsValid)
			assert.NotEmpty(t, res.Errors)
		})
	}
}

func TestValidatePatternMatchWarnings(t *testing.T) {
	m := validMatch()
	m.Confidence = 40
	m.AdvanceNoticeHours = 1
	res := ValidatePatternMatch(m)
	assert.True(t, res.IsValid)
	assert.Len(t, res.Warnings, 2)
}

func TestValidateAnalysisRequest(t *testing.T) {
	res := ValidateAnalysisRequest(models.AnalysisRequest{AnalysisType: models.AnalysisDiscovery})
	assert.False(t, res.IsValid)

	bad := readySymbol("DEFUSDT")
	bad.Cd = ""
	req := models.AnalysisRequest{
		AnalysisType: models.AnalysisMonitoring,
		Symbols:      []models.SymbolEntry{readySymbol("ABCUSDT"), bad},
	}
	res = ValidateAnalysisRequest(req)
	assert.True(t, res.IsValid)
	assert.Equal(t, []string{"1 of 2 symbol entries are invalid and will be skipped"}, res.Warnings)

	req.AnalysisType = "guess"
	assert.False(t, ValidateAnalysisRequest(req).IsValid)

	req.AnalysisType = models.AnalysisMonitoring
	req.ConfidenceThreshold = 120
	assert.False(t, ValidateAnalysisRequest(req).IsValid)
}
