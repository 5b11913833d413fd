package confidence

import (
	"context"
	"regexp"
	"time"

	"SnipeRadar/internal/domain/models"
	domsvc "SnipeRadar/internal/domain/service"
)

const RuleBasedVersion = "rule-based-v1"

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{3,20}$`)

// RuleBased scores records from the fields present on them. It performs no I/O.
//
// Ready state:  60 base, +25 for the exact ready triple, +3 per precision
// field, +4 when a past open time is known.
// Advance:      50 base, +25 when 3.5-12h out, +20 up to 48h, +10 up to a
// week, +5 for a project name, +5 for a well-formed symbol.
// Pre-ready:    sts=2,st=2 with tt<4 scores 75, sts=2,st=1 scores 65,
// sts=1,st=1 scores 55; anything else is not pre-ready.
type RuleBased struct {
	now func() time.Time
}

func NewRuleBased() *RuleBased {
	return &RuleBased{now: time.Now}
}

func (r *RuleBased) Version() string { return RuleBasedVersion }

func (r *RuleBased) ReadyStateConfidence(_ context.Context, e models.SymbolEntry) (float64, error) {
	score := 60.0
	if e.IsReadyState() {
		score += 25
	}
	for _, p := range []*float64{e.Ca, e.Ps, e.Qs} {
		if p != nil {
			score += 3
		}
	}
	if e.Ot > 0 && time.UnixMilli(e.Ot).Before(r.now()) {
		score += 4
	}
	return domsvc.ClampConfidence(score), nil
}

func (r *RuleBased) AdvanceOpportunityConfidence(_ context.Context, e models.CalendarEntry, advanceHours float64) (float64, error) {
	score := 50.0
	switch {
	case advanceHours >= 3.5 && advanceHours <= 12:
		score += 25
	case advanceHours > 12 && advanceHours <= 48:
		score += 20
	case advanceHours > 48 && advanceHours <= 168:
		score += 10
	}
	if e.ProjectName != "" {
		score += 5
	}
	if symbolPattern.MatchString(e.Symbol) {
		score += 5
	}
	return domsvc.ClampConfidence(score), nil
}

func (r *RuleBased) PreReadyScore(_ context.Context, e models.SymbolEntry) (domsvc.PreReadyScore, error) {
	if e.Sts == nil || e.St == nil || e.Tt == nil || e.IsReadyState() {
		return domsvc.PreReadyScore{}, nil
	}
	sts, st, tt := *e.Sts, *e.St, *e.Tt
	switch {
	case sts == 2 && st == 2 && tt < models.ReadyTt:
		return domsvc.PreReadyScore{IsPreReady: true, Confidence: 75, EstimatedTimeToReady: float64(models.ReadyTt - tt)}, nil
	case sts == 2 && st == 1:
		return domsvc.PreReadyScore{IsPreReady: true, Confidence: 65, EstimatedTimeToReady: 6}, nil
	case sts == 1 && st == 1:
		return domsvc.PreReadyScore{IsPreReady: true, Confidence: 55, EstimatedTimeToReady: 12}, nil
	}
	return domsvc.PreReadyScore{}, nil
}

var _ domsvc.ConfidenceStrategy = (*RuleBased)(nil)
