package confidence

import (
	"context"
	"fmt"
	"time"

	"SnipeRadar/internal/domain/models"
	domsvc "SnipeRadar/internal/domain/service"
	xhttp "SnipeRadar/pkg/http"
	"SnipeRadar/pkg/logger"
)

// Remote asks an external scoring service and falls back to another
// strategy when the service is unreachable or answers with an error.
type Remote struct {
	baseURL  string
	client   *xhttp.Client
	attempts int
	fallback domsvc.ConfidenceStrategy
	log      *logger.Logger
}

func NewRemote(baseURL string, timeout time.Duration, attempts int, fallback domsvc.ConfidenceStrategy, log *logger.Logger) *Remote {
	if attempts < 1 {
		attempts = 1
	}
	return &Remote{
		baseURL:  baseURL,
		client:   xhttp.NewClient(xhttp.WithTimeout(timeout)),
		attempts: attempts,
		fallback: fallback,
		log:      log,
	}
}

type scoreResp struct {
	Confidence           float64 `json:"confidence"`
	IsPreReady           bool    `json:"isPreReady"`
	EstimatedTimeToReady float64 `json:"estimatedTimeToReady"`
	Version              string  `json:"version"`
}

func (r *Remote) Version() string { return "remote+" + r.fallback.Version() }

func (r *Remote) ReadyStateConfidence(ctx context.Context, e models.SymbolEntry) (float64, error) {
	var resp scoreResp
	if err := r.post(ctx, "/confidence/ready-state", e, &resp); err != nil {
		r.log.Warn("remote confidence failed, using fallback", logger.String("symbol", e.Cd), logger.Error(err))
		return r.fallback.ReadyStateConfidence(ctx, e)
	}
	return domsvc.ClampConfidence(resp.Confidence), nil
}

func (r *Remote) AdvanceOpportunityConfidence(ctx context.Context, e models.CalendarEntry, advanceHours float64) (float64, error) {
	payload := struct {
		models.CalendarEntry
		AdvanceHours float64 `json:"advanceHours"`
	}{e, advanceHours}

	var resp scoreResp
	if err := r.post(ctx, "/confidence/advance", payload, &resp); err != nil {
		r.log.Warn("remote confidence failed, using fallback", logger.String("symbol", e.Symbol), logger.Error(err))
		return r.fallback.AdvanceOpportunityConfidence(ctx, e, advanceHours)
	}
	return domsvc.ClampConfidence(resp.Confidence), nil
}

func (r *Remote) PreReadyScore(ctx context.Context, e models.SymbolEntry) (domsvc.PreReadyScore, error) {
	var resp scoreResp
	if err := r.post(ctx, "/confidence/pre-ready", e, &resp); err != nil {
		r.log.Warn("remote pre-ready score failed, using fallback", logger.String("symbol", e.Cd), logger.Error(err))
		return r.fallback.PreReadyScore(ctx, e)
	}
	return domsvc.PreReadyScore{
		IsPreReady:           resp.IsPreReady,
		Confidence:           domsvc.ClampConfidence(resp.Confidence),
		EstimatedTimeToReady: resp.EstimatedTimeToReady,
	}, nil
}

func (r *Remote) post(ctx context.Context, path string, payload, dest interface{}) error {
	var err error
	for i := 1; i <= r.attempts; i++ {
		if err = r.client.PostJSON(ctx, r.baseURL+path, payload, dest); err == nil {
			return nil
		}
		if i == r.attempts {
			break
		}
		select {
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("post %s: %w", path, err)
}

var _ domsvc.ConfidenceStrategy = (*Remote)(nil)
