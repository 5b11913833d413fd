package usecase

import (
	"context"

	"SnipeRadar/internal/domain/models"
	domrepo "SnipeRadar/internal/domain/repository"
	"SnipeRadar/pkg/logger"
)

// ReadyMessageType tags ready targets on the execution queue.
const ReadyMessageType = "snipe_target_ready"

// TargetDispatcher fans newly persisted targets out: every target goes to
// the event publisher, ready targets go to the execution queue and urgent
// ones to the notifier. Targets are already stored, so failures here are
// logged and counted, never returned.
type TargetDispatcher struct {
	publisher      domrepo.EventPublisher
	queue          domrepo.ReadyQueue
	notifier       domrepo.Notifier
	urgentPriority int
	metrics        domrepo.Metrics
	log            *logger.Logger
}

// NewTargetDispatcher builds a dispatcher. Any collaborator may be nil.
func NewTargetDispatcher(publisher domrepo.EventPublisher, queue domrepo.ReadyQueue, notifier domrepo.Notifier, urgentPriority int, metrics domrepo.Metrics, log *logger.Logger) *TargetDispatcher {
	if urgentPriority <= 0 {
		urgentPriority = 2
	}
	return &TargetDispatcher{
		publisher:      publisher,
		queue:          queue,
		notifier:       notifier,
		urgentPriority: urgentPriority,
		metrics:        metrics,
		log:            log.With(logger.String("component", "target_dispatcher")),
	}
}

func (d *TargetDispatcher) Dispatch(ctx context.Context, targets []models.SnipeTarget) {
	if len(targets) == 0 {
		return
	}

	if d.publisher != nil {
		if err := d.publisher.PublishTargets(ctx, targets); err != nil {
			d.metrics.RecordError("publish_targets")
			d.log.Warn("failed to publish targets", logger.Int("count", len(targets)), logger.Error(err))
		}
	}

	var urgent []models.SnipeTarget
	for _, t := range targets {
		if t.Status == models.TargetReady && d.queue != nil {
			if err := d.queue.PublishMessage(ctx, ReadyMessageType, t); err != nil {
				d.metrics.RecordError("ready_queue")
				d.log.Error("failed to hand off ready target",
					logger.String("target_id", t.ID),
					logger.String("user_id", t.UserID),
					logger.String("symbol", t.SymbolName),
					logger.Error(err))
			}
		}
		if t.Priority <= d.urgentPriority {
			urgent = append(urgent, t)
		}
	}

	if d.notifier != nil && len(urgent) > 0 {
		if err := d.notifier.NotifyTargets(ctx, urgent); err != nil {
			d.metrics.RecordError("notify_targets")
			d.log.Warn("failed to notify urgent targets", logger.Error(err))
		}
	}
}
