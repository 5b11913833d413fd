package usecase

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"SnipeRadar/internal/domain/models"
	domrepo "SnipeRadar/internal/domain/repository"
	pkgkafka "SnipeRadar/pkg/kafka"
	"SnipeRadar/pkg/logger"
)

// ActivityRecorder stores an externally observed activity.
type ActivityRecorder interface {
	Record(ctx context.Context, a models.Activity) error
}

// ActivitySignalsHandler consumes activity announcements from Kafka and
// merges them into the activity cache the analyzer reads.
type ActivitySignalsHandler struct {
	topic    string
	recorder ActivityRecorder
	metrics  domrepo.Metrics
	log      *logger.Logger
}

func NewActivitySignalsHandler(topic string, recorder ActivityRecorder, metrics domrepo.Metrics, log *logger.Logger) *ActivitySignalsHandler {
	return &ActivitySignalsHandler{
		topic:    topic,
		recorder: recorder,
		metrics:  metrics,
		log:      log.With(logger.String("component", "activity_signals"), logger.String("topic", topic)),
	}
}

func (h *ActivitySignalsHandler) Topic() string { return h.topic }

// incoming message schema: {activityId, currency, currencyId, activityType, ts}
func (h *ActivitySignalsHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		models.Activity
		Ts int64 `json:"ts"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		// malformed payloads never succeed on retry
		h.metrics.RecordError("activity_unmarshal")
		h.log.Warn("dropping malformed activity signal", logger.Error(err))
		return nil
	}
	m.Currency = strings.ToUpper(strings.TrimSpace(m.Currency))
	m.ActivityType = strings.ToUpper(strings.TrimSpace(m.ActivityType))
	if m.Currency == "" || m.ActivityType == "" {
		h.metrics.RecordError("activity_invalid")
		h.log.Warn("dropping incomplete activity signal", logger.String("activity_id", m.ActivityID))
		return nil
	}
	if m.Ts > 0 {
		if m.Ts > 1e11 { // ms
			m.Ts /= 1000
		}
		h.metrics.RecordLatency("activity_signal_lag", time.Since(time.Unix(m.Ts, 0)).Seconds())
	}

	if err := h.recorder.Record(ctx, m.Activity); err != nil {
		h.metrics.RecordError("activity_record")
		return err
	}
	h.log.Debug("activity recorded",
		logger.String("currency", m.Currency),
		logger.String("activity_type", m.ActivityType),
		logger.String("trace_id", pkgkafka.TraceID(ctx)))
	return nil
}

var _ pkgkafka.MessageHandler = (*ActivitySignalsHandler)(nil)
