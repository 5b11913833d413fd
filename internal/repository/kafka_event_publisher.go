package repository

import (
	"context"

	"SnipeRadar/internal/domain/models"
	drepo "SnipeRadar/internal/domain/repository"
	pkgkafka "SnipeRadar/pkg/kafka"
)

// Topics names the Kafka topics detection events are written to.
type Topics struct {
	Patterns    string
	NewListings string
	Targets     string
}

// kafkaWriter is the subset of pkgkafka.Producer the publisher needs.
type kafkaWriter interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// KafkaEventPublisher implements EventPublisher. Messages are keyed by
// symbol so one symbol's events stay ordered on a partition.
type KafkaEventPublisher struct {
	producer kafkaWriter
	topics   Topics
}

func NewKafkaEventPublisher(producer *pkgkafka.Producer, topics Topics) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topics: topics}
}

var _ drepo.EventPublisher = (*KafkaEventPublisher)(nil)

// PublishPatterns writes one message per match, each carrying its event's
// metadata, so consumers can partition by symbol.
func (p *KafkaEventPublisher) PublishPatterns(ctx context.Context, events []models.PatternsDetectedEvent) error {
	var msgs []pkgkafka.Message
	for _, ev := range events {
		for _, m := range ev.Matches {
			msgs = append(msgs, pkgkafka.Message{
				Key: []byte(m.Symbol),
				Value: struct {
					models.PatternMatch
					Metadata models.PatternsMetadata `json:"metadata"`
				}{m, ev.Metadata},
				Headers: map[string]string{"pattern_type": string(ev.PatternType), "source": ev.Metadata.Source},
			})
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return p.producer.PublishBatch(ctx, p.topics.Patterns, msgs)
}

func (p *KafkaEventPublisher) PublishNewListing(ctx context.Context, ev models.NewListingEvent) error {
	return p.producer.PublishBatch(ctx, p.topics.NewListings, []pkgkafka.Message{{
		Key:     []byte(ev.Listing.Symbol),
		Value:   ev,
		Headers: map[string]string{"source": string(ev.Source)},
	}})
}

func (p *KafkaEventPublisher) PublishTargets(ctx context.Context, targets []models.SnipeTarget) error {
	if len(targets) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(targets))
	for i, t := range targets {
		msgs[i] = pkgkafka.Message{
			Key:     []byte(t.SymbolName),
			Value:   t,
			Headers: map[string]string{"status": string(t.Status), "user_id": t.UserID},
		}
	}
	return p.producer.PublishBatch(ctx, p.topics.Targets, msgs)
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// NopEventPublisher discards events. It is used when Kafka is disabled.
type NopEventPublisher struct{}

func (NopEventPublisher) PublishPatterns(context.Context, []models.PatternsDetectedEvent) error {
	return nil
}
func (NopEventPublisher) PublishNewListing(context.Context, models.NewListingEvent) error { return nil }
func (NopEventPublisher) PublishTargets(context.Context, []models.SnipeTarget) error      { return nil }
func (NopEventPublisher) Close() error                                                    { return nil }
