package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SnipeRadar/internal/domain/models"
	pkgkafka "SnipeRadar/pkg/kafka"
)

type capturedBatch struct {
	topic string
	msgs  []pkgkafka.Message
}

type fakeWriter struct {
	batches []capturedBatch
	closed  bool
}

func (w *fakeWriter) PublishBatch(_ context.Context, topic string, msgs []pkgkafka.Message) error {
	w.batches = append(w.batches, capturedBatch{topic: topic, msgs: msgs})
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaEventPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaEventPublisher{producer: w, topics: Topics{Patterns: "patterns", NewListings: "listings", Targets: "targets"}}
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, p.PublishPatterns(ctx, nil), "empty events write nothing")
	assert.Empty(t, w.batches)

	err := p.PublishPatterns(ctx, []models.PatternsDetectedEvent{{
		PatternType: models.PatternReadyState,
		Matches: []models.PatternMatch{
			{Symbol: "ABCUSDT", PatternType: models.PatternReadyState, Confidence: 92, DetectedAt: now},
			{Symbol: "DEFUSDT", PatternType: models.PatternReadyState, Confidence: 88, DetectedAt: now},
		},
		Metadata: models.PatternsMetadata{Source: "symbols", AlgorithmVersion: "rule-based-v1"},
	}})
	require.NoError(t, err)
	require.Len(t, w.batches, 1)
	assert.Equal(t, "patterns", w.batches[0].topic)
	require.Len(t, w.batches[0].msgs, 2)
	assert.Equal(t, []byte("ABCUSDT"), w.batches[0].msgs[0].Key)
	assert.Equal(t, "symbols", w.batches[0].msgs[0].Headers["source"])

	raw, err := json.Marshal(w.batches[0].msgs[0].Value)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "ABCUSDT", decoded["symbol"])
	assert.Equal(t, "rule-based-v1", decoded["metadata"].(map[string]interface{})["algorithmVersion"])

	require.NoError(t, p.PublishNewListing(ctx, models.NewListingEvent{Key: "v|XYZ", Listing: models.Listing{Symbol: "XYZ"}, Source: models.LayerCalendar}))
	assert.Equal(t, "listings", w.batches[1].topic)
	assert.Equal(t, []byte("XYZ"), w.batches[1].msgs[0].Key)

	require.NoError(t, p.PublishTargets(ctx, []models.SnipeTarget{{ID: "t1", UserID: "u1", SymbolName: "ABCUSDT", Status: models.TargetReady}}))
	assert.Equal(t, "targets", w.batches[2].topic)
	assert.Equal(t, "ready", w.batches[2].msgs[0].Headers["status"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}
