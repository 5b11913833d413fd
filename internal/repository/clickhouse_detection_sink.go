package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"SnipeRadar/internal/domain/models"
	drepo "SnipeRadar/internal/domain/repository"
	pkgch "SnipeRadar/pkg/clickhouse"
	"SnipeRadar/pkg/logger"
)

// DetectionSchema creates the analytics tables. Statements are idempotent.
var DetectionSchema = []string{
	`CREATE TABLE IF NOT EXISTS detection_results (
		ts DateTime64(3, 'UTC'),
		source LowCardinality(String),
		success UInt8,
		error String,
		listings UInt32,
		patterns UInt32
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(ts)
	ORDER BY (source, ts)
	TTL toDateTime(ts) + INTERVAL 90 DAY`,
	`CREATE TABLE IF NOT EXISTS pattern_matches (
		detected_at DateTime64(3, 'UTC'),
		source LowCardinality(String),
		symbol String,
		vcoin_id String,
		pattern_type LowCardinality(String),
		confidence Float64,
		risk_level LowCardinality(String),
		recommendation LowCardinality(String),
		advance_notice_hours Float64,
		activity_boost Float64
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(detected_at)
	ORDER BY (symbol, pattern_type, detected_at)`,
}

// CHDetectionSink records detection history in ClickHouse.
type CHDetectionSink struct {
	db *sql.DB
	l  *logger.Logger
}

func NewCHDetectionSink(ch *pkgch.Client, l *logger.Logger) *CHDetectionSink {
	return &CHDetectionSink{db: ch.DB(), l: l.With(logger.String("sink", "clickhouse"))}
}

var _ drepo.DetectionSink = (*CHDetectionSink)(nil)

func (s *CHDetectionSink) StoreResult(ctx context.Context, res models.DetectionResult) error {
	success := uint8(0)
	if res.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO detection_results (ts, source, success, error, listings, patterns) VALUES (?, ?, ?, ?, ?, ?)",
		res.Timestamp.UTC(), string(res.Source), success, res.Error, uint32(len(res.Listings)), uint32(len(res.Patterns)))
	if err != nil {
		s.l.Error("store detection result", logger.String("layer", string(res.Source)), logger.Error(err))
		return fmt.Errorf("store detection result: %w", err)
	}
	return nil
}

// StoreMatches inserts matches with multi-row VALUES, chunked to bound
// statement size.
func (s *CHDetectionSink) StoreMatches(ctx context.Context, source models.LayerSource, matches []models.PatternMatch) error {
	const chunkSize = 1000
	for start := 0; start < len(matches); start += chunkSize {
		end := start + chunkSize
		if end > len(matches) {
			end = len(matches)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*10)
		for _, m := range matches[start:end] {
			boost := 0.0
			if m.ActivityInfo != nil {
				boost = m.ActivityInfo.ActivityBoost
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				m.DetectedAt.UTC(),
				string(source),
				m.Symbol,
				m.VcoinID,
				string(m.PatternType),
				m.Confidence,
				string(m.RiskLevel),
				string(m.Recommendation),
				m.AdvanceNoticeHours,
				boost,
			)
		}
		q := "INSERT INTO pattern_matches (detected_at, source, symbol, vcoin_id, pattern_type, confidence, risk_level, recommendation, advance_notice_hours, activity_boost) VALUES " +
			strings.Join(values, ",")
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("store pattern matches", logger.String("layer", string(source)), logger.Int("rows", len(values)), logger.Error(err))
			return fmt.Errorf("store pattern matches: %w", err)
		}
	}
	return nil
}

// PatternCounts returns match counts per pattern type since the given number
// of hours ago.
func (s *CHDetectionSink) PatternCounts(ctx context.Context, hours int) (map[models.PatternType]uint64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT pattern_type, count() FROM pattern_matches WHERE detected_at >= now() - toIntervalHour(?) GROUP BY pattern_type", hours)
	if err != nil {
		return nil, fmt.Errorf("pattern counts: %w", err)
	}
	defer rows.Close()

	out := map[models.PatternType]uint64{}
	for rows.Next() {
		var (
			pt string
			n  uint64
		)
		if err := rows.Scan(&pt, &n); err != nil {
			return nil, fmt.Errorf("scan pattern count: %w", err)
		}
		out[models.PatternType(pt)] = n
	}
	return out, rows.Err()
}

func (s *CHDetectionSink) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// NopDetectionSink drops everything. It is used when ClickHouse is disabled.
type NopDetectionSink struct{}

func (NopDetectionSink) StoreResult(context.Context, models.DetectionResult) error { return nil }
func (NopDetectionSink) StoreMatches(context.Context, models.LayerSource, []models.PatternMatch) error {
	return nil
}
func (NopDetectionSink) Health(context.Context) error { return nil }
