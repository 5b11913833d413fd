package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"SnipeRadar/internal/domain/models"
	drepo "SnipeRadar/internal/domain/repository"
	"SnipeRadar/pkg/logger"
	"SnipeRadar/pkg/postgres"
)

// PGPreferenceStore implements PreferenceStore on Postgres.
type PGPreferenceStore struct {
	pool *postgres.Pool
	l    *logger.Logger
}

func NewPGPreferenceStore(pool *postgres.Pool, l *logger.Logger) *PGPreferenceStore {
	return &PGPreferenceStore{pool: pool, l: l.With(logger.String("store", "user_preferences"))}
}

var _ drepo.PreferenceStore = (*PGPreferenceStore)(nil)

func (s *PGPreferenceStore) GetPreferences(ctx context.Context, userIDs []string) (map[string]models.UserPreferences, error) {
	out := make(map[string]models.UserPreferences, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, default_buy_amount_usdt::text, stop_loss_percent, take_profit_level,
		       take_profit_custom, entry_strategy, max_concurrent_targets, auto_snipe_enabled
		FROM user_preferences
		WHERE user_id = ANY($1)`, userIDs)
	if err != nil {
		s.l.Error("get_preferences query error", logger.Int("users", len(userIDs)), logger.Error(err))
		return nil, pgErr("get preferences", err)
	}
	prefs, err := pgx.CollectRows(rows, scanPreferences)
	if err != nil {
		return nil, err
	}
	for _, p := range prefs {
		out[p.UserID] = p
	}
	return out, nil
}

func (s *PGPreferenceStore) AutoSnipeUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM user_preferences WHERE auto_snipe_enabled ORDER BY user_id`)
	if err != nil {
		return nil, pgErr("auto-snipe users", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Upsert stores a user's preferences, replacing any existing row.
func (s *PGPreferenceStore) Upsert(ctx context.Context, p models.UserPreferences) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_preferences (
			user_id, default_buy_amount_usdt, stop_loss_percent, take_profit_level,
			take_profit_custom, entry_strategy, max_concurrent_targets, auto_snipe_enabled
		) VALUES ($1, $2::numeric, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			default_buy_amount_usdt = EXCLUDED.default_buy_amount_usdt,
			stop_loss_percent = EXCLUDED.stop_loss_percent,
			take_profit_level = EXCLUDED.take_profit_level,
			take_profit_custom = EXCLUDED.take_profit_custom,
			entry_strategy = EXCLUDED.entry_strategy,
			max_concurrent_targets = EXCLUDED.max_concurrent_targets,
			auto_snipe_enabled = EXCLUDED.auto_snipe_enabled,
			updated_at = now()`,
		p.UserID, p.DefaultBuyAmountUsdt.String(), p.StopLossPercent, int32(p.TakeProfitLevel),
		p.TakeProfitCustom, p.EntryStrategy, int32(p.MaxConcurrentTargets), p.AutoSnipeEnabled)
	if err != nil {
		return pgErr("upsert preferences "+p.UserID, err)
	}
	return nil
}

func scanPreferences(row pgx.CollectableRow) (models.UserPreferences, error) {
	var (
		p              models.UserPreferences
		amount         string
		tpLevel, limit int32
	)
	if err := row.Scan(&p.UserID, &amount, &p.StopLossPercent, &tpLevel,
		&p.TakeProfitCustom, &p.EntryStrategy, &limit, &p.AutoSnipeEnabled); err != nil {
		return p, fmt.Errorf("scan preferences: %w", err)
	}
	var err error
	if p.DefaultBuyAmountUsdt, err = decimal.NewFromString(amount); err != nil {
		return p, fmt.Errorf("parse buy amount %q: %w", amount, err)
	}
	p.TakeProfitLevel, p.MaxConcurrentTargets = int(tpLevel), int(limit)
	return p, nil
}
