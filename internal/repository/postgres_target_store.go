package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"SnipeRadar/internal/domain/models"
	drepo "SnipeRadar/internal/domain/repository"
	"SnipeRadar/pkg/logger"
	"SnipeRadar/pkg/postgres"
)

// PGTargetStore implements TargetStore on Postgres. Each method is a single
// statement; pair and user lists travel as arrays and are expanded with
// unnest/ANY on the server.
type PGTargetStore struct {
	pool *postgres.Pool
	l    *logger.Logger
}

func NewPGTargetStore(pool *postgres.Pool, l *logger.Logger) *PGTargetStore {
	return &PGTargetStore{pool: pool, l: l.With(logger.String("store", "snipe_targets"))}
}

var _ drepo.TargetStore = (*PGTargetStore)(nil)

const openStatuses = `('pending', 'ready')`

// pgErr maps driver failures onto the domain sentinels.
func pgErr(op string, err error) error {
	if postgres.IsDuplicateKey(err) {
		return fmt.Errorf("%s: %w: %w", op, drepo.ErrDuplicateKey, err)
	}
	return fmt.Errorf("%s: %w: %w", op, drepo.ErrStoreUnavailable, err)
}

func (s *PGTargetStore) ExistingPending(ctx context.Context, pairs []models.UserSymbol) ([]models.UserSymbol, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	users := make([]string, len(pairs))
	symbols := make([]string, len(pairs))
	for i, p := range pairs {
		users[i] = p.UserID
		symbols[i] = p.Symbol
	}

	q := `
		SELECT DISTINCT t.user_id, t.symbol_name
		FROM snipe_targets t
		JOIN unnest($1::text[], $2::text[]) AS p(user_id, symbol_name)
		  ON t.user_id = p.user_id AND t.symbol_name = p.symbol_name
		WHERE t.status IN ` + openStatuses

	rows, err := s.pool.Query(ctx, q, users, symbols)
	if err != nil {
		s.l.Error("existing_pending query error", logger.Int("pairs", len(pairs)), logger.Error(err))
		return nil, pgErr("existing pending", err)
	}
	defer rows.Close()

	var out []models.UserSymbol
	for rows.Next() {
		var p models.UserSymbol
		if err := rows.Scan(&p.UserID, &p.Symbol); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *PGTargetStore) CountActive(ctx context.Context, userIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	statuses := make([]string, len(models.ActiveStatuses))
	for i, st := range models.ActiveStatuses {
		statuses[i] = string(st)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT user_id, count(*)
		FROM snipe_targets
		WHERE user_id = ANY($1) AND status = ANY($2)
		GROUP BY user_id`, userIDs, statuses)
	if err != nil {
		s.l.Error("count_active query error", logger.Int("users", len(userIDs)), logger.Error(err))
		return nil, pgErr("count active", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			user string
			n    int64
		)
		if err := rows.Scan(&user, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[user] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// InsertBatch writes all targets in one statement. Rows that collide with an
// open target for the same pair are dropped by the partial unique index.
func (s *PGTargetStore) InsertBatch(ctx context.Context, targets []models.SnipeTarget) ([]models.SnipeTarget, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	n := len(targets)
	var (
		ids, users, vcoins, symbols, strategies = make([]string, n), make([]string, n), make([]string, n), make([]string, n), make([]string, n)
		sizes, statuses, risks, patterns        = make([]string, n), make([]string, n), make([]string, n), make([]string, n)
		stopLoss, confidence                    = make([]float64, n), make([]float64, n)
		tpLevel, priority                       = make([]int32, n), make([]int32, n)
		tpCustom                                = make([]*float64, n)
		execAt, created, updated                = make([]time.Time, n), make([]time.Time, n), make([]time.Time, n)
	)
	byID := make(map[string]models.SnipeTarget, n)
	for i, t := range targets {
		ids[i], users[i], vcoins[i], symbols[i], strategies[i] = t.ID, t.UserID, t.VcoinID, t.SymbolName, t.EntryStrategy
		sizes[i], statuses[i], risks[i], patterns[i] = t.PositionSizeUsdt.String(), string(t.Status), string(t.RiskLevel), string(t.PatternType)
		stopLoss[i], confidence[i] = t.StopLossPercent, t.ConfidenceScore
		tpLevel[i], priority[i] = int32(t.TakeProfitLevel), int32(t.Priority)
		tpCustom[i] = t.TakeProfitCustom
		execAt[i], created[i], updated[i] = t.TargetExecutionTime, t.CreatedAt, t.UpdatedAt
		byID[t.ID] = t
	}

	q := `
		INSERT INTO snipe_targets (
			id, user_id, vcoin_id, symbol_name, entry_strategy, position_size_usdt,
			stop_loss_percent, take_profit_level, take_profit_custom, status, priority,
			target_execution_time, confidence_score, risk_level, pattern_type, created_at, updated_at
		)
		SELECT * FROM unnest(
			$1::text[], $2::text[], $3::text[], $4::text[], $5::text[], $6::numeric[],
			$7::float8[], $8::int4[], $9::float8[], $10::text[], $11::int4[],
			$12::timestamptz[], $13::float8[], $14::text[], $15::text[], $16::timestamptz[], $17::timestamptz[]
		)
		ON CONFLICT (user_id, symbol_name) WHERE status IN ` + openStatuses + ` DO NOTHING
		RETURNING id`

	rows, err := s.pool.Query(ctx, q,
		ids, users, vcoins, symbols, strategies, sizes,
		stopLoss, tpLevel, tpCustom, statuses, priority,
		execAt, confidence, risks, patterns, created, updated)
	if err != nil {
		s.l.Error("insert_batch error", logger.Int("targets", n), logger.Error(err))
		return nil, pgErr("insert targets", err)
	}
	defer rows.Close()

	inserted := make([]models.SnipeTarget, 0, n)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		inserted = append(inserted, byID[id])
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if len(inserted) < n {
		s.l.Debug("targets dropped by open-pair index", logger.Int("requested", n), logger.Int("inserted", len(inserted)))
	}
	return inserted, nil
}

func (s *PGTargetStore) CountByStatus(ctx context.Context) (map[models.TargetStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM snipe_targets GROUP BY status`)
	if err != nil {
		return nil, pgErr("count by status", err)
	}
	defer rows.Close()

	out := map[models.TargetStatus]int{}
	for rows.Next() {
		var (
			st string
			n  int64
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		out[models.TargetStatus(st)] = int(n)
	}
	return out, rows.Err()
}

// ByUser lists a user's targets, newest first.
func (s *PGTargetStore) ByUser(ctx context.Context, userID string, limit int) ([]models.SnipeTarget, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, vcoin_id, symbol_name, entry_strategy, position_size_usdt::text,
		       stop_loss_percent, take_profit_level, take_profit_custom, status, priority,
		       target_execution_time, confidence_score, risk_level, pattern_type, created_at, updated_at
		FROM snipe_targets
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, pgErr("targets by user", err)
	}
	return pgx.CollectRows(rows, scanTarget)
}

func (s *PGTargetStore) Health(ctx context.Context) error {
	return s.pool.Health(ctx)
}

func scanTarget(row pgx.CollectableRow) (models.SnipeTarget, error) {
	var (
		t                         models.SnipeTarget
		size, status, risk, ptype string
		tpLevel, priority         int32
	)
	err := row.Scan(&t.ID, &t.UserID, &t.VcoinID, &t.SymbolName, &t.EntryStrategy, &size,
		&t.StopLossPercent, &tpLevel, &t.TakeProfitCustom, &status, &priority,
		&t.TargetExecutionTime, &t.ConfidenceScore, &risk, &ptype, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, fmt.Errorf("scan target: %w", err)
	}
	if t.PositionSizeUsdt, err = decimal.NewFromString(size); err != nil {
		return t, fmt.Errorf("parse position size %q: %w", size, err)
	}
	t.TakeProfitLevel, t.Priority = int(tpLevel), int(priority)
	t.Status, t.RiskLevel, t.PatternType = models.TargetStatus(status), models.RiskLevel(risk), models.PatternType(ptype)
	return t, nil
}
