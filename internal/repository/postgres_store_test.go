package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"SnipeRadar/internal/domain/models"
	"SnipeRadar/pkg/logger"
	"SnipeRadar/pkg/postgres"
)

// setupTestDB starts a Postgres container and applies the migrations.
func setupTestDB(t *testing.T) *postgres.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	applied, err := pool.Migrate(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, applied)
	return pool
}

func target(id, user, symbol string, status models.TargetStatus) models.SnipeTarget {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.SnipeTarget{
		ID:                  id,
		UserID:              user,
		VcoinID:             "v-" + symbol,
		SymbolName:          symbol,
		EntryStrategy:       "market",
		PositionSizeUsdt:    decimal.RequireFromString("100.5"),
		StopLossPercent:     5,
		TakeProfitLevel:     2,
		Status:              status,
		Priority:            1,
		TargetExecutionTime: now.Add(5 * time.Second),
		ConfidenceScore:     92,
		RiskLevel:           models.RiskLow,
		PatternType:         models.PatternReadyState,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func TestPGTargetStore(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewPGTargetStore(pool, logger.NewNop())

	tp := 42.0
	first := target("t1", "u1", "ABCUSDT", models.TargetReady)
	first.TakeProfitCustom = &tp
	inserted, err := store.InsertBatch(ctx, []models.SnipeTarget{
		first,
		target("t2", "u1", "XYZUSDT", models.TargetPending),
		target("t3", "u2", "ABCUSDT", models.TargetExecuting),
	})
	require.NoError(t, err)
	assert.Len(t, inserted, 3)

	t.Run("open pair collision is skipped", func(t *testing.T) {
		inserted, err := store.InsertBatch(ctx, []models.SnipeTarget{
			target("t4", "u1", "ABCUSDT", models.TargetPending),
			target("t5", "u2", "ABCUSDT", models.TargetPending),
		})
		require.NoError(t, err)
		require.Len(t, inserted, 1)
		assert.Equal(t, "t5", inserted[0].ID)
	})

	t.Run("existing pending", func(t *testing.T) {
		pairs, err := store.ExistingPending(ctx, []models.UserSymbol{
			{UserID: "u1", Symbol: "ABCUSDT"},
			{UserID: "u1", Symbol: "NOPEUSDT"},
			{UserID: "u3", Symbol: "ABCUSDT"},
		})
		require.NoError(t, err)
		assert.Equal(t, []models.UserSymbol{{UserID: "u1", Symbol: "ABCUSDT"}}, pairs)
	})

	t.Run("count active", func(t *testing.T) {
		counts, err := store.CountActive(ctx, []string{"u1", "u2", "u3"})
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"u1": 2, "u2": 2}, counts)
	})

	t.Run("count by status", func(t *testing.T) {
		counts, err := store.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[models.TargetStatus]int{models.TargetReady: 1, models.TargetPending: 2, models.TargetExecuting: 1}, counts)
	})

	t.Run("round trip", func(t *testing.T) {
		got, err := store.ByUser(ctx, "u1", 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		var abc models.SnipeTarget
		for _, g := range got {
			if g.ID == "t1" {
				abc = g
			}
		}
		assert.True(t, decimal.RequireFromString("100.5").Equal(abc.PositionSizeUsdt))
		require.NotNil(t, abc.TakeProfitCustom)
		assert.Equal(t, 42.0, *abc.TakeProfitCustom)
		assert.Equal(t, models.TargetReady, abc.Status)
		assert.True(t, first.TargetExecutionTime.Equal(abc.TargetExecutionTime))
	})

	assert.NoError(t, store.Health(ctx))
}

func TestPGPreferenceStore(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewPGPreferenceStore(pool, logger.NewNop())

	require.NoError(t, store.Upsert(ctx, models.UserPreferences{
		UserID: "u1", DefaultBuyAmountUsdt: decimal.NewFromInt(250), StopLossPercent: 8,
		TakeProfitLevel: 3, EntryStrategy: "limit", MaxConcurrentTargets: 4, AutoSnipeEnabled: true,
	}))
	require.NoError(t, store.Upsert(ctx, models.UserPreferences{UserID: "u2", DefaultBuyAmountUsdt: decimal.Zero}))
	require.NoError(t, store.Upsert(ctx, models.UserPreferences{UserID: "u3", DefaultBuyAmountUsdt: decimal.Zero, AutoSnipeEnabled: true}))

	prefs, err := store.GetPreferences(ctx, []string{"u1", "u2", "missing"})
	require.NoError(t, err)
	require.Len(t, prefs, 2)
	assert.True(t, decimal.NewFromInt(250).Equal(prefs["u1"].DefaultBuyAmountUsdt))
	assert.Equal(t, "limit", prefs["u1"].EntryStrategy)
	assert.Equal(t, 4, prefs["u1"].MaxConcurrentTargets)
	assert.False(t, prefs["u2"].AutoSnipeEnabled)

	users, err := store.AutoSnipeUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u3"}, users)
}

func TestMemoryTargetStoreMatchesIndexRule(t *testing.T) {
	store := NewMemoryTargetStore(target("t1", "u1", "ABCUSDT", models.TargetCompleted))
	inserted, err := store.InsertBatch(context.Background(), []models.SnipeTarget{
		target("t2", "u1", "ABCUSDT", models.TargetReady),
		target("t3", "u1", "ABCUSDT", models.TargetPending),
	})
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, "t2", inserted[0].ID)
	assert.Equal(t, int64(1), store.Counts().InsertBatch)
}
