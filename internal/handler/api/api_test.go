package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SnipeRadar/internal/domain/models"
	domrepo "SnipeRadar/internal/domain/repository"
	"SnipeRadar/internal/repository"
	"SnipeRadar/internal/service/cache"
	"SnipeRadar/internal/services/confidence"
	"SnipeRadar/internal/usecase"
	xhttp "SnipeRadar/pkg/http"
	"SnipeRadar/pkg/logger"
	"SnipeRadar/pkg/metrics"
)

type fakeDetection struct {
	running bool
	known   int
	err     error
}

func (f fakeDetection) Running() bool { return f.running }

func (f fakeDetection) Health() []usecase.LayerHealth {
	return []usecase.LayerHealth{{Source: models.LayerSymbols, Interval: 15 * time.Second, Polls: 3}}
}

func (f fakeDetection) KnownListings(context.Context) (int, error) { return f.known, f.err }

type fakePipeline struct{}

func (fakePipeline) Depth() int     { return 2 }
func (fakePipeline) Policy() string { return "block" }

type fakeCounter map[models.PatternType]uint64

func (f fakeCounter) PatternCounts(context.Context, int) (map[models.PatternType]uint64, error) {
	return f, nil
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newAnalyzer() *usecase.PatternAnalyzer {
	return usecase.NewPatternAnalyzer(usecase.DefaultAnalyzerConfig(), confidence.NewRuleBased(), nil, metrics.Nop{}, logger.NewNop())
}

func newTestServer(t *testing.T, det DetectionStatus, counter PatternCounter, checks map[string]HealthCheck) (*echo.Echo, *repository.MemoryTargetStore, *usecase.TargetBridge) {
	t.Helper()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	status := NewStatusHandler(BuildInfo{Version: "1.2.3", Environment: "test", StartedAt: started},
		det, fakePipeline{}, newAnalyzer(), counter, checks, logger.NewNop())
	status.now = func() time.Time { return started.Add(90 * time.Second) }

	store := repository.NewMemoryTargetStore()
	bridge := usecase.NewTargetBridge(usecase.DefaultBridgeConfig(), store, repository.NewMemoryPreferenceStore(),
		cache.NewTTLSet(time.Minute, 100), nil, metrics.Nop{}, logger.NewNop())

	e := echo.New()
	xhttp.Handlers{status, NewBridgeHandler(bridge, store, logger.NewNop())}.RegisterRoutes(e)
	return e, store, bridge
}

func do(t *testing.T, e *echo.Echo, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestStatus(t *testing.T) {
	e, _, _ := newTestServer(t, fakeDetection{running: true, known: 42}, nil, nil)

	rec, env := do(t, e, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got StatusResponse
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "1.2.3", got.Version)
	assert.Equal(t, "test", got.Environment)
	assert.Equal(t, int64(90), got.UptimeSeconds)
	assert.Equal(t, confidence.RuleBasedVersion, got.AlgorithmVersion)
	assert.True(t, got.Detection.Running)
	assert.Equal(t, 42, got.Detection.KnownListings)
	assert.Equal(t, PipelineView{Depth: 2, Policy: "block"}, got.Pipeline)
	require.Len(t, got.Layers, 1)
	assert.Equal(t, models.LayerSymbols, got.Layers[0].Source)
}

func TestStatusRegistryUnavailable(t *testing.T) {
	e, _, _ := newTestServer(t, fakeDetection{err: errors.New("redis down")}, nil, nil)

	rec, _ := do(t, e, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListings(t *testing.T) {
	e, _, _ := newTestServer(t, fakeDetection{known: 7}, nil, nil)

	rec, env := do(t, e, http.MethodGet, "/api/detection/listings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"knownListings":7}`, string(env.Data))
}

func TestPatterns(t *testing.T) {
	e, _, _ := newTestServer(t, fakeDetection{}, nil, nil)
	rec, _ := do(t, e, http.MethodGet, "/api/detection/patterns", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "disabled without an analytics store")

	e, _, _ = newTestServer(t, fakeDetection{}, fakeCounter{models.PatternReadyState: 4, models.PatternLaunchSequence: 1}, nil)
	rec, env := do(t, e, http.MethodGet, "/api/detection/patterns?hours=9999", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"rows":[{"patternType":"launch_sequence","count":1},{"patternType":"ready_state","count":4}],"total":2}`, string(env.Data))
}

func TestHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }
	e, _, _ := newTestServer(t, fakeDetection{}, nil, map[string]HealthCheck{"postgres": ok, "redis": ok})
	rec, env := do(t, e, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"postgres":"ok","redis":"ok"}}`, string(env.Data))

	e, _, _ = newTestServer(t, fakeDetection{}, nil, map[string]HealthCheck{
		"postgres":   ok,
		"clickhouse": func(context.Context) error { return errors.New("connection refused") },
	})
	rec, env = do(t, e, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"postgres":"ok","clickhouse":"connection refused"}}`, string(env.Data))
}

func TestAnalyze(t *testing.T) {
	e, _, _ := newTestServer(t, fakeDetection{}, nil, nil)

	body := `{"analysisType":"validation","symbols":[{"cd":"ABCUSDT","sts":2,"st":2,"tt":4,"ca":1,"ps":1,"qs":1},{"cd":"DEFUSDT","sts":1,"st":1,"tt":1}]}`
	rec, env := do(t, e, http.MethodPost, "/api/patterns/analyze", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got models.AnalysisResult
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Len(t, got.Matches, 1)
	assert.Equal(t, "ABCUSDT", got.Matches[0].Symbol)
	assert.Equal(t, models.PatternReadyState, got.Matches[0].PatternType)

	rec, _ = do(t, e, http.MethodPost, "/api/patterns/analyze", `{"analysisType":"guess"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBridgeConfigRoundTrip(t *testing.T) {
	e, _, bridge := newTestServer(t, fakeDetection{}, nil, nil)

	rec, env := do(t, e, http.MethodGet, "/api/bridge/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view BridgeConfigView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "15s", view.DedupGranularity)
	assert.Equal(t, 75.0, view.MinConfidence)

	rec, env = do(t, e, http.MethodPut, "/api/bridge/config", `{"minConfidence":82,"maxConcurrentPerUser":3,"preReadyDelay":"45m"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, 82.0, view.MinConfidence)
	assert.Equal(t, "45m0s", view.PreReadyDelay)

	cfg := bridge.Config()
	assert.Equal(t, 82.0, cfg.MinConfidence)
	assert.Equal(t, 3, cfg.MaxConcurrentPerUser)
	assert.Equal(t, 45*time.Minute, cfg.PreReadyDelay)
	assert.True(t, cfg.RejectHighRisk, "absent fields are kept")
}

func TestBridgeConfigRejectsInvalid(t *testing.T) {
	e, _, bridge := newTestServer(t, fakeDetection{}, nil, nil)
	before := bridge.Config()

	for _, body := range []string{
		`{"minConfidence":101}`,
		`{"maxConcurrentPerUser":0}`,
		`{"supportedPatterns":["moonshot"]}`,
		`{"dedupGranularity":"soon"}`,
		`{"dedupGranularity":"0s"}`,
		`not json`,
	} {
		rec, _ := do(t, e, http.MethodPut, "/api/bridge/config", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Equal(t, before, bridge.Config())
}

func TestBridgeStatsAndTargets(t *testing.T) {
	e, store, bridge := newTestServer(t, fakeDetection{}, nil, nil)

	bridgeCfg := bridge.Config()
	bridgeCfg.DefaultUserIDs = []string{"u1"}
	require.NoError(t, bridge.UpdateConfig(bridgeCfg))

	now := time.Now()
	_, err := bridge.ProcessBatch(context.Background(), models.PatternBatch{
		Source: models.LayerSymbols,
		Matches: []models.PatternMatch{{
			Symbol:         "ABCUSDT",
			VcoinID:        "v-ABC",
			PatternType:    models.PatternReadyState,
			Confidence:     92,
			RiskLevel:      models.RiskLow,
			Recommendation: models.RecommendImmediateAction,
			DetectedAt:     now,
		}},
	})
	require.NoError(t, err)
	require.Len(t, store.All(), 1)

	rec, env := do(t, e, http.MethodGet, "/api/bridge/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats usecase.BridgeStats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, int64(1), stats.CreatedTargets)
	assert.Equal(t, 1, stats.TargetsByStatus[models.TargetReady])

	rec, env = do(t, e, http.MethodGet, "/api/users/u1/targets?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rows  []models.SnipeTarget `json:"rows"`
		Total int64                `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Equal(t, int64(1), list.Total)
	assert.Equal(t, "ABCUSDT", list.Rows[0].SymbolName)

	store.FailWith(errors.New("db down"))
	rec, _ = do(t, e, http.MethodGet, "/api/bridge/stats", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStoreErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("targets by user: %w", domrepo.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("insert targets: %w", domrepo.ErrDuplicateKey), http.StatusConflict},
		{fmt.Errorf("count by status: %w", domrepo.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{errors.New("connection reset"), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		appErr := storeError(tc.err)
		assert.Equal(t, tc.status, appErr.Status, tc.err.Error())
		assert.ErrorIs(t, appErr, tc.err)
	}
}
