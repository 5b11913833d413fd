package api

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"SnipeRadar/internal/domain/models"
	"SnipeRadar/internal/usecase"
	xhttp "SnipeRadar/pkg/http"
	xlogger "SnipeRadar/pkg/logger"
)

// DetectionStatus is the coordinator's read-only view.
type DetectionStatus interface {
	Running() bool
	Health() []usecase.LayerHealth
	KnownListings(ctx context.Context) (int, error)
}

type PipelineStatus interface {
	Depth() int
	Policy() string
}

type Analyzer interface {
	Analyze(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResult, error)
	AlgorithmVersion() string
}

// PatternCounter reports recent pattern volume from the analytics sink.
type PatternCounter interface {
	PatternCounts(ctx context.Context, hours int) (map[models.PatternType]uint64, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type BuildInfo struct {
	Version     string
	Environment string
	StartedAt   time.Time
}

type StatusResponse struct {
	Version          string                `json:"version"`
	Environment      string                `json:"environment"`
	StartedAt        time.Time             `json:"startedAt"`
	UptimeSeconds    int64                 `json:"uptimeSeconds"`
	AlgorithmVersion string                `json:"algorithmVersion"`
	Detection        DetectionView         `json:"detection"`
	Pipeline         PipelineView          `json:"pipeline"`
	Layers           []usecase.LayerHealth `json:"layers"`
}

type DetectionView struct {
	Running       bool `json:"running"`
	KnownListings int  `json:"knownListings"`
}

type PipelineView struct {
	Depth  int    `json:"depth"`
	Policy string `json:"policy"`
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// StatusHandler serves liveness, detection status and ad-hoc analysis.
type StatusHandler struct {
	info      BuildInfo
	detection DetectionStatus
	pipeline  PipelineStatus
	analyzer  Analyzer
	counter   PatternCounter
	checks    map[string]HealthCheck
	log       *xlogger.Logger
	now       func() time.Time
}

// NewStatusHandler builds the handler. counter may be nil when analytics
// storage is disabled.
func NewStatusHandler(info BuildInfo, detection DetectionStatus, pipeline PipelineStatus, analyzer Analyzer, counter PatternCounter, checks map[string]HealthCheck, log *xlogger.Logger) *StatusHandler {
	return &StatusHandler{
		info:      info,
		detection: detection,
		pipeline:  pipeline,
		analyzer:  analyzer,
		counter:   counter,
		checks:    checks,
		log:       log,
		now:       time.Now,
	}
}

func (h *StatusHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.GET("/detection/listings", h.Listings)
	g.GET("/detection/patterns", h.Patterns)
	g.POST("/patterns/analyze", h.Analyze)
}

// Health runs every dependency probe concurrently and answers 503 when any fails.
func (h *StatusHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		res = HealthResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	)
	for name, check := range h.checks {
		wg.Add(1)
		go func(name string, check HealthCheck) {
			defer wg.Done()
			status := "ok"
			if err := check(ctx); err != nil {
				status = err.Error()
			}
			mu.Lock()
			res.Checks[name] = status
			if status != "ok" {
				res.Status = "degraded"
			}
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	if res.Status != "ok" {
		h.log.Warn("health check failed", xlogger.Any("checks", res.Checks))
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, res)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *StatusHandler) Status(c echo.Context) error {
	known, err := h.detection.KnownListings(c.Request().Context())
	if err != nil {
		h.log.Error("known listings lookup failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("listing registry unavailable").WithError(err))
	}

	now := h.now()
	return xhttp.SuccessResponse(c, StatusResponse{
		Version:          h.info.Version,
		Environment:      h.info.Environment,
		StartedAt:        h.info.StartedAt,
		UptimeSeconds:    int64(now.Sub(h.info.StartedAt).Seconds()),
		AlgorithmVersion: h.analyzer.AlgorithmVersion(),
		Detection:        DetectionView{Running: h.detection.Running(), KnownListings: known},
		Pipeline:         PipelineView{Depth: h.pipeline.Depth(), Policy: h.pipeline.Policy()},
		Layers:           h.detection.Health(),
	})
}

func (h *StatusHandler) Listings(c echo.Context) error {
	known, err := h.detection.KnownListings(c.Request().Context())
	if err != nil {
		h.log.Error("known listings lookup failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("listing registry unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, map[string]int{"knownListings": known})
}

type patternCount struct {
	PatternType models.PatternType `json:"patternType"`
	Count       uint64             `json:"count"`
}

// Patterns reports match counts per type over the last `hours` (1-168).
func (h *StatusHandler) Patterns(c echo.Context) error {
	if h.counter == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("pattern analytics are disabled"))
	}
	hours := xhttp.QueryInt(c, "hours", 24, 1, 168)

	counts, err := h.counter.PatternCounts(c.Request().Context(), hours)
	if err != nil {
		h.log.Error("pattern counts failed", xlogger.Int("hours", hours), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("analytics store unavailable").WithError(err))
	}

	rows := make([]patternCount, 0, len(counts))
	for pt, n := range counts {
		rows = append(rows, patternCount{PatternType: pt, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].PatternType < rows[j].PatternType })
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// Analyze runs the analyzer over records supplied in the request body.
func (h *StatusHandler) Analyze(c echo.Context) error {
	req := &models.AnalysisRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if req.Source == "" {
		req.Source = "api"
	}

	res, err := h.analyzer.Analyze(c.Request().Context(), *req)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	return xhttp.SuccessResponse(c, res)
}
