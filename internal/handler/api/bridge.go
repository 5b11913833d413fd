package api

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	"SnipeRadar/internal/domain/models"
	domrepo "SnipeRadar/internal/domain/repository"
	"SnipeRadar/internal/usecase"
	xhttp "SnipeRadar/pkg/http"
	xlogger "SnipeRadar/pkg/logger"
)

type BridgeService interface {
	Stats(ctx context.Context) (usecase.BridgeStats, error)
	Config() usecase.BridgeConfig
	UpdateConfig(cfg usecase.BridgeConfig) error
}

type TargetLister interface {
	ByUser(ctx context.Context, userID string, limit int) ([]models.SnipeTarget, error)
}

// BridgeConfigView renders durations as Go duration strings.
type BridgeConfigView struct {
	SupportedPatterns    []models.PatternType   `json:"supportedPatterns"`
	MinConfidence        float64                `json:"minConfidence"`
	RejectHighRisk       bool                   `json:"rejectHighRisk"`
	MaxConcurrentPerUser int                    `json:"maxConcurrentPerUser"`
	DedupGranularity     string                 `json:"dedupGranularity"`
	ReadyBuffer          string                 `json:"readyBuffer"`
	PreReadyDelay        string                 `json:"preReadyDelay"`
	DefaultUserIDs       []string               `json:"defaultUserIds"`
	Defaults             usecase.TargetDefaults `json:"defaults"`
}

// BridgeConfigRequest is a partial update; absent fields keep their value.
type BridgeConfigRequest struct {
	SupportedPatterns    []models.PatternType `json:"supportedPatterns" validate:"omitempty,min=1,dive,oneof=ready_state pre_ready launch_sequence risk_warning"`
	MinConfidence        *float64             `json:"minConfidence" validate:"omitempty,gte=0,lte=100"`
	RejectHighRisk       *bool                `json:"rejectHighRisk"`
	MaxConcurrentPerUser *int                 `json:"maxConcurrentPerUser" validate:"omitempty,gte=1,lte=1000"`
	DedupGranularity     string               `json:"dedupGranularity"`
	ReadyBuffer          string               `json:"readyBuffer"`
	PreReadyDelay        string               `json:"preReadyDelay"`
	DefaultUserIDs       []string             `json:"defaultUserIds" validate:"omitempty,dive,required"`
}

type BridgeHandler struct {
	bridge  BridgeService
	targets TargetLister
	log     *xlogger.Logger
}

func NewBridgeHandler(bridge BridgeService, targets TargetLister, log *xlogger.Logger) *BridgeHandler {
	return &BridgeHandler{bridge: bridge, targets: targets, log: log}
}

func (h *BridgeHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/bridge/stats", h.Stats)
	g.GET("/bridge/config", h.GetConfig)
	g.PUT("/bridge/config", h.PutConfig)
	g.GET("/users/:userId/targets", h.UserTargets)
}

func (h *BridgeHandler) Stats(c echo.Context) error {
	stats, err := h.bridge.Stats(c.Request().Context())
	if err != nil {
		h.log.Error("bridge stats failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, storeError(err))
	}
	return xhttp.SuccessResponse(c, stats)
}

func (h *BridgeHandler) GetConfig(c echo.Context) error {
	return xhttp.SuccessResponse(c, configView(h.bridge.Config()))
}

func (h *BridgeHandler) PutConfig(c echo.Context) error {
	req := &BridgeConfigRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	cfg, verr := mergeConfig(h.bridge.Config(), req)
	if verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if verr := xhttp.ValidateValue(c.Request().Context(), cfg); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.bridge.UpdateConfig(cfg); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	return xhttp.SuccessResponse(c, configView(h.bridge.Config()))
}

// UserTargets lists a user's most recent targets (limit 1-500, default 50).
func (h *BridgeHandler) UserTargets(c echo.Context) error {
	userID := c.Param("userId")
	if userID == "" {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("userId is required").WithField("userId"))
	}
	limit := xhttp.QueryInt(c, "limit", 50, 1, 500)

	targets, err := h.targets.ByUser(c.Request().Context(), userID, limit)
	if err != nil {
		h.log.Error("list user targets failed", xlogger.String("user_id", userID), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, storeError(err))
	}
	return xhttp.ListResponse(c, targets, int64(len(targets)))
}

// storeError maps target store failures onto HTTP errors. Anything that is
// not a known domain condition is treated as the store being down.
func storeError(err error) *xhttp.AppError {
	switch {
	case errors.Is(err, domrepo.ErrNotFound):
		return xhttp.NotFoundError("not found").WithError(err)
	case errors.Is(err, domrepo.ErrDuplicateKey):
		return xhttp.ConflictError("target already exists").WithError(err)
	default:
		return xhttp.UnavailableError("target store unavailable").WithError(err)
	}
}

func configView(cfg usecase.BridgeConfig) BridgeConfigView {
	users := cfg.DefaultUserIDs
	if users == nil {
		users = []string{}
	}
	return BridgeConfigView{
		SupportedPatterns:    cfg.SupportedPatterns,
		MinConfidence:        cfg.MinConfidence,
		RejectHighRisk:       cfg.RejectHighRisk,
		MaxConcurrentPerUser: cfg.MaxConcurrentPerUser,
		DedupGranularity:     cfg.DedupGranularity.String(),
		ReadyBuffer:          cfg.ReadyBuffer.String(),
		PreReadyDelay:        cfg.PreReadyDelay.String(),
		DefaultUserIDs:       users,
		Defaults:             cfg.Defaults,
	}
}

func mergeConfig(cfg usecase.BridgeConfig, req *BridgeConfigRequest) (usecase.BridgeConfig, []xhttp.ValidationError) {
	if len(req.SupportedPatterns) > 0 {
		cfg.SupportedPatterns = req.SupportedPatterns
	}
	if req.MinConfidence != nil {
		cfg.MinConfidence = *req.MinConfidence
	}
	if req.RejectHighRisk != nil {
		cfg.RejectHighRisk = *req.RejectHighRisk
	}
	if req.MaxConcurrentPerUser != nil {
		cfg.MaxConcurrentPerUser = *req.MaxConcurrentPerUser
	}
	if req.DefaultUserIDs != nil {
		cfg.DefaultUserIDs = req.DefaultUserIDs
	}

	var errs []xhttp.ValidationError
	for _, d := range []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"dedupGranularity", req.DedupGranularity, &cfg.DedupGranularity},
		{"readyBuffer", req.ReadyBuffer, &cfg.ReadyBuffer},
		{"preReadyDelay", req.PreReadyDelay, &cfg.PreReadyDelay},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil || v < 0 {
			errs = append(errs, xhttp.ValidationError{
				Code:    "ERR_DURATION",
				Field:   d.field,
				Message: d.field + " must be a non-negative duration such as 15s",
			})
			continue
		}
		*d.dst = v
	}
	return cfg, errs
}
