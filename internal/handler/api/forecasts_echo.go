package api

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"quantiv/internal/domain/models"
	domrepo "quantiv/internal/domain/repository"
	"quantiv/internal/usecase"
	xhttp "quantiv/pkg/http"
	xlogger "quantiv/pkg/logger"
	"quantiv/pkg/util"

	"github.com/labstack/echo/v4"
)

// ForecastsEchoHandler implements Echo-based HTTP handlers following Clean Architecture.
type ForecastsEchoHandler struct {
	logger     *xlogger.Logger
	queries    *usecase.ForecastQueryService
	pipeline   *usecase.Pipeline
	stores     []domrepo.ForecastStore
	refreshing atomic.Bool
}

func NewForecastsEchoHandler(
	logger *xlogger.Logger,
	queries *usecase.ForecastQueryService,
	pipeline *usecase.Pipeline,
	stores []domrepo.ForecastStore,
) *ForecastsEchoHandler {
	return &ForecastsEchoHandler{
		logger:   logger,
		queries:  queries,
		pipeline: pipeline,
		stores:   stores,
	}
}

func (h *ForecastsEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	em := e.Group("/em")
	em.GET("/forecast", h.LatestForecast)
	em.GET("/history", h.History)
	em.GET("/expiries", h.Expiries)

	g := e.Group("/api")
	g.POST("/expected-move", h.ExpectedMove)
	g.GET("/symbols", h.Symbols)
	g.GET("/symbols/:symbol/history", h.SymbolHistory)
	g.POST("/admin/refresh-forecasts", h.RefreshForecasts)
}

func (h *ForecastsEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{}
	healthy := true
	for _, store := range h.stores {
		if err := store.Health(ctx); err != nil {
			status[store.Name()] = err.Error()
			healthy = false
		} else {
			status[store.Name()] = "ok"
		}
	}
	if !healthy {
		return xhttp.AppErrorResponse(c, xhttp.InternalError("store unhealthy").WithParams(map[string]interface{}{"stores": status}))
	}
	return xhttp.SuccessResponse(c, map[string]any{"status": "ok", "stores": status})
}

func (h *ForecastsEchoHandler) ExpectedMove(c echo.Context) error {
	req := &models.ExpectedMoveRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	horizons := make([]models.Horizon, 0, len(req.Horizons))
	for _, s := range req.Horizons {
		if hz, ok := models.ParseHorizon(s); ok {
			horizons = append(horizons, hz)
		}
	}

	res, err := h.queries.ExpectedMove(c.Request().Context(), req.Symbol, horizons)
	if err != nil {
		return h.queryError(c, "expected-move", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *ForecastsEchoHandler) LatestForecast(c echo.Context) error {
	req := &models.ForecastLatestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	exp, ok := util.ParseDate(req.Exp)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("exp %q is not a YYYY-MM-DD date", req.Exp))
	}

	res, err := h.queries.LatestForecast(c.Request().Context(), req.Symbol, exp)
	if err != nil {
		return h.queryError(c, "forecast", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *ForecastsEchoHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	exp, ok := util.ParseDate(req.Exp)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("exp %q is not a YYYY-MM-DD date", req.Exp))
	}
	window := util.ParseWindowDays(req.Window, 90)

	res, err := h.queries.History(c.Request().Context(), req.Symbol, exp, window)
	if err != nil {
		return h.queryError(c, "history", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *ForecastsEchoHandler) Expiries(c echo.Context) error {
	req := &models.ExpiriesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	window := util.ParseWindowDays(req.Window, 120)

	res, err := h.queries.Expiries(c.Request().Context(), req.Symbol, window)
	if err != nil {
		return h.queryError(c, "expiries", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *ForecastsEchoHandler) Symbols(c echo.Context) error {
	res, err := h.queries.Symbols(c.Request().Context())
	if err != nil {
		return h.queryError(c, "symbols", err)
	}
	return xhttp.ListResponse(c, res, int64(len(res)))
}

func (h *ForecastsEchoHandler) SymbolHistory(c echo.Context) error {
	symbol := c.Param("symbol")
	if symbol == "" {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("symbol is required"))
	}
	req := &models.SymbolHistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.queries.SymbolHistory(c.Request().Context(), symbol, req.Days)
	if err != nil {
		return h.queryError(c, "symbol-history", err)
	}
	return xhttp.ListResponse(c, res, int64(len(res)))
}

// RefreshForecasts kicks off one generation cycle in the background. A cycle
// already in flight wins; the request is acknowledged either way.
func (h *ForecastsEchoHandler) RefreshForecasts(c echo.Context) error {
	if h.pipeline == nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("forecast pipeline is disabled"))
	}
	if !h.refreshing.CompareAndSwap(false, true) {
		return xhttp.SuccessResponse(c, map[string]any{"status": "already running"})
	}

	go func() {
		defer h.refreshing.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := h.pipeline.Run(ctx); err != nil {
			h.logger.Error("admin refresh failed", xlogger.Error(err))
		}
	}()

	return xhttp.SuccessResponse(c, map[string]any{"status": "scheduled"})
}

func (h *ForecastsEchoHandler) queryError(c echo.Context, op string, err error) error {
	if errors.Is(err, usecase.ErrNotFound) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError(err.Error()))
	}
	h.logger.Error(op+" query error", xlogger.Error(err))
	return xhttp.AppErrorResponse(c, err)
}

var _ xhttp.Handler = (*ForecastsEchoHandler)(nil)
