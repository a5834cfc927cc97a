package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"FinBand/internal/domain/models"
	domrepo "FinBand/internal/domain/repository"
	"FinBand/internal/service/ratelimit"
	"FinBand/internal/usecase"
	xhttp "FinBand/pkg/http"
	xlogger "FinBand/pkg/logger"
)

// Forecaster is the part of the forecast use case the HTTP layer needs.
type Forecaster interface {
	Forecast(ctx context.Context, p usecase.ForecastParams) (*models.ForecastReport, error)
	Live(ctx context.Context, p usecase.ForecastParams) (*models.ForecastReport, error)
	Context(ctx context.Context, p usecase.ForecastParams) (string, error)
}

// ForecastEchoHandler serves quantile forecasts over HTTP.
type ForecastEchoHandler struct {
	logger *xlogger.Logger
	uc     Forecaster
	rl     *ratelimit.Limiter
}

func NewForecastEchoHandler(logger *xlogger.Logger, uc Forecaster, rl *ratelimit.Limiter) *ForecastEchoHandler {
	return &ForecastEchoHandler{logger: logger, uc: uc, rl: rl}
}

func (h *ForecastEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/forecast", h.rl.Middleware())
	g.GET("", h.Forecast)
	g.GET("/live", h.Live)
	g.GET("/context", h.Context)
}

// Forecast returns the full report: live forecast, backtest, scorecard and bands.
func (h *ForecastEchoHandler) Forecast(c echo.Context) error {
	req := &models.ForecastRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.uc.Forecast(c.Request().Context(), usecase.ParamsFromRequest(*req))
	if err != nil {
		return h.fail(c, "forecast", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, res)
}

func (h *ForecastEchoHandler) Live(c echo.Context) error {
	req := &models.LiveRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.uc.Live(c.Request().Context(), usecase.LiveParamsFromRequest(*req))
	if err != nil {
		return h.fail(c, "live", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, res)
}

// Context returns the plain-text report context for downstream writers.
func (h *ForecastEchoHandler) Context(c echo.Context) error {
	req := &models.ForecastRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	text, err := h.uc.Context(c.Request().Context(), usecase.ParamsFromRequest(*req))
	if err != nil {
		return h.fail(c, "context", err)
	}
	return c.String(http.StatusOK, text)
}

func (h *ForecastEchoHandler) fail(c echo.Context, op string, err error) error {
	appErr := toAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error(op+" usecase error", xlogger.Error(err))
	} else {
		h.logger.Warn(op+" rejected", xlogger.Error(err), xlogger.Int("status", appErr.Status))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func toAppError(err error) *xhttp.AppError {
	switch {
	case errors.Is(err, domrepo.ErrSeriesNotFound):
		return xhttp.NotFoundError(err.Error()).WithError(err)
	case models.IsInputError(err):
		return xhttp.BadRequestError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrInsufficientData), errors.Is(err, models.ErrNoFeasibleSolution):
		return xhttp.UnprocessableError(err.Error()).WithError(err)
	case errors.Is(err, context.DeadlineExceeded):
		return xhttp.NewAppError("ERR_TIMEOUT", "forecast timed out", http.StatusGatewayTimeout).WithError(err)
	default:
		return xhttp.InternalError("forecast failed").WithError(err)
	}
}

var _ xhttp.Handler = (*ForecastEchoHandler)(nil)
