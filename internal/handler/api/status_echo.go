package api

import (
	"errors"

	models "MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/auth"
	"MarketPulse/internal/service/metricscache"
	"MarketPulse/internal/usecase"
	xhttp "MarketPulse/pkg/http"
	xlogger "MarketPulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

// StatusEchoHandler serves the health and quote surface over Echo.
type StatusEchoHandler struct {
	logger   *xlogger.Logger
	feed     *usecase.FeedManager
	watchdog *usecase.Watchdog
	metrics  *metricscache.Cache
	registry *metricscache.RegistryCache
	auth     *auth.Machine
}

func NewStatusEchoHandler(logger *xlogger.Logger, feed *usecase.FeedManager,
	watchdog *usecase.Watchdog, metrics *metricscache.Cache,
	registry *metricscache.RegistryCache, auth *auth.Machine) *StatusEchoHandler {
	return &StatusEchoHandler{
		logger:   logger,
		feed:     feed,
		watchdog: watchdog,
		metrics:  metrics,
		registry: registry,
		auth:     auth,
	}
}

func (h *StatusEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.GET("/health", h.Health)
	g.GET("/quotes/:symbol", h.Quote)
	g.GET("/metrics/:symbol", h.Metric)
	g.GET("/instruments/:exchange", h.Instruments)
	g.POST("/admin/reload", h.Reload)
}

func (h *StatusEchoHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.watchdog.Health())
}

func (h *StatusEchoHandler) Quote(c echo.Context) error {
	req := &models.QuoteRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	tick, ok := h.feed.LatestQuote(req.Symbol)
	if !ok {
		return xhttp.AppErrorResponse(c,
			xhttp.NotFoundErrorf("no quote seen for %s", req.Symbol))
	}
	return xhttp.SuccessResponse(c, tick)
}

func (h *StatusEchoHandler) Metric(c echo.Context) error {
	req := &models.MetricRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.metrics.Get(req.Symbol)
	if err != nil {
		return xhttp.AppErrorResponse(c, mapDomainError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *StatusEchoHandler) Instruments(c echo.Context) error {
	req := &models.InstrumentsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	rows, err := h.registry.Instruments(c.Request().Context(), req.Exchange)
	if err != nil {
		h.logger.Error("instrument registry error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapDomainError(err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// Reload forces a credential re-read, for operators who rotated the store
// out of band and do not want to wait for the watcher.
func (h *StatusEchoHandler) Reload(c echo.Context) error {
	req := &models.ReloadRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if err := h.auth.Reload(c.Request().Context()); err != nil {
		h.logger.Error("credential reload failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapDomainError(err))
	}
	if req.Reconnect {
		h.feed.ForceReconnect()
	}
	return xhttp.SuccessResponse(c, h.auth.Snapshot())
}

// mapDomainError translates upstream/domain sentinels to HTTP errors.
func mapDomainError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNoData):
		return xhttp.NotFoundError("no data available yet").WithError(err)
	case errors.Is(err, repository.ErrCredentialExpired),
		errors.Is(err, repository.ErrCredentialInvalid):
		return xhttp.UnauthorizedError("upstream credential not valid").WithError(err)
	case errors.Is(err, repository.ErrUpstreamThrottled):
		return xhttp.TooManyRequestsError("upstream rate limit reached").WithError(err)
	case errors.Is(err, repository.ErrUpstreamUnavailable),
		errors.Is(err, repository.ErrConnectionLost):
		return xhttp.ServiceUnavailableError("upstream unavailable").WithError(err)
	default:
		return err
	}
}
