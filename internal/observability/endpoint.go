package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tphakala/voterimport/internal/errors"
	"github.com/tphakala/voterimport/internal/logger"
	"github.com/tphakala/voterimport/internal/observability/metrics"
)

// Pinger checks the database connection.
type Pinger interface {
	Ping() error
}

// Reloader refreshes the surname mapping cache.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Broadcaster tells other workers to drop their cached mappings.
type Broadcaster interface {
	Broadcast(ctx context.Context, reason string) error
}

// Endpoint is the worker's HTTP server.
type Endpoint struct {
	Echo        *echo.Echo
	listen      string
	db          Pinger
	resolver    Reloader
	broadcaster Broadcaster
	metrics     *Metrics
	log         logger.Logger
}

// EndpointOption configures an Endpoint
type EndpointOption func(*Endpoint)

// WithMetrics mounts GET /metrics
func WithMetrics(m *Metrics) EndpointOption {
	return func(e *Endpoint) { e.metrics = m }
}

// WithBroadcaster announces reloads to other workers.
func WithBroadcaster(b Broadcaster) EndpointOption {
	return func(e *Endpoint) { e.broadcaster = b }
}

// NewEndpoint builds the server and its routes.
func NewEndpoint(listen string, db Pinger, resolver Reloader, opts ...EndpointOption) *Endpoint {
	e := &Endpoint{
		Echo:     echo.New(),
		listen:   listen,
		db:       db,
		resolver: resolver,
		log:      GetLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.Echo.HideBanner = true
	e.Echo.HidePort = true
	e.Echo.Use(middleware.Recover())
	e.Echo.Use(e.requestLogger)

	e.Echo.GET("/healthz", e.health)
	if e.metrics != nil {
		e.Echo.GET("/metrics", echo.WrapHandler(e.metrics.Handler()))
	}
	e.Echo.POST("/api/v1/resolver/reload", e.reload)
	return e
}

type healthResponse struct {
	Status        string  `json:"status"`
	Database      string  `json:"database"`
	MemoryUsedPct float64 `json:"memory_used_percent,omitempty"`
	Error         string  `json:"error,omitempty"`
}

func (e *Endpoint) health(c echo.Context) error {
	resp := healthResponse{Status: "ok", Database: "ok"}
	// Memory is reported but never fails the check.
	if vm, err := mem.VirtualMemoryWithContext(c.Request().Context()); err == nil {
		resp.MemoryUsedPct = vm.UsedPercent
	}

	if err := e.db.Ping(); err != nil {
		resp.Status, resp.Database, resp.Error = "unhealthy", "unreachable", err.Error()
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

type reloadResponse struct {
	Reloaded    bool   `json:"reloaded"`
	Broadcasted bool   `json:"broadcasted"`
	Error       string `json:"error,omitempty"`
}

// reload refreshes this worker's cache first. A failed broadcast is
// reported but does not fail the request.
func (e *Endpoint) reload(c echo.Context) error {
	ctx := c.Request().Context()
	if err := e.resolver.Reload(ctx); err != nil {
		e.log.Error("resolver reload failed", logger.Error(err))
		return c.JSON(http.StatusInternalServerError, reloadResponse{Error: err.Error()})
	}

	resp := reloadResponse{Reloaded: true}
	if e.broadcaster != nil {
		if err := e.broadcaster.Broadcast(ctx, "http reload"); err != nil {
			e.log.Warn("reload broadcast failed", logger.Error(err))
			resp.Error = err.Error()
		} else {
			resp.Broadcasted = true
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (e *Endpoint) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if c.Path() == "/healthz" || c.Path() == "/metrics" {
			return err
		}
		e.log.Info("request",
			logger.String("method", c.Request().Method),
			logger.String("path", c.Path()),
			logger.Int("status", c.Response().Status),
			logger.Duration("duration", time.Since(start)))
		return err
	}
}

// Start serves until ctx is cancelled, then shuts down.
func (e *Endpoint) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		e.log.Info("worker endpoint starting", logger.String("address", e.listen))
		errCh <- e.Echo.Start(e.listen)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.New(err).
				Component("observability").
				Category(errors.CategoryNetwork).
				Context("listen", e.listen).
				Build()
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), metrics.ShutdownTimeout)
	defer cancel()
	if err := e.Echo.Shutdown(shutdownCtx); err != nil {
		e.log.Error("worker endpoint shutdown error", logger.Error(err))
		return err
	}
	<-errCh
	return nil
}
