// Package api exposes sync runs and their progress over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"timesheet_sync/internal/domain"
)

// Syncer starts background runs.
type Syncer interface {
	Start(ctx context.Context, userID int64) (string, error)
}

// Subscriber streams the progress snapshots of a user.
type Subscriber interface {
	Subscribe(ctx context.Context, userID int64) (<-chan domain.ProgressState, error)
}

type Server struct {
	echo      *echo.Echo
	runCtx    context.Context
	syncer    Syncer
	progress  Subscriber
	auth      *Authenticator
	logger    *slog.Logger
	heartbeat time.Duration
}

// NewServer wires the HTTP routes. Runs started through the API live as long
// as runCtx.
func NewServer(runCtx context.Context, syncer Syncer, progress Subscriber, auth *Authenticator, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	logger = logger.With("component", "api")

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Debug("http request",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", c.Response().Status,
				"duration", time.Since(start),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)

			return err
		}
	})

	s := &Server{
		echo:      e,
		runCtx:    runCtx,
		syncer:    syncer,
		progress:  progress,
		auth:      auth,
		logger:    logger,
		heartbeat: 15 * time.Second,
	}

	e.GET("/health", s.handleHealth)
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := e.Group("/api/v1", auth.Middleware())
	v1.POST("/sync", s.handleSync)
	v1.GET("/progress", s.handleProgress)

	return s
}

type HealthResponse struct {
	Status string `json:"status"`
}

type SyncResponse struct {
	RunID string `json:"runId"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleSync(c echo.Context) error {
	userID := UserIDFrom(c)

	runID, err := s.syncer.Start(s.runCtx, userID)
	if errors.Is(err, domain.ErrRunInProgress) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		s.logger.Error("failed to start sync", "user_id", userID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start sync")
	}

	s.logger.Info("sync started", "user_id", userID, "run_id", runID)

	return c.JSON(http.StatusAccepted, SyncResponse{RunID: runID})
}

// handleProgress streams the progress of the caller's runs as Server-Sent
// Events until the client disconnects.
//
//	event: progress
//	data: {"runId":"…","userId":42,"page":"Ok",…}
func (s *Server) handleProgress(c echo.Context) error {
	userID := UserIDFrom(c)
	ctx := c.Request().Context()

	states, err := s.progress.Subscribe(ctx, userID)
	if err != nil {
		s.logger.Error("failed to subscribe to progress", "user_id", userID, "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "progress unavailable")
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case state, ok := <-states:
			if !ok {
				return nil
			}
			data, err := json.Marshal(state)
			if err != nil {
				return fmt.Errorf("marshal progress: %w", err)
			}
			if _, err := fmt.Fprintf(res, "event: progress\ndata: %s\n\n", data); err != nil {
				return nil
			}
			res.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprint(res, ": heartbeat\n\n"); err != nil {
				return nil
			}
			res.Flush()

		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Server) Start(addr string) error {
	s.logger.Info("starting http server", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
