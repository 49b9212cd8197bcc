// Package server assembles the HTTP surface: the echo instance, its
// middleware, health and metrics endpoints, and the v1 API routes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/drclabs/recall/engine"
	"github.com/drclabs/recall/internal/metrics"
	"github.com/drclabs/recall/internal/profile"
	apiv1 "github.com/drclabs/recall/server/router/api/v1"
	"github.com/drclabs/recall/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
}

func NewServer(_ context.Context, instanceProfile *profile.Profile, storeInstance *store.Store, eng *engine.Engine, collector *metrics.Collector) (*Server, error) {
	if eng == nil {
		return nil, errors.New("engine is required")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: 60 * time.Second,
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == "/metrics"
		},
	}))

	s := &Server{
		Profile:    instanceProfile,
		Store:      storeInstance,
		echoServer: e,
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})
	if collector != nil {
		e.GET("/metrics", echo.WrapHandler(collector.Handler()))
	}

	apiV1Service := apiv1.NewAPIV1Service(instanceProfile, storeInstance, eng)
	apiV1Service.RegisterRoutes(e)

	return s, nil
}

func (s *Server) Start(_ context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	go func() {
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start echo server", "error", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
	slog.Info("server shutdown complete")
}
