// Package ops serves the passive operator surface: health, metrics and a
// stats snapshot. It carries no business routing.
package ops

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lithammer/shortuuid/v4"

	"github.com/savorhq/tastecore/engine"
	"github.com/savorhq/tastecore/internal/profile"
)

// Server is the operator HTTP server.
type Server struct {
	profile *profile.Profile
	core    *engine.Core
	echo    *echo.Echo
}

// NewServer creates the ops server and registers its routes.
func NewServer(p *profile.Profile, core *engine.Core) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: shortuuid.New,
	}))

	s := &Server{profile: p, core: core, echo: e}

	e.GET("/healthz", s.healthz)
	e.GET("/metrics", echo.WrapHandler(core.MetricsExporter().Handler()))
	e.GET("/api/v1/stats", s.stats)

	return s
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			slog.Error("ops server shutdown failed", "error", err)
		}
	}()

	addr := s.profile.ListenAddr()
	slog.Info("ops server listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := s.core.Healthy(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) stats(c echo.Context) error {
	stats, err := s.core.Stats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, stats)
}
