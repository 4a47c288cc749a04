// Package ops serves the per-process health endpoints used by the process
// supervisor and load balancers.
package ops

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Server is a minimal HTTP surface exposing /healthz and /readyz.
type Server struct {
	echo *echo.Echo
	log  *zap.Logger
}

// NewServer builds the health server. ready is consulted on /readyz; pass
// nil to report ready unconditionally.
func NewServer(logger *zap.Logger, ready func() bool) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/readyz", func(c echo.Context) error {
		if ready != nil && !ready() {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	})

	return &Server{echo: e, log: logger}
}

// Start serves on addr in a background goroutine.
func (s *Server) Start(addr string) {
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			s.log.Error("ops server failure", zap.Error(err))
		}
	}()
	s.log.Info("ops server listening", zap.String("addr", addr))
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
