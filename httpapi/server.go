// Package httpapi exposes a stream engine's running state over HTTP: a
// health check, per-listing stream status, and the most recent items
// mirrored into SQLite.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/brettboylen/reddittail/store"
	"github.com/brettboylen/reddittail/streamengine"
)

// StatusSource exposes the running engine's per-listing status.
type StatusSource interface {
	Status() []streamengine.StreamStatus
}

// Server wraps an echo.Echo exposing the inspection/health surface.
type Server struct {
	echo   *echo.Echo
	log    *logrus.Logger
	status StatusSource
	sink   *store.SQLiteSink
}

// New builds the server. sink may be nil if no SQLite mirror is
// configured, in which case /api/streams/:listing/recent always 404s.
func New(status StatusSource, sink *store.SQLiteSink, maxRequestsPerMinute int, log *logrus.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	requestsPerSecond := float64(maxRequestsPerMinute) / 60.0
	rateLimit := rate.Limit(requestsPerSecond * 0.95) // 95% of budget, safety margin

	e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rateLimit,
				Burst:     1,
				ExpiresIn: 3 * time.Minute,
			},
		),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded, please try again later"})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded, please try again later"})
		},
	}))

	s := &Server{echo: e, log: log, status: status, sink: sink}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	s.echo.GET("/api/streams", func(c echo.Context) error {
		return c.JSON(http.StatusOK, s.status.Status())
	})

	s.echo.GET("/api/streams/:listing/recent", func(c echo.Context) error {
		listing := c.Param("listing")
		if s.sink == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "no sqlite mirror configured"})
		}

		limit := 20
		items, err := s.sink.RecentByListing(listing, limit)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, items)
	})
}

// Start runs the server in the background until ctx is canceled.
func (s *Server) Start(ctx context.Context, port int) {
	go func() {
		addr := fmt.Sprintf(":%d", port)
		if s.log != nil {
			s.log.WithField("port", port).Info("starting inspection API server")
		}
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			if s.log != nil {
				s.log.WithError(err).Error("inspection API server failed")
			}
		}
	}()

	<-ctx.Done()
	if s.log != nil {
		s.log.Info("shutting down inspection API server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil && s.log != nil {
		s.log.WithError(err).Error("inspection API server shutdown failed")
	}
}
