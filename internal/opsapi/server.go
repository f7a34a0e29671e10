package opsapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/narrative/internal/globaltime"
	"horse.fit/narrative/internal/ingest"
	"horse.fit/narrative/internal/keypool"
	"horse.fit/narrative/internal/news"
	"horse.fit/narrative/internal/pipeline"
)

const maxPayloadBytes = 4 << 20

type Pinger interface {
	Ping(ctx context.Context) error
}

type KeyStats interface {
	Stats() []keypool.KeyStat
}

type Worker interface {
	Status() pipeline.Status
}

type ArticleStats interface {
	ArticleStats(ctx context.Context, version string) (news.Stats, error)
}

type Ingester interface {
	IngestPayload(ctx context.Context, payload []byte, defaultCountry string) (ingest.Result, error)
}

// Deps are the collaborators behind the endpoints. A nil dependency turns its
// endpoint into a 503.
type Deps struct {
	Store    Pinger
	Keys     KeyStats
	Worker   Worker
	Stats    ArticleStats
	Ingester Ingester

	AnalysisVersion string
	DefaultCountry  string
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	deps   Deps
	logger zerolog.Logger
	opts   Options
}

func NewServer(deps Deps, logger zerolog.Logger, opts Options) *Server {
	if strings.TrimSpace(opts.Host) == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Port <= 0 {
		opts.Port = 8091
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return &Server{deps: deps, logger: logger, opts: opts}
}

// Handler builds the routed echo instance.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := s.logger.Debug()
			if v.Error != nil {
				event = s.logger.Error().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("ops request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/keys", s.handleKeys)
	api.GET("/worker", s.handleWorker)
	api.GET("/stats", s.handleStats)
	api.POST("/candidates", s.handleCandidates, middleware.BodyLimit("4M"))
	return e
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	e := s.Handler()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("ops server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("ops server started")
	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start ops server: %w", err)
	}
	s.logger.Info().Msg("ops server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if text, ok := he.Message.(string); ok && strings.TrimSpace(text) != "" {
			message = text
		} else if text := http.StatusText(status); text != "" {
			message = text
		}
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	data := map[string]any{
		"service": "narrative",
		"time":    globaltime.UTC(),
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(c.Request().Context()); err != nil {
			s.logger.Error().Err(err).Msg("store ping failed")
			return errorWithStatus(c, http.StatusServiceUnavailable, "Store unavailable")
		}
		data["store"] = "ok"
	}
	return success(c, data)
}

func (s *Server) handleKeys(c echo.Context) error {
	if s.deps.Keys == nil {
		return errorWithStatus(c, http.StatusServiceUnavailable, "Key pools not configured")
	}
	return success(c, map[string]any{
		"items": s.deps.Keys.Stats(),
	})
}

func (s *Server) handleWorker(c echo.Context) error {
	if s.deps.Worker == nil {
		return errorWithStatus(c, http.StatusServiceUnavailable, "Worker not running")
	}
	return success(c, s.deps.Worker.Status())
}

func (s *Server) handleStats(c echo.Context) error {
	if s.deps.Stats == nil {
		return errorWithStatus(c, http.StatusServiceUnavailable, "Stats not available")
	}
	stats, err := s.deps.Stats.ArticleStats(c.Request().Context(), s.deps.AnalysisVersion)
	if err != nil {
		s.logger.Error().Err(err).Msg("query article stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, map[string]any{
		"analysis_version": s.deps.AnalysisVersion,
		"articles":         stats,
	})
}

func (s *Server) handleCandidates(c echo.Context) error {
	if s.deps.Ingester == nil {
		return errorWithStatus(c, http.StatusServiceUnavailable, "Ingest not configured")
	}
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPayloadBytes))
	if err != nil {
		return fail(c, http.StatusBadRequest, "Failed to read request body", nil)
	}

	result, err := s.deps.Ingester.IngestPayload(c.Request().Context(), payload, s.deps.DefaultCountry)
	if err != nil {
		if result.Received > 0 {
			s.logger.Error().Err(err).Msg("candidate ingest failed")
			return internalError(c, "Failed to store candidates")
		}
		return fail(c, http.StatusBadRequest, "Invalid candidate batch", map[string]string{
			"error": err.Error(),
		})
	}
	return successWithStatus(c, http.StatusAccepted, result)
}
