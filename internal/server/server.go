package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/internal/agent"
	"github.com/mohammad-safakhou/researcher/internal/documents"
	"github.com/mohammad-safakhou/researcher/internal/ingest"
	"github.com/mohammad-safakhou/researcher/internal/research"
	"github.com/mohammad-safakhou/researcher/internal/telemetry"
	"github.com/mohammad-safakhou/researcher/session/index"
	"github.com/mohammad-safakhou/researcher/session/session_models"
	"go.uber.org/zap"
)

// Researcher is the research service as seen by the HTTP layer.
type Researcher interface {
	Plan(ctx context.Context, question string, docs []string) ([]string, error)
	Ask(ctx context.Context, sessionID, question string) (research.AskResult, error)
	AddDocuments(ctx context.Context, sessionID string, docs documents.Set) ([]string, error)
	CreateSession(ctx context.Context) (string, error)
	Session(ctx context.Context, sessionID string) (session_models.State, error)
	Sessions(ctx context.Context) ([]session_models.Info, error)
	DeleteSession(ctx context.Context, sessionID string) error
	SearchHistory(query string, k int) ([]index.Hit, error)
}

type Server struct {
	echo    *echo.Echo
	svc     Researcher
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// New builds the router. When cfg.JWTSecret is set every /api route requires
// a bearer token signed with it.
func New(svc Researcher, cfg config.ServerConfig, logger *zap.Logger, metrics *telemetry.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{echo: echo.New(), svc: svc, logger: logger, metrics: metrics}
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	}))
	e.HTTPErrorHandler = s.handleError

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	api := e.Group("/api")
	if cfg.JWTSecret != "" {
		api.Use(EchoAuthMiddleware([]byte(cfg.JWTSecret)))
	}
	h := &handlers{svc: svc, logger: logger}
	h.Register(api)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- s.echo.Start(addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

// handleError renders every failure as {"error": "..."} with a status derived
// from the error type.
func (s *Server) handleError(err error, c echo.Context) {
	code, msg := statusFor(err)
	req := c.Request()
	fields := []zap.Field{
		zap.Int("status", code),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.String("remote", c.RealIP()),
		zap.Error(err),
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Info("request rejected", fields...)
	}
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]interface{}{"error": msg})
	}
}

// statusClientClosedRequest is reported when the caller went away mid-request.
const statusClientClosedRequest = 499

func statusFor(err error) (int, string) {
	var (
		he    *echo.HTTPError
		agErr *agent.AgentExecutionError
		plErr *agent.PlanGenerationError
		psErr *ingest.ParseError
	)
	switch {
	case errors.As(err, &he):
		msg := http.StatusText(he.Code)
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
		return he.Code, msg
	case errors.Is(err, session_models.ErrInvalidID), errors.Is(err, agent.ErrEmptyQuestion):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &psErr):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, research.ErrHistoryDisabled):
		return http.StatusNotImplemented, err.Error()
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, err.Error()
	case errors.As(err, &agErr), errors.As(err, &plErr):
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
