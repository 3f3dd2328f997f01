// Package server exposes a chat engine over HTTP.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/kyleking/sqlchat/internal/chat"
	"github.com/kyleking/sqlchat/internal/config"
	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/logging"
	"github.com/kyleking/sqlchat/internal/monitor"
)

// Server is the HTTP API over one engine
type Server struct {
	echo   *echo.Echo
	engine *chat.Engine
	cfg    config.ServerConfig
}

// New builds the routes
func New(engine *chat.Engine, cfg config.ServerConfig) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	if cfg.MaxUploadMB > 0 {
		e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", cfg.MaxUploadMB)))
	}

	e.HTTPErrorHandler = errorHandler

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	if cfg.EnableMetrics {
		e.GET("/metrics", echo.WrapHandler(monitor.Handler()))
	}

	api := e.Group("/api")
	(&SourceHandler{Engine: engine}).Register(api)
	(&ChatHandler{Engine: engine}).Register(api)

	return &Server{echo: e, engine: engine, cfg: cfg}
}

// EnableStats serves GET /api/stats with memory samples and session counts
func (s *Server) EnableStats(sampler *monitor.MemorySampler) {
	s.echo.GET("/api/stats", func(c echo.Context) error {
		sess := s.engine.Session()

		return c.JSON(http.StatusOK, map[string]interface{}{
			"memory":   sampler.Stats(),
			"session":  sess.ID,
			"turns":    len(sess.Conversation()),
			"snippets": len(sess.Snippets()),
			"indexed":  s.engine.Index().Len(),
		})
	})
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr, or the configured address when addr is empty, until
// Shutdown is called
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = s.cfg.Addr
	}

	logging.WithField("addr", addr).Info("HTTP API listening")

	if err := s.echo.Start(addr); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, errors.ErrTypeConnection, "failed to serve on %s", addr)
	}

	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// errorHandler writes every error as {"error": message}
func errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := errors.UserMessage(err)

	var he *echo.HTTPError
	if stderrors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}

	req := c.Request()
	logger := logging.WithFields(map[string]interface{}{
		"status": code,
		"method": req.Method,
		"path":   req.URL.Path,
		"ip":     c.RealIP(),
	})

	if code >= http.StatusInternalServerError {
		logger.ErrorWithErr("Request failed", err)
	} else {
		logger.Debug(msg)
	}

	if !c.Response().Committed {
		_ = c.JSON(code, map[string]interface{}{"error": msg})
	}
}

// httpError maps a typed error onto a status code
func httpError(err error) *echo.HTTPError {
	code := http.StatusInternalServerError

	switch errors.GetType(err) {
	case errors.ErrTypeValidation, errors.ErrTypeToolArgument:
		code = http.StatusBadRequest
	case errors.ErrTypeNotFound:
		code = http.StatusNotFound
	case errors.ErrTypeConnection, errors.ErrTypeIngestion:
		code = http.StatusUnprocessableEntity
	case errors.ErrTypeConfig:
		code = http.StatusServiceUnavailable
	}

	return echo.NewHTTPError(code, errors.UserMessage(err)).SetInternal(err)
}
