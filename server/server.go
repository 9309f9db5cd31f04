// Package server exposes the relay webhooks and health check over Echo.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gocmd "github.com/goliatone/go-command"
	glog "github.com/goliatone/go-logger/glog"
	relaycommand "github.com/goliatone/go-relay/command"
	"github.com/goliatone/go-relay/core"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

const (
	PathInboundEmail = "/webhooks/email/inbound"
	PathTaskWebhook  = "/webhooks/tasks"
	PathHealth       = "/health"

	defaultMaxMemory     = 32 << 20
	defaultHealthTimeout = 2 * time.Second
	shutdownTimeout      = 30 * time.Second
)

// Pinger reports database reachability. *sql.DB and *bun.DB satisfy it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Config struct {
	Addr        string
	ServiceName string
	// PublicURL is the externally visible base URL used to rebuild the
	// signed webhook URL. When empty the forwarded headers are used.
	PublicURL     string
	MaxMemory     int64
	HealthTimeout time.Duration
}

// ConfigFrom maps the relay configuration onto server settings.
func ConfigFrom(cfg core.Config) Config {
	return Config{
		Addr:        cfg.HTTP.Addr,
		ServiceName: cfg.ServiceName,
		PublicURL:   cfg.Webhook.PublicURL,
	}
}

type Dependencies struct {
	InboundEmail gocmd.Commander[relaycommand.HandleInboundEmailMessage]
	TaskWebhook  gocmd.Commander[relaycommand.HandleTaskWebhookMessage]
	Database     Pinger
	Logger       glog.Logger
}

type Server struct {
	cfg    Config
	deps   Dependencies
	logger glog.Logger
	echo   *echo.Echo
}

func New(cfg Config, deps Dependencies) (*Server, error) {
	if deps.InboundEmail == nil {
		return nil, fmt.Errorf("server: inbound email command is required")
	}
	if deps.TaskWebhook == nil {
		return nil, fmt.Errorf("server: task webhook command is required")
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = "relay"
	}
	if cfg.MaxMemory <= 0 {
		cfg.MaxMemory = defaultMaxMemory
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = defaultHealthTimeout
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: glog.Ensure(deps.Logger),
	}
	s.echo = s.buildEcho()
	return s, nil
}

// Handler returns the Echo instance as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.echo,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.cfg.Addr)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown failed", "error", err)
			return httpServer.Close()
		}
		s.logger.Info("server stopped")
		return nil
	}
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(otelecho.Middleware(s.cfg.ServiceName))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogError:     true,
		LogRequestID: true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			args := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
			}
			logger := s.logger.WithContext(c.Request().Context())
			if v.Error != nil {
				logger.Warn("http request failed", append(args, "error", v.Error.Error())...)
				return nil
			}
			logger.Info("http request", args...)
			return nil
		},
	}))

	e.GET(PathHealth, s.health)
	e.POST(PathInboundEmail, s.inboundEmail)
	e.POST(PathTaskWebhook, s.taskWebhook)
	return e
}

// handleError answers with the status carried by relay errors and a
// stable text code.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		_ = c.JSON(httpErr.Code, map[string]any{"error": http.StatusText(httpErr.Code), "message": httpErr.Message})
		return
	}
	status := core.HTTPStatus(err)
	_ = c.JSON(status, map[string]any{
		"error":   core.TextCode(err),
		"message": http.StatusText(status),
	})
}
