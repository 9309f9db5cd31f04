package server

import (
	"context"
	"io"
	"net/http"
	"strings"

	gocmd "github.com/goliatone/go-command"
	relaycommand "github.com/goliatone/go-relay/command"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/inbound"
	"github.com/goliatone/go-relay/webhooks"
	"github.com/labstack/echo/v4"
)

func (s *Server) health(c echo.Context) error {
	if s.deps.Database == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "error", "database": "unconfigured"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.cfg.HealthTimeout)
	defer cancel()
	if err := s.deps.Database.PingContext(ctx); err != nil {
		s.logger.WithContext(ctx).Warn("health check failed", "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "error", "database": "disconnected"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "database": "connected"})
}

func (s *Server) inboundEmail(c echo.Context) error {
	req := c.Request()
	if err := req.ParseMultipartForm(s.cfg.MaxMemory); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid multipart form")
	}
	defer func() {
		if req.MultipartForm != nil {
			_ = req.MultipartForm.RemoveAll()
		}
	}()
	email, err := inbound.ParseMultipartForm(req.MultipartForm)
	if err != nil {
		return err
	}

	collector := gocmd.NewResult[inbound.RouteResult]()
	ctx := gocmd.ContextWithResult(req.Context(), collector)
	if err := s.deps.InboundEmail.Execute(ctx, relaycommand.HandleInboundEmailMessage{Email: email}); err != nil {
		s.logger.WithContext(ctx).Error("inbound email failed",
			"from", email.From,
			"to", email.To,
			"error", err,
			"text_code", core.TextCode(err),
		)
		return c.String(core.HTTPStatus(err), "Internal error")
	}
	if result, ok := collector.Load(); ok {
		s.logger.WithContext(ctx).Debug("inbound email routed", "route", result.Route, "from", email.From)
	}
	return c.String(http.StatusOK, "OK")
}

func (s *Server) taskWebhook(c echo.Context) error {
	req := c.Request()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	inboundReq := core.InboundRequest{
		ProviderID: webhooks.ProviderTasks,
		URL:        s.requestURL(req),
		Headers:    flattenHeaders(req.Header),
		Body:       body,
	}

	collector := gocmd.NewResult[core.InboundResult]()
	ctx := gocmd.ContextWithResult(req.Context(), collector)
	execErr := s.deps.TaskWebhook.Execute(ctx, relaycommand.HandleTaskWebhookMessage{Request: inboundReq})
	result, _ := collector.Load()

	status := result.StatusCode
	if execErr != nil {
		if status == 0 || status < http.StatusBadRequest {
			status = core.HTTPStatus(execErr)
		}
		s.logger.WithContext(ctx).Warn("task webhook failed",
			"status", status,
			"error", execErr,
			"text_code", core.TextCode(execErr),
		)
		return c.String(status, "Error")
	}
	if status == 0 {
		status = http.StatusOK
	}
	return c.String(status, "OK")
}

// requestURL rebuilds the URL the backend signed.
func (s *Server) requestURL(req *http.Request) string {
	if base := strings.TrimRight(strings.TrimSpace(s.cfg.PublicURL), "/"); base != "" {
		return base + req.URL.RequestURI()
	}
	scheme := firstForwarded(req.Header.Get("X-Forwarded-Proto"))
	if scheme == "" {
		scheme = "http"
		if req.TLS != nil {
			scheme = "https"
		}
	}
	host := firstForwarded(req.Header.Get("X-Forwarded-Host"))
	if host == "" {
		host = req.Host
	}
	return scheme + "://" + host + req.URL.RequestURI()
}

func firstForwarded(value string) string {
	if idx := strings.Index(value, ","); idx >= 0 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) > 0 {
			out[key] = values[0]
		}
	}
	return out
}
