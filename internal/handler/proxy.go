package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/ryanuber/go-glob"

	"mask-proxy-go/internal/config"
	"mask-proxy-go/internal/model"
	"mask-proxy-go/internal/service"
)

// ProxyHandler forwards every request not claimed by another route to the
// upstream origin and relays the response.
type ProxyHandler struct {
	service    *service.ProxyService
	dispatcher *Dispatcher
	reserved   []string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, d *Dispatcher, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service:    svc,
		dispatcher: d,
		reserved:   append(fixedRoutes(cfg), cfg.Server.ReservedPaths...),
		timeout:    time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		logger:     logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request to the upstream origin and relays the response.
// Failures are returned to the central error handler.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	if h.isReserved(req.URL.Path) {
		h.logger.Debug("reserved path not proxied", "path", req.URL.Path)
		return echo.ErrNotFound
	}

	if h.timeout > 0 {
		ctx, cancel := context.WithTimeout(req.Context(), h.timeout)
		defer cancel()
		req = req.WithContext(ctx)
		c.SetRequest(req)
	}

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.EscapedPath(),
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
		ClientIP:      c.RealIP(),
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	return h.dispatcher.Dispatch(c, resp)
}

// isReserved reports whether path belongs to a collaborator mounted next to
// the proxy.
func (h *ProxyHandler) isReserved(path string) bool {
	for _, pattern := range h.reserved {
		if glob.Glob(pattern, path) {
			return true
		}
	}
	return false
}
