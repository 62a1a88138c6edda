package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"mask-proxy-go/internal/client"
	"mask-proxy-go/internal/config"
	"mask-proxy-go/internal/model"
)

// Version is a string type for dependency injection of the build version.
type Version string

// StartTime is the process start time, injected for uptime reporting.
type StartTime time.Time

// HealthHandler serves health and info endpoints.
type HealthHandler struct {
	cfg     *config.Config
	client  *client.UpstreamClient
	rc      model.RewriteContext
	version Version
	started time.Time
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, c *client.UpstreamClient, rc model.RewriteContext, v Version, st StartTime) *HealthHandler {
	return &HealthHandler{
		cfg:     cfg,
		client:  c,
		rc:      rc,
		version: v,
		started: time.Time(st),
	}
}

type healthResponse struct {
	Status       string  `json:"status"`
	Target       string  `json:"target"`
	TargetStatus *int    `json:"target_status,omitempty"`
	Timestamp    string  `json:"timestamp"`
	Uptime       float64 `json:"uptime"`
}

type infoResponse struct {
	Name     string   `json:"name"`
	Target   string   `json:"target"`
	BasePath string   `json:"base_path"`
	Version  string   `json:"version"`
	Features []string `json:"features"`
}

// Health probes the upstream origin. Any answer below 500 counts as healthy.
func (h *HealthHandler) Health(c echo.Context) error {
	timeout := time.Duration(h.cfg.Health.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
	defer cancel()

	resp := healthResponse{
		Status:    "healthy",
		Target:    h.rc.UpstreamOrigin,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.started).Seconds(),
	}

	status, err := h.client.Probe(ctx, h.rc.UpstreamOrigin+"/")
	if err == nil {
		resp.TargetStatus = &status
	}
	if err != nil || status >= http.StatusInternalServerError {
		resp.Status = "unhealthy"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// Info returns static proxy information.
func (h *HealthHandler) Info(c echo.Context) error {
	return c.JSON(http.StatusOK, infoResponse{
		Name:     "mask-proxy",
		Target:   h.rc.UpstreamOrigin,
		BasePath: h.rc.BasePath,
		Version:  string(h.version),
		Features: h.features(),
	})
}

func (h *HealthHandler) features() []string {
	features := []string{
		"html-rewrite",
		"css-rewrite",
		"js-rewrite",
		"redirect-rewrite",
		"cookie-relay",
		"media-streaming",
		"robots-sitemap",
	}
	if h.rc.SEOSnippet != "" {
		features = append(features, "seo-injection")
	}
	if h.rc.BasePath != "" {
		features = append(features, "base-path")
	}
	if h.cfg.CORS.Enabled {
		features = append(features, "cors")
	}
	if h.cfg.Server.RateLimit.Enabled {
		features = append(features, "rate-limit")
	}
	if h.cfg.Upstream.EgressProxy != "" {
		features = append(features, "egress-proxy")
	}
	if h.cfg.Metrics.Enabled {
		features = append(features, "metrics")
	}
	return features
}
