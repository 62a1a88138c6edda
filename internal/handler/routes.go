package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mask-proxy-go/internal/config"
	"mask-proxy-go/internal/metrics"
)

const (
	robotsPath  = "/robots.txt"
	sitemapPath = "/sitemap.xml"
)

var readMethods = []string{http.MethodGet, http.MethodHead}

// fixedRoutes lists the paths served locally. Methods other than GET and
// HEAD on them fall through to the catch-all route, which must not proxy
// them.
func fixedRoutes(cfg *config.Config) []string {
	routes := []string{cfg.Health.Path, cfg.Health.InfoPath, robotsPath, sitemapPath}
	if cfg.Metrics.Enabled {
		routes = append(routes, cfg.Metrics.Path)
	}
	return routes
}

// RegisterRoutes wires all route handlers onto the Echo instance. Fixed
// routes win over the catch-all proxy route.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler, seo *SEOHandler) {
	e.Match(readMethods, cfg.Health.Path, health.Health)
	e.Match(readMethods, cfg.Health.InfoPath, health.Info)

	e.Match(readMethods, robotsPath, seo.Robots)
	e.Match(readMethods, sitemapPath, seo.Sitemap)

	if cfg.Metrics.Enabled {
		e.Match(readMethods, cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Any("/*", proxy.Handle)
}
