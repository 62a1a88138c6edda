package handler

import (
	"encoding/xml"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"mask-proxy-go/internal/config"
	"mask-proxy-go/internal/model"
)

// SEOHandler serves robots.txt and sitemap.xml for the mask.
type SEOHandler struct {
	rc    model.RewriteContext
	paths []string
}

// NewSEOHandler creates an SEOHandler.
func NewSEOHandler(cfg *config.Config, rc model.RewriteContext) *SEOHandler {
	return &SEOHandler{rc: rc, paths: cfg.SEO.SitemapPaths}
}

// Robots allows every crawler and points it at the sitemap.
func (h *SEOHandler) Robots(c echo.Context) error {
	var b strings.Builder
	b.WriteString("User-agent: *\n")
	b.WriteString("Allow: /\n\n")
	b.WriteString("Sitemap: " + h.rc.PublicURL() + "/sitemap.xml\n")
	return c.String(http.StatusOK, b.String())
}

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	Xmlns   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc string `xml:"loc"`
}

// Sitemap lists the configured paths under the public URL.
func (h *SEOHandler) Sitemap(c echo.Context) error {
	set := sitemapURLSet{Xmlns: "http://www.sitemaps.org/schemas/sitemap/0.9"}
	for _, p := range h.paths {
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		set.URLs = append(set.URLs, sitemapURL{Loc: h.rc.PublicURL() + p})
	}

	out, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "application/xml; charset=utf-8", append([]byte(xml.Header), out...))
}
