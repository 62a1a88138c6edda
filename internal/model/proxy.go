// Package model defines shared types for the proxy.
package model

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	Ctx           context.Context
	Method        string
	Path          string // escaped path as received
	RawQuery      string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
	ClientIP      string
}

// ProxyResponse represents the upstream response to be written back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// RewriteContext is the immutable description of the upstream and the mask it
// is presented under. It is built once at startup and passed by value.
type RewriteContext struct {
	UpstreamOrigin string // scheme://host[:port], no trailing slash
	UpstreamHost   string // host[:port] for the outbound Host header
	MaskOrigin     string // scheme://host[:port], no trailing slash
	MaskHost       string // hostname only, used for cookie domains
	BasePath       string // "" or "/prefix", no trailing slash
	SEOSnippet     string
}

// NewRewriteContext validates and normalizes the origins and base path.
func NewRewriteContext(upstreamOrigin, maskOrigin, basePath, seoSnippet string) (RewriteContext, error) {
	up, err := parseOrigin(upstreamOrigin)
	if err != nil {
		return RewriteContext{}, fmt.Errorf("upstream origin: %w", err)
	}
	mask, err := parseOrigin(maskOrigin)
	if err != nil {
		return RewriteContext{}, fmt.Errorf("mask origin: %w", err)
	}

	basePath = strings.TrimRight(strings.TrimSpace(basePath), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		return RewriteContext{}, fmt.Errorf("base path must start with '/'; got %q", basePath)
	}

	return RewriteContext{
		UpstreamOrigin: up.Scheme + "://" + up.Host,
		UpstreamHost:   up.Host,
		MaskOrigin:     mask.Scheme + "://" + mask.Host,
		MaskHost:       mask.Hostname(),
		BasePath:       basePath,
		SEOSnippet:     seoSnippet,
	}, nil
}

func parseOrigin(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(raw), "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("scheme must be http or https; got %q", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("host is required; got %q", raw)
	}
	if u.Path != "" || u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("must not carry a path, query or fragment; got %q", raw)
	}
	return u, nil
}

// PublicURL is the mask origin joined with the base path.
func (rc RewriteContext) PublicURL() string {
	return rc.MaskOrigin + rc.BasePath
}

// PrefixPath places a root-relative path under the base path. Paths that are
// already under it are returned unchanged so repeated application is a no-op.
func (rc RewriteContext) PrefixPath(p string) string {
	if rc.BasePath == "" || rc.underBasePath(p) {
		return p
	}
	return rc.BasePath + p
}

// StripBasePath maps a path seen on the mask back to the upstream path.
func (rc RewriteContext) StripBasePath(p string) string {
	if rc.BasePath == "" || !rc.underBasePath(p) {
		return p
	}
	rest := p[len(rc.BasePath):]
	if rest == "" || rest[0] != '/' {
		rest = "/" + rest
	}
	return rest
}

func (rc RewriteContext) underBasePath(p string) bool {
	if !strings.HasPrefix(p, rc.BasePath) {
		return false
	}
	if len(p) == len(rc.BasePath) {
		return true
	}
	switch p[len(rc.BasePath)] {
	case '/', '?', '#':
		return true
	}
	return false
}
