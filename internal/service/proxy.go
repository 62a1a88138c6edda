// Package service implements the core proxy forwarding logic.
package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"mask-proxy-go/internal/client"
	"mask-proxy-go/internal/config"
	"mask-proxy-go/internal/failure"
	"mask-proxy-go/internal/header"
	"mask-proxy-go/internal/model"
)

// ProxyService translates inbound requests into upstream requests.
type ProxyService struct {
	client *client.UpstreamClient
	rc     model.RewriteContext
	opts   header.Options
	logger *slog.Logger
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.UpstreamClient, rc model.RewriteContext, cfg *config.Config, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client: c,
		rc:     rc,
		opts:   header.Options{TrustForwarded: cfg.Server.TrustForwardedHeaders},
		logger: logger.With("component", "proxy_service"),
	}
}

// Forward sends a ProxyRequest to the upstream origin and returns the response.
// The caller is responsible for closing the response body.
//
// The request is sent at most once. Errors are *failure.Error values.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target := s.buildUpstreamURL(pr.Path, pr.RawQuery)
	hdr := header.Translate(pr.Header, pr.ClientIP, s.rc, s.opts)

	body, length, err := s.encodeBody(pr)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
		"target", target,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, target, hdr, body, length)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}
	return resp, nil
}

// buildUpstreamURL maps a mask path onto the upstream origin. The base path,
// when present, is removed first.
func (s *ProxyService) buildUpstreamURL(path, rawQuery string) string {
	path = s.rc.StripBasePath(path)
	if path == "" {
		path = "/"
	}

	var b strings.Builder
	b.WriteString(s.rc.UpstreamOrigin)
	b.WriteString(path)
	if rawQuery != "" {
		b.WriteByte('?')
		b.WriteString(rawQuery)
	}
	return b.String()
}

// encodeBody returns the outbound body for pr. JSON is re-serialized
// compactly and form bodies are re-encoded; everything else, multipart
// included, is streamed unmodified with its declared length.
func (s *ProxyService) encodeBody(pr *model.ProxyRequest) (io.Reader, int64, error) {
	if pr.Body == nil || pr.Method == http.MethodGet || pr.Method == http.MethodHead {
		return nil, 0, nil
	}

	mediaType, _, _ := mime.ParseMediaType(pr.Header.Get("Content-Type"))
	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		raw, err := io.ReadAll(pr.Body)
		if err != nil {
			return nil, 0, readError(pr, err)
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			s.logger.Debug("request body is not valid JSON; forwarding as-is", "path", pr.Path, "error", err)
			return bytes.NewReader(raw), int64(len(raw)), nil
		}
		return &buf, int64(buf.Len()), nil

	case mediaType == "application/x-www-form-urlencoded":
		raw, err := io.ReadAll(pr.Body)
		if err != nil {
			return nil, 0, readError(pr, err)
		}
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			s.logger.Debug("request body is not valid form data; forwarding as-is", "path", pr.Path, "error", err)
			return bytes.NewReader(raw), int64(len(raw)), nil
		}
		encoded := values.Encode()
		return strings.NewReader(encoded), int64(len(encoded)), nil

	default:
		return pr.Body, pr.ContentLength, nil
	}
}

func readError(pr *model.ProxyRequest, err error) error {
	if pr.Ctx != nil && pr.Ctx.Err() != nil {
		return failure.Disconnected("read request body", err)
	}
	return failure.Wrap(failure.KindInternal, "read request body", err)
}
