// Package client provides the outbound HTTP client for the upstream origin.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/proxy"

	"mask-proxy-go/internal/config"
	"mask-proxy-go/internal/failure"
	"mask-proxy-go/internal/metrics"
	"mask-proxy-go/internal/model"
)

// UpstreamClient sends requests to the upstream origin. Redirects are never
// followed; they are returned to the caller for rewriting.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
//
// There is no overall client timeout: bodies may be long media streams. The
// upstream timeout bounds the wait for response headers instead.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*UpstreamClient, error) {
	transport, err := newTransport(cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("upstream transport: %w", err)
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}, nil
}

func newTransport(cfg config.UpstreamConfig) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   secondsOr(cfg.ConnectTimeoutSeconds, 10*time.Second),
		KeepAlive: 30 * time.Second,
	}

	tr := &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          cfg.IdleConnections,
		MaxIdleConnsPerHost:   cfg.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: secondsOr(cfg.TimeoutSeconds, 60*time.Second),
		ExpectContinueTimeout: 1 * time.Second,
		// Compressed bodies are relayed as-is or decoded by the rewriter.
		DisableCompression: true,
	}

	if cfg.EgressProxy == "" {
		return tr, nil
	}

	u, err := url.Parse(cfg.EgressProxy)
	if err != nil {
		return nil, fmt.Errorf("parse egress proxy: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		tr.Proxy = http.ProxyURL(u)
		return tr, nil

	case "socks5":
		var auth *proxy.Auth
		if u.User != nil {
			pass, _ := u.User.Password()
			auth = &proxy.Auth{
				User:     u.User.Username(),
				Password: pass,
			}
		}
		socksDialer, err := proxy.SOCKS5("tcp", u.Host, auth, dialer)
		if err != nil {
			return nil, fmt.Errorf("create socks5 dialer: %w", err)
		}
		tr.DialContext = dialContextFromDialer(socksDialer)
		tr.Proxy = nil
		return tr, nil

	default:
		return nil, fmt.Errorf("unknown egress proxy scheme: %s", u.Scheme)
	}
}

func dialContextFromDialer(d proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if ctxDialer, ok := d.(proxy.ContextDialer); ok {
		return ctxDialer.DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := d.Dial(network, addr)
		if err != nil {
			return nil, err
		}
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return nil, ctx.Err()
		default:
			return conn, nil
		}
	}
}

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body. Errors are
// classified as *failure.Error.
func (c *UpstreamClient) Do(req *http.Request) (*model.ProxyResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, classify(req.Context(), "upstream request", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// DoStream executes a request and returns the response body as a stream.
// The caller is responsible for closing the returned ReadCloser.
// The provided context controls the lifetime of the upstream request:
// when the context is canceled (e.g. client disconnects), the upstream
// request is also canceled.
//
// contentLength is the declared size of body; -1 means unknown and the
// request is sent chunked.
func (c *UpstreamClient) DoStream(ctx context.Context, method, target string, header http.Header, body io.Reader, contentLength int64) (*model.ProxyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, failure.Wrap(failure.KindInternal, "build upstream request", err)
	}
	req.Header = header
	if body != nil {
		req.ContentLength = contentLength
		if contentLength == 0 {
			req.Body = http.NoBody
		}
	}

	return c.Do(req)
}

// Probe issues a GET against target and returns the upstream status code. The
// body is drained and discarded.
func (c *UpstreamClient) Probe(ctx context.Context, target string) (int, error) {
	resp, err := c.DoStream(ctx, http.MethodGet, target, http.Header{}, nil, 0)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	return resp.StatusCode, nil
}

// classify maps a transport error onto a failure kind. A canceled request
// context means the inbound client went away.
func classify(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return failure.Disconnected(op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failure.Timeout(op, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failure.Timeout(op, err)
	}
	return failure.Unreachable(op, err)
}
