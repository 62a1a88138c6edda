package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"mask-proxy-go/internal/config"
	"mask-proxy-go/internal/cookie"
	"mask-proxy-go/internal/failure"
	"mask-proxy-go/internal/header"
	"mask-proxy-go/internal/metrics"
	"mask-proxy-go/internal/model"
	"mask-proxy-go/internal/redirect"
	"mask-proxy-go/internal/rewrite"
)

// Dispatch modes, used as metric labels and in debug logs.
const (
	modeRedirect    = "redirect"
	modeHeadersOnly = "headers_only"
	modeRewritten   = "rewritten"
	modeStream      = "stream"
)

const streamChunkSize = 32 * 1024

// Dispatcher writes an upstream response to the client. Each response is
// either buffered and rewritten or streamed through untouched, never both.
type Dispatcher struct {
	rc         model.RewriteContext
	rewriter   *rewrite.Rewriter
	cookieMode cookie.DomainMode
	maxBody    int64
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewDispatcher creates a Dispatcher. The metrics parameter is optional.
func NewDispatcher(rc model.RewriteContext, rw *rewrite.Rewriter, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*Dispatcher, error) {
	mode, err := cookie.ParseDomainMode(cfg.Rewrite.CookieDomain)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		rc:         rc,
		rewriter:   rw,
		cookieMode: mode,
		maxBody:    cfg.Rewrite.MaxBodyBytes,
		metrics:    m,
		logger:     logger.With("component", "dispatcher"),
	}, nil
}

// Dispatch relays resp to the client. The caller closes resp.Body.
func (d *Dispatcher) Dispatch(c echo.Context, resp *model.ProxyResponse) error {
	out := c.Response().Header()
	for key, vals := range header.FilterResponse(resp.Header) {
		// CORS headers set by the proxy's own policy win over upstream ones.
		if strings.HasPrefix(key, "Access-Control-") && out.Get(key) != "" {
			continue
		}
		for _, v := range vals {
			out.Add(key, v)
		}
	}
	if loc := out.Get("Content-Location"); loc != "" {
		out.Set("Content-Location", redirect.Rewrite(loc, d.rc))
	}

	if n := cookie.Relay(out, resp.Header, d.rc, d.cookieMode); n > 0 && d.metrics != nil {
		d.metrics.CookiesRelayed.Add(float64(n))
	}

	if loc := resp.Header.Get("Location"); loc != "" {
		out.Set("Location", redirect.Rewrite(loc, d.rc))
	}

	if redirect.IsRedirect(resp.StatusCode) && resp.Header.Get("Location") != "" {
		// Redirects are terminated with an empty body. A 3xx without a
		// Location is relayed like any other response.
		out.Del("Content-Encoding")
		out.Set("Content-Length", "0")
		c.Response().WriteHeader(resp.StatusCode)
		d.record(modeRedirect)
		return nil
	}

	if headersOnly(c.Request().Method, resp.StatusCode) {
		c.Response().WriteHeader(resp.StatusCode)
		d.record(modeHeadersOnly)
		return nil
	}

	contentType := resp.Header.Get("Content-Type")
	kind := rewrite.Classify(contentType)
	if kind == rewrite.KindPassthrough || isPartial(resp) {
		return d.stream(c, resp.StatusCode, resp.Body)
	}

	return d.rewriteBody(c, resp, kind, contentType)
}

func (d *Dispatcher) rewriteBody(c echo.Context, resp *model.ProxyResponse, kind rewrite.Kind, contentType string) error {
	raw, complete, err := readLimited(resp.Body, d.maxBody)
	if err != nil {
		return d.readFailure(c, err)
	}
	if !complete {
		d.logger.Debug("text body exceeds rewrite limit; streaming unmodified",
			"path", c.Request().URL.Path,
			"limit", d.maxBody,
		)
		return d.stream(c, resp.StatusCode, io.MultiReader(bytes.NewReader(raw), resp.Body))
	}

	encoding := resp.Header.Get("Content-Encoding")
	decoded, err := rewrite.Decompress(raw, encoding, d.maxBody)
	switch {
	case errors.Is(err, rewrite.ErrUnsupportedEncoding), errors.Is(err, rewrite.ErrDecodedTooLarge):
		d.logger.Debug("text body left unmodified",
			"path", c.Request().URL.Path,
			"content_encoding", encoding,
			"reason", err,
		)
		return d.stream(c, resp.StatusCode, bytes.NewReader(raw))
	case err != nil:
		return failure.Malformed("decode upstream body", err)
	}

	body := d.rewriter.Rewrite(kind, string(decoded), contentType)
	if d.metrics != nil {
		d.metrics.BodyBytesRewritten.Add(float64(len(decoded)))
	}

	out := c.Response().Header()
	out.Del("Content-Encoding")
	out.Del("Content-Md5")
	out.Set("Content-Length", strconv.Itoa(len(body)))
	c.Response().WriteHeader(resp.StatusCode)
	d.record(modeRewritten)

	if _, err := io.WriteString(c.Response(), body); err != nil {
		d.logger.Debug("writing rewritten body", "err", err, "path", c.Request().URL.Path)
	}
	return nil
}

// stream copies body to the client in chunks, flushing after each one so
// media playback can start before the transfer ends.
func (d *Dispatcher) stream(c echo.Context, status int, body io.Reader) error {
	res := c.Response()
	res.WriteHeader(status)
	d.record(modeStream)

	flusher := http.NewResponseController(res.Writer)
	buf := make([]byte, streamChunkSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := res.Write(buf[:n]); werr != nil {
				// The client is gone; the status has already been sent.
				d.logger.Debug("client write failed mid-stream", "err", werr, "path", c.Request().URL.Path)
				return nil
			}
			_ = flusher.Flush()
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			// The status has already been sent, so the client receives a
			// truncated response. Log it for observability.
			if c.Request().Context().Err() == nil {
				d.logger.Error("streaming response body",
					"err", rerr,
					"path", c.Request().URL.Path,
				)
			}
			return nil
		}
	}
}

func (d *Dispatcher) readFailure(c echo.Context, err error) error {
	const op = "read upstream body"
	switch ctxErr := c.Request().Context().Err(); {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		return failure.Timeout(op, err)
	case ctxErr != nil:
		return failure.Disconnected(op, err)
	}
	return failure.Unreachable(op, err)
}

func (d *Dispatcher) record(mode string) {
	if d.metrics != nil {
		d.metrics.ResponsesDispatched.WithLabelValues(mode).Inc()
	}
}

// headersOnly reports whether the response must not carry a body.
func headersOnly(method string, status int) bool {
	return method == http.MethodHead ||
		status == http.StatusNoContent ||
		status == http.StatusNotModified ||
		(status >= 100 && status < 200)
}

// isPartial reports whether resp is a byte range; ranges of text cannot be
// rewritten safely.
func isPartial(resp *model.ProxyResponse) bool {
	return resp.StatusCode == http.StatusPartialContent || resp.Header.Get("Content-Range") != ""
}

// readLimited reads at most limit bytes. complete is false when the body is
// longer; the bytes read so far are returned so the caller can continue the
// stream. A non-positive limit reads everything.
func readLimited(r io.Reader, limit int64) ([]byte, bool, error) {
	if limit <= 0 {
		b, err := io.ReadAll(r)
		return b, true, err
	}
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(b)) > limit {
		return b, false, nil
	}
	return b, true, nil
}
