package handler

import (
	"bytes"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"mask-proxy-go/internal/failure"
	"mask-proxy-go/internal/metrics"
	"mask-proxy-go/internal/model"
)

var fallbackPage = template.Must(template.New("fallback").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Status}} - {{.Title}}</title>
</head>
<body>
<h1>{{.Status}} - {{.Title}}</h1>
<p>{{.Message}}</p>
<p><a href="{{.Home}}">Back to the home page</a></p>
{{- if .RequestID}}
<p><small>Request ID: {{.RequestID}}</small></p>
{{- end}}
</body>
</html>
`))

type fallbackData struct {
	Status    int
	Title     string
	Message   string
	Home      string
	RequestID string
}

// ErrorReporter is the central echo error handler. Proxy failures get a
// friendly HTML page; echo's own errors keep echo's default rendering.
type ErrorReporter struct {
	rc      model.RewriteContext
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewErrorReporter creates an ErrorReporter. The metrics parameter is optional.
func NewErrorReporter(rc model.RewriteContext, m *metrics.Metrics, logger *slog.Logger) *ErrorReporter {
	return &ErrorReporter{
		rc:      rc,
		metrics: m,
		logger:  logger.With("component", "error_reporter"),
	}
}

// Handle implements echo.HTTPErrorHandler.
func (r *ErrorReporter) Handle(err error, c echo.Context) {
	req := c.Request()

	var he *echo.HTTPError
	if errors.As(err, &he) {
		c.Echo().DefaultHTTPErrorHandler(he, c)
		return
	}

	kind := failure.KindOf(err)
	if r.metrics != nil {
		r.metrics.Failures.WithLabelValues(kind.String()).Inc()
	}

	if kind == failure.KindClientDisconnected {
		r.logger.Debug("client disconnected",
			"method", req.Method,
			"path", req.URL.Path,
		)
		return
	}

	r.logger.Error("proxy error",
		"err", err,
		"kind", kind.String(),
		"method", req.Method,
		"path", req.URL.Path,
		"target", r.rc.UpstreamOrigin,
	)

	if c.Response().Committed {
		return
	}

	resetEntityHeaders(c.Response().Header())
	c.Response().Header().Set("Cache-Control", "no-store")

	status := kind.Status()
	if req.Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}

	var buf bytes.Buffer
	data := fallbackData{
		Status:    status,
		Title:     http.StatusText(status),
		Message:   fallbackMessage(kind),
		Home:      r.rc.PublicURL() + "/",
		RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
	}
	if err := fallbackPage.Execute(&buf, data); err != nil {
		r.logger.Error("render fallback page", "err", err)
		_ = c.String(status, http.StatusText(status))
		return
	}
	_ = c.HTMLBlob(status, buf.Bytes())
}

// entityHeaders describe an upstream body the dispatcher may have started to
// relay before failing.
var entityHeaders = []string{
	"Accept-Ranges",
	"Cache-Control",
	"Content-Encoding",
	"Content-Length",
	"Content-Location",
	"Content-Md5",
	"Content-Range",
	"Content-Type",
	"Etag",
	"Last-Modified",
	"Location",
	"Set-Cookie",
}

func resetEntityHeaders(h http.Header) {
	for _, name := range entityHeaders {
		h.Del(name)
	}
}

func fallbackMessage(kind failure.Kind) string {
	switch kind {
	case failure.KindUpstreamUnreachable:
		return "The site could not be reached right now. Please try again in a moment."
	case failure.KindUpstreamTimeout:
		return "The site took too long to respond. Please try again in a moment."
	case failure.KindMalformedBody:
		return "The site sent a response that could not be read."
	default:
		return "Something went wrong while loading this page."
	}
}
