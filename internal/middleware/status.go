package middleware

import (
	"errors"

	"github.com/labstack/echo/v4"

	"mask-proxy-go/internal/failure"
)

// statusClientClosed is logged and counted for requests whose client went
// away before a response was written.
const statusClientClosed = 499

// responseStatus resolves the status a request ends with. Handler errors are
// rendered by the central error handler after middleware returns, so the
// status is derived from the error in that case.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}

	if status := failure.KindOf(err).Status(); status != 0 {
		return status
	}
	return statusClientClosed
}
