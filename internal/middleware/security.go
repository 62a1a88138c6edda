package middleware

import (
	"github.com/labstack/echo/v4"
)

// securityHeaders are added to responses that do not already carry them.
// Upstream values win so framing rules of the masked site stay intact.
var securityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "SAMEORIGIN"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
}

// SecurityHeaders returns an Echo middleware that fills in missing security
// headers just before the response header is written.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			res := c.Response()
			res.Before(func() {
				h := res.Header()
				for _, kv := range securityHeaders {
					if h.Get(kv[0]) == "" {
						h.Set(kv[0], kv[1])
					}
				}
			})
			return next(c)
		}
	}
}
