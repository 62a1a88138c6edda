package middleware

import (
	"slices"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"mask-proxy-go/internal/config"
)

// CORS returns echo's CORS middleware configured for the mask origin.
func CORS(cfg config.CORSConfig) echo.MiddlewareFunc {
	return echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.AllowOrigins,
		AllowCredentials: cfg.AllowCredentials,
		// A wildcard with credentials reflects the caller's origin.
		UnsafeWildcardOriginWithAllowCredentials: cfg.AllowCredentials && slices.Contains(cfg.AllowOrigins, "*"),
	})
}
