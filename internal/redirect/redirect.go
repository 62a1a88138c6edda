// Package redirect relocates upstream redirects onto the mask.
package redirect

import (
	"net/http"
	"strings"

	"mask-proxy-go/internal/model"
)

// IsRedirect reports whether status is a redirect whose Location is rewritten.
func IsRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Rewrite maps a Location value from upstream form to mask form.
//
// Root-relative locations are placed under the public URL, locations on the
// upstream origin have that origin replaced, and anything else (another host,
// a protocol-relative URL, a relative path) is returned unchanged.
func Rewrite(location string, rc model.RewriteContext) string {
	switch {
	case strings.HasPrefix(location, "/") && !strings.HasPrefix(location, "//"):
		return rc.MaskOrigin + rc.PrefixPath(location)
	case hasOriginPrefix(location, rc.UpstreamOrigin):
		rest := location[len(rc.UpstreamOrigin):]
		if rest == "" {
			return rc.PublicURL()
		}
		if rest[0] == '/' {
			return rc.MaskOrigin + rc.PrefixPath(rest)
		}
		return rc.PublicURL() + rest
	default:
		return location
	}
}

// hasOriginPrefix matches origin at the start of s only when it is followed by
// the end of the string or a path, query or fragment delimiter, so
// "http://host:80" does not match "http://host:8080".
func hasOriginPrefix(s, origin string) bool {
	if len(s) < len(origin) || !strings.EqualFold(s[:len(origin)], origin) {
		return false
	}
	if len(s) == len(origin) {
		return true
	}
	switch s[len(origin)] {
	case '/', '?', '#':
		return true
	}
	return false
}
