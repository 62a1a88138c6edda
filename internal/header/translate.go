// Package header builds outbound request headers and filters upstream
// response headers.
package header

import (
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"

	"mask-proxy-go/internal/model"
)

// hopByHopHeaders are headers that should not be forwarded by proxies.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// computedRequestHeaders are recomputed by the forwarder for every request.
var computedRequestHeaders = []string{
	"Content-Length",
	"Host",
}

// decodableEncodings lists the content codings the rewriter can undo.
var decodableEncodings = map[string]bool{
	"gzip":     true,
	"deflate":  true,
	"br":       true,
	"identity": true,
}

// Options tunes the translation rules.
type Options struct {
	// TrustForwarded keeps client-supplied X-Forwarded-For / X-Real-Ip.
	TrustForwarded bool
}

// Translate returns the header set for the outbound upstream request. The
// source header is left untouched.
func Translate(src http.Header, clientIP string, rc model.RewriteContext, opts Options) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if !httpguts.ValidHeaderFieldName(key) {
			continue
		}
		kept := make([]string, 0, len(vals))
		for _, v := range vals {
			if httpguts.ValidHeaderFieldValue(v) {
				kept = append(kept, v)
			}
		}
		if len(kept) > 0 {
			dst[http.CanonicalHeaderKey(key)] = kept
		}
	}

	// Headers listed in Connection are hop-by-hop for this hop only.
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				dst.Del(name)
			}
		}
	}
	for _, h := range hopByHopHeaders {
		dst.Del(h)
	}
	for _, h := range computedRequestHeaders {
		dst.Del(h)
	}

	dst.Set("Origin", rc.UpstreamOrigin)
	dst.Set("Referer", rc.UpstreamOrigin)

	applyForwarded(dst, clientIP, opts)
	narrowAcceptEncoding(dst)

	return dst
}

func applyForwarded(dst http.Header, clientIP string, opts Options) {
	if clientIP == "" {
		return
	}
	if !opts.TrustForwarded || dst.Get("X-Forwarded-For") == "" {
		dst.Set("X-Forwarded-For", clientIP)
	}
	if !opts.TrustForwarded || dst.Get("X-Real-Ip") == "" {
		dst.Set("X-Real-Ip", clientIP)
	}
}

// narrowAcceptEncoding keeps only codings the rewriter can decode so that text
// responses always stay rewritable.
func narrowAcceptEncoding(dst http.Header) {
	vals := dst.Values("Accept-Encoding")
	if len(vals) == 0 {
		return
	}

	var kept []string
	for _, v := range vals {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			coding := strings.ToLower(strings.TrimSpace(strings.SplitN(part, ";", 2)[0]))
			if decodableEncodings[coding] {
				kept = append(kept, part)
			}
		}
	}

	if len(kept) == 0 {
		dst.Del("Accept-Encoding")
		return
	}
	dst.Set("Accept-Encoding", strings.Join(kept, ", "))
}

// responseSkipHeaders are never copied from the upstream response as-is.
// Set-Cookie goes through the cookie relay and Location through the redirect
// rewriter.
var responseSkipHeaders = map[string]bool{
	"Set-Cookie": true,
	"Location":   true,
}

// FilterResponse returns the upstream response headers that may be copied to
// the client verbatim.
func FilterResponse(src http.Header) http.Header {
	skip := make(map[string]bool, len(hopByHopHeaders))
	for _, h := range hopByHopHeaders {
		skip[http.CanonicalHeaderKey(h)] = true
	}
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				skip[http.CanonicalHeaderKey(name)] = true
			}
		}
	}

	dst := make(http.Header, len(src))
	for key, vals := range src {
		ck := http.CanonicalHeaderKey(key)
		if skip[ck] || responseSkipHeaders[ck] {
			continue
		}
		dst[ck] = append([]string(nil), vals...)
	}
	return dst
}
