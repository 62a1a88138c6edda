// Package cookie relays upstream Set-Cookie headers to the client.
package cookie

import (
	"fmt"
	"net/http"
	"strings"

	"mask-proxy-go/internal/model"
)

// DomainMode controls what happens to a Domain attribute naming the upstream host.
type DomainMode string

const (
	DomainKeep  DomainMode = "keep"
	DomainMask  DomainMode = "mask"
	DomainStrip DomainMode = "strip"
)

// ParseDomainMode validates a configured mode. Empty means DomainMask.
func ParseDomainMode(s string) (DomainMode, error) {
	switch DomainMode(strings.ToLower(strings.TrimSpace(s))) {
	case DomainKeep:
		return DomainKeep, nil
	case DomainMask, "":
		return DomainMask, nil
	case DomainStrip:
		return DomainStrip, nil
	}
	return "", fmt.Errorf("cookie domain mode must be one of: keep, mask, strip; got %q", s)
}

// Relay appends every Set-Cookie value of src to dst as its own header
// instance, in upstream order. It returns the number of cookies relayed.
func Relay(dst, src http.Header, rc model.RewriteContext, mode DomainMode) int {
	cookies := src.Values("Set-Cookie")
	for _, c := range cookies {
		dst.Add("Set-Cookie", RewriteDomain(c, rc, mode))
	}
	return len(cookies)
}

// RewriteDomain applies mode to the Domain attribute of a raw Set-Cookie value
// when that attribute names the upstream host. All other bytes are preserved.
func RewriteDomain(raw string, rc model.RewriteContext, mode DomainMode) string {
	if mode == DomainKeep {
		return raw
	}

	upstreamHost := hostOnly(rc.UpstreamHost)
	parts := strings.Split(raw, ";")
	out := parts[:1]
	changed := false

	for _, part := range parts[1:] {
		name, value, hasValue := strings.Cut(part, "=")
		if !hasValue || !strings.EqualFold(strings.TrimSpace(name), "domain") {
			out = append(out, part)
			continue
		}

		trimmed := strings.TrimSpace(value)
		domain := strings.TrimPrefix(trimmed, ".")
		if !strings.EqualFold(domain, upstreamHost) {
			out = append(out, part)
			continue
		}

		changed = true
		if mode == DomainMask {
			lead := value[:strings.Index(value, trimmed)]
			if strings.HasPrefix(trimmed, ".") {
				lead += "."
			}
			out = append(out, name+"="+lead+rc.MaskHost)
		}
	}

	if !changed {
		return raw
	}
	return strings.Join(out, ";")
}

func hostOnly(hostport string) string {
	if i := strings.LastIndexByte(hostport, ':'); i >= 0 && !strings.Contains(hostport[i:], "]") {
		return hostport[:i]
	}
	return hostport
}
