// Package rewrite relocates absolute references inside textual payloads onto
// the mask and injects the SEO snippet into HTML documents.
//
// Rewriting is pattern based, not a parse. Only the patterns below are
// touched and every pass is idempotent:
//
//   - HTML: quoted or unquoted href=, src= and action= values that are
//     root-relative (start with a single '/'), url(...) inside <style>
//     elements, the JavaScript patterns inside inline <script> elements, the
//     SEO snippet before </head>, and literal occurrences of the upstream
//     origin.
//   - CSS: root-relative url(...) references.
//   - JavaScript: fetch("/..."), xhr.open("GET", "/...") and string literals
//     starting with one of the configured API prefixes.
//
// Absolute and protocol-relative URLs, data:, mailto:, tel:, javascript:
// and fragment references never match because they do not start with a
// single '/'.
package rewrite

import (
	"mime"
	"regexp"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"

	"mask-proxy-go/internal/model"
)

// Kind is the rewriting strategy chosen from a content type.
type Kind int

const (
	KindPassthrough Kind = iota
	KindHTML
	KindCSS
	KindJS
)

func (k Kind) String() string {
	switch k {
	case KindHTML:
		return "html"
	case KindCSS:
		return "css"
	case KindJS:
		return "js"
	default:
		return "passthrough"
	}
}

// Classify picks the rewriting strategy for a Content-Type value.
func Classify(contentType string) Kind {
	ct := strings.ToLower(contentType)
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		ct = mt
	}

	switch {
	case strings.Contains(ct, "text/html"):
		return KindHTML
	case strings.Contains(ct, "text/css"):
		return KindCSS
	case strings.Contains(ct, "application/javascript"),
		strings.Contains(ct, "text/javascript"),
		strings.Contains(ct, "application/x-javascript"):
		return KindJS
	default:
		return KindPassthrough
	}
}

var (
	attrPattern      = regexp.MustCompile(`(?i)(\s(?:href|src|action)\s*=\s*)("[^"]*"|'[^']*'|[^\s"'>]+)`)
	stylePattern     = regexp.MustCompile(`(?is)(<style\b[^>]*>)(.*?)(</style\s*>)`)
	scriptPattern    = regexp.MustCompile(`(?is)(<script\b[^>]*>)(.*?)(</script\s*>)`)
	cssURLPattern    = regexp.MustCompile(`(?i)(\burl\(\s*["']?)([^"')\s]+)`)
	fetchPattern     = regexp.MustCompile(`(\bfetch\s*\(\s*["'\x60])(/[^"'\x60]*)`)
	xhrOpenPattern   = regexp.MustCompile(`(\.open\s*\(\s*["'][A-Za-z]+["']\s*,\s*["'\x60])(/[^"'\x60]*)`)
	headClosePattern = regexp.MustCompile(`(?i)</head\s*>`)
)

// DefaultAPIPrefixes are the bare JavaScript literals rewritten when no
// prefixes are configured.
var DefaultAPIPrefixes = []string{"/api/"}

// Rewriter rewrites textual bodies for a single RewriteContext. It holds no
// per-request state and is safe for concurrent use.
type Rewriter struct {
	rc         model.RewriteContext
	apiPattern *regexp.Regexp
}

// NewRewriter creates a Rewriter. apiPrefixes select the bare JavaScript
// string literals that are prefixed with the base path.
func NewRewriter(rc model.RewriteContext, apiPrefixes []string) *Rewriter {
	rw := &Rewriter{rc: rc}

	var alts []string
	for _, p := range apiPrefixes {
		if strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") {
			alts = append(alts, regexp.QuoteMeta(p))
		}
	}
	if len(alts) > 0 {
		rw.apiPattern = regexp.MustCompile(`(["'\x60])((?:` + strings.Join(alts, "|") + `)[^"'\x60]*)`)
	}
	return rw
}

// Rewrite applies the strategy for kind to text. contentType is used to find
// the document charset for the SEO snippet.
func (rw *Rewriter) Rewrite(kind Kind, text, contentType string) string {
	switch kind {
	case KindHTML:
		return rw.rewriteHTML(text, contentType)
	case KindCSS:
		return rw.rewriteCSS(text)
	case KindJS:
		return rw.rewriteJS(text)
	default:
		return text
	}
}

func (rw *Rewriter) rewriteHTML(text, contentType string) string {
	if rw.rc.BasePath != "" {
		text = replaceGroup(attrPattern, text, rw.prefixAttr)
		text = replaceElementBody(stylePattern, text, rw.rewriteCSS)
		text = replaceElementBody(scriptPattern, text, rw.rewriteJS)
	}

	text = rw.injectSEO(text, contentType)

	if rw.rc.UpstreamOrigin != "" {
		text = strings.ReplaceAll(text, rw.rc.UpstreamOrigin, rw.rc.PublicURL())
	}
	return text
}

func (rw *Rewriter) rewriteCSS(text string) string {
	if rw.rc.BasePath == "" {
		return text
	}
	return replaceGroup(cssURLPattern, text, rw.prefix)
}

func (rw *Rewriter) rewriteJS(text string) string {
	if rw.rc.BasePath == "" {
		return text
	}
	text = replaceGroup(fetchPattern, text, rw.prefix)
	text = replaceGroup(xhrOpenPattern, text, rw.prefix)
	if rw.apiPattern != nil {
		text = replaceGroup(rw.apiPattern, text, rw.prefix)
	}
	return text
}

// injectSEO inserts the snippet once before the first </head>. Documents
// without </head> and documents already carrying the snippet are unchanged.
func (rw *Rewriter) injectSEO(text, contentType string) string {
	if rw.rc.SEOSnippet == "" {
		return text
	}
	snippet := encodeSnippet(rw.rc.SEOSnippet, text, contentType)
	if strings.Contains(text, snippet) {
		return text
	}
	loc := headClosePattern.FindStringIndex(text)
	if loc == nil {
		return text
	}
	return text[:loc[0]] + snippet + text[loc[0]:]
}

// encodeSnippet converts the UTF-8 snippet into the document's declared
// charset so the surrounding bytes can stay as they are.
func encodeSnippet(snippet, text, contentType string) string {
	head := text
	if len(head) > 1024 {
		head = head[:1024]
	}
	enc, name, certain := charset.DetermineEncoding([]byte(head), contentType)
	if !certain || name == "utf-8" || enc == nil {
		return snippet
	}
	out, err := encoding.ReplaceUnsupported(enc.NewEncoder()).String(snippet)
	if err != nil {
		return snippet
	}
	return out
}

// prefixAttr prefixes an attribute value that may or may not be quoted.
func (rw *Rewriter) prefixAttr(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') {
		q := v[:1]
		return q + rw.prefix(v[1:len(v)-1]) + q
	}
	return rw.prefix(v)
}

func (rw *Rewriter) prefix(v string) string {
	if !isRootRelative(v) {
		return v
	}
	return rw.rc.PrefixPath(v)
}

func isRootRelative(v string) bool {
	if len(v) == 0 || v[0] != '/' {
		return false
	}
	return len(v) == 1 || (v[1] != '/' && v[1] != '\\')
}

// replaceGroup rewrites the second capture group of every match of re and
// leaves the rest of the text byte for byte.
func replaceGroup(re *regexp.Regexp, text string, fn func(string) string) string {
	matches := re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, m := range matches {
		start, end := m[4], m[5]
		if start < 0 {
			continue
		}
		b.WriteString(text[last:start])
		b.WriteString(fn(text[start:end]))
		last = end
	}
	b.WriteString(text[last:])
	return b.String()
}

// replaceElementBody rewrites the content between the opening and closing
// tags matched by re.
func replaceElementBody(re *regexp.Regexp, text string, fn func(string) string) string {
	return re.ReplaceAllStringFunc(text, func(m string) string {
		sub := re.FindStringSubmatch(m)
		return sub[1] + fn(sub[2]) + sub[3]
	})
}
