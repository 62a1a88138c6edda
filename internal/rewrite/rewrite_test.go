package rewrite

import (
	"strings"
	"testing"

	"mask-proxy-go/internal/model"
)

const testSnippet = `<meta name="description" content="Mask">`

func newTestRewriter(basePath string) *Rewriter {
	return NewRewriter(model.RewriteContext{
		UpstreamOrigin: "http://upstream.example.com:4009",
		UpstreamHost:   "upstream.example.com:4009",
		MaskOrigin:     "https://mask.example.org",
		MaskHost:       "mask.example.org",
		BasePath:       basePath,
		SEOSnippet:     testSnippet,
	}, DefaultAPIPrefixes)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		contentType string
		want        Kind
	}{
		{"text/html", KindHTML},
		{"text/html; charset=utf-8", KindHTML},
		{"TEXT/HTML", KindHTML},
		{"text/css", KindCSS},
		{"application/javascript", KindJS},
		{"text/javascript; charset=utf-8", KindJS},
		{"application/x-javascript", KindJS},
		{"image/png", KindPassthrough},
		{"video/mp4", KindPassthrough},
		{"application/json", KindPassthrough},
		{"application/pdf", KindPassthrough},
		{"", KindPassthrough},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			if got := Classify(tt.contentType); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.contentType, got, tt.want)
			}
		})
	}
}

func TestRewriteHTML_Attributes(t *testing.T) {
	rw := newTestRewriter("/p")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"href root-relative", `<a href="/x">`, `<a href="/p/x">`},
		{"src single quotes", `<img src='/img/a.png'>`, `<img src='/p/img/a.png'>`},
		{"action", `<form action="/submit" method="post">`, `<form action="/p/submit" method="post">`},
		{"spaces around equals", `<a href = "/x">`, `<a href = "/p/x">`},
		{"uppercase attribute", `<A HREF="/x">`, `<A HREF="/p/x">`},
		{"protocol-relative untouched", `<script src="//cdn.example.com/a.js">`, `<script src="//cdn.example.com/a.js">`},
		{"absolute untouched", `<a href="https://other.example.com/x">`, `<a href="https://other.example.com/x">`},
		{"fragment untouched", `<a href="#top">`, `<a href="#top">`},
		{"mailto untouched", `<a href="mailto:a@b.c">`, `<a href="mailto:a@b.c">`},
		{"tel untouched", `<a href="tel:+100">`, `<a href="tel:+100">`},
		{"javascript untouched", `<a href="javascript:void(0)">`, `<a href="javascript:void(0)">`},
		{"data untouched", `<img src="data:image/png;base64,AAAA">`, `<img src="data:image/png;base64,AAAA">`},
		{"relative untouched", `<a href="page.html">`, `<a href="page.html">`},
		{"data-href untouched", `<div data-href="/x">`, `<div data-href="/x">`},
		{"already prefixed", `<a href="/p/x">`, `<a href="/p/x">`},
		{"unquoted", `<a href=/x>`, `<a href=/p/x>`},
		{"unquoted followed by attribute", `<img src=/a.png alt=logo>`, `<img src=/p/a.png alt=logo>`},
		{"unquoted already prefixed", `<a href=/p/x>`, `<a href=/p/x>`},
		{"unquoted relative untouched", `<a href=page.html>`, `<a href=page.html>`},
		{"unquoted protocol-relative untouched", `<script src=//cdn.example.com/a.js></script>`, `<script src=//cdn.example.com/a.js></script>`},
		{"inline script fetch", `<script>fetch("/data")</script>`, `<script>fetch("/p/data")</script>`},
		{"inline script api literal", `<script type="module">const u = '/api/items';</script>`, `<script type="module">const u = '/p/api/items';</script>`},
		{"api literal outside script untouched", `<p>"/api/items"</p>`, `<p>"/api/items"</p>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rw.Rewrite(KindHTML, tt.in, "text/html")
			if got != tt.want {
				t.Errorf("Rewrite() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRewriteHTML_Idempotent(t *testing.T) {
	rw := newTestRewriter("/p")
	doc := `<html><head><title>t</title><style>body{background:url('/img/bg.png')}</style></head>` +
		`<body><a href="/x">x</a><img src="http://upstream.example.com:4009/logo.png">` +
		`<form action='/login'></form><a href=/bare>b</a>` +
		`<script>fetch("/data").then(r => r.json())</script></body></html>`

	once := rw.Rewrite(KindHTML, doc, "text/html")
	twice := rw.Rewrite(KindHTML, once, "text/html")

	if once != twice {
		t.Errorf("rewrite not idempotent:\nonce:  %s\ntwice: %s", once, twice)
	}

	for _, want := range []string{
		`href="/p/x"`,
		`url('/p/img/bg.png')`,
		`src="https://mask.example.org/p/logo.png"`,
		`action='/p/login'`,
		`href=/p/bare>`,
		`fetch("/p/data")`,
		testSnippet + `</head>`,
	} {
		if !strings.Contains(once, want) {
			t.Errorf("rewritten document missing %q:\n%s", want, once)
		}
	}
	if strings.Count(once, testSnippet) != 1 {
		t.Errorf("snippet injected %d times, want 1", strings.Count(once, testSnippet))
	}
	if strings.Contains(once, "upstream.example.com") {
		t.Errorf("upstream origin left in document:\n%s", once)
	}
}

// Paths already under the base path are left alone so rewriting stays
// idempotent; absolute upstream URLs always gain the base path.
func TestRewriteHTML_BasePathCollision(t *testing.T) {
	rw := newTestRewriter("/p")
	in := `<a href="/p/x">a</a><a href="http://upstream.example.com:4009/p/x">b</a>`
	want := `<a href="/p/x">a</a><a href="https://mask.example.org/p/p/x">b</a>`

	got := rw.Rewrite(KindHTML, in, "text/html")
	if got != want {
		t.Errorf("Rewrite() = %q, want %q", got, want)
	}
	if again := rw.Rewrite(KindHTML, got, "text/html"); again != got {
		t.Errorf("not idempotent: %q -> %q", got, again)
	}
}

func TestRewriteHTML_SEOInjection(t *testing.T) {
	rw := newTestRewriter("")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"before head close", `<head><title>t</title></head>`, `<head><title>t</title>` + testSnippet + `</head>`},
		{"uppercase head", `<HEAD></HEAD>`, `<HEAD>` + testSnippet + `</HEAD>`},
		{"no head untouched", `<p>fragment</p>`, `<p>fragment</p>`},
		{"already present", `<head>` + testSnippet + `</head>`, `<head>` + testSnippet + `</head>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rw.Rewrite(KindHTML, tt.in, "text/html"); got != tt.want {
				t.Errorf("Rewrite() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRewriteHTML_NoBasePath(t *testing.T) {
	rw := newTestRewriter("")
	in := `<a href="/x">x</a><a href="http://upstream.example.com:4009/y">y</a>`
	want := `<a href="/x">x</a><a href="https://mask.example.org/y">y</a>`

	if got := rw.Rewrite(KindHTML, in, "text/html"); got != want {
		t.Errorf("Rewrite() = %q, want %q", got, want)
	}
}

func TestRewriteHTML_SnippetCharset(t *testing.T) {
	rw := NewRewriter(model.RewriteContext{SEOSnippet: "<meta content=\"ação\">"}, nil)
	in := "<head></head>"

	got := rw.Rewrite(KindHTML, in, "text/html; charset=iso-8859-1")
	want := "<head><meta content=\"a\xe7\xe3o\"></head>"
	if got != want {
		t.Errorf("Rewrite() = %q, want %q", got, want)
	}

	got = rw.Rewrite(KindHTML, in, "text/html; charset=utf-8")
	want = "<head><meta content=\"ação\"></head>"
	if got != want {
		t.Errorf("Rewrite() = %q, want %q", got, want)
	}
}

func TestRewriteCSS(t *testing.T) {
	rw := newTestRewriter("/p")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single quoted", `a{background:url('/img/bg.png')}`, `a{background:url('/p/img/bg.png')}`},
		{"double quoted", `a{background:url("/img/bg.png")}`, `a{background:url("/p/img/bg.png")}`},
		{"unquoted", `a{background:url(/img/bg.png)}`, `a{background:url(/p/img/bg.png)}`},
		{"inner spaces", `a{background:url( '/img/bg.png' )}`, `a{background:url( '/p/img/bg.png' )}`},
		{"protocol-relative untouched", `a{background:url('//cdn.example.com/x.png')}`, `a{background:url('//cdn.example.com/x.png')}`},
		{"absolute untouched", `a{background:url(https://cdn.example.com/x.png)}`, `a{background:url(https://cdn.example.com/x.png)}`},
		{"data untouched", `a{background:url(data:image/png;base64,AAAA)}`, `a{background:url(data:image/png;base64,AAAA)}`},
		{"relative untouched", `a{background:url(img/x.png)}`, `a{background:url(img/x.png)}`},
		{"import", `@import url("/css/base.css");`, `@import url("/p/css/base.css");`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rw.Rewrite(KindCSS, tt.in, "text/css")
			if got != tt.want {
				t.Errorf("Rewrite() = %q, want %q", got, tt.want)
			}
			if again := rw.Rewrite(KindCSS, got, "text/css"); again != got {
				t.Errorf("not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestRewriteJS(t *testing.T) {
	rw := newTestRewriter("/p")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"fetch double quotes", `fetch("/login", {method: "POST"})`, `fetch("/p/login", {method: "POST"})`},
		{"fetch backtick", "fetch(`/items/${id}`)", "fetch(`/p/items/${id}`)"},
		{"xhr open", `xhr.open("GET", "/data.json")`, `xhr.open("GET", "/p/data.json")`},
		{"api literal", `const base = "/api/v1/users";`, `const base = "/p/api/v1/users";`},
		{"api fetch once", `fetch('/api/x')`, `fetch('/p/api/x')`},
		{"non-api literal untouched", `const img = "/static/a.png";`, `const img = "/static/a.png";`},
		{"absolute fetch untouched", `fetch("https://other.example.com/api/x")`, `fetch("https://other.example.com/api/x")`},
		{"protocol-relative fetch untouched", `fetch("//cdn.example.com/x")`, `fetch("//cdn.example.com/x")`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rw.Rewrite(KindJS, tt.in, "application/javascript")
			if got != tt.want {
				t.Errorf("Rewrite() = %q, want %q", got, tt.want)
			}
			if again := rw.Rewrite(KindJS, got, "application/javascript"); again != got {
				t.Errorf("not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestRewrite_PreservesUnmatchedBytes(t *testing.T) {
	rw := newTestRewriter("/p")
	in := "body { color: #fff; }\n/* \xff\xfe raw bytes */\n"

	if got := rw.Rewrite(KindCSS, in, "text/css"); got != in {
		t.Errorf("Rewrite() altered bytes: %q", got)
	}
	if got := rw.Rewrite(KindPassthrough, in, "image/png"); got != in {
		t.Errorf("passthrough altered bytes: %q", got)
	}
}
