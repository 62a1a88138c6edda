package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"mask-proxy-go/internal/config"
)

func TestRegisterRoutes_Wiring(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("upstream:" + r.URL.Path))
	}))
	defer upstream.Close()

	s := newTestStack(t, upstream.URL, nil)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"GET /healthz", http.MethodGet, "/healthz", http.StatusOK, `"healthy"`},
		{"GET /proxy/info", http.MethodGet, "/proxy/info", http.StatusOK, `"mask-proxy"`},
		{"GET /robots.txt", http.MethodGet, "/robots.txt", http.StatusOK, "User-agent: *"},
		{"GET /sitemap.xml", http.MethodGet, "/sitemap.xml", http.StatusOK, "<urlset"},
		{"GET /metrics", http.MethodGet, "/metrics", http.StatusOK, "mask_proxy_"},
		{"GET / proxied", http.MethodGet, "/", http.StatusOK, "upstream:/"},
		{"GET nested path proxied", http.MethodGet, "/a/b/c", http.StatusOK, "upstream:/a/b/c"},
		{"POST proxied", http.MethodPost, "/form", http.StatusOK, "upstream:/form"},
		{"DELETE proxied", http.MethodDelete, "/item/1", http.StatusOK, "upstream:/item/1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, nil, nil)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestRegisterRoutes_MetricsDisabled(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("upstream:" + r.URL.Path))
	}))
	defer upstream.Close()

	s := newTestStack(t, upstream.URL, func(cfg *config.Config) {
		cfg.Metrics.Enabled = false
	})

	rec := s.do(http.MethodGet, "/metrics", nil, nil)
	if rec.Body.String() != "upstream:/metrics" {
		t.Errorf("body = %q, want /metrics to be proxied when metrics are disabled", rec.Body.String())
	}
}

func TestRegisterRoutes_FixedPathsNeverProxied(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	s := newTestStack(t, upstream.URL, nil)

	tests := []struct {
		method     string
		path       string
		wantStatus int
	}{
		{http.MethodHead, "/robots.txt", http.StatusOK},
		{http.MethodHead, "/sitemap.xml", http.StatusOK},
		{http.MethodHead, "/healthz", http.StatusOK},
		{http.MethodHead, "/proxy/info", http.StatusOK},
		{http.MethodHead, "/metrics", http.StatusOK},
		{http.MethodPost, "/robots.txt", http.StatusNotFound},
		{http.MethodPut, "/sitemap.xml", http.StatusNotFound},
		{http.MethodDelete, "/healthz", http.StatusNotFound},
		{http.MethodPost, "/metrics", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, nil, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}

	mu.Lock()
	defer mu.Unlock()
	for _, req := range seen {
		// The health check probes the upstream root with GET; nothing else
		// may reach the upstream.
		if req != "GET /" {
			t.Errorf("upstream received %q for a locally served path", req)
		}
	}
}
