package handler

import (
	"net/http"
	"strings"
	"testing"

	"mask-proxy-go/internal/model"
)

func TestHeadersOnly(t *testing.T) {
	tests := []struct {
		method string
		status int
		want   bool
	}{
		{http.MethodHead, http.StatusOK, true},
		{http.MethodGet, http.StatusNoContent, true},
		{http.MethodGet, http.StatusNotModified, true},
		{http.MethodGet, http.StatusContinue, true},
		{http.MethodGet, http.StatusOK, false},
		{http.MethodPost, http.StatusNotFound, false},
	}
	for _, tt := range tests {
		if got := headersOnly(tt.method, tt.status); got != tt.want {
			t.Errorf("headersOnly(%s, %d) = %v, want %v", tt.method, tt.status, got, tt.want)
		}
	}
}

func TestIsPartial(t *testing.T) {
	tests := []struct {
		name string
		resp *model.ProxyResponse
		want bool
	}{
		{"206", &model.ProxyResponse{StatusCode: http.StatusPartialContent, Header: http.Header{}}, true},
		{"content-range on 200", &model.ProxyResponse{StatusCode: http.StatusOK, Header: http.Header{"Content-Range": {"bytes 0-9/100"}}}, true},
		{"full body", &model.ProxyResponse{StatusCode: http.StatusOK, Header: http.Header{}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isPartial(tt.resp); got != tt.want {
				t.Errorf("isPartial() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadLimited(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		limit        int64
		wantComplete bool
		wantLen      int
	}{
		{"under limit", "hello", 10, true, 5},
		{"exactly at limit", "hello", 5, true, 5},
		{"over limit keeps what was read", "hello world", 5, false, 6},
		{"no limit", "hello world", 0, true, 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, complete, err := readLimited(strings.NewReader(tt.body), tt.limit)
			if err != nil {
				t.Fatalf("readLimited() error = %v", err)
			}
			if complete != tt.wantComplete {
				t.Errorf("complete = %v, want %v", complete, tt.wantComplete)
			}
			if len(b) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(b), tt.wantLen)
			}
		})
	}
}
