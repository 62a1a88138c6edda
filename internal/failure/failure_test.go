package failure

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindUpstreamUnreachable, http.StatusBadGateway},
		{KindUpstreamTimeout, http.StatusGatewayTimeout},
		{KindMalformedBody, http.StatusBadGateway},
		{KindInternal, http.StatusInternalServerError},
		{KindClientDisconnected, 0},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := tt.kind.Status(); got != tt.want {
				t.Errorf("Status() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("forward to upstream: %w", Unreachable("dial", cause))

	if got := KindOf(err); got != KindUpstreamUnreachable {
		t.Errorf("KindOf() = %v, want %v", got, KindUpstreamUnreachable)
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable through Unwrap")
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Errorf("KindOf() = %v, want %v", got, KindInternal)
	}
}

func TestError_Message(t *testing.T) {
	err := Timeout("upstream request", errors.New("deadline"))
	want := "upstream request: upstream_timeout: deadline"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
