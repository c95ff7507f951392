package providers

import (
	"context"
	"errors"
	"syscall"
	"testing"

	"github.com/haasonsaas/thalamus/internal/provider"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want provider.TransportErrorClass
	}{
		{"deadline", context.DeadlineExceeded, provider.TransportTimeout},
		{"reset", syscall.ECONNRESET, provider.TransportConnectionReset},
		{"reset text", errors.New("read: connection reset by peer"), provider.TransportConnectionReset},
		{"5xx text", errors.New("error, status code: 503, message: unavailable"), provider.TransportServerError},
		{"overloaded", errors.New("overloaded_error"), provider.TransportServerError},
		{"other", errors.New("invalid api key"), provider.TransportOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classify(tc.err); got != tc.want {
				t.Errorf("classify(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

func TestWrapTransportNil(t *testing.T) {
	if wrapTransport("x", nil) != nil {
		t.Fatal("wrapTransport(nil) should be nil")
	}
}
