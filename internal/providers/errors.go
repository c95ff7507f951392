package providers

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/haasonsaas/thalamus/internal/provider"
)

// wrapTransport classifies an SDK/transport error into the typed
// TransportError the tool loop's retry policy keys off: timeout, 5xx,
// and connection_reset are transient; everything else is surfaced
// as-is for the loop to fail the call.
func wrapTransport(name string, err error) error {
	if err == nil {
		return nil
	}
	return &provider.TransportError{
		Class:   classify(err),
		Message: name + ": " + err.Error(),
		Cause:   err,
	}
}

func classify(err error) provider.TransportErrorClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return provider.TransportTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return provider.TransportTimeout
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return provider.TransportConnectionReset
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"):
		return provider.TransportConnectionReset
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return provider.TransportTimeout
	case strings.Contains(msg, "status 5"), strings.Contains(msg, "status code: 5"),
		strings.Contains(msg, "internal server error"), strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "service unavailable"), strings.Contains(msg, "bad gateway"):
		return provider.TransportServerError
	default:
		return provider.TransportOther
	}
}
