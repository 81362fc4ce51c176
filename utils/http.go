package utils

import (
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/marcus-crane/marquee/shared"
)

type UARoundtripper struct {
	RT http.RoundTripper
}

func (uart *UARoundtripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrip must not modify the caller's request
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", shared.UserAgent)
	rt := uart.RT
	if rt == nil {
		rt = http.DefaultTransport
	}
	return rt.RoundTrip(req)
}

// NewHTTPClient returns a pooled client whose connect and response header
// waits are bounded by timeout. The body read is deliberately unbounded so
// large videos can stream; callers cancel through the request context.
// Redirects are followed regardless of origin, up to the net/http limit.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := cleanhttp.DefaultPooledTransport()
	if timeout > 0 {
		transport.DialContext = (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext
		transport.TLSHandshakeTimeout = timeout
		transport.ResponseHeaderTimeout = timeout
	}
	return &http.Client{
		Transport: &UARoundtripper{RT: transport},
	}
}
