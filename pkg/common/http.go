package common

import (
	"crypto/tls"
	_ "embed"
	"net/http"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// DefaultMaxConnsPerHost bounds the connection pool of clients returned by
// PooledHTTPClient when no explicit size is given.
const DefaultMaxConnsPerHost = 10

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip implements http.RoundTripper and stamps every request with the
// client's user agent.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original request's headers
	// which might be shared or reused
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

// CloseIdleConnections lets http.Client.CloseIdleConnections reach the
// wrapped transport.
func (t *userAgentTransport) CloseIdleConnections() {
	type closeIdler interface {
		CloseIdleConnections()
	}
	if c, ok := t.transport.(closeIdler); ok {
		c.CloseIdleConnections()
	}
}

// UserAgent returns the user agent sent with every outbound request.
func UserAgent() string {
	return "SmartHubSync/" + strings.TrimSpace(version)
}

// HTTPClient returns a default http client with a default user-agent set
func HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &userAgentTransport{
			transport: http.DefaultTransport,
			userAgent: UserAgent(),
		},
		Timeout: timeout,
	}
}

// PooledHTTPClient returns a client with its own transport so that its
// connections can be dropped independently of other clients. The pool is
// bounded to maxConns connections per host and TLS certificates are always
// verified.
func PooledHTTPClient(timeout time.Duration, maxConns int) *http.Client {
	if maxConns <= 0 {
		maxConns = DefaultMaxConnsPerHost
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxConnsPerHost = maxConns
	t.MaxIdleConnsPerHost = maxConns
	t.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}

	return &http.Client{
		Transport: &userAgentTransport{
			transport: t,
			userAgent: UserAgent(),
		},
		Timeout: timeout,
	}
}
