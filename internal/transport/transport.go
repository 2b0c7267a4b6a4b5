// Package transport provides the HTTP transport used to reach the store.
//
// Some hosts sit behind CDNs that rate limit Go's distinctive TLS client
// fingerprint. The transport here presents Chrome's ClientHello through uTLS
// and routes each connection to HTTP/2 or HTTP/1.1 by the ALPN protocol the
// server actually picked.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// errHTTP1Only is returned by the h2 dialer when the server negotiated
// HTTP/1.1. No request bytes have been sent at that point.
var errHTTP1Only = errors.New("server does not speak h2")

const (
	protoH2    = "h2"
	protoHTTP1 = "http/1.1"
)

// Option configures a ChromeTransport.
type Option func(*ChromeTransport)

// WithRootCAs trusts pool instead of the system roots.
func WithRootCAs(pool *x509.CertPool) Option {
	return func(t *ChromeTransport) { t.rootCAs = pool }
}

// WithFingerprint swaps the ClientHello that is presented.
func WithFingerprint(id utls.ClientHelloID) Option {
	return func(t *ChromeTransport) { t.hello = id }
}

// ChromeTransport is an http.RoundTripper with a Chrome TLS fingerprint.
// Plain http:// requests go through a standard transport.
type ChromeTransport struct {
	dialer  *net.Dialer
	rootCAs *x509.CertPool
	hello   utls.ClientHelloID

	h2    *http2.Transport
	h1    *http.Transport
	plain *http.Transport

	mu     sync.RWMutex
	protos map[string]string // host:port → negotiated ALPN protocol
}

// NewChromeTransport creates a ChromeTransport whose dials and handshakes
// time out after timeout.
func NewChromeTransport(timeout time.Duration, opts ...Option) *ChromeTransport {
	t := &ChromeTransport{
		dialer: &net.Dialer{Timeout: timeout},
		hello:  utls.HelloChrome_Auto,
		protos: make(map[string]string),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.h2 = &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			conn, proto, err := t.dial(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if proto != protoH2 {
				conn.Close()
				return nil, errHTTP1Only
			}
			return conn, nil
		},
	}
	t.h1 = &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, _, err := t.dial(ctx, network, addr)
			return conn, err
		},
		TLSHandshakeTimeout: timeout,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	t.plain = &http.Transport{
		DialContext:         t.dialer.DialContext,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return t
}

// RoundTrip implements http.RoundTripper.
//
// The first request to a host goes through h2. If the handshake shows the
// server only speaks HTTP/1.1, the dial fails before anything is written, so
// the request is replayed on the HTTP/1.1 transport. Errors after a request
// was sent are returned as is; batch writes must not be replayed.
func (t *ChromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.plain.RoundTrip(req)
	}

	addr := canonicalAddr(req)
	if t.protocol(addr) == protoHTTP1 {
		return t.h1.RoundTrip(req)
	}

	resp, err := t.h2.RoundTrip(req)
	if err != nil && t.protocol(addr) == protoHTTP1 {
		return t.h1.RoundTrip(req)
	}
	return resp, err
}

// CloseIdleConnections closes idle connections on every inner transport.
func (t *ChromeTransport) CloseIdleConnections() {
	t.h2.CloseIdleConnections()
	t.h1.CloseIdleConnections()
	t.plain.CloseIdleConnections()
}

func (t *ChromeTransport) protocol(addr string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.protos[addr]
}

// dial opens a TCP connection and runs the uTLS handshake. It remembers
// which protocol the server chose for addr.
func (t *ChromeTransport) dial(ctx context.Context, network, addr string) (net.Conn, string, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := t.dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, "", fmt.Errorf("dial: %w", err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{
		ServerName: host,
		RootCAs:    t.rootCAs,
	}, t.hello)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("tls handshake: %w", err)
	}

	proto := tlsConn.ConnectionState().NegotiatedProtocol
	if proto == "" {
		proto = protoHTTP1
	}
	t.mu.Lock()
	t.protos[addr] = proto
	t.mu.Unlock()

	return tlsConn, proto, nil
}

// canonicalAddr returns host:port for req, defaulting the port to 443.
func canonicalAddr(req *http.Request) string {
	if port := req.URL.Port(); port != "" {
		return net.JoinHostPort(req.URL.Hostname(), port)
	}
	return net.JoinHostPort(req.URL.Hostname(), "443")
}
