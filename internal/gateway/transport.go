package gateway

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

// ProxyMode controls how gateway requests are routed.
type ProxyMode string

const (
	// ProxyDirect makes direct connections.
	ProxyDirect ProxyMode = "direct"

	// ProxyOnly routes every request through the SOCKS5 proxy and fails if
	// the proxy is down.
	ProxyOnly ProxyMode = "socks"

	// ProxyPreferred tries the SOCKS5 proxy first and falls back to a
	// direct connection when the proxy cannot be reached.
	ProxyPreferred ProxyMode = "socks-preferred"
)

// NewSOCKSTransport returns an *http.Transport that dials through a SOCKS5
// proxy at socksAddr (e.g. "127.0.0.1:9050"). The proxy resolves DNS.
func NewSOCKSTransport(socksAddr string) (*http.Transport, error) {
	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("create SOCKS5 dialer for %s: %w", socksAddr, err)
	}

	contextDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("SOCKS5 dialer does not support DialContext")
	}

	return &http.Transport{
		DialContext:           contextDialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		Proxy:                 nil, // environment proxies are bypassed
	}, nil
}

// NewTransport returns the round tripper for mode.
func NewTransport(socksAddr string, mode ProxyMode) (http.RoundTripper, error) {
	if mode == "" {
		mode = ProxyDirect
		if socksAddr != "" {
			mode = ProxyPreferred
		}
	}

	switch mode {
	case ProxyDirect:
		return http.DefaultTransport, nil
	case ProxyOnly:
		return NewSOCKSTransport(socksAddr)
	case ProxyPreferred:
		socks, err := NewSOCKSTransport(socksAddr)
		if err != nil {
			log.Warnf("socks transport unavailable, using direct connections: %v", err)
			return http.DefaultTransport, nil
		}
		return &fallbackTransport{
			primary:   socks,
			fallback:  http.DefaultTransport,
			socksAddr: socksAddr,
		}, nil
	default:
		return nil, fmt.Errorf("unknown proxy mode: %q", mode)
	}
}

// fallbackTransport tries the proxy first and falls back on dial failure.
type fallbackTransport struct {
	primary   http.RoundTripper
	fallback  http.RoundTripper
	socksAddr string
}

func (ft *fallbackTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := ft.primary.RoundTrip(req)
	if err == nil {
		return resp, nil
	}

	// Only connection-level failures fall back; HTTP errors are answers.
	if !isDialError(err) || req.Context().Err() != nil {
		return nil, err
	}

	log.Warnf("socks proxy at %s unreachable for %s %s, falling back to direct: %v",
		ft.socksAddr, req.Method, req.URL.Redacted(), err)

	return ft.fallback.RoundTrip(req)
}

func isDialError(err error) bool {
	if err == nil {
		return false
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
