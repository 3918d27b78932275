// Package gateway fetches content from public HTTP gateways, optionally
// through a SOCKS5 proxy, with a token bucket per gateway host.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("gateway")

// ErrFetch wraps every failed gateway fetch.
var ErrFetch = errors.New("gateway fetch failed")

// DefaultMaxBytes caps the size of a fetched document.
const DefaultMaxBytes = 1 << 20

// Config configures a Fetcher.
type Config struct {
	SOCKSProxy string
	ProxyMode  ProxyMode
	Timeout    time.Duration
	MaxBytes   int64
	RateLimit  RateLimitConfig
}

// Fetcher performs bounded GET requests against gateways.
type Fetcher struct {
	client   *http.Client
	limiter  *HostLimiter
	maxBytes int64
}

// NewFetcher builds a fetcher from cfg.
func NewFetcher(cfg Config) (*Fetcher, error) {
	transport, err := NewTransport(cfg.SOCKSProxy, cfg.ProxyMode)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewFetcherWithClient(&http.Client{Transport: transport, Timeout: timeout}, NewHostLimiter(cfg.RateLimit), cfg.MaxBytes), nil
}

// NewFetcherWithClient wraps an existing client. limiter may be nil.
func NewFetcherWithClient(client *http.Client, limiter *HostLimiter, maxBytes int64) *Fetcher {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Fetcher{client: client, limiter: limiter, maxBytes: maxBytes}
}

// Get fetches rawURL and returns the body. Non-2xx answers and bodies larger
// than the configured maximum are errors.
func (f *Fetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid url %q", ErrFetch, rawURL)
	}
	if err := f.limiter.Wait(ctx, u.Host); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, u.Host, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json, */*")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s returned HTTP %d", ErrFetch, u.Redacted(), resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrFetch, u.Redacted(), err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrFetch, u.Redacted(), f.maxBytes)
	}

	log.Debugf("fetched %s (%d bytes) in %s", u.Redacted(), len(body), time.Since(start))
	return body, nil
}

// Close releases the rate limiter.
func (f *Fetcher) Close() {
	if f.limiter != nil {
		f.limiter.Close()
	}
}
