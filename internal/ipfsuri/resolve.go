// Package ipfsuri normalizes content-addressed locators into URLs that can be
// fetched through a public HTTP gateway.
package ipfsuri

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
)

const (
	// Scheme is the content-addressing scheme token.
	Scheme = "ipfs://"

	// DefaultGateway is the canonical gateway base every bare locator is
	// rewritten onto.
	DefaultGateway = "https://nftstorage.link/ipfs/"
)

// KnownGateways are URL prefixes that are already fetchable and are passed
// through untouched.
var KnownGateways = []string{
	"https://nftstorage.link/",
	"https://ipfs.io/",
	"https://gateway.pinata.cloud/",
}

// ErrNoCID is returned by RootCID when a locator carries no parseable root
// content identifier.
var ErrNoCID = errors.New("locator has no content identifier")

// Resolver rewrites locators onto a canonical gateway. The zero value is not
// usable; use NewResolver or the package-level Resolve.
type Resolver struct {
	gateway string
	known   []string
}

var defaultResolver = NewResolver(DefaultGateway)

// NewResolver returns a resolver that rewrites onto gateway and passes
// through KnownGateways, the gateway itself, and any extra prefixes.
func NewResolver(gateway string, extra ...string) *Resolver {
	if gateway == "" {
		gateway = DefaultGateway
	}
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}

	known := make([]string, 0, len(KnownGateways)+len(extra)+1)
	known = append(known, KnownGateways...)
	known = append(known, gateway)
	for _, e := range extra {
		if e = strings.TrimSpace(e); e != "" {
			known = append(known, e)
		}
	}
	return &Resolver{gateway: gateway, known: known}
}

// Gateway returns the canonical gateway base.
func (r *Resolver) Gateway() string {
	return r.gateway
}

// Resolve turns a locator into a fetchable URL. It never fails: an empty
// locator resolves to the empty string, and resolving an already-resolved
// URL returns it unchanged.
func (r *Resolver) Resolve(locator string) string {
	if locator == "" {
		return ""
	}
	for _, prefix := range r.known {
		if strings.HasPrefix(locator, prefix) {
			return locator
		}
	}

	cleaned := strings.ReplaceAll(locator, Scheme, "")
	cleaned = strings.TrimLeft(cleaned, "/")

	// Some metadata producers wrap a file in a directory of the same name:
	// <cid>/meta.json/meta.json.
	parts := strings.Split(cleaned, "/")
	if n := len(parts); n >= 2 && parts[n-2] == parts[n-1] {
		parts = parts[:n-1]
	}

	return r.gateway + strings.Join(parts, "/")
}

// Resolve resolves locator with the default gateway set.
func Resolve(locator string) string {
	return defaultResolver.Resolve(locator)
}

// RootCID extracts the root content identifier from an ipfs:// locator, a
// bare "<cid>/path" locator, or a path-style gateway URL ("/ipfs/<cid>/...").
func RootCID(locator string) (cid.Cid, error) {
	rest := locator
	if i := strings.Index(rest, "/ipfs/"); i >= 0 && strings.Contains(rest[:i], "://") {
		rest = rest[i+len("/ipfs/"):]
	} else {
		rest = strings.ReplaceAll(rest, Scheme, "")
	}
	rest = strings.TrimLeft(rest, "/")

	root, _, _ := strings.Cut(rest, "/")
	root, _, _ = strings.Cut(root, "?")
	if root == "" {
		return cid.Undef, fmt.Errorf("%w: %q", ErrNoCID, locator)
	}

	c, err := cid.Decode(root)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %q: %v", ErrNoCID, locator, err)
	}
	return c, nil
}

// Locator formats a content identifier and optional path as an ipfs://
// locator.
func Locator(c cid.Cid, path ...string) string {
	out := Scheme + c.String()
	for _, p := range path {
		if p = strings.Trim(p, "/"); p != "" {
			out += "/" + p
		}
	}
	return out
}
