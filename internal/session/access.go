// Package session tracks the wallet session and decides which identity ledger
// calls are made under.
//
// The Reactor is the only writer of the current AccessContext. Everyone else
// receives AccessContext values through Current or Subscribe and must not
// assume the value is still current after a blocking call returns.
package session

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoActiveSession is returned when a write is attempted without an
// authenticated identity.
var ErrNoActiveSession = errors.New("no active wallet session")

// Identity is an account handle as received from the wallet or the ledger.
// The received form is kept for display; comparisons are case-insensitive.
type Identity string

// Canonical returns the lower-cased, trimmed form used at comparison sites.
func (id Identity) Canonical() string {
	return strings.ToLower(strings.TrimSpace(string(id)))
}

// Equal reports whether two identities refer to the same account.
func (id Identity) Equal(other Identity) bool {
	return id.Canonical() == other.Canonical()
}

// IsZero reports whether the identity is empty.
func (id Identity) IsZero() bool {
	return id.Canonical() == ""
}

// Short abbreviates a long identity for display, e.g. 0x1234...abcd.
func (id Identity) Short() string {
	s := string(id)
	if len(s) <= 10 {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}

func (id Identity) String() string {
	return string(id)
}

// Mode says whether reads carry an identity.
type Mode int

const (
	ModeAnonymous Mode = iota
	ModeAuthenticated
)

func (m Mode) String() string {
	switch m {
	case ModeAnonymous:
		return "anonymous"
	case ModeAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// AccessContext is the identity and endpoint a ledger call runs under.
type AccessContext struct {
	Mode     Mode
	Identity Identity
	Endpoint string
	ChainID  uint64
}

// Anonymous returns a read-only context against endpoint.
func Anonymous(endpoint string, chainID uint64) AccessContext {
	return AccessContext{Mode: ModeAnonymous, Endpoint: endpoint, ChainID: chainID}
}

// Authenticated returns a context acting as id through endpoint.
func Authenticated(id Identity, endpoint string, chainID uint64) AccessContext {
	return AccessContext{Mode: ModeAuthenticated, Identity: id, Endpoint: endpoint, ChainID: chainID}
}

// IsAuthenticated reports whether the context carries a usable identity.
func (ac AccessContext) IsAuthenticated() bool {
	return ac.Mode == ModeAuthenticated && !ac.Identity.IsZero()
}

// RequireAuthenticated returns ErrNoActiveSession unless the context is
// authenticated.
func (ac AccessContext) RequireAuthenticated() error {
	if !ac.IsAuthenticated() {
		return ErrNoActiveSession
	}
	return nil
}

func (ac AccessContext) String() string {
	if ac.IsAuthenticated() {
		return fmt.Sprintf("authenticated(%s@%s)", ac.Identity.Short(), ac.Endpoint)
	}
	return fmt.Sprintf("anonymous(%s)", ac.Endpoint)
}

// State is the wallet session as last observed.
type State struct {
	Connected bool
	Identity  Identity
	ChainID   uint64
}

// Selector maps session state onto an AccessContext.
type Selector struct {
	// PublicEndpoint serves anonymous reads.
	PublicEndpoint string
	// WalletEndpoint serves authenticated calls. Falls back to
	// PublicEndpoint when empty.
	WalletEndpoint string
	// ExpectedChainID is the chain the marketplace lives on. Zero disables
	// the check.
	ExpectedChainID uint64
}

// Select prefers an authenticated context when a session is active and on
// the expected chain, and falls back to anonymous reads otherwise.
func (s Selector) Select(st State) AccessContext {
	if st.Connected && !st.Identity.IsZero() && s.chainMatches(st.ChainID) {
		endpoint := s.WalletEndpoint
		if endpoint == "" {
			endpoint = s.PublicEndpoint
		}
		return Authenticated(st.Identity, endpoint, s.chainID(st.ChainID))
	}
	return Anonymous(s.PublicEndpoint, s.ExpectedChainID)
}

func (s Selector) chainMatches(chainID uint64) bool {
	return s.ExpectedChainID == 0 || chainID == 0 || chainID == s.ExpectedChainID
}

func (s Selector) chainID(observed uint64) uint64 {
	if observed != 0 {
		return observed
	}
	return s.ExpectedChainID
}
