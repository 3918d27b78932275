// Package ledger talks to the marketplace contract.
//
// Every call takes the session.AccessContext it runs under. Reads made in
// authenticated mode carry the identity as the call sender, which is what
// makes OwnedListings meaningful. Writes refuse to run without one.
package ledger

import (
	"context"
	"errors"

	"github.com/holiman/uint256"

	"github.com/Xzeius/decentralised-marketspace/internal/session"
)

var (
	// ErrCallFailed wraps transport, revert and decoding failures of a call.
	ErrCallFailed = errors.New("ledger call failed")
	// ErrTransactionRejected is returned when a submitted transaction is
	// rejected before inclusion or reverts once mined.
	ErrTransactionRejected = errors.New("transaction rejected")
	// ErrSignerMismatch is returned when the configured wallet cannot sign
	// for the identity of the access context.
	ErrSignerMismatch = errors.New("wallet cannot sign for session identity")
)

// ListingRecord is the ledger's view of one listed asset.
type ListingRecord struct {
	TokenID         uint64
	Owner           session.Identity
	Seller          session.Identity
	Price           *uint256.Int
	CurrentlyListed bool
}

// Receipt summarizes a confirmed transaction.
type Receipt struct {
	TxHash        string
	BlockNumber   uint64
	GasUsed       uint64
	Confirmations uint64
}

// Tx is a submitted transaction. Once submitted it cannot be withdrawn;
// cancelling the context passed to Wait only stops waiting.
type Tx interface {
	Hash() string
	Wait(ctx context.Context) (*Receipt, error)
}

// Reader is the read side of the marketplace contract.
type Reader interface {
	AllListings(ctx context.Context, ac session.AccessContext) ([]ListingRecord, error)
	OwnedListings(ctx context.Context, ac session.AccessContext) ([]ListingRecord, error)
	Listing(ctx context.Context, ac session.AccessContext, tokenID uint64) (ListingRecord, error)
	MetadataPointer(ctx context.Context, ac session.AccessContext, tokenID uint64) (string, error)
	ListingFee(ctx context.Context, ac session.AccessContext) (*uint256.Int, error)
}

// Writer submits marketplace transactions. Implementations return
// session.ErrNoActiveSession before touching the network when ac is not
// authenticated.
type Writer interface {
	// CreateListing mints a token pointing at metadataLocator and lists it
	// at price, paying fee.
	CreateListing(ctx context.Context, ac session.AccessContext, metadataLocator string, price, fee *uint256.Int) (Tx, error)
	// ExecutePurchase buys tokenID, paying price.
	ExecutePurchase(ctx context.Context, ac session.AccessContext, tokenID uint64, price *uint256.Int) (Tx, error)
	// Resell lists an owned token again at price, paying fee.
	Resell(ctx context.Context, ac session.AccessContext, tokenID uint64, price, fee *uint256.Int) (Tx, error)
}

// Ledger is the full contract surface.
type Ledger interface {
	Reader
	Writer
}
