package storefront

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Xzeius/decentralised-marketspace/internal/catalog"
)

var (
	// ErrIncompleteInput is returned when a required field is missing.
	ErrIncompleteInput = errors.New("incomplete input")
	// ErrSelfTransaction is returned when buying an item the session
	// identity owns or sells.
	ErrSelfTransaction = errors.New("cannot buy your own item")
	// ErrNotListed is returned when buying an item that is not for sale.
	ErrNotListed = errors.New("item is not listed for sale")
	// ErrNotOwner is returned when reselling an item the session identity
	// does not own.
	ErrNotOwner = errors.New("only the owner can resell an item")
	// ErrFlowConsumed is returned when a Flow is run a second time.
	ErrFlowConsumed = errors.New("flow already run")
	// ErrInvalidTransition signals a state machine bug.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// State is a transaction flow state.
type State int

const (
	StateIdle State = iota
	StatePreparing
	StateAwaitingUpload
	StateAwaitingSubmission
	StateAwaitingConfirmation
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateAwaitingUpload:
		return "awaiting-upload"
	case StateAwaitingSubmission:
		return "awaiting-submission"
	case StateAwaitingConfirmation:
		return "awaiting-confirmation"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// IsTerminal reports whether s is Succeeded or Failed.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// CanAdvanceTo reports whether next is a legal successor of s. Any
// non-terminal state may fail; Succeeded follows confirmation only; every
// other move goes strictly forward.
func (s State) CanAdvanceTo(next State) bool {
	switch {
	case s.IsTerminal():
		return false
	case next == StateFailed:
		return true
	case next == StateSucceeded:
		return s == StateAwaitingConfirmation
	default:
		return next > s && next < StateSucceeded
	}
}

// IntentKind is the user action behind a flow.
type IntentKind int

const (
	IntentCreateListing IntentKind = iota
	IntentPurchase
	IntentResell
)

func (k IntentKind) String() string {
	switch k {
	case IntentCreateListing:
		return "create-listing"
	case IntentPurchase:
		return "purchase"
	case IntentResell:
		return "resell"
	default:
		return fmt.Sprintf("IntentKind(%d)", int(k))
	}
}

// ListingInput is what a seller provides for a new listing.
type ListingInput struct {
	Name        string
	Description string
	Category    string
	// Price in display units, e.g. "0.05".
	Price string
	// AssetLocator points at an already uploaded asset. When empty, Asset
	// is uploaded first.
	AssetLocator string
	Asset        []byte
	AssetName    string
}

// Intent is one user action.
type Intent struct {
	ID   string
	Kind IntentKind

	Listing ListingInput

	// Item is the catalog item being bought or resold.
	Item catalog.Item
	// NewPrice is the resale price in display units.
	NewPrice string
}

// NewListingIntent returns an intent to create a listing.
func NewListingIntent(in ListingInput) Intent {
	return Intent{ID: uuid.New().String(), Kind: IntentCreateListing, Listing: in}
}

// NewPurchaseIntent returns an intent to buy item.
func NewPurchaseIntent(item catalog.Item) Intent {
	return Intent{ID: uuid.New().String(), Kind: IntentPurchase, Item: item}
}

// NewResellIntent returns an intent to list an owned item again at price.
func NewResellIntent(item catalog.Item, price string) Intent {
	return Intent{ID: uuid.New().String(), Kind: IntentResell, Item: item, NewPrice: price}
}

// Status is published on every state transition.
type Status struct {
	IntentID string
	Kind     IntentKind
	State    State
	Message  string
	TxHash   string
	Err      error
	At       time.Time
}

func (s Status) String() string {
	out := fmt.Sprintf("[%s] %s", s.State, s.Message)
	if s.TxHash != "" {
		out += " (tx " + s.TxHash + ")"
	}
	if s.Err != nil {
		out += ": " + s.Err.Error()
	}
	return out
}

// StatusSink receives flow statuses. Publish must not block for long.
type StatusSink interface {
	Publish(Status)
}

// StatusFunc adapts a function to StatusSink.
type StatusFunc func(Status)

func (f StatusFunc) Publish(s Status) { f(s) }

type logSink struct{}

func (logSink) Publish(s Status) {
	if s.State == StateFailed {
		log.Warnf("intent %s: %s", s.IntentID, s)
		return
	}
	log.Infof("intent %s: %s", s.IntentID, s)
}

// Result describes a successful flow.
type Result struct {
	IntentID        string
	TxHash          string
	BlockNumber     uint64
	AssetLocator    string
	MetadataLocator string
}
