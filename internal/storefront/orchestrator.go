package storefront

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	logging "github.com/ipfs/go-log/v2"

	"github.com/Xzeius/decentralised-marketspace/internal/amount"
	"github.com/Xzeius/decentralised-marketspace/internal/catalog"
	"github.com/Xzeius/decentralised-marketspace/internal/ledger"
	"github.com/Xzeius/decentralised-marketspace/internal/session"
	"github.com/Xzeius/decentralised-marketspace/internal/storage"
)

var log = logging.Logger("storefront")

// Config wires an Orchestrator.
type Config struct {
	Ledger   ledger.Ledger
	Uploader storage.Uploader
	// Refresher is resynced after every successful flow. Optional.
	Refresher session.Refresher
	// Sink receives statuses. Nil logs them.
	Sink         StatusSink
	UnitExponent int
	// UnitSymbol is shown in status messages.
	UnitSymbol string
}

// Orchestrator builds flows for intents.
type Orchestrator struct {
	ledger    ledger.Ledger
	uploader  storage.Uploader
	refresher session.Refresher
	sink      StatusSink
	exponent  int
	symbol    string
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Sink == nil {
		cfg.Sink = logSink{}
	}
	if cfg.UnitExponent == 0 {
		cfg.UnitExponent = amount.EtherExponent
	}
	if cfg.UnitSymbol == "" {
		cfg.UnitSymbol = "ETH"
	}
	return &Orchestrator{
		ledger:    cfg.Ledger,
		uploader:  cfg.Uploader,
		refresher: cfg.Refresher,
		sink:      cfg.Sink,
		exponent:  cfg.UnitExponent,
		symbol:    cfg.UnitSymbol,
	}
}

// Begin returns a flow for intent. The flow can be run once.
func (o *Orchestrator) Begin(intent Intent) *Flow {
	return &Flow{o: o, intent: intent, state: StateIdle}
}

// Flow is one run of an intent.
type Flow struct {
	o      *Orchestrator
	intent Intent

	mu       sync.Mutex
	state    State
	consumed bool
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Intent returns the intent the flow runs.
func (f *Flow) Intent() Intent {
	return f.intent
}

// Run executes the flow. The returned error is also published with the
// Failed status. Cancelling ctx after submission stops waiting only; the
// transaction may still be mined.
func (f *Flow) Run(ctx context.Context, ac session.AccessContext) (Result, error) {
	f.mu.Lock()
	if f.consumed {
		f.mu.Unlock()
		return Result{}, ErrFlowConsumed
	}
	f.consumed = true
	f.mu.Unlock()

	var (
		res Result
		err error
	)
	switch f.intent.Kind {
	case IntentCreateListing:
		res, err = f.createListing(ctx, ac)
	case IntentPurchase:
		res, err = f.purchase(ctx, ac)
	case IntentResell:
		res, err = f.resell(ctx, ac)
	default:
		err = fmt.Errorf("%w: unknown intent kind %s", ErrIncompleteInput, f.intent.Kind)
	}
	if err != nil {
		return Result{}, f.fail(err)
	}
	res.IntentID = f.intent.ID

	// The catalog reflects the new ledger state only after a resync.
	if f.o.refresher != nil {
		if rerr := f.o.refresher.Resync(ctx, ac); rerr != nil {
			log.Warnf("resync after intent %s: %v", f.intent.ID, rerr)
		}
	}
	return res, nil
}

func (f *Flow) advance(next State, message, txHash string) error {
	f.mu.Lock()
	if !f.state.CanAdvanceTo(next) {
		cur := f.state
		f.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
	}
	f.state = next
	f.mu.Unlock()

	f.o.sink.Publish(Status{
		IntentID: f.intent.ID,
		Kind:     f.intent.Kind,
		State:    next,
		Message:  message,
		TxHash:   txHash,
		At:       time.Now(),
	})
	return nil
}

func (f *Flow) fail(err error) error {
	f.mu.Lock()
	if f.state.IsTerminal() {
		f.mu.Unlock()
		return err
	}
	f.state = StateFailed
	f.mu.Unlock()

	f.o.sink.Publish(Status{
		IntentID: f.intent.ID,
		Kind:     f.intent.Kind,
		State:    StateFailed,
		Message:  failureMessage(f.intent.Kind),
		Err:      err,
		At:       time.Now(),
	})
	return err
}

func failureMessage(kind IntentKind) string {
	switch kind {
	case IntentCreateListing:
		return "Something went wrong during listing. Please try again."
	case IntentPurchase:
		return "Transaction error"
	default:
		return "Error listing item"
	}
}

// parsePrice converts a display price and rejects zero, which the contract
// refuses.
func (f *Flow) parsePrice(s string) (*uint256.Int, error) {
	v, err := amount.ToBaseUnits(strings.TrimSpace(s), f.o.exponent)
	if err != nil {
		return nil, err
	}
	if v.IsZero() {
		return nil, fmt.Errorf("%w: price must be greater than zero", amount.ErrInvalidAmount)
	}
	return v, nil
}

func (f *Flow) createListing(ctx context.Context, ac session.AccessContext) (Result, error) {
	in := f.intent.Listing
	name := strings.TrimSpace(in.Name)
	description := strings.TrimSpace(in.Description)
	hasAsset := in.AssetLocator != "" || len(in.Asset) > 0
	if name == "" || description == "" || strings.TrimSpace(in.Price) == "" || !hasAsset {
		return Result{}, fmt.Errorf("%w: name, description, price and an asset are required", ErrIncompleteInput)
	}
	if err := ac.RequireAuthenticated(); err != nil {
		return Result{}, err
	}
	price, err := f.parsePrice(in.Price)
	if err != nil {
		return Result{}, err
	}
	if f.o.uploader == nil {
		return Result{}, fmt.Errorf("%w: no uploader configured", storage.ErrUploadFailed)
	}

	if err := f.advance(StatePreparing, "Preparing your item...", ""); err != nil {
		return Result{}, err
	}

	res := Result{AssetLocator: in.AssetLocator}
	uploadMsg := "Uploading metadata... please wait"
	if res.AssetLocator == "" {
		uploadMsg = "Uploading image... please wait"
	}
	if err := f.advance(StateAwaitingUpload, uploadMsg, ""); err != nil {
		return Result{}, err
	}
	if res.AssetLocator == "" {
		up, err := f.o.uploader.UploadBlob(ctx, in.AssetName, in.Asset)
		if err != nil {
			return Result{}, err
		}
		res.AssetLocator = up.Locator
	}

	doc := catalog.MetadataDocument{
		Name:        name,
		Description: description,
		Image:       res.AssetLocator,
		Category:    strings.TrimSpace(in.Category),
		Price:       amount.ToDecimalString(price, f.o.exponent),
	}
	meta, err := f.o.uploader.UploadJSON(ctx, "metadata.json", doc)
	if err != nil {
		return Result{}, err
	}
	res.MetadataLocator = meta.Locator

	if err := f.advance(StateAwaitingSubmission, "Listing your item (takes a few moments)... please wait", ""); err != nil {
		return Result{}, err
	}
	fee, err := f.o.ledger.ListingFee(ctx, ac)
	if err != nil {
		return Result{}, fmt.Errorf("read listing fee: %w", err)
	}
	tx, err := f.o.ledger.CreateListing(ctx, ac, res.MetadataLocator, price, fee)
	if err != nil {
		return Result{}, err
	}

	return f.confirm(ctx, tx, res, "Successfully listed your item!")
}

func (f *Flow) purchase(ctx context.Context, ac session.AccessContext) (Result, error) {
	item := f.intent.Item
	if err := ac.RequireAuthenticated(); err != nil {
		return Result{}, err
	}
	if ac.Identity.Equal(item.Owner) || ac.Identity.Equal(item.Seller) {
		return Result{}, fmt.Errorf("%w: token %d", ErrSelfTransaction, item.TokenID)
	}
	if !item.CurrentlyListed {
		return Result{}, fmt.Errorf("%w: token %d", ErrNotListed, item.TokenID)
	}
	price := item.Price
	if price == nil {
		var err error
		if price, err = amount.ToBaseUnits(item.PriceDecimal, f.o.exponent); err != nil {
			return Result{}, err
		}
	}

	if err := f.advance(StatePreparing, "Preparing your purchase...", ""); err != nil {
		return Result{}, err
	}
	if err := f.advance(StateAwaitingSubmission, "Processing your purchase... Please Wait (Up to 5 mins)", ""); err != nil {
		return Result{}, err
	}
	tx, err := f.o.ledger.ExecutePurchase(ctx, ac, item.TokenID, price)
	if err != nil {
		return Result{}, err
	}

	return f.confirm(ctx, tx, Result{}, "You successfully purchased this item!")
}

func (f *Flow) resell(ctx context.Context, ac session.AccessContext) (Result, error) {
	item := f.intent.Item
	if err := ac.RequireAuthenticated(); err != nil {
		return Result{}, err
	}
	if !ac.Identity.Equal(item.Owner) {
		return Result{}, fmt.Errorf("%w: token %d is owned by %s", ErrNotOwner, item.TokenID, item.Owner.Short())
	}
	if strings.TrimSpace(f.intent.NewPrice) == "" {
		return Result{}, fmt.Errorf("%w: a new price is required", ErrIncompleteInput)
	}
	price, err := f.parsePrice(f.intent.NewPrice)
	if err != nil {
		return Result{}, err
	}

	if err := f.advance(StatePreparing, "Preparing your item...", ""); err != nil {
		return Result{}, err
	}
	if err := f.advance(StateAwaitingSubmission, "Listing your item for sale... please wait", ""); err != nil {
		return Result{}, err
	}
	fee, err := f.o.ledger.ListingFee(ctx, ac)
	if err != nil {
		return Result{}, fmt.Errorf("read listing fee: %w", err)
	}
	tx, err := f.o.ledger.Resell(ctx, ac, item.TokenID, price, fee)
	if err != nil {
		return Result{}, err
	}

	msg := fmt.Sprintf("Item listed for sale at %s %s", amount.ToDecimalString(price, f.o.exponent), f.o.symbol)
	return f.confirm(ctx, tx, Result{}, msg)
}

func (f *Flow) confirm(ctx context.Context, tx ledger.Tx, res Result, successMsg string) (Result, error) {
	res.TxHash = tx.Hash()
	if err := f.advance(StateAwaitingConfirmation, "Waiting for confirmation...", res.TxHash); err != nil {
		return Result{}, err
	}
	receipt, err := tx.Wait(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("transaction %s: %w", res.TxHash, err)
	}
	res.BlockNumber = receipt.BlockNumber
	if err := f.advance(StateSucceeded, successMsg, res.TxHash); err != nil {
		return Result{}, err
	}
	return res, nil
}
