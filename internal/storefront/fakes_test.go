package storefront

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/Xzeius/decentralised-marketspace/internal/catalog"
	"github.com/Xzeius/decentralised-marketspace/internal/ledger"
	"github.com/Xzeius/decentralised-marketspace/internal/session"
	"github.com/Xzeius/decentralised-marketspace/internal/storage"
)

const endpoint = "http://wallet.invalid"

var (
	alice = session.Identity("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	bob   = session.Identity("0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB")
	shop  = session.Identity("0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC")
)

type write struct {
	method  string
	tokenID uint64
	locator string
	price   string
	value   string
}

type fakeTx struct {
	hash    string
	waitErr error
}

func (t *fakeTx) Hash() string { return t.hash }

func (t *fakeTx) Wait(ctx context.Context) (*ledger.Receipt, error) {
	if t.waitErr != nil {
		return nil, t.waitErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &ledger.Receipt{TxHash: t.hash, BlockNumber: 42, Confirmations: 1}, nil
}

type fakeLedger struct {
	mu        sync.Mutex
	fee       *uint256.Int
	feeReads  int
	writes    []write
	submitErr error
	waitErr   error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{fee: uint256.NewInt(10_000_000_000_000_000)}
}

func (l *fakeLedger) AllListings(ctx context.Context, ac session.AccessContext) ([]ledger.ListingRecord, error) {
	return nil, errors.New("not used")
}

func (l *fakeLedger) OwnedListings(ctx context.Context, ac session.AccessContext) ([]ledger.ListingRecord, error) {
	return nil, errors.New("not used")
}

func (l *fakeLedger) Listing(ctx context.Context, ac session.AccessContext, tokenID uint64) (ledger.ListingRecord, error) {
	return ledger.ListingRecord{}, errors.New("not used")
}

func (l *fakeLedger) MetadataPointer(ctx context.Context, ac session.AccessContext, tokenID uint64) (string, error) {
	return "", errors.New("not used")
}

func (l *fakeLedger) ListingFee(ctx context.Context, ac session.AccessContext) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.feeReads++
	return new(uint256.Int).Set(l.fee), nil
}

func (l *fakeLedger) submit(w write) (ledger.Tx, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.submitErr != nil {
		return nil, l.submitErr
	}
	l.writes = append(l.writes, w)
	return &fakeTx{hash: fmt.Sprintf("0x%064x", len(l.writes)), waitErr: l.waitErr}, nil
}

func (l *fakeLedger) CreateListing(ctx context.Context, ac session.AccessContext, metadataLocator string, price, fee *uint256.Int) (ledger.Tx, error) {
	return l.submit(write{method: "createToken", locator: metadataLocator, price: price.ToBig().String(), value: fee.ToBig().String()})
}

func (l *fakeLedger) ExecutePurchase(ctx context.Context, ac session.AccessContext, tokenID uint64, price *uint256.Int) (ledger.Tx, error) {
	return l.submit(write{method: "executeSale", tokenID: tokenID, value: price.ToBig().String()})
}

func (l *fakeLedger) Resell(ctx context.Context, ac session.AccessContext, tokenID uint64, price, fee *uint256.Int) (ledger.Tx, error) {
	return l.submit(write{method: "resellToken", tokenID: tokenID, price: price.ToBig().String(), value: fee.ToBig().String()})
}

func (l *fakeLedger) snapshot() ([]write, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]write(nil), l.writes...), l.feeReads
}

type fakeUploader struct {
	mu    sync.Mutex
	blobs []string
	docs  []interface{}
	err   error
}

func (u *fakeUploader) UploadBlob(ctx context.Context, name string, data []byte) (storage.Upload, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return storage.Upload{}, u.err
	}
	u.blobs = append(u.blobs, name)
	return storage.Upload{Locator: "ipfs://bafyimage", Size: len(data)}, nil
}

func (u *fakeUploader) UploadJSON(ctx context.Context, name string, doc interface{}) (storage.Upload, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return storage.Upload{}, u.err
	}
	u.docs = append(u.docs, doc)
	return storage.Upload{Locator: "ipfs://bafymeta"}, nil
}

type fakeRefresher struct {
	mu      sync.Mutex
	resyncs []session.AccessContext
}

func (r *fakeRefresher) Resync(ctx context.Context, ac session.AccessContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resyncs = append(r.resyncs, ac)
	return nil
}

func (r *fakeRefresher) Prepare(ac session.AccessContext) func(ctx context.Context) error {
	return func(ctx context.Context) error { return r.Resync(ctx, ac) }
}

func (r *fakeRefresher) Reset() {}

func (r *fakeRefresher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resyncs)
}

type recorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *recorder) Publish(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.statuses))
	for i, s := range r.statuses {
		out[i] = s.State
	}
	return out
}

func (r *recorder) last() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[len(r.statuses)-1]
}

type harness struct {
	ledger    *fakeLedger
	uploader  *fakeUploader
	refresher *fakeRefresher
	sink      *recorder
	orch      *Orchestrator
}

func newHarness() *harness {
	h := &harness{
		ledger:    newFakeLedger(),
		uploader:  &fakeUploader{},
		refresher: &fakeRefresher{},
		sink:      &recorder{},
	}
	h.orch = NewOrchestrator(Config{
		Ledger:    h.ledger,
		Uploader:  h.uploader,
		Refresher: h.refresher,
		Sink:      h.sink,
	})
	return h
}

// run drives intent through a fresh flow.
func (h *harness) run(ac session.AccessContext, intent Intent) (Result, error) {
	return h.orch.Begin(intent).Run(context.Background(), ac)
}

func listedItem(id uint64, owner, seller session.Identity, price string) catalog.Item {
	it := catalog.Item{PriceDecimal: price}
	it.TokenID = id
	it.Owner = owner
	it.Seller = seller
	it.CurrentlyListed = true
	it.Metadata = catalog.MetadataDocument{Name: fmt.Sprintf("item %d", id)}
	return it
}
