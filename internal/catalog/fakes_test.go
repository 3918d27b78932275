package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/Xzeius/decentralised-marketspace/internal/amount"
	"github.com/Xzeius/decentralised-marketspace/internal/ledger"
	"github.com/Xzeius/decentralised-marketspace/internal/session"
)

var (
	anon   = session.Anonymous("https://rpc.example", 11155111)
	seller = session.Identity("0x1111111111111111111111111111111111111111")
)

type fakeReader struct {
	mu        sync.Mutex
	records   []ledger.ListingRecord
	pointers  map[uint64]string
	listErr   error
	calls     map[string]int
	enumerate func(call int) // runs under mu inside AllListings
}

func newFakeReader() *fakeReader {
	return &fakeReader{pointers: make(map[uint64]string), calls: make(map[string]int)}
}

func (r *fakeReader) count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[method]
}

func (r *fakeReader) record(method string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[method]++
}

func (r *fakeReader) AllListings(ctx context.Context, ac session.AccessContext) ([]ledger.ListingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["AllListings"]++
	if r.enumerate != nil {
		r.enumerate(r.calls["AllListings"])
	}
	if r.listErr != nil {
		return nil, r.listErr
	}
	return append([]ledger.ListingRecord(nil), r.records...), nil
}

func (r *fakeReader) OwnedListings(ctx context.Context, ac session.AccessContext) ([]ledger.ListingRecord, error) {
	r.record("OwnedListings")
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ledger.ListingRecord
	for _, rec := range r.records {
		if rec.Owner.Equal(ac.Identity) || rec.Seller.Equal(ac.Identity) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeReader) Listing(ctx context.Context, ac session.AccessContext, tokenID uint64) (ledger.ListingRecord, error) {
	r.record("Listing")
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.TokenID == tokenID {
			return rec, nil
		}
	}
	return ledger.ListingRecord{}, fmt.Errorf("%w: no token %d", ledger.ErrCallFailed, tokenID)
}

func (r *fakeReader) MetadataPointer(ctx context.Context, ac session.AccessContext, tokenID uint64) (string, error) {
	r.record("MetadataPointer")
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pointers[tokenID]
	if !ok {
		return "", fmt.Errorf("%w: tokenURI(%d) reverted", ledger.ErrCallFailed, tokenID)
	}
	return p, nil
}

func (r *fakeReader) ListingFee(ctx context.Context, ac session.AccessContext) (*uint256.Int, error) {
	r.record("ListingFee")
	return uint256.NewInt(1), nil
}

// add lists a token with metadata at ipfs://meta<id>.
func (r *fakeReader) add(id uint64, price string, owner session.Identity) {
	wei, err := amount.ToBaseUnits(price, amount.EtherExponent)
	if err != nil {
		panic(err)
	}
	r.records = append(r.records, ledger.ListingRecord{
		TokenID:         id,
		Owner:           owner,
		Seller:          seller,
		Price:           wei,
		CurrentlyListed: true,
	})
	r.pointers[id] = fmt.Sprintf("ipfs://meta%d", id)
}

type fakeFetcher struct {
	mu     sync.Mutex
	docs   map[string]string
	calls  int
	active int
	peak   int
	hold   chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{docs: make(map[string]string)}
}

func (f *fakeFetcher) Get(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	doc, ok := f.docs[url]
	hold := f.hold
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, errors.New("gateway returned HTTP 504")
	}
	return []byte(doc), nil
}

func (f *fakeFetcher) doc(id uint64, name, description string) {
	f.docs[fmt.Sprintf("https://nftstorage.link/ipfs/meta%d", id)] = fmt.Sprintf(
		`{"name":%q,"description":%q,"image":"ipfs://img%d/pic.png","price":"1"}`, name, description, id)
}
