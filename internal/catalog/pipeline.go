package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/Xzeius/decentralised-marketspace/internal/amount"
	"github.com/Xzeius/decentralised-marketspace/internal/ipfsuri"
	"github.com/Xzeius/decentralised-marketspace/internal/ledger"
	"github.com/Xzeius/decentralised-marketspace/internal/session"
)

// DefaultWorkers bounds concurrent metadata fetches.
const DefaultWorkers = 8

// Fetcher retrieves a resolved metadata URL.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	Workers      int
	UnitExponent int
	Resolver     *ipfsuri.Resolver
	Metrics      *Metrics
}

// Pipeline turns ledger listings into catalog items.
type Pipeline struct {
	reader   ledger.Reader
	fetcher  Fetcher
	resolver *ipfsuri.Resolver
	workers  int
	exponent int
	metrics  *Metrics
}

// NewPipeline creates a pipeline reading from reader and fetching metadata
// through fetcher.
func NewPipeline(reader ledger.Reader, fetcher Fetcher, cfg PipelineConfig) *Pipeline {
	if cfg.Workers < 1 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Resolver == nil {
		cfg.Resolver = ipfsuri.NewResolver(ipfsuri.DefaultGateway)
	}
	if cfg.UnitExponent == 0 {
		cfg.UnitExponent = amount.EtherExponent
	}
	return &Pipeline{
		reader:   reader,
		fetcher:  fetcher,
		resolver: cfg.Resolver,
		workers:  cfg.Workers,
		exponent: cfg.UnitExponent,
		metrics:  cfg.Metrics,
	}
}

// Sync enumerates every listing under ac and builds the items whose metadata
// could be fetched. Items come back in enumeration order. failed counts the
// listings that were dropped; err is only set when the enumeration itself
// fails or ctx ends.
func (p *Pipeline) Sync(ctx context.Context, ac session.AccessContext) (items []Item, failed int, err error) {
	start := time.Now()
	defer func() { p.metrics.observeSync("all", start, failed, err) }()

	records, err := p.reader.AllListings(ctx, ac)
	if err != nil {
		return nil, 0, fmt.Errorf("enumerate listings: %w", err)
	}
	return p.build(ctx, ac, records)
}

// Owned builds the items the session identity owns or sells.
func (p *Pipeline) Owned(ctx context.Context, ac session.AccessContext) (items []Item, failed int, err error) {
	start := time.Now()
	defer func() { p.metrics.observeSync("owned", start, failed, err) }()

	if err := ac.RequireAuthenticated(); err != nil {
		return nil, 0, err
	}
	records, err := p.reader.OwnedListings(ctx, ac)
	if err != nil {
		return nil, 0, fmt.Errorf("enumerate owned listings: %w", err)
	}
	return p.build(ctx, ac, records)
}

// Item builds a single listing. Unlike Sync, a metadata failure is returned.
func (p *Pipeline) Item(ctx context.Context, ac session.AccessContext, tokenID uint64) (Item, error) {
	rec, err := p.reader.Listing(ctx, ac, tokenID)
	if err != nil {
		return Item{}, fmt.Errorf("read listing %d: %w", tokenID, err)
	}
	return p.buildItem(ctx, ac, rec)
}

func (p *Pipeline) build(ctx context.Context, ac session.AccessContext, records []ledger.ListingRecord) ([]Item, int, error) {
	if len(records) == 0 {
		return []Item{}, 0, nil
	}

	// Each worker owns one slot; nil marks a dropped listing.
	slots := make([]*Item, len(records))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			item, err := p.buildItem(ctx, ac, rec)
			if err != nil {
				log.Warnf("dropping token %d: %v", rec.TokenID, err)
				return nil
			}
			slots[i] = &item
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	items := make([]Item, 0, len(records))
	for _, it := range slots {
		if it != nil {
			items = append(items, *it)
		}
	}
	failed := len(records) - len(items)
	if failed > 0 {
		log.Infof("built %d items, %d listings dropped", len(items), failed)
	}
	return items, failed, nil
}

func (p *Pipeline) buildItem(ctx context.Context, ac session.AccessContext, rec ledger.ListingRecord) (Item, error) {
	pointer, err := p.reader.MetadataPointer(ctx, ac, rec.TokenID)
	if err != nil {
		return Item{}, fmt.Errorf("%w: token %d: %w", ErrMetadataFetch, rec.TokenID, err)
	}
	url := p.resolver.Resolve(pointer)
	if url == "" {
		return Item{}, fmt.Errorf("%w: token %d has no metadata pointer", ErrMetadataFetch, rec.TokenID)
	}

	body, err := p.fetcher.Get(ctx, url)
	if err != nil {
		return Item{}, fmt.Errorf("%w: %s: %w", ErrMetadataFetch, describe(rec.TokenID, pointer), err)
	}
	doc, err := DecodeMetadata(body)
	if err != nil {
		return Item{}, fmt.Errorf("%w: %s: %w", ErrMetadataFetch, describe(rec.TokenID, pointer), err)
	}

	return Item{
		ListingRecord: rec,
		Metadata:      doc,
		PriceDecimal:  amount.ToDecimalString(rec.Price, p.exponent),
		ImageURL:      p.resolver.Resolve(doc.Image),
		MetadataURL:   url,
	}, nil
}

// describe names a token and, when the pointer carries one, the root CID of
// its metadata so a dropped listing can be looked up on any gateway.
func describe(tokenID uint64, pointer string) string {
	root, err := ipfsuri.RootCID(pointer)
	if err != nil {
		return fmt.Sprintf("token %d", tokenID)
	}
	return fmt.Sprintf("token %d (root %s)", tokenID, root)
}

// TotalValue sums the ledger prices of items in base units.
func TotalValue(items []Item) *uint256.Int {
	prices := make([]*uint256.Int, 0, len(items))
	for _, it := range items {
		prices = append(prices, it.Price)
	}
	return amount.Sum(prices...)
}
