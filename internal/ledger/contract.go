package ledger

import (
	"context"
	_ "embed"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	logging "github.com/ipfs/go-log/v2"

	"github.com/Xzeius/decentralised-marketspace/internal/session"
)

var log = logging.Logger("ledger")

//go:embed marketplace.abi.json
var marketplaceABI string

// Config holds contract and confirmation settings.
type Config struct {
	Contract common.Address
	// Confirmations is the depth a receipt must reach before Wait returns.
	// The including block counts as one.
	Confirmations uint64
	// ReceiptPollInterval is the first receipt poll delay; later polls back
	// off exponentially.
	ReceiptPollInterval time.Duration
	// ReceiptPollMax bounds the total wait. Zero waits until the context
	// is done.
	ReceiptPollMax time.Duration
	// HTTPClient is used for every endpoint. Nil uses the rpc package default.
	HTTPClient *http.Client
}

// Client is the go-ethereum adapter for the marketplace contract. It keeps
// one connection per endpoint so that anonymous and authenticated calls can
// be served by different nodes.
type Client struct {
	cfg    Config
	abi    abi.ABI
	wallet Wallet

	mu       sync.Mutex
	backends map[string]*ethclient.Client
}

var _ Ledger = (*Client)(nil)

// NewClient creates a contract client. wallet may be nil for a read-only
// client; writes then fail with ErrSignerMismatch.
func NewClient(cfg Config, wallet Wallet) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(marketplaceABI))
	if err != nil {
		return nil, fmt.Errorf("parse marketplace abi: %w", err)
	}
	if cfg.Contract == (common.Address{}) {
		return nil, fmt.Errorf("contract address is required")
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = 2 * time.Second
	}
	return &Client{
		cfg:      cfg,
		abi:      parsed,
		wallet:   wallet,
		backends: make(map[string]*ethclient.Client),
	}, nil
}

// Close closes every endpoint connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for endpoint, b := range c.backends {
		b.Close()
		delete(c.backends, endpoint)
	}
}

func (c *Client) backend(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("%w: no endpoint", ErrCallFailed)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.backends[endpoint]; ok {
		return b, nil
	}

	var opts []rpc.ClientOption
	if c.cfg.HTTPClient != nil {
		opts = append(opts, rpc.WithHTTPClient(c.cfg.HTTPClient))
	}
	rc, err := rpc.DialOptions(ctx, endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrCallFailed, endpoint, err)
	}
	b := ethclient.NewClient(rc)
	c.backends[endpoint] = b
	log.Debugf("connected to %s", endpoint)
	return b, nil
}

// ChainID asks endpoint which chain it serves.
func (c *Client) ChainID(ctx context.Context, endpoint string) (uint64, error) {
	b, err := c.backend(ctx, endpoint)
	if err != nil {
		return 0, err
	}
	id, err := b.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: eth_chainId: %w", ErrCallFailed, err)
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("%w: chain id %s out of range", ErrCallFailed, id)
	}
	return id.Uint64(), nil
}

func (c *Client) call(ctx context.Context, ac session.AccessContext, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: pack %s: %w", ErrCallFailed, method, err)
	}
	b, err := c.backend(ctx, ac.Endpoint)
	if err != nil {
		return nil, err
	}

	msg := ethereum.CallMsg{To: &c.cfg.Contract, Data: data}
	if ac.IsAuthenticated() {
		msg.From = common.HexToAddress(ac.Identity.String())
	}

	out, err := b.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCallFailed, method, err)
	}
	values, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrCallFailed, method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %s returned nothing", ErrCallFailed, method)
	}
	return values, nil
}

// listedToken mirrors the contract's ListedToken struct. Field names follow
// the ABI component names so abi.ConvertType can fill it.
type listedToken struct {
	TokenId         *big.Int
	Owner           common.Address
	Seller          common.Address
	Price           *big.Int
	CurrentlyListed bool
}

func (t listedToken) record() (ListingRecord, error) {
	if t.TokenId == nil || !t.TokenId.IsUint64() {
		return ListingRecord{}, fmt.Errorf("%w: token id %v out of range", ErrCallFailed, t.TokenId)
	}
	price := new(uint256.Int)
	if t.Price != nil {
		var overflow bool
		if price, overflow = uint256.FromBig(t.Price); overflow {
			return ListingRecord{}, fmt.Errorf("%w: price of token %s overflows", ErrCallFailed, t.TokenId)
		}
	}
	return ListingRecord{
		TokenID:         t.TokenId.Uint64(),
		Owner:           session.Identity(t.Owner.Hex()),
		Seller:          session.Identity(t.Seller.Hex()),
		Price:           price,
		CurrentlyListed: t.CurrentlyListed,
	}, nil
}

func (c *Client) listings(ctx context.Context, ac session.AccessContext, method string) ([]ListingRecord, error) {
	out, err := c.call(ctx, ac, method)
	if err != nil {
		return nil, err
	}
	tokens := *abi.ConvertType(out[0], new([]listedToken)).(*[]listedToken)

	records := make([]ListingRecord, 0, len(tokens))
	for _, t := range tokens {
		r, err := t.record()
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	log.Debugf("%s returned %d listings under %s", method, len(records), ac)
	return records, nil
}

// AllListings enumerates every listing in the marketplace.
func (c *Client) AllListings(ctx context.Context, ac session.AccessContext) ([]ListingRecord, error) {
	return c.listings(ctx, ac, "getAllNFTs")
}

// OwnedListings enumerates the listings owned or sold by the session
// identity. The contract keys the answer on the call sender, so an anonymous
// context is refused.
func (c *Client) OwnedListings(ctx context.Context, ac session.AccessContext) ([]ListingRecord, error) {
	if err := ac.RequireAuthenticated(); err != nil {
		return nil, err
	}
	return c.listings(ctx, ac, "getMyNFTs")
}

// Listing reads a single listing.
func (c *Client) Listing(ctx context.Context, ac session.AccessContext, tokenID uint64) (ListingRecord, error) {
	out, err := c.call(ctx, ac, "getListedTokenForId", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return ListingRecord{}, err
	}
	t := *abi.ConvertType(out[0], new(listedToken)).(*listedToken)
	return t.record()
}

// MetadataPointer reads the metadata locator of a token.
func (c *Client) MetadataPointer(ctx context.Context, ac session.AccessContext, tokenID uint64) (string, error) {
	out, err := c.call(ctx, ac, "tokenURI", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return "", err
	}
	uri, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("%w: tokenURI returned %T", ErrCallFailed, out[0])
	}
	return uri, nil
}

// ListingFee reads the current listing fee in base units.
func (c *Client) ListingFee(ctx context.Context, ac session.AccessContext) (*uint256.Int, error) {
	out, err := c.call(ctx, ac, "getListPrice")
	if err != nil {
		return nil, err
	}
	fee, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: getListPrice returned %T", ErrCallFailed, out[0])
	}
	v, overflow := uint256.FromBig(fee)
	if overflow {
		return nil, fmt.Errorf("%w: listing fee overflows", ErrCallFailed)
	}
	return v, nil
}

// CreateListing submits createToken(metadataLocator, price) paying fee.
func (c *Client) CreateListing(ctx context.Context, ac session.AccessContext, metadataLocator string, price, fee *uint256.Int) (Tx, error) {
	return c.transact(ctx, ac, fee, "createToken", metadataLocator, toBig(price))
}

// ExecutePurchase submits executeSale(tokenID) paying price.
func (c *Client) ExecutePurchase(ctx context.Context, ac session.AccessContext, tokenID uint64, price *uint256.Int) (Tx, error) {
	return c.transact(ctx, ac, price, "executeSale", new(big.Int).SetUint64(tokenID))
}

// Resell submits resellToken(tokenID, price) paying fee.
func (c *Client) Resell(ctx context.Context, ac session.AccessContext, tokenID uint64, price, fee *uint256.Int) (Tx, error) {
	return c.transact(ctx, ac, fee, "resellToken", new(big.Int).SetUint64(tokenID), toBig(price))
}

func (c *Client) transact(ctx context.Context, ac session.AccessContext, value *uint256.Int, method string, args ...interface{}) (Tx, error) {
	if err := ac.RequireAuthenticated(); err != nil {
		return nil, err
	}
	if c.wallet == nil {
		return nil, fmt.Errorf("%w: no wallet configured", ErrSignerMismatch)
	}
	from := c.wallet.Address()
	if !session.Identity(from.Hex()).Equal(ac.Identity) {
		return nil, fmt.Errorf("%w: wallet is %s, session is %s", ErrSignerMismatch, from.Hex(), ac.Identity)
	}

	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: pack %s: %w", ErrCallFailed, method, err)
	}
	b, err := c.backend(ctx, ac.Endpoint)
	if err != nil {
		return nil, err
	}

	nonce, err := b.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %w", ErrCallFailed, err)
	}
	gasPrice, err := b.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: gas price: %w", ErrCallFailed, err)
	}
	val := toBig(value)
	gas, err := b.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &c.cfg.Contract, Value: val, Data: data})
	if err != nil {
		// A failing estimate means the call would revert.
		return nil, fmt.Errorf("%w: %s: %w", ErrTransactionRejected, method, err)
	}

	chainID := ac.ChainID
	if chainID == 0 {
		if chainID, err = c.ChainID(ctx, ac.Endpoint); err != nil {
			return nil, err
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.cfg.Contract,
		Value:    val,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := c.wallet.SignTx(tx, new(big.Int).SetUint64(chainID))
	if err != nil {
		return nil, fmt.Errorf("%w: sign %s: %w", ErrSignerMismatch, method, err)
	}
	if err := b.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("%w: send %s: %w", ErrTransactionRejected, method, err)
	}

	log.Infof("submitted %s as %s (nonce %d, value %s)", method, signed.Hash().Hex(), nonce, val)
	return &pendingTx{
		hash:     signed.Hash(),
		method:   method,
		backend:  b,
		depth:    c.cfg.Confirmations,
		interval: c.cfg.ReceiptPollInterval,
		maxWait:  c.cfg.ReceiptPollMax,
	}, nil
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}
