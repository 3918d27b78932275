package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Xzeius/decentralised-marketspace/internal/catalog"
	"github.com/Xzeius/decentralised-marketspace/internal/config"
	"github.com/Xzeius/decentralised-marketspace/internal/gateway"
	"github.com/Xzeius/decentralised-marketspace/internal/ipfsuri"
	"github.com/Xzeius/decentralised-marketspace/internal/ledger"
	"github.com/Xzeius/decentralised-marketspace/internal/session"
	"github.com/Xzeius/decentralised-marketspace/internal/storage"
	"github.com/Xzeius/decentralised-marketspace/internal/storefront"
)

// app holds the components every command shares.
type app struct {
	cfg      *config.Config
	wallet   *ledger.KeyWallet
	client   *ledger.Client
	fetcher  *gateway.Fetcher
	pipeline *catalog.Pipeline
	metrics  *catalog.Metrics
	selector session.Selector
}

// newApp wires the ledger client, gateway fetcher and catalog pipeline. reg
// may be nil.
func newApp(cfg *config.Config, reg prometheus.Registerer) (*app, error) {
	if err := cfg.RequireContract(); err != nil {
		return nil, err
	}

	a := &app{
		cfg: cfg,
		selector: session.Selector{
			PublicEndpoint:  cfg.Ledger.PublicRPC,
			WalletEndpoint:  cfg.WalletEndpoint(),
			ExpectedChainID: cfg.Ledger.ChainID,
		},
	}

	key, err := cfg.Wallet.PrivateKey()
	if err != nil {
		return nil, err
	}
	var signer ledger.Wallet
	if key != "" {
		if a.wallet, err = ledger.NewKeyWallet(key); err != nil {
			return nil, err
		}
		signer = a.wallet
		log.Debugf("using wallet %s", a.wallet.Identity().Short())
	}

	a.client, err = ledger.NewClient(ledger.Config{
		Contract:       common.HexToAddress(cfg.Ledger.Contract),
		Confirmations:  cfg.Ledger.Confirmations,
		ReceiptPollMax: cfg.Ledger.ReceiptPollMax,
	}, signer)
	if err != nil {
		return nil, err
	}

	a.fetcher, err = gateway.NewFetcher(gateway.Config{
		SOCKSProxy: cfg.Gateway.SOCKSProxy,
		ProxyMode:  gateway.ProxyMode(cfg.Gateway.ProxyMode),
		Timeout:    cfg.Gateway.Timeout,
		MaxBytes:   cfg.Gateway.MaxMetadataBytes,
		RateLimit: gateway.RateLimitConfig{
			RequestsPerSecond: cfg.Gateway.RequestsPerSecond,
			Burst:             cfg.Gateway.Burst,
		},
	})
	if err != nil {
		a.client.Close()
		return nil, fmt.Errorf("failed to create gateway fetcher: %w", err)
	}

	a.metrics = catalog.NewMetrics(reg)
	a.pipeline = catalog.NewPipeline(a.client, a.fetcher, catalog.PipelineConfig{
		Workers:      cfg.Catalog.Workers,
		UnitExponent: cfg.Ledger.UnitExponent,
		Resolver:     ipfsuri.NewResolver(cfg.Gateway.Canonical, cfg.Gateway.Extra...),
		Metrics:      a.metrics,
	})
	return a, nil
}

func (a *app) Close() {
	a.fetcher.Close()
	a.client.Close()
}

// provider returns the session provider for the configured wallet. Without a
// wallet the provider reports no accounts.
func (a *app) provider() session.Provider {
	if a.wallet != nil {
		return a.wallet.Provider(a.client, a.selector.WalletEndpoint)
	}
	return &readOnlyProvider{client: a.client, endpoint: a.selector.PublicEndpoint}
}

// accessContext observes the wallet once and selects the context for a
// one-shot command.
func (a *app) accessContext(ctx context.Context) session.AccessContext {
	p := a.provider()
	accounts, err := p.Accounts(ctx)
	if err != nil || len(accounts) == 0 {
		return a.selector.Select(session.State{})
	}
	chainID, err := p.ChainID(ctx)
	if err != nil {
		log.Warnf("could not read wallet chain id: %v", err)
	}
	ac := a.selector.Select(session.State{Connected: true, Identity: accounts[0], ChainID: chainID})
	if !ac.IsAuthenticated() {
		log.Warnf("wallet is on chain %d, expected %d; continuing read-only", chainID, a.selector.ExpectedChainID)
	}
	return ac
}

func (a *app) orchestrator(sink storefront.StatusSink, refresher session.Refresher) *storefront.Orchestrator {
	uploader := storage.NewIPFSUploader(storage.Config{
		APIEndpoint: a.cfg.Storage.APIEndpoint,
		APIToken:    a.cfg.Storage.APIToken,
		VerifyCIDs:  a.cfg.Storage.VerifyCIDs,
	}, nil)
	return storefront.NewOrchestrator(storefront.Config{
		Ledger:       a.client,
		Uploader:     uploader,
		Refresher:    refresher,
		Sink:         sink,
		UnitExponent: a.cfg.Ledger.UnitExponent,
		UnitSymbol:   a.cfg.Ledger.UnitSymbol,
	})
}

type readOnlyProvider struct {
	client   *ledger.Client
	endpoint string
}

func (p *readOnlyProvider) Accounts(ctx context.Context) ([]session.Identity, error) {
	return nil, nil
}

func (p *readOnlyProvider) ChainID(ctx context.Context) (uint64, error) {
	return p.client.ChainID(ctx, p.endpoint)
}
