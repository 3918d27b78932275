package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Xzeius/decentralised-marketspace/internal/session"
)

// Wallet signs transactions for a single account.
type Wallet interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// KeyWallet is a Wallet backed by a local secp256k1 key.
type KeyWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeyWallet parses a hex-encoded private key, with or without 0x.
func NewKeyWallet(hexKey string) (*KeyWallet, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &KeyWallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (w *KeyWallet) Address() common.Address {
	return w.address
}

// Identity returns the wallet address as a session identity.
func (w *KeyWallet) Identity() session.Identity {
	return session.Identity(w.address.Hex())
}

func (w *KeyWallet) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), w.key)
}

// Provider exposes the wallet as a session provider. The chain is whatever
// endpoint reports, the way a browser wallet reports the network it is on.
func (w *KeyWallet) Provider(client *Client, endpoint string) session.Provider {
	return &walletProvider{wallet: w, client: client, endpoint: endpoint}
}

type walletProvider struct {
	wallet   *KeyWallet
	client   *Client
	endpoint string
}

func (p *walletProvider) Accounts(ctx context.Context) ([]session.Identity, error) {
	return []session.Identity{p.wallet.Identity()}, nil
}

func (p *walletProvider) ChainID(ctx context.Context) (uint64, error) {
	return p.client.ChainID(ctx, p.endpoint)
}
