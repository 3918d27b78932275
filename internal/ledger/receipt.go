package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// receiptSource is the part of ethclient.Client a pending transaction needs.
type receiptSource interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

var errNotMined = errors.New("not mined yet")

type pendingTx struct {
	hash     common.Hash
	method   string
	backend  receiptSource
	depth    uint64
	interval time.Duration
	maxWait  time.Duration
}

func (t *pendingTx) Hash() string {
	return t.hash.Hex()
}

// Wait polls eth_getTransactionReceipt until the transaction is mined and
// buried under the configured number of blocks. A reverted receipt ends the
// wait with ErrTransactionRejected.
func (t *pendingTx) Wait(ctx context.Context) (*Receipt, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.interval
	b.MaxInterval = 15 * time.Second
	if b.MaxInterval < t.interval {
		b.MaxInterval = t.interval
	}
	b.MaxElapsedTime = t.maxWait

	var receipt *Receipt
	op := func() error {
		r, err := t.backend.TransactionReceipt(ctx, t.hash)
		if errors.Is(err, ethereum.NotFound) {
			return errNotMined
		}
		if err != nil {
			return err
		}
		if r.Status != types.ReceiptStatusSuccessful {
			return backoff.Permanent(fmt.Errorf("%w: %s %s reverted", ErrTransactionRejected, t.method, t.hash.Hex()))
		}
		if r.BlockNumber == nil {
			return errNotMined
		}

		mined := r.BlockNumber.Uint64()
		head, err := t.backend.BlockNumber(ctx)
		if err != nil {
			return err
		}
		if head < mined {
			return fmt.Errorf("head %d behind receipt block %d", head, mined)
		}
		confirmations := head - mined + 1
		if confirmations < t.depth {
			return fmt.Errorf("%d/%d confirmations", confirmations, t.depth)
		}

		receipt = &Receipt{
			TxHash:        t.hash.Hex(),
			BlockNumber:   mined,
			GasUsed:       r.GasUsed,
			Confirmations: confirmations,
		}
		return nil
	}

	notify := func(err error, next time.Duration) {
		log.Debugf("waiting for %s: %v, next poll in %s", t.hash.Hex(), err, next)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		if errors.Is(err, ErrTransactionRejected) {
			log.Warnf("%s", err)
			return nil, err
		}
		return nil, fmt.Errorf("waiting for %s: %w", t.hash.Hex(), err)
	}

	log.Infof("%s %s confirmed in block %d", t.method, t.hash.Hex(), receipt.BlockNumber)
	return receipt, nil
}
