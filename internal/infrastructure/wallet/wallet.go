package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/twannasleep/nerd-swap/internal/domain/entities"
	ethclient "github.com/twannasleep/nerd-swap/internal/infrastructure/ethereum"
)

const receiptPollInterval = 2 * time.Second

// CallRequest is a contract call to be signed and broadcast.
type CallRequest struct {
	To    common.Address
	Data  []byte
	Value *big.Int
	// GasLimit overrides estimation when nonzero.
	GasLimit uint64
}

// ReceiptEvent reports the terminal state of a watched transaction.
type ReceiptEvent struct {
	Hash    common.Hash
	Success bool
	GasUsed uint64
	Err     error
	MinedAt time.Time
}

// Provider exposes the connected account (or its absence), transaction
// submission, and receipt subscription keyed by transaction hash.
type Provider interface {
	Account() (common.Address, bool)
	SubmitCall(ctx context.Context, call CallRequest) (common.Hash, error)
	WatchReceipt(ctx context.Context, hash common.Hash) <-chan ReceiptEvent
}

// KeyWallet signs with a locally held private key. An empty key models the
// disconnected state: Account reports absence and submission fails fast.
type KeyWallet struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// NewKeyWallet creates a wallet from a hex-encoded private key. hexKey may
// be empty for a disconnected wallet.
func NewKeyWallet(client *ethclient.Client, hexKey string) (*KeyWallet, error) {
	w := &KeyWallet{client: client, chainID: client.ChainID()}
	if hexKey == "" {
		return w, nil
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet key: %w", err)
	}
	w.key = key
	w.address = crypto.PubkeyToAddress(key.PublicKey)
	return w, nil
}

// Account returns the connected address, or false when no key is loaded.
func (w *KeyWallet) Account() (common.Address, bool) {
	if w.key == nil {
		return common.Address{}, false
	}
	return w.address, true
}

// SubmitCall signs and broadcasts the call, returning the transaction hash.
// It does not wait for inclusion.
func (w *KeyWallet) SubmitCall(ctx context.Context, call CallRequest) (common.Hash, error) {
	if w.key == nil {
		return common.Hash{}, entities.ErrNoAccount
	}

	nonce, err := w.client.PendingNonceAt(ctx, w.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := w.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch gas price: %w", err)
	}

	gasLimit := call.GasLimit
	if gasLimit == 0 {
		gasLimit, err = w.client.EstimateGas(ctx, goethereum.CallMsg{
			From:  w.address,
			To:    &call.To,
			Value: call.Value,
			Data:  call.Data,
		})
		if err != nil {
			// Estimation failing usually means the call would revert.
			return common.Hash{}, fmt.Errorf("%w: %v", entities.ErrTransactionRejected, err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &call.To,
		Value:    call.Value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     call.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(w.chainID), w.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := w.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", entities.ErrTransactionRejected, err)
	}
	return signed.Hash(), nil
}

// WatchReceipt polls for the transaction receipt and delivers exactly one
// event before closing the channel. Cancelling ctx abandons the watch.
func (w *KeyWallet) WatchReceipt(ctx context.Context, hash common.Hash) <-chan ReceiptEvent {
	events := make(chan ReceiptEvent, 1)
	go func() {
		defer close(events)
		ticker := time.NewTicker(receiptPollInterval)
		defer ticker.Stop()
		for {
			receipt, err := w.client.TransactionReceipt(ctx, hash)
			if err == nil && receipt != nil {
				events <- ReceiptEvent{
					Hash:    hash,
					Success: receipt.Status == types.ReceiptStatusSuccessful,
					GasUsed: receipt.GasUsed,
					MinedAt: time.Now(),
				}
				return
			}
			select {
			case <-ctx.Done():
				events <- ReceiptEvent{Hash: hash, Err: ctx.Err()}
				return
			case <-ticker.C:
			}
		}
	}()
	return events
}
