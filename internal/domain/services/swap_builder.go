package services

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/twannasleep/nerd-swap/internal/domain/entities"
	"github.com/twannasleep/nerd-swap/internal/infrastructure/chain"
	"github.com/twannasleep/nerd-swap/internal/infrastructure/wallet"
)

// deadlineWindow tolerates testnet congestion between submission and
// inclusion.
const deadlineWindow = 30 * time.Minute

const bpsDenominator = 10000

// MinAmountOut computes the exact-in slippage bound: the least acceptable
// output. The result must be positive or the transaction is not sent.
func MinAmountOut(counterpart *big.Int, slippageBps uint64) (*big.Int, error) {
	if err := validateSlippage(slippageBps); err != nil {
		return nil, err
	}
	bound := new(big.Int).Mul(counterpart, big.NewInt(bpsDenominator-int64(slippageBps)))
	bound.Div(bound, big.NewInt(bpsDenominator))
	if bound.Sign() <= 0 {
		return nil, entities.ErrSlippageBound
	}
	return bound, nil
}

// MaxAmountIn computes the exact-out slippage bound: the most the trade may
// spend.
func MaxAmountIn(counterpart *big.Int, slippageBps uint64) (*big.Int, error) {
	if err := validateSlippage(slippageBps); err != nil {
		return nil, err
	}
	bound := new(big.Int).Mul(counterpart, big.NewInt(bpsDenominator+int64(slippageBps)))
	bound.Div(bound, big.NewInt(bpsDenominator))
	if bound.Sign() <= 0 {
		return nil, entities.ErrSlippageBound
	}
	return bound, nil
}

func validateSlippage(slippageBps uint64) error {
	// Tolerance is a percentage strictly between 0 and 100.
	if slippageBps == 0 || slippageBps >= bpsDenominator {
		return fmt.Errorf("%w: slippage %d bps out of range", entities.ErrSlippageBound, slippageBps)
	}
	return nil
}

// SwapBuilder selects the router entrypoint for a quoted trade, binds it
// with the slippage tolerance and deadline, and submits it through the
// wallet. Submission never blocks on inclusion; the receipt watch drives
// the record to its terminal state.
type SwapBuilder struct {
	provider      wallet.Provider
	tracker       *BalanceTracker
	router        common.Address
	wrappedNative common.Address
	now           func() time.Time

	onConfirmed func()
	onChange    func()

	mu     sync.Mutex
	record entities.TransactionRecord
}

// NewSwapBuilder creates the builder. onConfirmed runs after a confirmed
// swap (balance refresh); onChange fires on record transitions.
func NewSwapBuilder(provider wallet.Provider, tracker *BalanceTracker, router, wrappedNative common.Address, onConfirmed, onChange func()) *SwapBuilder {
	return &SwapBuilder{
		provider:      provider,
		tracker:       tracker,
		router:        router,
		wrappedNative: wrappedNative,
		now:           time.Now,
		onConfirmed:   onConfirmed,
		onChange:      onChange,
		record:        entities.TransactionRecord{Status: entities.TxIdle},
	}
}

// Record returns a copy of the current swap transaction record.
func (b *SwapBuilder) Record() entities.TransactionRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.record
}

// InFlight reports whether a swap is submitted but not yet settled.
func (b *SwapBuilder) InFlight() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.record.Status == entities.TxSubmitting || b.record.Status == entities.TxPendingConfirmation
}

// BuildSwap validates preconditions and constructs the router call for the
// quoted trade. Integer amounts are re-derived from the decimal strings
// here, at the transaction boundary; display floats never reach the
// arguments.
func (b *SwapBuilder) BuildSwap(st QuoteState, slippageBps uint64, recipient common.Address) (wallet.CallRequest, string, error) {
	if st.Quote == nil {
		return wallet.CallRequest{}, "", entities.ErrNoQuote
	}

	inputAmount := st.InputAmount
	outputAmount := st.DerivedOutput
	if st.Mode == entities.ExactOut {
		inputAmount = st.DerivedInput
		outputAmount = st.OutputAmount
	}
	if inputAmount == "" || outputAmount == "" {
		return wallet.CallRequest{}, "", entities.ErrNoQuote
	}

	amountIn, err := entities.ParseUnits(inputAmount, st.InputDecimals)
	if err != nil {
		return wallet.CallRequest{}, "", err
	}
	if amountIn.Sign() <= 0 {
		return wallet.CallRequest{}, "", fmt.Errorf("%w: zero amount", entities.ErrParse)
	}
	amountOut, err := entities.ParseUnits(outputAmount, st.OutputDecimals)
	if err != nil {
		return wallet.CallRequest{}, "", err
	}

	balance := b.tracker.BalanceOf(st.TokenIn)
	if balance.Raw != nil && amountIn.Cmp(balance.Raw) > 0 {
		return wallet.CallRequest{}, "", entities.ErrInsufficientBalance
	}

	path := []common.Address{
		st.TokenIn.Routable(b.wrappedNative),
		st.TokenOut.Routable(b.wrappedNative),
	}
	deadline := big.NewInt(b.now().Add(deadlineWindow).Unix())
	nativeIn := st.TokenIn.IsNative()
	nativeOut := st.TokenOut.IsNative()
	routerABI := chain.RouterABI()

	var call wallet.CallRequest
	call.To = b.router

	if st.Mode == entities.ExactIn {
		minOut, err := MinAmountOut(amountOut, slippageBps)
		if err != nil {
			return wallet.CallRequest{}, "", err
		}
		switch {
		case nativeIn:
			call.Data, err = routerABI.Pack("swapExactETHForTokens", minOut, path, recipient, deadline)
			call.Value = amountIn
		case nativeOut:
			call.Data, err = routerABI.Pack("swapExactTokensForETH", amountIn, minOut, path, recipient, deadline)
		default:
			call.Data, err = routerABI.Pack("swapExactTokensForTokens", amountIn, minOut, path, recipient, deadline)
		}
		if err != nil {
			return wallet.CallRequest{}, "", fmt.Errorf("pack swap: %w", err)
		}
		summary := fmt.Sprintf("Swapping %s %s to %s", inputAmount, st.TokenIn.Symbol, st.TokenOut.Symbol)
		return call, summary, nil
	}

	maxIn, err := MaxAmountIn(amountIn, slippageBps)
	if err != nil {
		return wallet.CallRequest{}, "", err
	}
	switch {
	case nativeIn:
		call.Data, err = routerABI.Pack("swapETHForExactTokens", amountOut, path, recipient, deadline)
		call.Value = maxIn
	case nativeOut:
		call.Data, err = routerABI.Pack("swapTokensForExactETH", amountOut, maxIn, path, recipient, deadline)
	default:
		call.Data, err = routerABI.Pack("swapTokensForExactTokens", amountOut, maxIn, path, recipient, deadline)
	}
	if err != nil {
		return wallet.CallRequest{}, "", fmt.Errorf("pack swap: %w", err)
	}
	summary := fmt.Sprintf("Getting exactly %s %s for max %s %s", outputAmount, st.TokenOut.Symbol, inputAmount, st.TokenIn.Symbol)
	return call, summary, nil
}

// Submit builds and broadcasts the swap. It returns as soon as the
// transaction is accepted by the wallet; confirmation is observed through
// the receipt watch.
func (b *SwapBuilder) Submit(ctx context.Context, st QuoteState, slippageBps uint64) (common.Hash, error) {
	account, connected := b.provider.Account()
	if !connected {
		return common.Hash{}, entities.ErrNoAccount
	}
	if b.InFlight() {
		return common.Hash{}, fmt.Errorf("swap already in flight")
	}

	call, summary, err := b.BuildSwap(st, slippageBps, account)
	if err != nil {
		return common.Hash{}, err
	}

	b.transition(func(r *entities.TransactionRecord) {
		*r = entities.TransactionRecord{
			Status:      entities.TxSubmitting,
			Summary:     summary,
			SubmittedAt: b.now(),
		}
	})

	hash, err := b.provider.SubmitCall(ctx, call)
	if err != nil {
		b.transition(func(r *entities.TransactionRecord) {
			r.Status = entities.TxFailed
			r.Error = err.Error()
		})
		return common.Hash{}, err
	}

	b.transition(func(r *entities.TransactionRecord) {
		r.Status = entities.TxPendingConfirmation
		r.Hash = hash.Hex()
	})

	go b.watch(hash)
	return hash, nil
}

func (b *SwapBuilder) watch(hash common.Hash) {
	ctx, cancel := context.WithTimeout(context.Background(), deadlineWindow)
	defer cancel()

	event := <-b.provider.WatchReceipt(ctx, hash)
	if event.Err != nil || !event.Success {
		b.transition(func(r *entities.TransactionRecord) {
			r.Status = entities.TxFailed
			if event.Err != nil {
				r.Error = event.Err.Error()
			} else {
				r.Error = entities.ErrTransactionReverted.Error()
			}
		})
		return
	}

	b.transition(func(r *entities.TransactionRecord) {
		r.Status = entities.TxConfirmed
		r.ConfirmedAt = event.MinedAt
	})
	if b.onConfirmed != nil {
		b.onConfirmed()
	}
}

func (b *SwapBuilder) transition(apply func(*entities.TransactionRecord)) {
	b.mu.Lock()
	apply(&b.record)
	b.mu.Unlock()
	if b.onChange != nil {
		b.onChange()
	}
}
