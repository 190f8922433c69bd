package services

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/twannasleep/nerd-swap/internal/domain/entities"
	"github.com/twannasleep/nerd-swap/internal/infrastructure/chain"
	"github.com/twannasleep/nerd-swap/internal/infrastructure/wallet"
)

// gasReserve is held back from a max-spend of the native coin so the swap
// transaction itself can still pay for gas. 0.01 native in base units.
var gasReserve = new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)

// Balance is a tracked token balance in both representations.
type Balance struct {
	Raw       *big.Int `json:"raw"`
	Formatted string   `json:"formatted"`
}

// BalanceTracker resolves spendable balances and router allowances for the
// selectable tokens. Lookups are pure and side-effect-free; RefetchAll is
// the only operation that touches the chain and is invoked after token
// selection changes, confirmed swaps, confirmed approvals, and manual
// refresh.
type BalanceTracker struct {
	reader   chain.Reader
	provider wallet.Provider
	spender  common.Address
	tokens   []entities.Token

	mu         sync.RWMutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]*big.Int
	decimals   map[common.Address]uint8
}

// NewBalanceTracker tracks the given tokens against a router spender.
func NewBalanceTracker(reader chain.Reader, provider wallet.Provider, spender common.Address, tokens []entities.Token) *BalanceTracker {
	return &BalanceTracker{
		reader:     reader,
		provider:   provider,
		spender:    spender,
		tokens:     tokens,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]*big.Int),
		decimals:   make(map[common.Address]uint8),
	}
}

// RefetchAll refreshes every tracked balance and allowance. Individual read
// failures are logged and leave that entry unset rather than aborting the
// whole refresh.
func (t *BalanceTracker) RefetchAll(ctx context.Context) error {
	account, connected := t.provider.Account()
	if !connected {
		t.mu.Lock()
		t.balances = make(map[common.Address]*big.Int)
		t.allowances = make(map[common.Address]*big.Int)
		t.mu.Unlock()
		return nil
	}

	var firstErr error
	for _, token := range t.tokens {
		decimals, err := t.reader.Decimals(ctx, token.Address)
		if err != nil {
			decimals = token.Decimals
		}

		balance, err := t.reader.BalanceOf(ctx, token.Address, account)
		if err != nil {
			log.Printf("balance read failed for %s: %v", token.Symbol, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("balance read for %s: %w", token.Symbol, err)
			}
			continue
		}

		t.mu.Lock()
		t.balances[token.Address] = balance
		t.decimals[token.Address] = decimals
		t.mu.Unlock()

		if token.IsNative() {
			continue
		}
		allowance, err := t.reader.Allowance(ctx, token.Address, account, t.spender)
		if err != nil {
			log.Printf("allowance read failed for %s: %v", token.Symbol, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("allowance read for %s: %w", token.Symbol, err)
			}
			continue
		}
		t.mu.Lock()
		t.allowances[token.Address] = allowance
		t.mu.Unlock()
	}
	return firstErr
}

// BalanceOf is a pure lookup of the last fetched balance. A token that has
// never been fetched reports zero.
func (t *BalanceTracker) BalanceOf(token entities.Token) Balance {
	t.mu.RLock()
	defer t.mu.RUnlock()

	raw, ok := t.balances[token.Address]
	if !ok {
		return Balance{Raw: big.NewInt(0), Formatted: "0"}
	}
	decimals, ok := t.decimals[token.Address]
	if !ok {
		decimals = token.Decimals
	}
	return Balance{
		Raw:       new(big.Int).Set(raw),
		Formatted: entities.TrimTrailingZeros(entities.FormatUnits(raw, decimals)),
	}
}

// Allowance returns the last fetched router allowance for a token, or nil
// when unknown or not applicable.
func (t *BalanceTracker) Allowance(token entities.Token) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	allowance, ok := t.allowances[token.Address]
	if !ok {
		return nil
	}
	return new(big.Int).Set(allowance)
}

// AllowanceState derives whether an approval is required to spend the given
// amount of the token.
func (t *BalanceTracker) AllowanceState(token entities.Token, required *big.Int) entities.AllowanceState {
	return entities.DeriveAllowanceState(token, t.Allowance(token), required)
}

// MaxSpend returns the largest input amount the account can spend. For the
// native coin a gas reserve is held back when the balance allows it.
func (t *BalanceTracker) MaxSpend(token entities.Token) *big.Int {
	balance := t.BalanceOf(token).Raw
	if !token.IsNative() {
		return balance
	}
	if balance.Cmp(gasReserve) > 0 {
		return new(big.Int).Sub(balance, gasReserve)
	}
	return balance
}

// Tokens returns the tracked token set.
func (t *BalanceTracker) Tokens() []entities.Token {
	return t.tokens
}
