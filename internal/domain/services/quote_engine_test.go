package services

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/twannasleep/nerd-swap/internal/domain/entities"
	"github.com/twannasleep/nerd-swap/internal/infrastructure/wallet"
)

// mockReader is a configurable in-memory Reader for testing
type mockReader struct {
	mu           sync.Mutex
	decimals     map[common.Address]uint8
	decimalsErr  error
	balances     map[common.Address]*big.Int
	native       *big.Int
	allowances   map[common.Address]*big.Int
	amountsOutFn func(amountIn *big.Int, path []common.Address) ([]*big.Int, error)
	amountsInFn  func(amountOut *big.Int, path []common.Address) ([]*big.Int, error)
	poolInfo     *entities.PoolInfo

	outCalls []*big.Int
	inCalls  []*big.Int
}

func newMockReader() *mockReader {
	return &mockReader{
		decimals:   make(map[common.Address]uint8),
		balances:   make(map[common.Address]*big.Int),
		native:     big.NewInt(0),
		allowances: make(map[common.Address]*big.Int),
	}
}

func (m *mockReader) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.decimalsErr != nil {
		return 0, m.decimalsErr
	}
	if d, ok := m.decimals[token]; ok {
		return d, nil
	}
	return 18, nil
}

func (m *mockReader) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token == entities.NativeTokenAddress {
		return new(big.Int).Set(m.native), nil
	}
	if b, ok := m.balances[token]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (m *mockReader) NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.native), nil
}

func (m *mockReader) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.allowances[token]; ok {
		return new(big.Int).Set(a), nil
	}
	return big.NewInt(0), nil
}

func (m *mockReader) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	m.mu.Lock()
	fn := m.amountsOutFn
	m.outCalls = append(m.outCalls, new(big.Int).Set(amountIn))
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("no amountsOut configured")
	}
	return fn(amountIn, path)
}

func (m *mockReader) GetAmountsIn(ctx context.Context, amountOut *big.Int, path []common.Address) ([]*big.Int, error) {
	m.mu.Lock()
	fn := m.amountsInFn
	m.inCalls = append(m.inCalls, new(big.Int).Set(amountOut))
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("no amountsIn configured")
	}
	return fn(amountOut, path)
}

func (m *mockReader) PoolInfo(ctx context.Context, tokenA, tokenB common.Address) (*entities.PoolInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.poolInfo == nil {
		return nil, entities.ErrInsufficientLiquidity
	}
	return m.poolInfo, nil
}

// mockProvider is a configurable wallet.Provider for testing
type mockProvider struct {
	mu        sync.Mutex
	account   common.Address
	connected bool
	submitErr error
	hash      common.Hash
	receipt   wallet.ReceiptEvent
	submitted []wallet.CallRequest
}

func (m *mockProvider) Account() (common.Address, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.account, m.connected
}

func (m *mockProvider) SubmitCall(ctx context.Context, call wallet.CallRequest) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return common.Hash{}, m.submitErr
	}
	m.submitted = append(m.submitted, call)
	return m.hash, nil
}

func (m *mockProvider) WatchReceipt(ctx context.Context, hash common.Hash) <-chan wallet.ReceiptEvent {
	events := make(chan wallet.ReceiptEvent, 1)
	m.mu.Lock()
	events <- m.receipt
	m.mu.Unlock()
	close(events)
	return events
}

// fiveForOne quotes 5 output units per input unit both directions.
func fiveForOne(m *mockReader) {
	m.amountsOutFn = func(amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
		out := new(big.Int).Mul(amountIn, big.NewInt(5))
		return []*big.Int{new(big.Int).Set(amountIn), out}, nil
	}
	m.amountsInFn = func(amountOut *big.Int, path []common.Address) ([]*big.Int, error) {
		in := new(big.Int).Div(amountOut, big.NewInt(5))
		return []*big.Int{in, new(big.Int).Set(amountOut)}, nil
	}
}

func newTestEngine(t *testing.T, reader *mockReader) *QuoteEngine {
	t.Helper()
	engine := NewQuoteEngine(reader, &noPrices{}, entities.WBNB.Address, entities.BNB, entities.TEST63,
		WithDebounce(time.Millisecond), WithProbeInterval(time.Hour))
	t.Cleanup(engine.Close)
	return engine
}

// noPrices has no reference prices; USD and impact stay unavailable.
type noPrices struct{}

func (noPrices) USDPrice(symbol string) (float64, bool) { return 0, false }

func waitForState(t *testing.T, engine *QuoteEngine, cond func(QuoteState) bool) QuoteState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var st QuoteState
	for time.Now().Before(deadline) {
		st = engine.Snapshot()
		if cond(st) {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state condition not reached, last state: %+v", st)
	return st
}

func TestQuoteEngineExactIn(t *testing.T) {
	reader := newMockReader()
	fiveForOne(reader)
	engine := newTestEngine(t, reader)

	engine.SetAmount("10")
	st := waitForState(t, engine, func(st QuoteState) bool {
		return st.DerivedOutput != ""
	})

	if st.DerivedOutput != "50" {
		t.Errorf("DerivedOutput = %q, want 50", st.DerivedOutput)
	}
	if st.Quote == nil || st.Quote.CounterpartAmount != "50" {
		t.Errorf("Quote = %+v, want counterpart 50", st.Quote)
	}
	if st.FormError != "" {
		t.Errorf("unexpected form error %q", st.FormError)
	}

	want, _ := new(big.Int).SetString("10000000000000000000", 10)
	reader.mu.Lock()
	defer reader.mu.Unlock()
	found := false
	for _, call := range reader.outCalls {
		if call.Cmp(want) == 0 {
			found = true
		}
	}
	if !found {
		t.Errorf("getAmountsOut never called with 10 in base units, calls: %v", reader.outCalls)
	}
}

func TestQuoteEngineExactOut(t *testing.T) {
	reader := newMockReader()
	fiveForOne(reader)
	engine := newTestEngine(t, reader)

	engine.SetMode(entities.ExactOut)
	engine.SetAmount("50")
	st := waitForState(t, engine, func(st QuoteState) bool {
		return st.DerivedInput != ""
	})

	if st.DerivedInput != "10" {
		t.Errorf("DerivedInput = %q, want 10", st.DerivedInput)
	}
	if st.OutputAmount != "50" {
		t.Errorf("OutputAmount = %q, want 50", st.OutputAmount)
	}
}

func TestQuoteEngineModeCarryOver(t *testing.T) {
	reader := newMockReader()
	fiveForOne(reader)
	engine := newTestEngine(t, reader)

	engine.SetAmount("10")
	waitForState(t, engine, func(st QuoteState) bool { return st.DerivedOutput == "50" })

	// Flipping to exact-out carries the derived output into the now
	// editable output field.
	engine.SetMode(entities.ExactOut)
	st := waitForState(t, engine, func(st QuoteState) bool {
		return st.Mode == entities.ExactOut && st.OutputAmount == "50"
	})
	if st.InputAmount != "" {
		t.Errorf("InputAmount = %q, want empty after mode switch", st.InputAmount)
	}

	// The engine re-derives the input side from the carried value.
	st = waitForState(t, engine, func(st QuoteState) bool { return st.DerivedInput != "" })
	if st.DerivedInput != "10" {
		t.Errorf("DerivedInput = %q, want 10", st.DerivedInput)
	}
}

func TestQuoteEngineToggleMode(t *testing.T) {
	reader := newMockReader()
	fiveForOne(reader)
	engine := newTestEngine(t, reader)

	engine.SetAmount("10")
	waitForState(t, engine, func(st QuoteState) bool { return st.DerivedOutput == "50" })

	engine.ToggleMode()
	st := waitForState(t, engine, func(st QuoteState) bool {
		return st.Mode == entities.ExactOut && st.OutputAmount == "50"
	})
	if st.InputAmount != "" {
		t.Errorf("InputAmount = %q, want empty after toggle", st.InputAmount)
	}

	waitForState(t, engine, func(st QuoteState) bool { return st.DerivedInput == "10" })
	engine.ToggleMode()
	st = waitForState(t, engine, func(st QuoteState) bool {
		return st.Mode == entities.ExactIn && st.InputAmount == "10"
	})
	if st.OutputAmount != "" {
		t.Errorf("OutputAmount = %q, want empty after toggling back", st.OutputAmount)
	}
}

func TestQuoteEngineRejectsInvalidInput(t *testing.T) {
	reader := newMockReader()
	fiveForOne(reader)
	engine := newTestEngine(t, reader)

	engine.SetAmount("10")
	waitForState(t, engine, func(st QuoteState) bool { return st.DerivedOutput == "50" })

	// Invalid keystrokes are dropped; the field and quote stay intact.
	engine.SetAmount("10a")
	engine.SetAmount("10.5.1")
	engine.SetAmount("-10")
	st := engine.Snapshot()
	if st.InputAmount != "10" {
		t.Errorf("InputAmount = %q, want 10 after rejected keystrokes", st.InputAmount)
	}
	if st.DerivedOutput != "50" {
		t.Errorf("DerivedOutput = %q, want quote preserved", st.DerivedOutput)
	}
}

func TestQuoteEngineClearInput(t *testing.T) {
	reader := newMockReader()
	fiveForOne(reader)
	engine := newTestEngine(t, reader)

	engine.SetAmount("10")
	waitForState(t, engine, func(st QuoteState) bool { return st.DerivedOutput == "50" })

	engine.SetAmount("")
	st := waitForState(t, engine, func(st QuoteState) bool { return st.InputAmount == "" })
	if st.DerivedOutput != "" {
		t.Errorf("DerivedOutput = %q, want cleared", st.DerivedOutput)
	}
	if st.Quote != nil {
		t.Error("Quote should be nil after clearing input")
	}
}

func TestQuoteEngineInsufficientLiquidity(t *testing.T) {
	reader := newMockReader()
	reader.amountsOutFn = func(amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
		return nil, fmt.Errorf("%w: execution reverted", entities.ErrInsufficientLiquidity)
	}
	engine := newTestEngine(t, reader)

	engine.SetAmount("1000000")
	st := waitForState(t, engine, func(st QuoteState) bool { return st.FormError != "" })

	if st.FormError != entities.ErrInsufficientLiquidity.Error() {
		t.Errorf("FormError = %q", st.FormError)
	}
	if st.DerivedOutput != "" || st.Quote != nil {
		t.Error("derived state should clear on liquidity failure")
	}
}

func TestQuoteEngineZeroDerivedClearsField(t *testing.T) {
	reader := newMockReader()
	reader.amountsOutFn = func(amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
		return []*big.Int{new(big.Int).Set(amountIn), big.NewInt(0)}, nil
	}
	engine := newTestEngine(t, reader)

	engine.SetAmount("10")
	st := waitForState(t, engine, func(st QuoteState) bool { return st.FormError != "" })

	if st.DerivedOutput != "" {
		t.Errorf("DerivedOutput = %q, want cleared on zero derivation", st.DerivedOutput)
	}
}

func TestQuoteEngineSupersededInputWins(t *testing.T) {
	reader := newMockReader()
	fiveForOne(reader)
	engine := newTestEngine(t, reader)

	// Rapid keystrokes: only the final value may be quoted and displayed.
	engine.SetAmount("1")
	engine.SetAmount("12")
	engine.SetAmount("120")
	st := waitForState(t, engine, func(st QuoteState) bool {
		return st.InputAmount == "120" && st.DerivedOutput != ""
	})

	if st.DerivedOutput != "600" {
		t.Errorf("DerivedOutput = %q, want 600", st.DerivedOutput)
	}
}

func TestQuoteEngineSwitchTokens(t *testing.T) {
	reader := newMockReader()
	fiveForOne(reader)
	engine := newTestEngine(t, reader)

	engine.SetAmount("10")
	waitForState(t, engine, func(st QuoteState) bool { return st.DerivedOutput == "50" })

	engine.SwitchTokens()
	st := waitForState(t, engine, func(st QuoteState) bool {
		return st.TokenIn.Symbol == "TEST63"
	})
	if st.TokenOut.Symbol != "BNB" {
		t.Errorf("TokenOut = %s, want BNB", st.TokenOut.Symbol)
	}
	if st.InputAmount != "" || st.DerivedOutput != "" {
		t.Error("amounts should clear on token switch")
	}
}

func TestQuoteEngineIdenticalPair(t *testing.T) {
	reader := newMockReader()
	fiveForOne(reader)
	engine := newTestEngine(t, reader)

	engine.SetPair(entities.TEST63, entities.TEST63)
	st := waitForState(t, engine, func(st QuoteState) bool { return st.FormError != "" })
	if st.FormError != entities.ErrIdenticalTokens.Error() {
		t.Errorf("FormError = %q", st.FormError)
	}
}

func TestQuoteEngineImpactUnavailableWithoutPrices(t *testing.T) {
	reader := newMockReader()
	fiveForOne(reader)
	engine := newTestEngine(t, reader)

	engine.SetAmount("10")
	st := waitForState(t, engine, func(st QuoteState) bool { return st.DerivedOutput == "50" })

	if st.PriceImpactPct != nil {
		t.Errorf("PriceImpactPct = %v, want nil without reference prices", *st.PriceImpactPct)
	}
	if st.InputUSD != "$0.00" || st.OutputUSD != "$0.00" {
		t.Errorf("USD values = %q / %q, want $0.00 placeholders", st.InputUSD, st.OutputUSD)
	}
}
