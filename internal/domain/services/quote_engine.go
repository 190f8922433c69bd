package services

import (
	"context"
	"errors"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/twannasleep/nerd-swap/internal/domain/entities"
	"github.com/twannasleep/nerd-swap/internal/infrastructure/chain"
	"github.com/twannasleep/nerd-swap/internal/infrastructure/prices"
)

const (
	defaultDebounce      = 250 * time.Millisecond
	defaultProbeInterval = 30 * time.Second
)

// QuoteState is a point-in-time snapshot of the engine. The authoritative
// field per mode holds what the user typed; the derived field on the other
// side is read-only and always subordinate to the latest on-chain read.
type QuoteState struct {
	Mode     entities.SwapMode `json:"mode"`
	TokenIn  entities.Token    `json:"tokenIn"`
	TokenOut entities.Token    `json:"tokenOut"`

	InputAmount   string `json:"inputAmount"`
	OutputAmount  string `json:"outputAmount"`
	DerivedInput  string `json:"derivedInput"`
	DerivedOutput string `json:"derivedOutput"`

	Quote *entities.Quote `json:"quote,omitempty"`

	// DisplayRate is out-per-in: live pair first, probe second, nil when
	// neither is available.
	DisplayRate    *float64 `json:"displayRate"`
	ProbeRate      *float64 `json:"probeRate"`
	PriceImpactPct *float64 `json:"priceImpactPct"`
	InputUSD       string   `json:"inputUsd"`
	OutputUSD      string   `json:"outputUsd"`

	InputDecimals    uint8 `json:"inputDecimals"`
	OutputDecimals   uint8 `json:"outputDecimals"`
	DecimalsResolved bool  `json:"decimalsResolved"`

	Loading        bool      `json:"loading"`
	FormError      string    `json:"formError,omitempty"`
	LastRateUpdate time.Time `json:"lastRateUpdate,omitzero"`
}

// QuoteEngine turns raw amount input into validated, debounced router
// quotes. A single goroutine owns all state; public methods post commands
// into its loop, and read results are applied only when their intent
// sequence still matches, so late responses for superseded input are
// discarded rather than displayed.
type QuoteEngine struct {
	reader        chain.Reader
	priceSource   prices.Source
	wrappedNative common.Address
	debounce      time.Duration
	probeInterval time.Duration

	commands  chan func()
	updates   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	rootCtx    context.Context
	rootCancel context.CancelFunc

	// Everything below is owned by the loop goroutine.
	st             QuoteState
	intent         entities.SwapIntent
	pairGen        uint64
	decimals       map[common.Address]uint8
	inflightCancel context.CancelFunc
	probeCancel    context.CancelFunc
}

// EngineOption tweaks engine timing, mainly for tests.
type EngineOption func(*QuoteEngine)

func WithDebounce(d time.Duration) EngineOption {
	return func(e *QuoteEngine) { e.debounce = d }
}

func WithProbeInterval(d time.Duration) EngineOption {
	return func(e *QuoteEngine) { e.probeInterval = d }
}

// NewQuoteEngine starts the engine with the given token pair preselected.
func NewQuoteEngine(reader chain.Reader, priceSource prices.Source, wrappedNative common.Address, tokenIn, tokenOut entities.Token, opts ...EngineOption) *QuoteEngine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &QuoteEngine{
		reader:        reader,
		priceSource:   priceSource,
		wrappedNative: wrappedNative,
		debounce:      defaultDebounce,
		probeInterval: defaultProbeInterval,
		commands:      make(chan func(), 64),
		updates:       make(chan struct{}, 1),
		done:          make(chan struct{}),
		rootCtx:       ctx,
		rootCancel:    cancel,
		decimals:      make(map[common.Address]uint8),
		st: QuoteState{
			Mode:      entities.ExactIn,
			InputUSD:  "$0.00",
			OutputUSD: "$0.00",
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.loop()
	e.post(func() { e.setPair(tokenIn, tokenOut) })
	return e
}

// Updates signals after state changes. Bursts collapse into one signal;
// consumers call Snapshot for the current state.
func (e *QuoteEngine) Updates() <-chan struct{} { return e.updates }

// Snapshot returns a copy of the current engine state.
func (e *QuoteEngine) Snapshot() QuoteState {
	reply := make(chan QuoteState, 1)
	e.post(func() { reply <- e.copyState() })
	select {
	case st := <-reply:
		return st
	case <-e.done:
		return QuoteState{}
	}
}

// SetPair selects a new token pair and clears both amounts.
func (e *QuoteEngine) SetPair(tokenIn, tokenOut entities.Token) {
	e.post(func() { e.setPair(tokenIn, tokenOut) })
}

// SwitchTokens swaps the input and output tokens and clears both amounts.
func (e *QuoteEngine) SwitchTokens() {
	e.post(func() { e.setPair(e.st.TokenOut, e.st.TokenIn) })
}

// SetMode changes the authoritative side. The previously derived value
// carries over into the newly editable field instead of clearing both.
func (e *QuoteEngine) SetMode(mode entities.SwapMode) {
	e.post(func() { e.setMode(mode) })
}

// ToggleMode flips between exact-in and exact-out.
func (e *QuoteEngine) ToggleMode() {
	e.post(func() {
		if e.st.Mode == entities.ExactIn {
			e.setMode(entities.ExactOut)
		} else {
			e.setMode(entities.ExactIn)
		}
	})
}

// SetAmount applies a keystroke to the mode's authoritative field. Input
// violating the sanitization rules is silently dropped: the field keeps its
// previous value and no read fires.
func (e *QuoteEngine) SetAmount(value string) {
	e.post(func() { e.setAmount(value) })
}

// Refresh forces a rate re-probe and a fresh quote for the current input.
func (e *QuoteEngine) Refresh() {
	e.post(func() {
		e.startRateProbe()
		e.scheduleQuote(0)
	})
}

// Close stops the loop, pending debounce timers, and in-flight reads.
// Results of abandoned reads are never surfaced.
func (e *QuoteEngine) Close() {
	e.closeOnce.Do(func() {
		e.rootCancel()
		close(e.done)
	})
}

func (e *QuoteEngine) post(cmd func()) {
	select {
	case e.commands <- cmd:
	case <-e.done:
	}
}

func (e *QuoteEngine) loop() {
	ticker := time.NewTicker(e.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.done:
			return
		case cmd := <-e.commands:
			cmd()
		case <-ticker.C:
			e.startRateProbe()
		}
	}
}

func (e *QuoteEngine) notify() {
	select {
	case e.updates <- struct{}{}:
	default:
	}
}

func (e *QuoteEngine) copyState() QuoteState {
	st := e.st
	st.DisplayRate = copyFloat(e.st.DisplayRate)
	st.ProbeRate = copyFloat(e.st.ProbeRate)
	st.PriceImpactPct = copyFloat(e.st.PriceImpactPct)
	if e.st.Quote != nil {
		q := *e.st.Quote
		q.RateOutPerIn = copyFloat(e.st.Quote.RateOutPerIn)
		q.PriceImpactPct = copyFloat(e.st.Quote.PriceImpactPct)
		if e.st.Quote.CounterpartRaw != nil {
			q.CounterpartRaw = new(big.Int).Set(e.st.Quote.CounterpartRaw)
		}
		st.Quote = &q
	}
	return st
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func (e *QuoteEngine) setPair(tokenIn, tokenOut entities.Token) {
	e.pairGen++
	e.cancelInflight()

	e.st.TokenIn = tokenIn
	e.st.TokenOut = tokenOut
	e.st.InputAmount = ""
	e.st.OutputAmount = ""
	e.bumpIntent()
	e.clearDerived()
	e.st.Quote = nil
	e.st.ProbeRate = nil
	e.st.FormError = ""
	e.st.DecimalsResolved = false

	if tokenIn.Address == tokenOut.Address {
		e.st.FormError = entities.ErrIdenticalTokens.Error()
		e.recomputeDisplay()
		e.notify()
		return
	}

	e.resolveDecimals(tokenIn)
	e.resolveDecimals(tokenOut)
	e.recomputeDisplay()
	e.notify()
}

// resolveDecimals fetches a token's decimals in the background. Quoting
// stays blocked until both sides are resolved; the registry value is never
// silently assumed.
func (e *QuoteEngine) resolveDecimals(token entities.Token) {
	gen := e.pairGen
	go func() {
		d, err := e.reader.Decimals(e.rootCtx, token.Address)
		e.post(func() {
			if gen != e.pairGen {
				return
			}
			if err != nil {
				if e.rootCtx.Err() == nil {
					log.Printf("decimals read failed for %s: %v", token.Symbol, err)
				}
				e.st.FormError = entities.ErrDecimalsUnresolved.Error()
				e.notify()
				return
			}
			e.decimals[token.Address] = d
			e.applyResolvedDecimals()
		})
	}()
}

func (e *QuoteEngine) applyResolvedDecimals() {
	din, okIn := e.decimals[e.st.TokenIn.Address]
	dout, okOut := e.decimals[e.st.TokenOut.Address]
	if !okIn || !okOut {
		return
	}
	e.st.InputDecimals = din
	e.st.OutputDecimals = dout
	e.st.DecimalsResolved = true
	if e.st.FormError == entities.ErrDecimalsUnresolved.Error() {
		e.st.FormError = ""
	}
	e.startRateProbe()
	e.scheduleQuote(0)
	e.notify()
}

func (e *QuoteEngine) setMode(mode entities.SwapMode) {
	if mode == e.st.Mode {
		return
	}
	carryIn, carryOut := e.st.DerivedInput, e.st.DerivedOutput
	if carryIn == "" {
		carryIn = e.st.InputAmount
	}
	if carryOut == "" {
		carryOut = e.st.OutputAmount
	}

	e.st.Mode = mode
	if mode == entities.ExactIn {
		e.st.InputAmount = carryIn
		e.st.OutputAmount = ""
	} else {
		e.st.OutputAmount = carryOut
		e.st.InputAmount = ""
	}
	e.clearDerived()
	e.st.Quote = nil
	e.st.FormError = ""
	e.bumpIntent()
	e.cancelInflight()
	e.scheduleQuote(e.debounce)
	e.recomputeDisplay()
	e.notify()
}

func (e *QuoteEngine) setAmount(value string) {
	current := e.authoritativeAmount()
	var dec uint8
	if e.st.Mode == entities.ExactIn {
		dec = e.inputDecimals()
	} else {
		dec = e.outputDecimals()
	}
	next, ok := entities.AcceptAmountInput(current, value, dec)
	if !ok || next == current {
		return
	}

	if e.st.Mode == entities.ExactIn {
		e.st.InputAmount = next
	} else {
		e.st.OutputAmount = next
	}
	e.bumpIntent()
	e.cancelInflight()
	e.st.FormError = ""
	if next == "" {
		e.clearDerived()
		e.st.Quote = nil
		e.st.Loading = false
		e.recomputeDisplay()
		e.notify()
		return
	}
	e.scheduleQuote(e.debounce)
	e.recomputeDisplay()
	e.notify()
}

func (e *QuoteEngine) authoritativeAmount() string {
	if e.st.Mode == entities.ExactIn {
		return e.st.InputAmount
	}
	return e.st.OutputAmount
}

func (e *QuoteEngine) inputDecimals() uint8 {
	if d, ok := e.decimals[e.st.TokenIn.Address]; ok {
		return d
	}
	return e.st.TokenIn.Decimals
}

func (e *QuoteEngine) outputDecimals() uint8 {
	if d, ok := e.decimals[e.st.TokenOut.Address]; ok {
		return d
	}
	return e.st.TokenOut.Decimals
}

// bumpIntent supersedes the current intent with a fresh snapshot of the
// authoritative input. Read results are keyed to the intent that started
// them; anything keyed to an older intent is dropped on arrival.
func (e *QuoteEngine) bumpIntent() {
	e.intent = entities.SwapIntent{
		Seq:       e.intent.Seq + 1,
		Mode:      e.st.Mode,
		RawAmount: e.authoritativeAmount(),
		TokenIn:   e.st.TokenIn,
		TokenOut:  e.st.TokenOut,
	}
}

// scheduleQuote arms the debounce timer for the current intent. Stale
// timers fire into the loop but are discarded by the intent check.
func (e *QuoteEngine) scheduleQuote(after time.Duration) {
	intent := e.intent
	if after <= 0 {
		e.startQuote(intent)
		return
	}
	time.AfterFunc(after, func() {
		e.post(func() { e.startQuote(intent) })
	})
}

func (e *QuoteEngine) startQuote(intent entities.SwapIntent) {
	if intent.Seq != e.intent.Seq {
		return
	}
	if !e.quoteInputsValid() {
		e.st.Loading = false
		e.clearDerived()
		e.st.Quote = nil
		e.recomputeDisplay()
		e.notify()
		return
	}

	var amount *big.Int
	var err error
	if intent.Mode == entities.ExactIn {
		amount, err = entities.ParseUnits(intent.RawAmount, e.st.InputDecimals)
	} else {
		amount, err = entities.ParseUnits(intent.RawAmount, e.st.OutputDecimals)
	}
	if err != nil || amount.Sign() <= 0 {
		// Unparsable input never reaches the network.
		e.st.Loading = false
		e.clearDerived()
		e.st.Quote = nil
		e.recomputeDisplay()
		e.notify()
		return
	}

	path := e.routePath()
	ctx, cancel := context.WithCancel(e.rootCtx)
	e.cancelInflight()
	e.inflightCancel = cancel
	e.st.Loading = e.st.DerivedInput == "" && e.st.DerivedOutput == ""
	e.notify()

	go func() {
		var amounts []*big.Int
		var readErr error
		if intent.Mode == entities.ExactIn {
			amounts, readErr = e.reader.GetAmountsOut(ctx, amount, path)
		} else {
			amounts, readErr = e.reader.GetAmountsIn(ctx, amount, path)
		}
		e.post(func() { e.applyQuoteResult(intent, amounts, readErr) })
	}()
}

func (e *QuoteEngine) quoteInputsValid() bool {
	if e.st.TokenIn.Address == (common.Address{}) || e.st.TokenOut.Address == (common.Address{}) {
		return false
	}
	if e.st.TokenIn.Address == e.st.TokenOut.Address {
		return false
	}
	if !e.st.DecimalsResolved {
		return false
	}
	return e.authoritativeAmount() != ""
}

func (e *QuoteEngine) applyQuoteResult(intent entities.SwapIntent, amounts []*big.Int, readErr error) {
	if intent.Seq != e.intent.Seq {
		// Result for a superseded intent; drop it.
		return
	}
	e.st.Loading = false

	if readErr != nil {
		if errors.Is(readErr, context.Canceled) {
			return
		}
		e.clearDerived()
		e.st.Quote = nil
		if errors.Is(readErr, entities.ErrInsufficientLiquidity) {
			e.st.FormError = entities.ErrInsufficientLiquidity.Error()
		} else if !errors.Is(readErr, chain.ErrReadDisabled) {
			e.st.FormError = "failed to fetch quote"
		}
		e.recomputeDisplay()
		e.notify()
		return
	}
	if len(amounts) < 2 {
		e.clearDerived()
		e.st.Quote = nil
		e.st.FormError = "failed to fetch quote"
		e.recomputeDisplay()
		e.notify()
		return
	}

	var counterpart *big.Int
	var formatted string
	if intent.Mode == entities.ExactIn {
		counterpart = amounts[len(amounts)-1]
		formatted = entities.FormatUnits(counterpart, e.st.OutputDecimals)
	} else {
		counterpart = amounts[0]
		formatted = entities.FormatUnits(counterpart, e.st.InputDecimals)
	}

	if counterpart.Sign() <= 0 {
		// A zero derivation clears the opposite field rather than
		// displaying a stale prior value.
		e.clearDerived()
		e.st.Quote = nil
		e.st.FormError = entities.ErrInsufficientLiquidity.Error()
		e.recomputeDisplay()
		e.notify()
		return
	}

	display := entities.TrimTrailingZeros(formatted)
	if intent.Mode == entities.ExactIn {
		e.st.DerivedOutput = display
		e.st.DerivedInput = ""
	} else {
		e.st.DerivedInput = display
		e.st.DerivedOutput = ""
	}
	e.st.FormError = ""
	e.st.Quote = &entities.Quote{
		CounterpartAmount: display,
		CounterpartRaw:    new(big.Int).Set(counterpart),
		AsOf:              time.Now(),
	}
	e.recomputeDisplay()
	e.st.Quote.RateOutPerIn = copyFloat(e.st.DisplayRate)
	e.st.Quote.PriceImpactPct = copyFloat(e.st.PriceImpactPct)
	e.notify()
}

// startRateProbe refreshes the one-unit reference rate in the background.
func (e *QuoteEngine) startRateProbe() {
	if e.st.TokenIn.Address == (common.Address{}) || e.st.TokenOut.Address == (common.Address{}) {
		return
	}
	if e.st.TokenIn.Address == e.st.TokenOut.Address || !e.st.DecimalsResolved {
		return
	}

	gen := e.pairGen
	oneUnit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(e.st.InputDecimals)), nil)
	path := e.routePath()
	outDecimals := e.st.OutputDecimals

	if e.probeCancel != nil {
		e.probeCancel()
	}
	ctx, cancel := context.WithCancel(e.rootCtx)
	e.probeCancel = cancel

	go func() {
		amounts, err := e.reader.GetAmountsOut(ctx, oneUnit, path)
		e.post(func() {
			if gen != e.pairGen {
				return
			}
			if err != nil || len(amounts) < 2 {
				// Keep the previous probe value; rate renders as
				// unavailable only when nothing was ever probed.
				return
			}
			rate, ok := amountToFloat(amounts[len(amounts)-1], outDecimals)
			if !ok || rate <= 0 {
				return
			}
			e.st.ProbeRate = &rate
			e.st.LastRateUpdate = time.Now()
			e.recomputeDisplay()
			e.notify()
		})
	}()
}

func (e *QuoteEngine) routePath() []common.Address {
	return []common.Address{
		e.st.TokenIn.Routable(e.wrappedNative),
		e.st.TokenOut.Routable(e.wrappedNative),
	}
}

func (e *QuoteEngine) clearDerived() {
	e.st.DerivedInput = ""
	e.st.DerivedOutput = ""
}

// recomputeDisplay refreshes the presentation-only values: display rate,
// USD strings, and the price-impact estimate. These are floating point and
// never feed back into transaction arguments.
func (e *QuoteEngine) recomputeDisplay() {
	inputAmt := e.st.InputAmount
	if e.st.Mode == entities.ExactOut {
		inputAmt = e.st.DerivedInput
	}
	outputAmt := e.st.OutputAmount
	if e.st.Mode == entities.ExactIn {
		outputAmt = e.st.DerivedOutput
	}

	e.st.DisplayRate = e.liveRate(inputAmt, outputAmt)
	if e.st.DisplayRate == nil {
		e.st.DisplayRate = copyFloat(e.st.ProbeRate)
	}

	e.st.InputUSD = e.usdValue(inputAmt, e.st.TokenIn.Symbol)
	e.st.OutputUSD = e.usdValue(outputAmt, e.st.TokenOut.Symbol)
	e.st.PriceImpactPct = e.priceImpact(inputAmt, outputAmt)
}

func (e *QuoteEngine) liveRate(inputAmt, outputAmt string) *float64 {
	if inputAmt == "" || outputAmt == "" {
		return nil
	}
	in, err := decimal.NewFromString(inputAmt)
	if err != nil || !in.IsPositive() {
		return nil
	}
	out, err := decimal.NewFromString(outputAmt)
	if err != nil || !out.IsPositive() {
		return nil
	}
	rate, _ := out.Div(in).Float64()
	return &rate
}

func (e *QuoteEngine) usdValue(amount, symbol string) string {
	if amount == "" {
		return "$0.00"
	}
	price, ok := e.priceSource.USDPrice(symbol)
	if !ok {
		return "$0.00"
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return "$0.00"
	}
	return "$" + value.Mul(decimal.NewFromFloat(price)).StringFixed(2)
}

// priceImpact approximates impact from reference USD prices. It reports nil,
// never zero, when a reference price is missing for either side.
func (e *QuoteEngine) priceImpact(inputAmt, outputAmt string) *float64 {
	if inputAmt == "" || outputAmt == "" {
		return nil
	}
	inPrice, okIn := e.priceSource.USDPrice(e.st.TokenIn.Symbol)
	outPrice, okOut := e.priceSource.USDPrice(e.st.TokenOut.Symbol)
	if !okIn || !okOut || inPrice <= 0 || outPrice <= 0 {
		return nil
	}
	in, err := decimal.NewFromString(inputAmt)
	if err != nil {
		return nil
	}
	out, err := decimal.NewFromString(outputAmt)
	if err != nil {
		return nil
	}
	inValue := in.Mul(decimal.NewFromFloat(inPrice))
	if !inValue.IsPositive() {
		return nil
	}
	outValue := out.Mul(decimal.NewFromFloat(outPrice))
	impact, _ := inValue.Sub(outValue).Div(inValue).Mul(decimal.NewFromInt(100)).Float64()
	return &impact
}

func (e *QuoteEngine) cancelInflight() {
	if e.inflightCancel != nil {
		e.inflightCancel()
		e.inflightCancel = nil
	}
}

func amountToFloat(amount *big.Int, decimals uint8) (float64, bool) {
	value, err := decimal.NewFromString(entities.FormatUnits(amount, decimals))
	if err != nil {
		return 0, false
	}
	f, _ := value.Float64()
	return f, true
}
