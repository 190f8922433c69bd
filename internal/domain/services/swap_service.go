package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/twannasleep/nerd-swap/internal/domain/entities"
	"github.com/twannasleep/nerd-swap/internal/infrastructure/chain"
	"github.com/twannasleep/nerd-swap/internal/infrastructure/prices"
	"github.com/twannasleep/nerd-swap/internal/infrastructure/wallet"
)

// DefaultSlippageBps is the default tolerance of 0.5%.
const DefaultSlippageBps uint64 = 50

// SwapService wires the quote engine, balance tracker, approval manager and
// swap builder into one session. The presentation layer consumes snapshots
// and posts operations; it never owns state of its own.
type SwapService struct {
	Engine    *QuoteEngine
	Tracker   *BalanceTracker
	Approvals *ApprovalManager
	Swaps     *SwapBuilder

	provider wallet.Provider
	registry *entities.TokenRegistry
	reader   chain.Reader
	wrapped  common.Address

	mu          sync.Mutex
	slippageBps uint64

	updates chan struct{}
	done    chan struct{}
	once    sync.Once
}

// SessionView is the complete user-facing state in one snapshot.
type SessionView struct {
	Account       string                     `json:"account,omitempty"`
	Connected     bool                       `json:"connected"`
	SlippageBps   uint64                     `json:"slippageBps"`
	Quote         QuoteState                 `json:"quote"`
	InputBalance  Balance                    `json:"inputBalance"`
	OutputBalance Balance                    `json:"outputBalance"`
	NeedsApproval bool                       `json:"needsApproval"`
	Approval      entities.TransactionRecord `json:"approval"`
	Swap          entities.TransactionRecord `json:"swap"`
	Action        ActionState                `json:"action"`
}

// NewSwapService builds the session over an initial token pair.
func NewSwapService(reader chain.Reader, provider wallet.Provider, priceSource prices.Source, registry *entities.TokenRegistry, router, wrappedNative common.Address, tokenIn, tokenOut entities.Token, opts ...EngineOption) *SwapService {
	s := &SwapService{
		provider:    provider,
		registry:    registry,
		reader:      reader,
		wrapped:     wrappedNative,
		slippageBps: DefaultSlippageBps,
		updates:     make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	s.Engine = NewQuoteEngine(reader, priceSource, wrappedNative, tokenIn, tokenOut, opts...)
	s.Tracker = NewBalanceTracker(reader, provider, router, registry.GetAll())
	s.Approvals = NewApprovalManager(reader, provider, router, s.afterApproval, s.notify)
	s.Swaps = NewSwapBuilder(provider, s.Tracker, router, wrappedNative, s.afterSwap, s.notify)

	go s.forwardEngineUpdates()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Tracker.RefetchAll(ctx); err != nil {
			log.Printf("initial balance fetch: %v", err)
		}
		s.notify()
	}()
	return s
}

// Updates signals after any state change; bursts collapse into one signal.
func (s *SwapService) Updates() <-chan struct{} { return s.updates }

// Close stops the engine and update forwarding.
func (s *SwapService) Close() {
	s.once.Do(func() {
		close(s.done)
		s.Engine.Close()
	})
}

func (s *SwapService) forwardEngineUpdates() {
	for {
		select {
		case <-s.done:
			return
		case <-s.Engine.Updates():
			s.notify()
		}
	}
}

func (s *SwapService) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Snapshot assembles the full session view.
func (s *SwapService) Snapshot() SessionView {
	st := s.Engine.Snapshot()
	account, connected := s.provider.Account()

	view := SessionView{
		Connected:     connected,
		SlippageBps:   s.SlippageBps(),
		Quote:         st,
		InputBalance:  s.Tracker.BalanceOf(st.TokenIn),
		OutputBalance: s.Tracker.BalanceOf(st.TokenOut),
		Approval:      s.Approvals.Record(),
		Swap:          s.Swaps.Record(),
	}
	if connected {
		view.Account = account.Hex()
	}

	required := spendAmount(st)
	allowance := s.Tracker.Allowance(st.TokenIn)
	view.NeedsApproval = s.Tracker.AllowanceState(st.TokenIn, required).NeedsApproval
	view.Action = ResolveAction(ActionInputs{
		Connected:    connected,
		State:        st,
		InputBalance: view.InputBalance.Raw,
		Allowance:    allowance,
		Approving:    s.Approvals.InFlight(),
		Swapping:     s.Swaps.InFlight(),
	})
	return view
}

// SlippageBps returns the session slippage tolerance.
func (s *SwapService) SlippageBps() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slippageBps
}

// SetSlippageBps updates the tolerance; values outside (0, 10000) are
// rejected before they can reach a transaction.
func (s *SwapService) SetSlippageBps(bps uint64) error {
	if err := validateSlippage(bps); err != nil {
		return err
	}
	s.mu.Lock()
	s.slippageBps = bps
	s.mu.Unlock()
	s.notify()
	return nil
}

// SetAmount forwards a keystroke to the engine.
func (s *SwapService) SetAmount(value string) { s.Engine.SetAmount(value) }

// SetMode switches the authoritative side.
func (s *SwapService) SetMode(mode entities.SwapMode) { s.Engine.SetMode(mode) }

// ToggleMode flips between exact-in and exact-out.
func (s *SwapService) ToggleMode() { s.Engine.ToggleMode() }

// SwitchTokens swaps the pair and refreshes balances.
func (s *SwapService) SwitchTokens(ctx context.Context) {
	s.Engine.SwitchTokens()
	s.refetchBalances(ctx)
}

// SelectToken assigns a registry token to one side of the pair. Picking the
// token already on the opposite side swaps the sides instead of producing
// an identical pair.
func (s *SwapService) SelectToken(ctx context.Context, side string, address common.Address) error {
	token, ok := s.registry.GetByAddress(address)
	if !ok {
		return entities.ErrParse
	}
	st := s.Engine.Snapshot()
	tokenIn, tokenOut := st.TokenIn, st.TokenOut
	if side == "input" {
		if token.Address == tokenOut.Address {
			tokenOut = tokenIn
		}
		tokenIn = token
	} else {
		if token.Address == tokenIn.Address {
			tokenIn = tokenOut
		}
		tokenOut = token
	}
	s.Engine.SetPair(tokenIn, tokenOut)
	s.refetchBalances(ctx)
	return nil
}

// RefreshPrice forces a rate re-probe and balance refresh, the manual
// refresh control.
func (s *SwapService) RefreshPrice(ctx context.Context) {
	s.Engine.Refresh()
	s.refetchBalances(ctx)
}

// MaxSpend returns the largest spendable input amount as a decimal string,
// holding back the gas reserve for the native coin. Until the input token's
// decimals are resolved the amount cannot be rendered, so it reads as zero.
func (s *SwapService) MaxSpend() string {
	st := s.Engine.Snapshot()
	if !st.DecimalsResolved {
		return "0"
	}
	max := s.Tracker.MaxSpend(st.TokenIn)
	if max == nil || max.Sign() <= 0 {
		return "0"
	}
	return entities.TrimTrailingZeros(entities.FormatUnits(max, st.InputDecimals))
}

// Approve submits an unlimited approval for the current input token.
func (s *SwapService) Approve(ctx context.Context) (common.Hash, error) {
	st := s.Engine.Snapshot()
	return s.Approvals.Approve(ctx, st.TokenIn)
}

// Swap submits the current quote with the session slippage.
func (s *SwapService) Swap(ctx context.Context) (common.Hash, error) {
	st := s.Engine.Snapshot()
	return s.Swaps.Submit(ctx, st, s.SlippageBps())
}

// PoolInfo reads the backing pair's reserves for the current pair.
func (s *SwapService) PoolInfo(ctx context.Context) (*entities.PoolInfo, error) {
	st := s.Engine.Snapshot()
	return s.reader.PoolInfo(ctx,
		st.TokenIn.Routable(s.wrapped),
		st.TokenOut.Routable(s.wrapped))
}

// Tokens lists the selectable tokens.
func (s *SwapService) Tokens() []entities.Token {
	return s.registry.GetAll()
}

func (s *SwapService) refetchBalances(ctx context.Context) {
	go func() {
		refetchCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if ctx != nil && ctx.Err() != nil {
			return
		}
		if err := s.Tracker.RefetchAll(refetchCtx); err != nil {
			log.Printf("balance refetch: %v", err)
		}
		s.notify()
	}()
}

func (s *SwapService) afterApproval() {
	s.refetchBalances(context.Background())
}

func (s *SwapService) afterSwap() {
	// A confirmed swap clears the typed amount and re-probes, matching the
	// post-swap reset in the form.
	s.Engine.SetAmount("")
	s.Engine.Refresh()
	s.refetchBalances(context.Background())
}
