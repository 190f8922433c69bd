package services

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/twannasleep/nerd-swap/internal/domain/entities"
)

// Action identifies what the primary control should do next.
type Action string

const (
	ActionConnect             Action = "connect"
	ActionSelectTokens        Action = "selectTokens"
	ActionEnterAmount         Action = "enterAmount"
	ActionInsufficientBalance Action = "insufficientBalance"
	ActionApprove             Action = "approve"
	ActionSwap                Action = "swap"
	ActionLoading             Action = "loading"
	ActionError               Action = "error"
)

// ActionState is the resolved label and enablement of the primary control.
type ActionState struct {
	Action  Action `json:"action"`
	Label   string `json:"label"`
	Enabled bool   `json:"enabled"`
}

// ActionInputs gathers everything the resolver consumes. The resolver
// itself performs no I/O.
type ActionInputs struct {
	Connected    bool
	State        QuoteState
	InputBalance *big.Int
	Allowance    *big.Int
	Approving    bool
	Swapping     bool
}

// ResolveAction maps the current core state to the primary control, a pure
// function mirroring the quoting and execution preconditions: validation
// outranks approval, approval outranks swapping.
func ResolveAction(in ActionInputs) ActionState {
	if !in.Connected {
		return ActionState{Action: ActionConnect, Label: "Connect Wallet"}
	}

	st := in.State
	if st.TokenIn.Address == (common.Address{}) || st.TokenOut.Address == (common.Address{}) {
		return ActionState{Action: ActionSelectTokens, Label: "Select Tokens"}
	}
	if st.Loading || !st.DecimalsResolved {
		return ActionState{Action: ActionLoading, Label: "Loading..."}
	}
	if st.FormError != "" {
		return ActionState{Action: ActionError, Label: st.FormError}
	}

	amountIn := spendAmount(st)
	if amountIn == nil || amountIn.Sign() <= 0 {
		return ActionState{Action: ActionEnterAmount, Label: "Enter Amount"}
	}
	if in.InputBalance != nil && amountIn.Cmp(in.InputBalance) > 0 {
		return ActionState{Action: ActionInsufficientBalance, Label: "Insufficient Balance"}
	}

	allowanceState := entities.DeriveAllowanceState(st.TokenIn, in.Allowance, amountIn)
	if allowanceState.NeedsApproval {
		return ActionState{
			Action:  ActionApprove,
			Label:   fmt.Sprintf("Approve %s", st.TokenIn.Symbol),
			Enabled: !in.Approving,
		}
	}

	return ActionState{Action: ActionSwap, Label: "Swap", Enabled: !in.Swapping && st.Quote != nil}
}

// spendAmount is the input-side amount in base units: the typed amount for
// exact-in, the derived amount for exact-out.
func spendAmount(st QuoteState) *big.Int {
	value := st.InputAmount
	if st.Mode == entities.ExactOut {
		value = st.DerivedInput
	}
	if value == "" {
		return nil
	}
	amount, err := entities.ParseUnits(value, st.InputDecimals)
	if err != nil {
		return nil
	}
	return amount
}
