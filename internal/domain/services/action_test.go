package services

import (
	"math/big"
	"testing"

	"github.com/twannasleep/nerd-swap/internal/domain/entities"
)

func readyState(tokenIn, tokenOut entities.Token, inputAmount string) QuoteState {
	return QuoteState{
		Mode:             entities.ExactIn,
		TokenIn:          tokenIn,
		TokenOut:         tokenOut,
		InputAmount:      inputAmount,
		InputDecimals:    18,
		OutputDecimals:   18,
		DecimalsResolved: true,
		Quote:            &entities.Quote{CounterpartAmount: "50"},
	}
}

func TestResolveAction(t *testing.T) {
	ten, _ := new(big.Int).SetString("10000000000000000000", 10)
	hundred, _ := new(big.Int).SetString("100000000000000000000", 10)

	tests := []struct {
		name    string
		in      ActionInputs
		action  Action
		enabled bool
	}{
		{
			name:   "disconnected wins over everything",
			in:     ActionInputs{Connected: false, State: readyState(entities.TEST63, entities.BNB, "10")},
			action: ActionConnect,
		},
		{
			name: "missing token",
			in: ActionInputs{Connected: true, State: QuoteState{
				Mode: entities.ExactIn, TokenIn: entities.TEST63,
			}},
			action: ActionSelectTokens,
		},
		{
			name: "loading while quoting",
			in: ActionInputs{Connected: true, State: func() QuoteState {
				st := readyState(entities.TEST63, entities.BNB, "10")
				st.Loading = true
				return st
			}()},
			action: ActionLoading,
		},
		{
			name: "unresolved decimals block quoting",
			in: ActionInputs{Connected: true, State: func() QuoteState {
				st := readyState(entities.TEST63, entities.BNB, "10")
				st.DecimalsResolved = false
				return st
			}()},
			action: ActionLoading,
		},
		{
			name: "form error surfaces",
			in: ActionInputs{Connected: true, State: func() QuoteState {
				st := readyState(entities.TEST63, entities.BNB, "10")
				st.FormError = entities.ErrInsufficientLiquidity.Error()
				return st
			}()},
			action: ActionError,
		},
		{
			name:   "empty amount",
			in:     ActionInputs{Connected: true, State: readyState(entities.TEST63, entities.BNB, ""), InputBalance: hundred},
			action: ActionEnterAmount,
		},
		{
			name:   "amount exceeds balance",
			in:     ActionInputs{Connected: true, State: readyState(entities.TEST63, entities.BNB, "10"), InputBalance: big.NewInt(1)},
			action: ActionInsufficientBalance,
		},
		{
			name:    "approval needed",
			in:      ActionInputs{Connected: true, State: readyState(entities.TEST63, entities.BNB, "10"), InputBalance: hundred, Allowance: big.NewInt(0)},
			action:  ActionApprove,
			enabled: true,
		},
		{
			name:   "approval in flight disables the control",
			in:     ActionInputs{Connected: true, State: readyState(entities.TEST63, entities.BNB, "10"), InputBalance: hundred, Allowance: big.NewInt(0), Approving: true},
			action: ActionApprove,
		},
		{
			name:    "sufficient allowance enables swap",
			in:      ActionInputs{Connected: true, State: readyState(entities.TEST63, entities.BNB, "10"), InputBalance: hundred, Allowance: ten},
			action:  ActionSwap,
			enabled: true,
		},
		{
			name:    "native input skips approval",
			in:      ActionInputs{Connected: true, State: readyState(entities.BNB, entities.TEST63, "10"), InputBalance: hundred, Allowance: nil},
			action:  ActionSwap,
			enabled: true,
		},
		{
			name:   "swap in flight disables the control",
			in:     ActionInputs{Connected: true, State: readyState(entities.TEST63, entities.BNB, "10"), InputBalance: hundred, Allowance: ten, Swapping: true},
			action: ActionSwap,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveAction(tt.in)
			if got.Action != tt.action {
				t.Errorf("action = %s, want %s", got.Action, tt.action)
			}
			if got.Enabled != tt.enabled {
				t.Errorf("enabled = %v, want %v", got.Enabled, tt.enabled)
			}
			if got.Label == "" {
				t.Error("label should never be empty")
			}
		})
	}
}

func TestResolveActionExactOutUsesDerivedInput(t *testing.T) {
	hundred, _ := new(big.Int).SetString("100000000000000000000", 10)
	st := QuoteState{
		Mode:             entities.ExactOut,
		TokenIn:          entities.TEST63,
		TokenOut:         entities.BNB,
		OutputAmount:     "50",
		DerivedInput:     "10",
		InputDecimals:    18,
		OutputDecimals:   18,
		DecimalsResolved: true,
		Quote:            &entities.Quote{CounterpartAmount: "10"},
	}

	got := ResolveAction(ActionInputs{Connected: true, State: st, InputBalance: hundred, Allowance: big.NewInt(0)})
	if got.Action != ActionApprove {
		t.Errorf("action = %s, want approve derived from the input side", got.Action)
	}

	// Until the input side is derived there is nothing to spend.
	st.DerivedInput = ""
	got = ResolveAction(ActionInputs{Connected: true, State: st, InputBalance: hundred})
	if got.Action != ActionEnterAmount {
		t.Errorf("action = %s, want enterAmount while underived", got.Action)
	}
}
