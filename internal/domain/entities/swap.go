package entities

import (
	"math/big"
	"time"
)

// SwapMode selects which side of the trade the user fixes.
type SwapMode string

const (
	ExactIn  SwapMode = "exactIn"
	ExactOut SwapMode = "exactOut"
)

// SwapIntent captures a single user input state. Intents are immutable:
// every keystroke, mode change, or token-selection change produces a fresh
// intent that supersedes the previous one. Seq orders intents so late read
// results keyed to a superseded intent can be discarded on arrival.
type SwapIntent struct {
	Seq       uint64
	Mode      SwapMode
	RawAmount string
	TokenIn   Token
	TokenOut  Token
}

// Quote is derived state, always subordinate to the latest on-chain read.
type Quote struct {
	// CounterpartAmount is the derived side as a decimal string: output
	// for ExactIn, input for ExactOut.
	CounterpartAmount string
	// CounterpartRaw is the same amount in base units.
	CounterpartRaw *big.Int
	// RateOutPerIn is the display exchange rate, nil while unavailable.
	RateOutPerIn *float64
	// PriceImpactPct is the USD-reference impact estimate, nil when a
	// reference price is missing for either side.
	PriceImpactPct *float64
	AsOf           time.Time
}

// AllowanceState captures the router's current spending permission for the
// input token against the required spend.
type AllowanceState struct {
	CurrentAllowance *big.Int
	RequiredAmount   *big.Int
	NeedsApproval    bool
}

// DeriveAllowanceState applies the approval rule: approval is needed only
// for a non-native input token with a positive required spend that exceeds
// the current allowance.
func DeriveAllowanceState(tokenIn Token, allowance, required *big.Int) AllowanceState {
	state := AllowanceState{
		CurrentAllowance: allowance,
		RequiredAmount:   required,
	}
	if tokenIn.IsNative() {
		return state
	}
	if required == nil || required.Sign() <= 0 {
		return state
	}
	if allowance == nil || allowance.Cmp(required) < 0 {
		state.NeedsApproval = true
	}
	return state
}

// TxStatus is the lifecycle of a submitted transaction record.
type TxStatus string

const (
	TxIdle                TxStatus = "idle"
	TxSubmitting          TxStatus = "submitting"
	TxPendingConfirmation TxStatus = "pendingConfirmation"
	TxConfirmed           TxStatus = "confirmed"
	TxFailed              TxStatus = "failed"
)

// TransactionRecord tracks one approval or swap transaction. A record is
// owned exclusively by the component that submitted it.
type TransactionRecord struct {
	Hash        string    `json:"hash,omitempty"`
	Status      TxStatus  `json:"status"`
	Summary     string    `json:"summary,omitempty"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submittedAt,omitzero"`
	ConfirmedAt time.Time `json:"confirmedAt,omitzero"`
}

// PoolInfo reports the pair contract backing a token pair, for display.
type PoolInfo struct {
	PairAddress string   `json:"pairAddress"`
	Reserve0    *big.Int `json:"reserve0"`
	Reserve1    *big.Int `json:"reserve1"`
	Token0      string   `json:"token0"`
	Token1      string   `json:"token1"`
	UpdatedAt   int64    `json:"updatedAt"`
}
