package entities

import "errors"

// Failure taxonomy for the swap core. Validation errors resolve before any
// RPC is attempted; read errors surface as form-level state; transaction
// errors surface as transient notices and never corrupt quote or balance
// state.
var (
	// ErrParse marks numeric input that cannot be converted to base units.
	ErrParse = errors.New("invalid numeric input")

	// ErrInsufficientLiquidity is returned when the router has no viable
	// rate for the requested path.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity for this trade")

	// ErrInsufficientBalance is returned when the spend amount exceeds the
	// tracked balance of the input token.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrSlippageBound is returned when the slippage-adjusted bound
	// computes to zero or below.
	ErrSlippageBound = errors.New("slippage bound is not positive")

	// ErrInvalidApprovalTarget is returned on an attempt to approve the
	// native-coin sentinel. No network call is made.
	ErrInvalidApprovalTarget = errors.New("native coin cannot be approved")

	// ErrNoAccount is returned when a transaction is requested without a
	// connected account.
	ErrNoAccount = errors.New("no connected account")

	// ErrNoQuote is returned when a swap is requested without a current,
	// non-stale quote.
	ErrNoQuote = errors.New("no quote available")

	// ErrIdenticalTokens is returned when input and output tokens match.
	ErrIdenticalTokens = errors.New("input and output tokens are identical")

	// ErrDecimalsUnresolved blocks quoting until a token's decimals have
	// been resolved from chain or registry.
	ErrDecimalsUnresolved = errors.New("token decimals not resolved")

	// ErrTransactionRejected covers wallet-side rejection before the
	// transaction reaches the chain.
	ErrTransactionRejected = errors.New("transaction rejected")

	// ErrTransactionReverted covers on-chain execution failure.
	ErrTransactionReverted = errors.New("transaction reverted")

	// ErrNetworkMismatch is returned when the RPC endpoint reports a chain
	// other than the configured one. All reads stay disabled until fixed.
	ErrNetworkMismatch = errors.New("connected to wrong network")
)
