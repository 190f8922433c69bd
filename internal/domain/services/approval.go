package services

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/twannasleep/nerd-swap/internal/domain/entities"
	"github.com/twannasleep/nerd-swap/internal/infrastructure/chain"
	"github.com/twannasleep/nerd-swap/internal/infrastructure/wallet"
)

// MaxUint256 is the unlimited approval amount. Approving the maximum trades
// a one-time approval cost for never re-approving the router; this is a
// deliberate policy choice, not an oversight.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

const (
	allowanceVerifyAttempts = 5
	allowanceVerifyDelay    = time.Second
)

// ApprovalManager issues and tracks ERC-20 approve transactions against the
// router. It owns its transaction record exclusively; the swap builder never
// touches it.
type ApprovalManager struct {
	reader   chain.Reader
	provider wallet.Provider
	router   common.Address

	onConfirmed func()
	onChange    func()

	// Verification polls long enough to outlive the read cache's allowance
	// TTL, so at least one fresh read backs the confirmation.
	verifyAttempts int
	verifyDelay    time.Duration

	mu     sync.Mutex
	record entities.TransactionRecord
}

// NewApprovalManager creates the manager. onConfirmed runs after an approval
// both confirms on-chain and is reflected by a fresh allowance read;
// onChange fires on every record transition. Either may be nil.
func NewApprovalManager(reader chain.Reader, provider wallet.Provider, router common.Address, onConfirmed, onChange func()) *ApprovalManager {
	return &ApprovalManager{
		reader:         reader,
		provider:       provider,
		router:         router,
		onConfirmed:    onConfirmed,
		onChange:       onChange,
		verifyAttempts: allowanceVerifyAttempts,
		verifyDelay:    allowanceVerifyDelay,
		record:         entities.TransactionRecord{Status: entities.TxIdle},
	}
}

// Record returns a copy of the current transaction record.
func (m *ApprovalManager) Record() entities.TransactionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record
}

// InFlight reports whether an approval is submitted but not yet settled.
func (m *ApprovalManager) InFlight() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record.Status == entities.TxSubmitting || m.record.Status == entities.TxPendingConfirmation
}

// Approve submits an unlimited approval for the token and returns once the
// transaction is broadcast. Confirmation is observed asynchronously; the
// allowance is re-verified with a fresh read before the state settles.
// Approving the native sentinel fails fast without any network call.
func (m *ApprovalManager) Approve(ctx context.Context, token entities.Token) (common.Hash, error) {
	if token.IsNative() {
		return common.Hash{}, entities.ErrInvalidApprovalTarget
	}
	account, connected := m.provider.Account()
	if !connected {
		return common.Hash{}, entities.ErrNoAccount
	}
	if m.InFlight() {
		return common.Hash{}, fmt.Errorf("approval already in flight")
	}

	data, err := chain.ERC20ABI().Pack("approve", m.router, MaxUint256)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack approve: %w", err)
	}

	m.transition(func(r *entities.TransactionRecord) {
		*r = entities.TransactionRecord{
			Status:      entities.TxSubmitting,
			Summary:     fmt.Sprintf("Approving %s for trading", token.Symbol),
			SubmittedAt: time.Now(),
		}
	})

	hash, err := m.provider.SubmitCall(ctx, wallet.CallRequest{To: token.Address, Data: data})
	if err != nil {
		m.transition(func(r *entities.TransactionRecord) {
			r.Status = entities.TxFailed
			r.Error = err.Error()
		})
		return common.Hash{}, err
	}

	m.transition(func(r *entities.TransactionRecord) {
		r.Status = entities.TxPendingConfirmation
		r.Hash = hash.Hex()
	})

	go m.watch(hash, token, account)
	return hash, nil
}

func (m *ApprovalManager) watch(hash common.Hash, token entities.Token, account common.Address) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	event := <-m.provider.WatchReceipt(ctx, hash)
	if event.Err != nil || !event.Success {
		m.transition(func(r *entities.TransactionRecord) {
			r.Status = entities.TxFailed
			if event.Err != nil {
				r.Error = event.Err.Error()
			} else {
				r.Error = entities.ErrTransactionReverted.Error()
			}
		})
		return
	}

	// Receipt success alone is not enough: confirmation requires a
	// subsequent allowance read reflecting the approved amount. A stale or
	// pre-existing partial allowance is positive but smaller, so comparing
	// against the full approval distinguishes the two.
	verified := false
	for i := 0; i < m.verifyAttempts; i++ {
		allowance, err := m.reader.Allowance(ctx, token.Address, account, m.router)
		if err == nil && allowance != nil && allowance.Cmp(MaxUint256) == 0 {
			verified = true
			break
		}
		time.Sleep(m.verifyDelay)
	}
	if !verified {
		// Receipt success without a reflected allowance leaves the approval
		// unusable; settling as confirmed would let a swap through that the
		// router must reject.
		log.Printf("approval %s mined but allowance still reads zero", hash.Hex())
		m.transition(func(r *entities.TransactionRecord) {
			r.Status = entities.TxFailed
			r.Error = "approval mined but allowance not reflected"
		})
		return
	}

	m.transition(func(r *entities.TransactionRecord) {
		r.Status = entities.TxConfirmed
		r.ConfirmedAt = event.MinedAt
		r.Summary = fmt.Sprintf("%s approved for trading", token.Symbol)
	})
	if m.onConfirmed != nil {
		m.onConfirmed()
	}
}

func (m *ApprovalManager) transition(apply func(*entities.TransactionRecord)) {
	m.mu.Lock()
	apply(&m.record)
	m.mu.Unlock()
	if m.onChange != nil {
		m.onChange()
	}
}
