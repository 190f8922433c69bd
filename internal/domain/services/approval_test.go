package services

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/twannasleep/nerd-swap/internal/domain/entities"
	"github.com/twannasleep/nerd-swap/internal/infrastructure/chain"
	"github.com/twannasleep/nerd-swap/internal/infrastructure/wallet"
)

func TestApproveNativeFailsFast(t *testing.T) {
	provider := &mockProvider{connected: true, account: common.Address{1}}
	manager := NewApprovalManager(newMockReader(), provider, testRouter, nil, nil)

	_, err := manager.Approve(context.Background(), entities.BNB)
	if !errors.Is(err, entities.ErrInvalidApprovalTarget) {
		t.Fatalf("expected ErrInvalidApprovalTarget, got %v", err)
	}
	provider.mu.Lock()
	defer provider.mu.Unlock()
	if len(provider.submitted) != 0 {
		t.Error("no transaction should be submitted for the native sentinel")
	}
}

func TestApproveRequiresAccount(t *testing.T) {
	manager := NewApprovalManager(newMockReader(), &mockProvider{}, testRouter, nil, nil)
	if _, err := manager.Approve(context.Background(), entities.TEST63); !errors.Is(err, entities.ErrNoAccount) {
		t.Errorf("expected ErrNoAccount, got %v", err)
	}
}

func TestApproveConfirmsAfterAllowanceVerification(t *testing.T) {
	reader := newMockReader()
	reader.allowances[entities.TEST63.Address] = new(big.Int).Set(MaxUint256)

	hash := common.HexToHash("0xaa")
	provider := &mockProvider{
		connected: true,
		account:   common.HexToAddress("0x000000000000000000000000000000000000beef"),
		hash:      hash,
		receipt:   wallet.ReceiptEvent{Hash: hash, Success: true, MinedAt: time.Now()},
	}

	confirmed := make(chan struct{}, 1)
	manager := NewApprovalManager(reader, provider, testRouter,
		func() { confirmed <- struct{}{} }, nil)

	got, err := manager.Approve(context.Background(), entities.TEST63)
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if got != hash {
		t.Errorf("hash = %s, want %s", got.Hex(), hash.Hex())
	}

	select {
	case <-confirmed:
	case <-time.After(2 * time.Second):
		t.Fatal("confirmation callback never fired")
	}
	record := manager.Record()
	if record.Status != entities.TxConfirmed {
		t.Errorf("record status = %s, want confirmed", record.Status)
	}

	// The submitted call is an unlimited approval against the token.
	provider.mu.Lock()
	defer provider.mu.Unlock()
	if len(provider.submitted) != 1 {
		t.Fatalf("submitted %d calls, want 1", len(provider.submitted))
	}
	call := provider.submitted[0]
	if call.To != entities.TEST63.Address {
		t.Errorf("call target = %s, want token contract", call.To.Hex())
	}
	if !bytes.Equal(call.Data[:4], chain.ERC20ABI().Methods["approve"].ID) {
		t.Error("call is not an approve")
	}
}

func TestApprovePartialAllowanceDoesNotConfirm(t *testing.T) {
	reader := newMockReader()
	// A pre-existing partial allowance: positive, but not the approved
	// amount. It must not satisfy verification.
	five, _ := new(big.Int).SetString("5000000000000000000", 10)
	reader.allowances[entities.TEST63.Address] = five

	hash := common.HexToHash("0xdd")
	provider := &mockProvider{
		connected: true,
		account:   common.HexToAddress("0x000000000000000000000000000000000000beef"),
		hash:      hash,
		receipt:   wallet.ReceiptEvent{Hash: hash, Success: true, MinedAt: time.Now()},
	}
	manager := NewApprovalManager(reader, provider, testRouter, nil, nil)
	manager.verifyAttempts = 2
	manager.verifyDelay = time.Millisecond

	if _, err := manager.Approve(context.Background(), entities.TEST63); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if manager.Record().Status == entities.TxFailed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	record := manager.Record()
	if record.Status != entities.TxFailed {
		t.Fatalf("record status = %s, want failed while allowance lags", record.Status)
	}
}

func TestApproveRevertedTransaction(t *testing.T) {
	hash := common.HexToHash("0xbb")
	provider := &mockProvider{
		connected: true,
		account:   common.HexToAddress("0x000000000000000000000000000000000000beef"),
		hash:      hash,
		receipt:   wallet.ReceiptEvent{Hash: hash, Success: false},
	}
	manager := NewApprovalManager(newMockReader(), provider, testRouter, nil, nil)

	if _, err := manager.Approve(context.Background(), entities.TEST63); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if manager.Record().Status == entities.TxFailed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	record := manager.Record()
	if record.Status != entities.TxFailed {
		t.Fatalf("record status = %s, want failed", record.Status)
	}
	if record.Error != entities.ErrTransactionReverted.Error() {
		t.Errorf("record error = %q", record.Error)
	}
}

func TestApproveRejectsConcurrentSubmission(t *testing.T) {
	hash := common.HexToHash("0xcc")
	provider := &mockProvider{
		connected: true,
		account:   common.HexToAddress("0x000000000000000000000000000000000000beef"),
		hash:      hash,
		// A successful receipt with a zero allowance keeps the watch in its
		// verification loop, so the record stays pending for several seconds.
		receipt: wallet.ReceiptEvent{Hash: hash, Success: true, MinedAt: time.Now()},
	}
	reader := newMockReader()
	manager := NewApprovalManager(reader, provider, testRouter, nil, nil)

	if _, err := manager.Approve(context.Background(), entities.TEST63); err != nil {
		t.Fatalf("first Approve failed: %v", err)
	}
	if _, err := manager.Approve(context.Background(), entities.TEST63); err == nil {
		t.Error("second Approve should fail while the first is in flight")
	}
}
