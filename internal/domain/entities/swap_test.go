package entities

import (
	"math/big"
	"testing"
)

func TestDeriveAllowanceState(t *testing.T) {
	ten := new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18))
	five := new(big.Int).Mul(big.NewInt(5), big.NewInt(1e18))

	tests := []struct {
		name          string
		token         Token
		allowance     *big.Int
		required      *big.Int
		needsApproval bool
	}{
		{name: "native never needs approval", token: BNB, allowance: big.NewInt(0), required: ten, needsApproval: false},
		{name: "zero allowance", token: TEST63, allowance: big.NewInt(0), required: ten, needsApproval: true},
		{name: "unknown allowance", token: TEST63, allowance: nil, required: ten, needsApproval: true},
		{name: "allowance below required", token: TEST63, allowance: five, required: ten, needsApproval: true},
		{name: "allowance equals required", token: TEST63, allowance: ten, required: ten, needsApproval: false},
		{name: "allowance above required", token: TEST63, allowance: ten, required: five, needsApproval: false},
		{name: "no required spend", token: TEST63, allowance: big.NewInt(0), required: nil, needsApproval: false},
		{name: "zero required spend", token: TEST63, allowance: big.NewInt(0), required: big.NewInt(0), needsApproval: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := DeriveAllowanceState(tt.token, tt.allowance, tt.required)
			if state.NeedsApproval != tt.needsApproval {
				t.Errorf("NeedsApproval = %v, want %v", state.NeedsApproval, tt.needsApproval)
			}
		})
	}
}

func TestTokenRoutable(t *testing.T) {
	if BNB.Routable(WBNB.Address) != WBNB.Address {
		t.Error("native sentinel should route through the wrapped contract")
	}
	if TEST63.Routable(WBNB.Address) != TEST63.Address {
		t.Error("ERC-20 token should route as itself")
	}
	if !BNB.IsNative() || TEST63.IsNative() {
		t.Error("IsNative misclassified a token")
	}
}
