package entities

import "github.com/ethereum/go-ethereum/common"

// NativeTokenAddress is the sentinel address representing the chain's native
// coin. It is not a contract; anything holding this address must be swapped
// for the wrapped-native address before it reaches the router.
var NativeTokenAddress = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

type Token struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Name     string         `json:"name"`
	Decimals uint8          `json:"decimals"`
	LogoURI  string         `json:"logoURI,omitempty"`
}

// IsNative reports whether the token is the native-coin sentinel.
func (t Token) IsNative() bool {
	return t.Address == NativeTokenAddress
}

// Routable returns the address usable in a router path: the wrapped-native
// contract for the sentinel, the token's own address otherwise.
func (t Token) Routable(wrappedNative common.Address) common.Address {
	if t.IsNative() {
		return wrappedNative
	}
	return t.Address
}

// BNB is the native coin of the BNB testnet.
var BNB = Token{
	Address:  NativeTokenAddress,
	Symbol:   "BNB",
	Name:     "Binance Coin",
	Decimals: 18,
}

// WBNB is Wrapped BNB on the BNB testnet.
var WBNB = Token{
	Address:  common.HexToAddress("0xae13d989daC2f0dEbFf460aC112a837C89BAa7cd"),
	Symbol:   "WBNB",
	Name:     "Wrapped BNB",
	Decimals: 18,
}

// TEST63 is the test token paired against BNB on the testnet pool.
var TEST63 = Token{
	Address:  common.HexToAddress("0xfe113952C81D14520a8752C87c47f79564892bA3"),
	Symbol:   "TEST63",
	Name:     "TEST63 Token",
	Decimals: 18,
}
