package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"github.com/twannasleep/nerd-swap/internal/domain/entities"
	"github.com/twannasleep/nerd-swap/internal/infrastructure/cache"
	ethclient "github.com/twannasleep/nerd-swap/internal/infrastructure/ethereum"
)

// ErrReadDisabled marks a read whose required inputs are absent or invalid.
// It is a distinct state from loading and from a failed read: no RPC was
// attempted.
var ErrReadDisabled = errors.New("read disabled: inputs absent or invalid")

// Read staleness windows. Decimals never change, so they cache forever;
// balances and rates use short windows to limit request volume during rapid
// typing without serving stale values for long.
const (
	balanceTTL = 2 * time.Second
	amountsTTL = 1 * time.Second
	poolTTL    = 5 * time.Second
)

// Reader is the read-only contract boundary: idempotent, side-effect-free
// calls against the ERC-20 tokens and the AMM router.
type Reader interface {
	Decimals(ctx context.Context, token common.Address) (uint8, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error)
	GetAmountsIn(ctx context.Context, amountOut *big.Int, path []common.Address) ([]*big.Int, error)
	PoolInfo(ctx context.Context, tokenA, tokenB common.Address) (*entities.PoolInfo, error)
}

// ReadPort implements Reader against a JSON-RPC endpoint with caching and
// in-flight deduplication: identical reads never run concurrently with
// themselves.
type ReadPort struct {
	client  *ethclient.Client
	cache   cache.Cache
	router  common.Address
	factory common.Address
	chainID uint64
	group   singleflight.Group
}

// NewReadPort creates a read port bound to a router and its factory.
func NewReadPort(client *ethclient.Client, c cache.Cache, router, factory common.Address) *ReadPort {
	return &ReadPort{
		client:  client,
		cache:   c,
		router:  router,
		factory: factory,
		chainID: client.ChainID().Uint64(),
	}
}

// Decimals resolves a token's decimal count. The native sentinel has no
// contract to ask; it is fixed at 18. Results cache indefinitely.
func (p *ReadPort) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	if token == (common.Address{}) {
		return 0, fmt.Errorf("%w: missing token address", ErrReadDisabled)
	}
	if token == entities.NativeTokenAddress {
		return 18, nil
	}

	key := cache.ReadKey(p.chainID, "decimals", token.Hex())
	value, err := p.cachedUint(ctx, key, 0, func(ctx context.Context) (*big.Int, error) {
		out, err := p.callERC20(ctx, token, "decimals")
		if err != nil {
			return nil, err
		}
		d, ok := out[0].(uint8)
		if !ok {
			return nil, fmt.Errorf("decimals: unexpected result type %T", out[0])
		}
		return big.NewInt(int64(d)), nil
	})
	if err != nil {
		return 0, err
	}
	return uint8(value.Uint64()), nil
}

// BalanceOf reads an ERC-20 balance.
func (p *ReadPort) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if token == (common.Address{}) || owner == (common.Address{}) {
		return nil, fmt.Errorf("%w: missing token or owner", ErrReadDisabled)
	}
	if token == entities.NativeTokenAddress {
		return p.NativeBalance(ctx, owner)
	}

	key := cache.ReadKey(p.chainID, "balanceOf", token.Hex(), owner.Hex())
	return p.cachedUint(ctx, key, balanceTTL, func(ctx context.Context) (*big.Int, error) {
		out, err := p.callERC20(ctx, token, "balanceOf", owner)
		if err != nil {
			return nil, err
		}
		return asBigInt(out[0])
	})
}

// NativeBalance reads the native-coin balance of an account.
func (p *ReadPort) NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	if owner == (common.Address{}) {
		return nil, fmt.Errorf("%w: missing owner", ErrReadDisabled)
	}

	key := cache.ReadKey(p.chainID, "nativeBalance", owner.Hex())
	return p.cachedUint(ctx, key, balanceTTL, func(ctx context.Context) (*big.Int, error) {
		return p.client.BalanceAt(ctx, owner)
	})
}

// Allowance reads the spender allowance for an ERC-20 token. Asking for the
// native sentinel's allowance is meaningless and stays disabled.
func (p *ReadPort) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	if token == (common.Address{}) || owner == (common.Address{}) || spender == (common.Address{}) {
		return nil, fmt.Errorf("%w: missing address", ErrReadDisabled)
	}
	if token == entities.NativeTokenAddress {
		return nil, fmt.Errorf("%w: native coin has no allowance", ErrReadDisabled)
	}

	key := cache.ReadKey(p.chainID, "allowance", token.Hex(), owner.Hex(), spender.Hex())
	return p.cachedUint(ctx, key, balanceTTL, func(ctx context.Context) (*big.Int, error) {
		out, err := p.callERC20(ctx, token, "allowance", owner, spender)
		if err != nil {
			return nil, err
		}
		return asBigInt(out[0])
	})
}

// GetAmountsOut quotes the output amounts along a path for an exact input.
// A revert here means the pool cannot serve the trade and surfaces as
// insufficient liquidity.
func (p *ReadPort) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if err := validateQuoteArgs(amountIn, path); err != nil {
		return nil, err
	}
	return p.amountsCall(ctx, "getAmountsOut", amountIn, path)
}

// GetAmountsIn quotes the input amounts along a path for an exact output.
func (p *ReadPort) GetAmountsIn(ctx context.Context, amountOut *big.Int, path []common.Address) ([]*big.Int, error) {
	if err := validateQuoteArgs(amountOut, path); err != nil {
		return nil, err
	}
	return p.amountsCall(ctx, "getAmountsIn", amountOut, path)
}

func (p *ReadPort) amountsCall(ctx context.Context, method string, amount *big.Int, path []common.Address) ([]*big.Int, error) {
	pathKey := make([]string, 0, len(path)+1)
	pathKey = append(pathKey, amount.String())
	for _, hop := range path {
		pathKey = append(pathKey, hop.Hex())
	}
	key := cache.ReadKey(p.chainID, method, pathKey...)

	if cached, ok, err := p.cache.Get(ctx, key); err == nil && ok {
		return decodeAmounts(cached)
	}

	result, err, _ := p.group.Do(key, func() (interface{}, error) {
		data, err := routerABI.Pack(method, amount, path)
		if err != nil {
			return nil, fmt.Errorf("pack %s: %w", method, err)
		}
		raw, err := p.client.CallContract(ctx, goethereum.CallMsg{To: &p.router, Data: data})
		if err != nil {
			// The router reverts when the pair is missing or the pool
			// cannot cover the requested amount.
			return nil, fmt.Errorf("%w: %v", entities.ErrInsufficientLiquidity, err)
		}
		out, err := routerABI.Unpack(method, raw)
		if err != nil {
			return nil, fmt.Errorf("unpack %s: %w", method, err)
		}
		amounts, ok := out[0].([]*big.Int)
		if !ok {
			return nil, fmt.Errorf("%s: unexpected result type %T", method, out[0])
		}
		_ = p.cache.Set(ctx, key, encodeAmounts(amounts), amountsTTL)
		return amounts, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]*big.Int), nil
}

// PoolInfo resolves the pair contract for two routable token addresses and
// reads its reserves, for display only.
func (p *ReadPort) PoolInfo(ctx context.Context, tokenA, tokenB common.Address) (*entities.PoolInfo, error) {
	if tokenA == (common.Address{}) || tokenB == (common.Address{}) {
		return nil, fmt.Errorf("%w: missing token address", ErrReadDisabled)
	}
	if tokenA == tokenB {
		return nil, fmt.Errorf("%w: %v", ErrReadDisabled, entities.ErrIdenticalTokens)
	}

	key := cache.ReadKey(p.chainID, "poolInfo", tokenA.Hex(), tokenB.Hex())
	if cached, ok, err := p.cache.Get(ctx, key); err == nil && ok {
		var info entities.PoolInfo
		if err := json.Unmarshal([]byte(cached), &info); err == nil {
			return &info, nil
		}
	}

	result, err, _ := p.group.Do(key, func() (interface{}, error) {
		data, err := factoryABI.Pack("getPair", tokenA, tokenB)
		if err != nil {
			return nil, err
		}
		raw, err := p.client.CallContract(ctx, goethereum.CallMsg{To: &p.factory, Data: data})
		if err != nil {
			return nil, fmt.Errorf("call getPair: %w", err)
		}
		out, err := factoryABI.Unpack("getPair", raw)
		if err != nil {
			return nil, err
		}
		pairAddr := out[0].(common.Address)
		if pairAddr == ethclient.ZeroAddress {
			return nil, fmt.Errorf("%w: pair does not exist", entities.ErrInsufficientLiquidity)
		}

		reservesData, err := pairABI.Pack("getReserves")
		if err != nil {
			return nil, err
		}
		raw, err = p.client.CallContract(ctx, goethereum.CallMsg{To: &pairAddr, Data: reservesData})
		if err != nil {
			return nil, fmt.Errorf("call getReserves: %w", err)
		}
		reserves, err := pairABI.Unpack("getReserves", raw)
		if err != nil {
			return nil, err
		}
		reserve0, err := asBigInt(reserves[0])
		if err != nil {
			return nil, err
		}
		reserve1, err := asBigInt(reserves[1])
		if err != nil {
			return nil, err
		}

		token0Data, _ := pairABI.Pack("token0")
		raw, err = p.client.CallContract(ctx, goethereum.CallMsg{To: &pairAddr, Data: token0Data})
		if err != nil {
			return nil, fmt.Errorf("call token0: %w", err)
		}
		t0, err := pairABI.Unpack("token0", raw)
		if err != nil {
			return nil, err
		}
		token1Data, _ := pairABI.Pack("token1")
		raw, err = p.client.CallContract(ctx, goethereum.CallMsg{To: &pairAddr, Data: token1Data})
		if err != nil {
			return nil, fmt.Errorf("call token1: %w", err)
		}
		t1, err := pairABI.Unpack("token1", raw)
		if err != nil {
			return nil, err
		}

		info := &entities.PoolInfo{
			PairAddress: pairAddr.Hex(),
			Reserve0:    reserve0,
			Reserve1:    reserve1,
			Token0:      t0[0].(common.Address).Hex(),
			Token1:      t1[0].(common.Address).Hex(),
			UpdatedAt:   time.Now().Unix(),
		}
		if encoded, err := json.Marshal(info); err == nil {
			_ = p.cache.Set(ctx, key, string(encoded), poolTTL)
		}
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*entities.PoolInfo), nil
}

func (p *ReadPort) callERC20(ctx context.Context, token common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := p.client.CallContract(ctx, goethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := erc20ABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

// cachedUint serves a uint256-shaped read through the cache and deduplicates
// concurrent identical fetches.
func (p *ReadPort) cachedUint(ctx context.Context, key string, ttl time.Duration, fetch func(context.Context) (*big.Int, error)) (*big.Int, error) {
	if cached, ok, err := p.cache.Get(ctx, key); err == nil && ok {
		value, ok := new(big.Int).SetString(cached, 10)
		if ok {
			return value, nil
		}
	}

	result, err, _ := p.group.Do(key, func() (interface{}, error) {
		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		_ = p.cache.Set(ctx, key, value.String(), ttl)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*big.Int), nil
}

func validateQuoteArgs(amount *big.Int, path []common.Address) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: non-positive amount", ErrReadDisabled)
	}
	if len(path) != 2 {
		return fmt.Errorf("%w: path must have exactly two tokens", ErrReadDisabled)
	}
	if path[0] == (common.Address{}) || path[1] == (common.Address{}) {
		return fmt.Errorf("%w: missing token address", ErrReadDisabled)
	}
	if path[0] == path[1] {
		return fmt.Errorf("%w: %v", ErrReadDisabled, entities.ErrIdenticalTokens)
	}
	return nil
}

func asBigInt(value interface{}) (*big.Int, error) {
	v, ok := value.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T", value)
	}
	return v, nil
}

func encodeAmounts(amounts []*big.Int) string {
	parts := make([]string, len(amounts))
	for i, a := range amounts {
		parts[i] = a.String()
	}
	return strings.Join(parts, ",")
}

func decodeAmounts(encoded string) ([]*big.Int, error) {
	parts := strings.Split(encoded, ",")
	amounts := make([]*big.Int, len(parts))
	for i, part := range parts {
		value, ok := new(big.Int).SetString(part, 10)
		if !ok {
			return nil, fmt.Errorf("corrupt cached amount %q", part)
		}
		amounts[i] = value
	}
	return amounts, nil
}
