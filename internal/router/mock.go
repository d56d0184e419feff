package router

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/yourorg/autocompounder/internal/model"
	"github.com/yourorg/autocompounder/internal/token"
)

// Mock is a deterministic router for tests and sim mode. Each directed pair
// carries a fixed rational exchange rate; output is floor(in * num / den),
// computed on uint256 to match on-chain integer semantics. A 1/1 rate gives
// the exact passthrough the accounting tests rely on.
type Mock struct {
	mu     sync.Mutex
	addr   common.Address
	ledger token.Ledger
	rates  map[pairKey]rate
	pairs  map[pairKey]common.Address // (leg0, leg1) -> LP token

	// FailQuotes forces QuoteOut to error, for degraded-read tests
	FailQuotes bool

	// FailSwaps forces SwapExactIn to error, for aborted-cycle tests
	FailSwaps bool
}

type pairKey struct {
	from, to common.Address
}

type rate struct {
	num, den *uint256.Int
}

// NewMock creates a mock router with the given spender identity.
func NewMock(addr common.Address, ledger token.Ledger) *Mock {
	return &Mock{
		addr:   addr,
		ledger: ledger,
		rates:  make(map[pairKey]rate),
		pairs:  make(map[pairKey]common.Address),
	}
}

// SetRate fixes the exchange rate for the directed pair from->to at num/den.
func (m *Mock) SetRate(from, to common.Address, num, den uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[pairKey{from, to}] = rate{
		num: uint256.NewInt(num),
		den: uint256.NewInt(den),
	}
}

// SetPair registers the LP token minted when liquidity is added for a leg pair.
func (m *Mock) SetPair(leg0, leg1, lpToken common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs[pairKey{leg0, leg1}] = lpToken
	m.pairs[pairKey{leg1, leg0}] = lpToken
}

// Address is the router's identity as a token spender and holder.
func (m *Mock) Address() common.Address { return m.addr }

// SwapExactIn sells amountIn along route, hop by hop.
func (m *Mock) SwapExactIn(ctx context.Context, owner common.Address, amountIn *big.Int, route model.Route, minOut *big.Int, deadline time.Time) (*big.Int, error) {
	if m.FailSwaps {
		return nil, fmt.Errorf("swap reverted")
	}
	if !deadline.IsZero() && time.Now().After(deadline) {
		return nil, fmt.Errorf("swap deadline expired at %s", deadline.Format(time.RFC3339))
	}
	if len(route) < 2 {
		return nil, fmt.Errorf("route too short: %d hops", len(route))
	}
	out, err := m.amountsOut(amountIn, route)
	if err != nil {
		return nil, err
	}
	if minOut != nil && out.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("insufficient output: %s < min %s", out, minOut)
	}

	if err := m.ledger.TransferFrom(ctx, route[0], m.addr, owner, m.addr, amountIn); err != nil {
		return nil, fmt.Errorf("pull input leg: %w", err)
	}
	if err := m.ledger.Transfer(ctx, route[len(route)-1], m.addr, owner, out); err != nil {
		return nil, fmt.Errorf("deliver output leg: %w", err)
	}
	return out, nil
}

// QuoteOut estimates the route output without moving funds.
func (m *Mock) QuoteOut(_ context.Context, amountIn *big.Int, route model.Route) (*big.Int, error) {
	if m.FailQuotes {
		return nil, fmt.Errorf("quote reverted")
	}
	if len(route) < 2 {
		return nil, fmt.Errorf("route too short: %d hops", len(route))
	}
	return m.amountsOut(amountIn, route)
}

// AddLiquidity pulls both legs and mints the pair's LP token one-for-one
// against the combined leg amounts.
func (m *Mock) AddLiquidity(ctx context.Context, owner common.Address, tokenA, tokenB common.Address, amountA, amountB, minA, minB *big.Int, deadline time.Time) (*big.Int, error) {
	if !deadline.IsZero() && time.Now().After(deadline) {
		return nil, fmt.Errorf("add-liquidity deadline expired at %s", deadline.Format(time.RFC3339))
	}
	if minA != nil && amountA.Cmp(minA) < 0 {
		return nil, fmt.Errorf("leg A below minimum: %s < %s", amountA, minA)
	}
	if minB != nil && amountB.Cmp(minB) < 0 {
		return nil, fmt.Errorf("leg B below minimum: %s < %s", amountB, minB)
	}

	m.mu.Lock()
	lp, ok := m.pairs[pairKey{tokenA, tokenB}]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown pair %s/%s", tokenA.Hex(), tokenB.Hex())
	}

	if err := m.ledger.TransferFrom(ctx, tokenA, m.addr, owner, m.addr, amountA); err != nil {
		return nil, fmt.Errorf("pull leg A: %w", err)
	}
	if err := m.ledger.TransferFrom(ctx, tokenB, m.addr, owner, m.addr, amountB); err != nil {
		return nil, fmt.Errorf("pull leg B: %w", err)
	}

	minted := new(big.Int).Add(amountA, amountB)
	if bank, ok := m.ledger.(*token.Bank); ok {
		bank.Mint(lp, owner, minted)
		return minted, nil
	}
	if err := m.ledger.Transfer(ctx, lp, m.addr, owner, minted); err != nil {
		return nil, fmt.Errorf("deliver LP: %w", err)
	}
	return minted, nil
}

func (m *Mock) amountsOut(amountIn *big.Int, route model.Route) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	amount, overflow := uint256.FromBig(amountIn)
	if overflow {
		return nil, fmt.Errorf("amount overflows uint256")
	}
	for i := 0; i+1 < len(route); i++ {
		r, ok := m.rates[pairKey{route[i], route[i+1]}]
		if !ok {
			return nil, fmt.Errorf("no liquidity for hop %s -> %s", route[i].Hex(), route[i+1].Hex())
		}
		amount = new(uint256.Int).Div(new(uint256.Int).Mul(amount, r.num), r.den)
	}
	return amount.ToBig(), nil
}
