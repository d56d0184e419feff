// Package router defines the swap-router interface used to convert harvested
// rewards, plus one concrete adapter per target exchange.
package router

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yourorg/autocompounder/internal/model"
)

// Adapter executes pre-configured multi-hop swap routes. Routes are never
// computed here; they arrive validated from strategy construction.
type Adapter interface {
	// Address is the router's identity as a token spender
	Address() common.Address

	// SwapExactIn sells amountIn along route on behalf of owner and fails when
	// the realized output is below minOut or the deadline has passed.
	SwapExactIn(ctx context.Context, owner common.Address, amountIn *big.Int, route model.Route, minOut *big.Int, deadline time.Time) (*big.Int, error)

	// QuoteOut estimates the output of selling amountIn along route without
	// committing state. It may fail for an illiquid or unknown route; callers
	// treat that as "unknown", not as an error to propagate.
	QuoteOut(ctx context.Context, amountIn *big.Int, route model.Route) (*big.Int, error)

	// AddLiquidity supplies both legs of a pair on behalf of owner and returns
	// the LP tokens minted. Minimum accepted amounts follow the caller.
	AddLiquidity(ctx context.Context, owner common.Address, tokenA, tokenB common.Address, amountA, amountB, minA, minB *big.Int, deadline time.Time) (*big.Int, error)
}
