package router

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/autocompounder/internal/model"
)

// Backend is the node surface the adapter needs: contract calls plus receipt
// lookup, so every write can block until its transaction is mined.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

const uniV2ABIJSON = `[
	{"inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"swapExactTokensForTokens","outputs":[{"name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"name":"amounts","type":"uint256[]"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"amountADesired","type":"uint256"},{"name":"amountBDesired","type":"uint256"},{"name":"amountAMin","type":"uint256"},{"name":"amountBMin","type":"uint256"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"addLiquidity","outputs":[{"name":"amountA","type":"uint256"},{"name":"amountB","type":"uint256"},{"name":"liquidity","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}
]`

// UniswapV2 adapts a v2-style on-chain router. Writes block until mined;
// realized swap outputs are not decoded from the receipt because the engine
// re-reads balances after each step, so the submitted amounts are what matter.
type UniswapV2 struct {
	addr     common.Address
	backend  Backend
	contract *bind.BoundContract
	signer   *bind.TransactOpts
}

// NewUniswapV2 creates an adapter bound to the router at addr.
func NewUniswapV2(addr common.Address, backend Backend, signer *bind.TransactOpts) (*UniswapV2, error) {
	parsed, err := abi.JSON(strings.NewReader(uniV2ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse router ABI: %w", err)
	}
	return &UniswapV2{
		addr:     addr,
		backend:  backend,
		contract: bind.NewBoundContract(addr, parsed, backend, backend, backend),
		signer:   signer,
	}, nil
}

// Address is the router contract's identity as a token spender.
func (u *UniswapV2) Address() common.Address { return u.addr }

// SwapExactIn submits swapExactTokensForTokens along route.
func (u *UniswapV2) SwapExactIn(ctx context.Context, owner common.Address, amountIn *big.Int, route model.Route, minOut *big.Int, deadline time.Time) (*big.Int, error) {
	if owner != u.signer.From {
		return nil, fmt.Errorf("swap for %s: only the engine account %s can sign", owner.Hex(), u.signer.From.Hex())
	}
	if minOut == nil {
		minOut = new(big.Int)
	}
	path := make([]common.Address, len(route))
	copy(path, route)

	tx, err := u.contract.Transact(u.txOpts(ctx), "swapExactTokensForTokens",
		amountIn, minOut, path, owner, big.NewInt(deadline.Unix()))
	if err != nil {
		return nil, fmt.Errorf("swap %s along %d-hop route: %w", amountIn, len(route), err)
	}
	logrus.WithFields(logrus.Fields{"amount_in": amountIn, "hops": len(route), "tx": tx.Hash().Hex()}).Debug("swap submitted")
	if err := u.waitMined(ctx, tx); err != nil {
		return nil, fmt.Errorf("swap %s along %d-hop route: %w", amountIn, len(route), err)
	}

	// The engine measures realized output by balance delta; the quote is an
	// adequate figure for logging.
	out, err := u.QuoteOut(ctx, amountIn, route)
	if err != nil {
		return new(big.Int), nil
	}
	return out, nil
}

// QuoteOut calls getAmountsOut for the route.
func (u *UniswapV2) QuoteOut(ctx context.Context, amountIn *big.Int, route model.Route) (*big.Int, error) {
	path := make([]common.Address, len(route))
	copy(path, route)

	var out []interface{}
	err := u.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("getAmountsOut: %w", err)
	}
	amounts := out[0].([]*big.Int)
	if len(amounts) == 0 {
		return nil, fmt.Errorf("getAmountsOut returned no amounts")
	}
	return amounts[len(amounts)-1], nil
}

// AddLiquidity submits addLiquidity for the pair.
func (u *UniswapV2) AddLiquidity(ctx context.Context, owner common.Address, tokenA, tokenB common.Address, amountA, amountB, minA, minB *big.Int, deadline time.Time) (*big.Int, error) {
	if owner != u.signer.From {
		return nil, fmt.Errorf("addLiquidity for %s: only the engine account %s can sign", owner.Hex(), u.signer.From.Hex())
	}
	tx, err := u.contract.Transact(u.txOpts(ctx), "addLiquidity",
		tokenA, tokenB, amountA, amountB, minA, minB, owner, big.NewInt(deadline.Unix()))
	if err != nil {
		return nil, fmt.Errorf("addLiquidity %s/%s: %w", tokenA.Hex(), tokenB.Hex(), err)
	}
	logrus.WithFields(logrus.Fields{"pair": tokenA.Hex() + "/" + tokenB.Hex(), "tx": tx.Hash().Hex()}).Debug("addLiquidity submitted")
	if err := u.waitMined(ctx, tx); err != nil {
		return nil, fmt.Errorf("addLiquidity %s/%s: %w", tokenA.Hex(), tokenB.Hex(), err)
	}

	// LP minted is measured by balance delta in the engine.
	return new(big.Int), nil
}

// waitMined blocks until tx is included and checks its status. The engine
// reads balances right after each write and must observe the write's effect.
func (u *UniswapV2) waitMined(ctx context.Context, tx *types.Transaction) error {
	receipt, err := bind.WaitMined(ctx, u.backend, tx)
	if err != nil {
		return fmt.Errorf("wait for tx %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("tx %s reverted", tx.Hash().Hex())
	}
	return nil
}

func (u *UniswapV2) txOpts(ctx context.Context) *bind.TransactOpts {
	opts := *u.signer
	opts.Context = ctx
	return &opts
}
