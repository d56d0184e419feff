package token

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// Backend is the node surface the client needs: contract calls plus receipt
// lookup, so every write can block until its transaction is mined.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

const erc20ABIJSON = `[
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"constant":false,"inputs":[{"name":"sender","type":"address"},{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse embedded ABI: %v", err))
	}
	return parsed
}

// ERC20Client is the live Ledger implementation. All writes are signed with the
// engine's own key, so the from/spender arguments must match the transactor.
type ERC20Client struct {
	backend Backend
	signer  *bind.TransactOpts
}

// NewERC20Client creates a Ledger backed by an Ethereum node.
func NewERC20Client(backend Backend, signer *bind.TransactOpts) *ERC20Client {
	return &ERC20Client{backend: backend, signer: signer}
}

func (c *ERC20Client) contract(token common.Address) *bind.BoundContract {
	return bind.NewBoundContract(token, erc20ABI, c.backend, c.backend, c.backend)
}

// BalanceOf returns the on-chain balance of account for token.
func (c *ERC20Client) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	var out []interface{}
	err := c.contract(token).Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", token.Hex(), err)
	}
	return out[0].(*big.Int), nil
}

// Transfer sends amount of token from the engine's account to another.
func (c *ERC20Client) Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	if from != c.signer.From {
		return fmt.Errorf("transfer from %s: only the engine account %s can sign", from.Hex(), c.signer.From.Hex())
	}
	tx, err := c.contract(token).Transact(c.txOpts(ctx), "transfer", to, amount)
	if err != nil {
		return fmt.Errorf("transfer %s of %s: %w", amount, token.Hex(), err)
	}
	logrus.WithFields(logrus.Fields{"token": token.Hex(), "tx": tx.Hash().Hex()}).Debug("transfer submitted")
	if err := c.waitMined(ctx, tx); err != nil {
		return fmt.Errorf("transfer %s of %s: %w", amount, token.Hex(), err)
	}
	return nil
}

// TransferFrom pulls amount of token from owner using the engine's allowance.
func (c *ERC20Client) TransferFrom(ctx context.Context, token, spender, owner, to common.Address, amount *big.Int) error {
	if spender != c.signer.From {
		return fmt.Errorf("transferFrom as %s: only the engine account %s can sign", spender.Hex(), c.signer.From.Hex())
	}
	tx, err := c.contract(token).Transact(c.txOpts(ctx), "transferFrom", owner, to, amount)
	if err != nil {
		return fmt.Errorf("transferFrom %s of %s: %w", amount, token.Hex(), err)
	}
	logrus.WithFields(logrus.Fields{"token": token.Hex(), "tx": tx.Hash().Hex()}).Debug("transferFrom submitted")
	if err := c.waitMined(ctx, tx); err != nil {
		return fmt.Errorf("transferFrom %s of %s: %w", amount, token.Hex(), err)
	}
	return nil
}

// Approve sets spender's allowance over the engine account's token balance.
func (c *ERC20Client) Approve(ctx context.Context, token, owner, spender common.Address, amount *big.Int) error {
	if owner != c.signer.From {
		return fmt.Errorf("approve for %s: only the engine account %s can sign", owner.Hex(), c.signer.From.Hex())
	}
	tx, err := c.contract(token).Transact(c.txOpts(ctx), "approve", spender, amount)
	if err != nil {
		return fmt.Errorf("approve %s on %s: %w", spender.Hex(), token.Hex(), err)
	}
	logrus.WithFields(logrus.Fields{"token": token.Hex(), "spender": spender.Hex(), "tx": tx.Hash().Hex()}).Debug("approve submitted")
	if err := c.waitMined(ctx, tx); err != nil {
		return fmt.Errorf("approve %s on %s: %w", spender.Hex(), token.Hex(), err)
	}
	return nil
}

// Allowance returns the remaining allowance granted by owner to spender.
func (c *ERC20Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	var out []interface{}
	err := c.contract(token).Call(&bind.CallOpts{Context: ctx}, &out, "allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("allowance on %s: %w", token.Hex(), err)
	}
	return out[0].(*big.Int), nil
}

// waitMined blocks until tx is included and checks its status. The engine
// reads balances right after each write and must observe the write's effect.
func (c *ERC20Client) waitMined(ctx context.Context, tx *types.Transaction) error {
	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return fmt.Errorf("wait for tx %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("tx %s reverted", tx.Hash().Hex())
	}
	return nil
}

func (c *ERC20Client) txOpts(ctx context.Context) *bind.TransactOpts {
	opts := *c.signer
	opts.Context = ctx
	return &opts
}
