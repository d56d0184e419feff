package farm

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

// Backend is the node surface the adapter needs: contract calls plus receipt
// lookup, so every write can block until its transaction is mined.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

const masterChefABIJSON = `[
	{"inputs":[{"name":"_pid","type":"uint256"},{"name":"_amount","type":"uint256"}],"name":"deposit","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"_pid","type":"uint256"},{"name":"_amount","type":"uint256"}],"name":"withdraw","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"_pid","type":"uint256"}],"name":"emergencyWithdraw","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"","type":"uint256"},{"name":"","type":"address"}],"name":"userInfo","outputs":[{"name":"amount","type":"uint256"},{"name":"rewardDebt","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"_pid","type":"uint256"},{"name":"_user","type":"address"}],"name":"pendingReward","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// MasterChef adapts a chef-style on-chain farm. Reward claims ride on the
// zero-amount deposit path, which every chef variant treats as "harvest only",
// and always pay the transaction sender.
type MasterChef struct {
	addr     common.Address
	backend  Backend
	contract *bind.BoundContract
	signer   *bind.TransactOpts

	// pendingMethod is the view reporting unclaimed rewards; chef forks rename
	// it (pendingCake, pendingSushi, ...), so it is configurable.
	pendingMethod string
}

// NewMasterChef creates an adapter bound to the chef at addr.
func NewMasterChef(addr common.Address, backend Backend, signer *bind.TransactOpts, pendingMethod string) (*MasterChef, error) {
	raw := masterChefABIJSON
	if pendingMethod == "" {
		pendingMethod = "pendingReward"
	}
	if pendingMethod != "pendingReward" {
		raw = strings.Replace(raw, "pendingReward", pendingMethod, 1)
	}
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse chef ABI: %w", err)
	}
	return &MasterChef{
		addr:          addr,
		backend:       backend,
		contract:      bind.NewBoundContract(addr, parsed, backend, backend, backend),
		signer:        signer,
		pendingMethod: pendingMethod,
	}, nil
}

// Address is the chef contract's identity as a token spender.
func (m *MasterChef) Address() common.Address { return m.addr }

// Deposit stakes amount into the pool for the engine account.
func (m *MasterChef) Deposit(ctx context.Context, poolID uint64, amount *big.Int, onBehalfOf common.Address) error {
	if err := m.requireSelf(onBehalfOf); err != nil {
		return err
	}
	tx, err := m.contract.Transact(m.txOpts(ctx), "deposit", new(big.Int).SetUint64(poolID), amount)
	if err != nil {
		return fmt.Errorf("chef deposit pool %d: %w", poolID, err)
	}
	logrus.WithFields(logrus.Fields{"pool": poolID, "amount": amount, "tx": tx.Hash().Hex()}).Debug("chef deposit submitted")
	if err := m.waitMined(ctx, tx); err != nil {
		return fmt.Errorf("chef deposit pool %d: %w", poolID, err)
	}
	return nil
}

// Withdraw unstakes amount from the pool back to the engine account.
func (m *MasterChef) Withdraw(ctx context.Context, poolID uint64, amount *big.Int, onBehalfOf common.Address) error {
	if err := m.requireSelf(onBehalfOf); err != nil {
		return err
	}
	tx, err := m.contract.Transact(m.txOpts(ctx), "withdraw", new(big.Int).SetUint64(poolID), amount)
	if err != nil {
		return fmt.Errorf("chef withdraw pool %d: %w", poolID, err)
	}
	logrus.WithFields(logrus.Fields{"pool": poolID, "amount": amount, "tx": tx.Hash().Hex()}).Debug("chef withdraw submitted")
	if err := m.waitMined(ctx, tx); err != nil {
		return fmt.Errorf("chef withdraw pool %d: %w", poolID, err)
	}
	return nil
}

// HarvestRewards claims pending rewards via a zero-amount deposit.
func (m *MasterChef) HarvestRewards(ctx context.Context, poolID uint64, recipient common.Address) error {
	if err := m.requireSelf(recipient); err != nil {
		return err
	}
	tx, err := m.contract.Transact(m.txOpts(ctx), "deposit", new(big.Int).SetUint64(poolID), new(big.Int))
	if err != nil {
		return fmt.Errorf("chef harvest pool %d: %w", poolID, err)
	}
	logrus.WithFields(logrus.Fields{"pool": poolID, "tx": tx.Hash().Hex()}).Debug("chef harvest submitted")
	if err := m.waitMined(ctx, tx); err != nil {
		return fmt.Errorf("chef harvest pool %d: %w", poolID, err)
	}
	return nil
}

// StakedBalance reads userInfo.amount for the account.
func (m *MasterChef) StakedBalance(ctx context.Context, poolID uint64, who common.Address) (*big.Int, error) {
	var out []interface{}
	err := m.contract.Call(&bind.CallOpts{Context: ctx}, &out, "userInfo", new(big.Int).SetUint64(poolID), who)
	if err != nil {
		return nil, fmt.Errorf("chef userInfo pool %d: %w", poolID, err)
	}
	return out[0].(*big.Int), nil
}

// PendingRewards reads the configured pending-rewards view.
func (m *MasterChef) PendingRewards(ctx context.Context, poolID uint64, who common.Address) (*big.Int, error) {
	var out []interface{}
	err := m.contract.Call(&bind.CallOpts{Context: ctx}, &out, m.pendingMethod, new(big.Int).SetUint64(poolID), who)
	if err != nil {
		return nil, fmt.Errorf("chef %s pool %d: %w", m.pendingMethod, poolID, err)
	}
	return out[0].(*big.Int), nil
}

// EmergencyWithdraw pulls the full principal, forfeiting rewards.
func (m *MasterChef) EmergencyWithdraw(ctx context.Context, poolID uint64, who common.Address) error {
	if err := m.requireSelf(who); err != nil {
		return err
	}
	tx, err := m.contract.Transact(m.txOpts(ctx), "emergencyWithdraw", new(big.Int).SetUint64(poolID))
	if err != nil {
		return fmt.Errorf("chef emergencyWithdraw pool %d: %w", poolID, err)
	}
	logrus.WithFields(logrus.Fields{"pool": poolID, "tx": tx.Hash().Hex()}).Warn("chef emergency withdraw submitted")
	if err := m.waitMined(ctx, tx); err != nil {
		return fmt.Errorf("chef emergencyWithdraw pool %d: %w", poolID, err)
	}
	return nil
}

// waitMined blocks until tx is included and checks its status. The engine
// reads balances right after each write and must observe the write's effect.
func (m *MasterChef) waitMined(ctx context.Context, tx *types.Transaction) error {
	receipt, err := bind.WaitMined(ctx, m.backend, tx)
	if err != nil {
		return fmt.Errorf("wait for tx %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("tx %s reverted", tx.Hash().Hex())
	}
	return nil
}

func (m *MasterChef) requireSelf(who common.Address) error {
	if who != m.signer.From {
		return fmt.Errorf("chef positions are keyed by sender; got %s, engine account is %s",
			who.Hex(), m.signer.From.Hex())
	}
	return nil
}

func (m *MasterChef) txOpts(ctx context.Context) *bind.TransactOpts {
	opts := *m.signer
	opts.Context = ctx
	return &opts
}
