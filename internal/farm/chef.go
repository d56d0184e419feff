package farm

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/autocompounder/internal/token"
)

// Chef is a deterministic in-memory masterchef used by tests and sim mode.
// Stakes are pulled through the ledger's allowance path so a paused strategy
// with revoked approvals fails a deposit the same way it would on chain.
type Chef struct {
	mu      sync.Mutex
	addr    common.Address
	ledger  token.Ledger
	pools   map[uint64]poolInfo
	stakes  map[stakeKey]*big.Int
	pending map[stakeKey]*big.Int

	// FailHarvest forces HarvestRewards to error, for failure-path tests
	FailHarvest bool

	// FailReads forces the read estimates to error, for degraded-read tests
	FailRead bool
}

type poolInfo struct {
	stakeToken  common.Address
	rewardToken common.Address
}

type stakeKey struct {
	pool uint64
	who  common.Address
}

// NewChef creates an in-memory farm with the given spender identity.
func NewChef(addr common.Address, ledger token.Ledger) *Chef {
	return &Chef{
		addr:    addr,
		ledger:  ledger,
		pools:   make(map[uint64]poolInfo),
		stakes:  make(map[stakeKey]*big.Int),
		pending: make(map[stakeKey]*big.Int),
	}
}

// AddPool registers a pool with its stake and reward tokens.
func (c *Chef) AddPool(poolID uint64, stakeToken, rewardToken common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pools[poolID] = poolInfo{stakeToken: stakeToken, rewardToken: rewardToken}
}

// Credit accrues pending rewards for an account. Test and sim setup only; the
// reward tokens themselves must already sit at the chef's address.
func (c *Chef) Credit(poolID uint64, who common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := stakeKey{poolID, who}
	cur, ok := c.pending[key]
	if !ok {
		cur = new(big.Int)
	}
	c.pending[key] = new(big.Int).Add(cur, amount)
}

// Address is the chef's identity as a token spender and holder.
func (c *Chef) Address() common.Address { return c.addr }

// Deposit pulls amount of the pool's stake token from onBehalfOf and stakes it.
func (c *Chef) Deposit(ctx context.Context, poolID uint64, amount *big.Int, onBehalfOf common.Address) error {
	c.mu.Lock()
	pool, ok := c.pools[poolID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown pool %d", poolID)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative deposit %s", amount)
	}
	if amount.Sign() == 0 {
		return nil
	}

	if err := c.ledger.TransferFrom(ctx, pool.stakeToken, c.addr, onBehalfOf, c.addr, amount); err != nil {
		return fmt.Errorf("pull stake: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	key := stakeKey{poolID, onBehalfOf}
	cur, ok := c.stakes[key]
	if !ok {
		cur = new(big.Int)
	}
	c.stakes[key] = new(big.Int).Add(cur, amount)
	logrus.WithFields(logrus.Fields{"pool": poolID, "amount": amount}).Debug("chef deposit")
	return nil
}

// Withdraw unstakes amount back to the account.
func (c *Chef) Withdraw(ctx context.Context, poolID uint64, amount *big.Int, onBehalfOf common.Address) error {
	c.mu.Lock()
	pool, ok := c.pools[poolID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("unknown pool %d", poolID)
	}
	key := stakeKey{poolID, onBehalfOf}
	staked, ok := c.stakes[key]
	if !ok || staked.Cmp(amount) < 0 {
		c.mu.Unlock()
		return fmt.Errorf("withdraw %s exceeds stake", amount)
	}
	c.stakes[key] = new(big.Int).Sub(staked, amount)
	c.mu.Unlock()

	return c.ledger.Transfer(ctx, pool.stakeToken, c.addr, onBehalfOf, amount)
}

// HarvestRewards pays out all pending rewards to recipient.
func (c *Chef) HarvestRewards(ctx context.Context, poolID uint64, recipient common.Address) error {
	c.mu.Lock()
	if c.FailHarvest {
		c.mu.Unlock()
		return fmt.Errorf("harvest reverted on pool %d", poolID)
	}
	pool, ok := c.pools[poolID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("unknown pool %d", poolID)
	}
	key := stakeKey{poolID, recipient}
	owed, ok := c.pending[key]
	if !ok || owed.Sign() == 0 {
		c.mu.Unlock()
		return nil
	}
	c.pending[key] = new(big.Int)
	c.mu.Unlock()

	return c.ledger.Transfer(ctx, pool.rewardToken, c.addr, recipient, owed)
}

// StakedBalance reports the account's staked principal.
func (c *Chef) StakedBalance(_ context.Context, poolID uint64, who common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailRead {
		return nil, fmt.Errorf("stake read reverted on pool %d", poolID)
	}
	if staked, ok := c.stakes[stakeKey{poolID, who}]; ok {
		return new(big.Int).Set(staked), nil
	}
	return new(big.Int), nil
}

// PendingRewards estimates the account's unclaimed rewards.
func (c *Chef) PendingRewards(_ context.Context, poolID uint64, who common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailRead {
		return nil, fmt.Errorf("pending read reverted on pool %d", poolID)
	}
	if owed, ok := c.pending[stakeKey{poolID, who}]; ok {
		return new(big.Int).Set(owed), nil
	}
	return new(big.Int), nil
}

// EmergencyWithdraw returns the full principal and forfeits pending rewards.
func (c *Chef) EmergencyWithdraw(ctx context.Context, poolID uint64, who common.Address) error {
	c.mu.Lock()
	pool, ok := c.pools[poolID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("unknown pool %d", poolID)
	}
	key := stakeKey{poolID, who}
	staked, ok := c.stakes[key]
	if !ok {
		staked = new(big.Int)
	}
	c.stakes[key] = new(big.Int)
	c.pending[key] = new(big.Int)
	c.mu.Unlock()

	if staked.Sign() == 0 {
		return nil
	}
	return c.ledger.Transfer(ctx, pool.stakeToken, c.addr, who, staked)
}
