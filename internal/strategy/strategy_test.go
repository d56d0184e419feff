package strategy

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/autocompounder/internal/farm"
	"github.com/yourorg/autocompounder/internal/model"
	"github.com/yourorg/autocompounder/internal/router"
	"github.com/yourorg/autocompounder/internal/token"
)

var (
	selfAddr       = common.HexToAddress("0xA1")
	ownerAddr      = common.HexToAddress("0xB0")
	managerAddr    = common.HexToAddress("0xB1")
	strategistAddr = common.HexToAddress("0xB2")
	vaultAddr      = common.HexToAddress("0xB3")
	treasuryAddr   = common.HexToAddress("0xB4")
	userAddr       = common.HexToAddress("0xB5")
	chefAddr       = common.HexToAddress("0xC1")
	routerAddr     = common.HexToAddress("0xC2")

	wantToken   = common.HexToAddress("0x11")
	rewardToken = common.HexToAddress("0x12")
	feeToken    = common.HexToAddress("0x13")
	lpToken     = common.HexToAddress("0x21")
	leg0Token   = common.HexToAddress("0x22")
	leg1Token   = common.HexToAddress("0x23")
)

const testPool = uint64(1)

type harness struct {
	bank   *token.Bank
	chef   *farm.Chef
	router *router.Mock
	strat  *Strategy
	events []model.Event
}

func defaultSchedule() model.FeeSchedule {
	return model.FeeSchedule{CallFee: 111, TreasuryFee: 112, StrategistFee: 112, WithdrawalFee: 10}
}

func baseConfig() Config {
	return Config{
		Name:       "test-want",
		Self:       selfAddr,
		Want:       wantToken,
		Reward:     rewardToken,
		FeeToken:   rewardToken,
		PoolID:     testPool,
		FeeToWantRoute: model.Route{rewardToken, wantToken},
		Schedule:   defaultSchedule(),
		Owner:      ownerAddr,
		Manager:    managerAddr,
		Strategist: strategistAddr,
		Vault:      vaultAddr,
		Treasury:   treasuryAddr,
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	ctx := context.Background()

	bank := token.NewBank()
	chef := farm.NewChef(chefAddr, bank)
	chef.AddPool(testPool, cfg.Want, cfg.Reward)
	mock := router.NewMock(routerAddr, bank)
	mock.SetRate(rewardToken, wantToken, 1, 1)
	mock.SetRate(rewardToken, feeToken, 1, 1)
	mock.SetRate(feeToken, wantToken, 1, 1)
	mock.SetRate(feeToken, leg0Token, 1, 1)
	mock.SetRate(feeToken, leg1Token, 1, 1)
	mock.SetRate(rewardToken, leg0Token, 1, 1)
	mock.SetRate(rewardToken, leg1Token, 1, 1)
	mock.SetPair(leg0Token, leg1Token, lpToken)

	// The chef and router need inventory to pay out.
	bank.Mint(cfg.Reward, chefAddr, big.NewInt(1_000_000))
	bank.Mint(cfg.Want, routerAddr, big.NewInt(1_000_000))
	bank.Mint(feeToken, routerAddr, big.NewInt(1_000_000))
	bank.Mint(leg0Token, routerAddr, big.NewInt(1_000_000))
	bank.Mint(leg1Token, routerAddr, big.NewInt(1_000_000))

	strat, err := New(ctx, cfg, chef, mock, bank)
	require.NoError(t, err)

	h := &harness{bank: bank, chef: chef, router: mock, strat: strat}
	strat.AddSink(model.SinkFunc(func(e model.Event) {
		h.events = append(h.events, e)
	}))
	return h
}

// stake mints idle want and deposits it, giving the strategy a farm position.
func (h *harness) stake(t *testing.T, amount int64) {
	t.Helper()
	h.bank.Mint(h.strat.cfg.Want, selfAddr, big.NewInt(amount))
	require.NoError(t, h.strat.Deposit(context.Background(), vaultAddr))
}

func (h *harness) balance(tok, who common.Address) int64 {
	b, _ := h.bank.BalanceOf(context.Background(), tok, who)
	return b.Int64()
}

func TestHarvestSplitsFeesAndCompounds(t *testing.T) {
	h := newHarness(t, baseConfig())
	ctx := context.Background()

	h.stake(t, 500)
	h.chef.Credit(testPool, selfAddr, big.NewInt(1000))

	require.NoError(t, h.strat.Harvest(ctx, userAddr))

	assert.Equal(t, int64(111), h.balance(rewardToken, userAddr), "call fee to harvest caller")
	assert.Equal(t, int64(112), h.balance(rewardToken, treasuryAddr), "treasury fee")
	assert.Equal(t, int64(112), h.balance(rewardToken, strategistAddr), "strategist fee")

	staked := h.strat.BalanceOfPool(ctx)
	assert.Equal(t, int64(500+665), staked.Int64(), "compounded amount staked through the 1:1 route")

	require.Len(t, h.events, 2) // deposit from stake, then harvest
	harvest := h.events[1]
	assert.Equal(t, model.EventHarvest, harvest.Kind)
	assert.Equal(t, userAddr, harvest.Caller)
	assert.Equal(t, int64(665), harvest.WantGained.Int64())
	assert.Equal(t, int64(1165), harvest.TotalControlled.Int64())
	assert.False(t, h.strat.LastHarvest().IsZero())
}

func TestHarvestEmptyFarmIsNoOp(t *testing.T) {
	h := newHarness(t, baseConfig())
	ctx := context.Background()

	require.NoError(t, h.strat.Harvest(ctx, userAddr))

	assert.Empty(t, h.events, "no audit event for an empty harvest")
	assert.True(t, h.strat.LastHarvest().IsZero(), "timestamp only advances on a productive harvest")
	assert.Zero(t, h.balance(rewardToken, treasuryAddr))
}

func TestHarvestMonotonicTotal(t *testing.T) {
	h := newHarness(t, baseConfig())
	ctx := context.Background()

	h.stake(t, 2000)
	h.chef.Credit(testPool, selfAddr, big.NewInt(777))

	before := h.strat.TotalControlled(ctx)
	require.NoError(t, h.strat.Harvest(ctx, userAddr))
	after := h.strat.TotalControlled(ctx)

	assert.True(t, after.Cmp(before) >= 0, "total controlled must not shrink across a harvest: %s -> %s", before, after)
}

func TestHarvestFeeInWantSparesPrincipal(t *testing.T) {
	cfg := baseConfig()
	cfg.FeeToken = wantToken
	cfg.RewardToFeeRoute = model.Route{rewardToken, wantToken}
	cfg.FeeToWantRoute = nil
	h := newHarness(t, cfg)
	ctx := context.Background()

	// A partial withdrawal retains the withdrawal fee as idle want.
	h.stake(t, 2_000_000)
	require.NoError(t, h.strat.Withdraw(ctx, vaultAddr, userAddr, big.NewInt(1_000_000)))
	require.Equal(t, int64(1000), h.strat.BalanceOfWant(ctx).Int64(), "withdrawal fee remainder sits idle")

	before := h.strat.TotalControlled(ctx)
	require.NoError(t, h.strat.Harvest(ctx, userAddr))
	after := h.strat.TotalControlled(ctx)

	assert.Zero(t, h.balance(wantToken, treasuryAddr), "no fee charged against idle principal")
	assert.Zero(t, h.balance(wantToken, userAddr), "no call fee paid on an empty harvest")
	assert.True(t, after.Cmp(before) >= 0, "total controlled must not shrink across a harvest: %s -> %s", before, after)
	require.Len(t, h.events, 2, "deposit and withdraw only; an empty harvest emits nothing")

	// With pending rewards present, fees come from the claimed yield alone.
	h.chef.Credit(testPool, selfAddr, big.NewInt(1000))
	require.NoError(t, h.strat.Harvest(ctx, userAddr))

	assert.Equal(t, int64(112), h.balance(wantToken, treasuryAddr), "treasury fee from claimed yield")
	assert.Equal(t, int64(111), h.balance(wantToken, userAddr), "call fee from claimed yield")
	assert.Equal(t, int64(665), h.events[2].WantGained.Int64())
	assert.True(t, h.strat.TotalControlled(ctx).Cmp(after) > 0)
}

func TestHarvestClaimFailureChargesNoFees(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.chef.Credit(testPool, selfAddr, big.NewInt(1000))
	h.chef.FailHarvest = true

	err := h.strat.Harvest(context.Background(), userAddr)
	require.Error(t, err)
	assert.Zero(t, h.balance(rewardToken, userAddr))
	assert.Zero(t, h.balance(rewardToken, treasuryAddr))
	assert.Empty(t, h.events)
	assert.True(t, h.strat.LastHarvest().IsZero())
}

func TestHarvestConversionFailureChargesNoFees(t *testing.T) {
	cfg := baseConfig()
	cfg.FeeToken = feeToken
	cfg.RewardToFeeRoute = model.Route{rewardToken, feeToken}
	cfg.FeeToWantRoute = model.Route{feeToken, wantToken}
	h := newHarness(t, cfg)

	h.chef.Credit(testPool, selfAddr, big.NewInt(1000))
	h.router.FailSwaps = true

	err := h.strat.Harvest(context.Background(), userAddr)
	require.Error(t, err)
	assert.Zero(t, h.balance(feeToken, treasuryAddr), "no fee paid when the cycle aborts")
	assert.Empty(t, h.events)
}

func TestHarvestForPaysDesignatedRecipient(t *testing.T) {
	h := newHarness(t, baseConfig())
	ctx := context.Background()
	h.chef.Credit(testPool, selfAddr, big.NewInt(1000))

	err := h.strat.HarvestFor(ctx, userAddr, userAddr)
	require.ErrorIs(t, err, ErrUnauthorized)

	recipient := common.HexToAddress("0xDD")
	require.NoError(t, h.strat.HarvestFor(ctx, managerAddr, recipient))
	assert.Equal(t, int64(111), h.balance(rewardToken, recipient))
}

func TestHarvestPausePolicy(t *testing.T) {
	h := newHarness(t, baseConfig())
	ctx := context.Background()

	require.NoError(t, h.strat.Pause(ctx, managerAddr))
	require.ErrorIs(t, h.strat.Harvest(ctx, userAddr), ErrPaused)

	// The lenient policy lets harvest through; with nothing pending it is a
	// silent no-op even though allowances are down.
	require.NoError(t, h.strat.SetHarvestWhilePaused(managerAddr, true))
	require.NoError(t, h.strat.Harvest(ctx, userAddr))
	assert.Empty(t, h.events)
}

func TestWithdrawFeeAsymmetry(t *testing.T) {
	ctx := context.Background()

	t.Run("non-privileged origin pays the fee", func(t *testing.T) {
		h := newHarness(t, baseConfig())
		h.stake(t, 20000)
		require.NoError(t, h.strat.Withdraw(ctx, vaultAddr, userAddr, big.NewInt(10000)))
		assert.Equal(t, int64(9990), h.balance(wantToken, vaultAddr), "0.1% withdrawal fee deducted")
	})

	t.Run("owner origin pays no fee", func(t *testing.T) {
		h := newHarness(t, baseConfig())
		h.stake(t, 20000)
		require.NoError(t, h.strat.Withdraw(ctx, vaultAddr, ownerAddr, big.NewInt(10000)))
		assert.Equal(t, int64(10000), h.balance(wantToken, vaultAddr))
	})

	t.Run("paused strategy pays no fee", func(t *testing.T) {
		h := newHarness(t, baseConfig())
		h.stake(t, 20000)
		require.NoError(t, h.strat.Pause(ctx, managerAddr))
		require.NoError(t, h.strat.Withdraw(ctx, vaultAddr, userAddr, big.NewInt(10000)))
		assert.Equal(t, int64(10000), h.balance(wantToken, vaultAddr))
	})

	t.Run("only the vault may withdraw", func(t *testing.T) {
		h := newHarness(t, baseConfig())
		h.stake(t, 20000)
		err := h.strat.Withdraw(ctx, userAddr, userAddr, big.NewInt(100))
		require.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestPauseBlocksDepositUnpauseRedeploys(t *testing.T) {
	h := newHarness(t, baseConfig())
	ctx := context.Background()

	require.NoError(t, h.strat.Pause(ctx, managerAddr))
	require.ErrorIs(t, h.strat.Deposit(ctx, vaultAddr), ErrPaused)

	// Want arriving while paused sits idle until unpause sweeps it in.
	h.bank.Mint(wantToken, selfAddr, big.NewInt(300))
	require.NoError(t, h.strat.Unpause(ctx, managerAddr))
	assert.Equal(t, int64(300), h.strat.BalanceOfPool(ctx).Int64())
	assert.Zero(t, h.strat.BalanceOfWant(ctx).Int64())
}

func TestPauseIsManagerOnly(t *testing.T) {
	h := newHarness(t, baseConfig())
	ctx := context.Background()

	require.ErrorIs(t, h.strat.Pause(ctx, userAddr), ErrUnauthorized)
	require.NoError(t, h.strat.Pause(ctx, ownerAddr), "owner satisfies the manager role")
	require.ErrorIs(t, h.strat.Pause(ctx, ownerAddr), ErrPaused)
	require.ErrorIs(t, h.strat.Unpause(ctx, userAddr), ErrUnauthorized)
}

func TestPanicPullsEverything(t *testing.T) {
	h := newHarness(t, baseConfig())
	ctx := context.Background()

	h.stake(t, 500)
	h.chef.Credit(testPool, selfAddr, big.NewInt(42))

	require.NoError(t, h.strat.Panic(ctx, managerAddr))

	assert.True(t, h.strat.BalanceOfWant(ctx).Int64() >= 495, "principal returned")
	assert.Zero(t, h.strat.BalanceOfPool(ctx).Int64())
	assert.True(t, h.strat.Paused())
	assert.Zero(t, h.strat.RewardsAvailable(ctx).Int64(), "pending rewards forfeited")
	require.ErrorIs(t, h.strat.Deposit(ctx, vaultAddr), ErrPaused)
}

func TestRetireForwardsToVault(t *testing.T) {
	h := newHarness(t, baseConfig())
	ctx := context.Background()

	h.stake(t, 800)
	require.ErrorIs(t, h.strat.Retire(ctx, managerAddr), ErrUnauthorized)

	require.NoError(t, h.strat.Retire(ctx, vaultAddr))
	assert.Equal(t, int64(800), h.balance(wantToken, vaultAddr))
	assert.True(t, h.strat.Retired())
	require.ErrorIs(t, h.strat.Deposit(ctx, vaultAddr), ErrRetired)
	require.ErrorIs(t, h.strat.Harvest(ctx, userAddr), ErrRetired)
}

func TestAllowanceLifecycle(t *testing.T) {
	h := newHarness(t, baseConfig())
	ctx := context.Background()

	granted, err := h.bank.Allowance(ctx, wantToken, selfAddr, chefAddr)
	require.NoError(t, err)
	assert.Zero(t, granted.Cmp(model.MaxUint256), "active strategy grants unlimited farm allowance")

	require.NoError(t, h.strat.Pause(ctx, managerAddr))
	revoked, err := h.bank.Allowance(ctx, wantToken, selfAddr, chefAddr)
	require.NoError(t, err)
	assert.Zero(t, revoked.Sign(), "pause revokes the farm allowance")

	routerRevoked, err := h.bank.Allowance(ctx, rewardToken, selfAddr, routerAddr)
	require.NoError(t, err)
	assert.Zero(t, routerRevoked.Sign(), "pause revokes the router allowance")

	require.NoError(t, h.strat.Unpause(ctx, managerAddr))
	restored, err := h.bank.Allowance(ctx, wantToken, selfAddr, chefAddr)
	require.NoError(t, err)
	assert.Zero(t, restored.Cmp(model.MaxUint256), "unpause restores allowances")
}

func TestBeforeDepositHarvests(t *testing.T) {
	cfg := baseConfig()
	cfg.HarvestOnDeposit = true
	cfg.Schedule.WithdrawalFee = 0
	h := newHarness(t, cfg)
	ctx := context.Background()

	h.stake(t, 500)
	h.chef.Credit(testPool, selfAddr, big.NewInt(1000))

	require.ErrorIs(t, h.strat.BeforeDeposit(ctx, userAddr, userAddr), ErrUnauthorized)
	require.NoError(t, h.strat.BeforeDeposit(ctx, vaultAddr, userAddr))
	assert.Equal(t, int64(111), h.balance(rewardToken, userAddr), "origin receives the call fee")
	assert.Equal(t, int64(1165), h.strat.BalanceOfPool(ctx).Int64())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"reward->fee route wrong start", func(c *Config) {
			c.FeeToken = feeToken
			c.RewardToFeeRoute = model.Route{feeToken, feeToken}
			c.FeeToWantRoute = model.Route{feeToken, wantToken}
		}},
		{"fee->want route wrong end", func(c *Config) {
			c.FeeToWantRoute = model.Route{rewardToken, feeToken}
		}},
		{"missing compound route", func(c *Config) {
			c.FeeToWantRoute = nil
		}},
		{"call fee above cap", func(c *Config) {
			c.Schedule.CallFee = model.MaxCallFee + 1
		}},
		{"withdrawal fee above cap", func(c *Config) {
			c.Schedule.WithdrawalFee = model.WithdrawalFeeCap + 1
		}},
		{"harvest-on-deposit with a withdrawal fee", func(c *Config) {
			c.HarvestOnDeposit = true
		}},
		{"LP strategy missing a leg", func(c *Config) {
			c.Want = lpToken
			c.Leg0 = leg0Token
			c.FeeToWantRoute = nil
			c.FeeToLeg0Route = model.Route{rewardToken, leg0Token}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestSetters(t *testing.T) {
	h := newHarness(t, baseConfig())

	require.ErrorIs(t, h.strat.SetCallFee(userAddr, 50), ErrUnauthorized)
	require.Error(t, h.strat.SetCallFee(managerAddr, model.MaxCallFee+1), "cap enforced at configuration time")
	require.NoError(t, h.strat.SetCallFee(managerAddr, 50))
	assert.Equal(t, uint64(50), h.strat.Schedule().CallFee)

	require.NoError(t, h.strat.SetHarvestOnDeposit(managerAddr, true))
	assert.Zero(t, h.strat.Schedule().WithdrawalFee, "enabling harvest-on-deposit zeroes the withdrawal fee")
	require.Error(t, h.strat.SetWithdrawalFee(managerAddr, 10))

	require.NoError(t, h.strat.SetHarvestOnDeposit(managerAddr, false))
	require.NoError(t, h.strat.SetWithdrawalFee(managerAddr, 10))
	assert.Equal(t, uint64(10), h.strat.Schedule().WithdrawalFee)

	require.ErrorIs(t, h.strat.SetStrategist(userAddr, userAddr), ErrUnauthorized)
	require.NoError(t, h.strat.SetStrategist(strategistAddr, userAddr))
	require.NoError(t, h.strat.SetStrategist(ownerAddr, strategistAddr))
}

func TestDegradedReads(t *testing.T) {
	cfg := baseConfig()
	cfg.FeeToken = feeToken
	cfg.RewardToFeeRoute = model.Route{rewardToken, feeToken}
	cfg.FeeToWantRoute = model.Route{feeToken, wantToken}
	h := newHarness(t, cfg)
	ctx := context.Background()

	h.stake(t, 400)
	h.chef.Credit(testPool, selfAddr, big.NewInt(100))

	h.chef.FailRead = true
	assert.Zero(t, h.strat.RewardsAvailable(ctx).Int64(), "failing pending read degrades to zero")
	assert.Zero(t, h.strat.CallReward(ctx).Int64())
	assert.Zero(t, h.strat.TotalControlled(ctx).Int64(), "balance read never errors, it degrades")
	h.chef.FailRead = false

	h.router.FailQuotes = true
	assert.Zero(t, h.strat.CallReward(ctx).Int64(), "failing quote degrades to zero")
	h.router.FailQuotes = false

	expected := h.strat.CallReward(ctx)
	assert.Equal(t, int64(11), expected.Int64(), "100 pending at 1:1, call share 111/1000")
}

func TestLPHarvestBuildsBothLegs(t *testing.T) {
	cfg := baseConfig()
	cfg.Name = "test-lp"
	cfg.Want = lpToken
	cfg.Leg0 = leg0Token
	cfg.Leg1 = leg1Token
	cfg.FeeToWantRoute = nil
	cfg.FeeToLeg0Route = model.Route{rewardToken, leg0Token}
	cfg.FeeToLeg1Route = model.Route{rewardToken, leg1Token}
	h := newHarness(t, cfg)
	ctx := context.Background()

	h.stake(t, 100)
	h.chef.Credit(testPool, selfAddr, big.NewInt(1000))

	require.NoError(t, h.strat.Harvest(ctx, userAddr))

	assert.Equal(t, int64(111), h.balance(rewardToken, userAddr))
	assert.Equal(t, int64(112), h.balance(rewardToken, treasuryAddr))

	// 665 compoundable: 332 into leg0, 333 into leg1, supplied in full.
	assert.Equal(t, int64(100+665), h.strat.BalanceOfPool(ctx).Int64())
	assert.Zero(t, h.balance(leg0Token, selfAddr), "no leg residue beyond rounding")
	assert.Zero(t, h.balance(leg1Token, selfAddr))
}

func TestStuckTokenSweep(t *testing.T) {
	h := newHarness(t, baseConfig())
	ctx := context.Background()

	stray := common.HexToAddress("0x99")
	h.bank.Mint(stray, selfAddr, big.NewInt(77))

	require.ErrorIs(t, h.strat.InCaseTokensGetStuck(ctx, userAddr, stray), ErrUnauthorized)
	require.Error(t, h.strat.InCaseTokensGetStuck(ctx, managerAddr, wantToken), "want is never sweepable")
	require.Error(t, h.strat.InCaseTokensGetStuck(ctx, managerAddr, rewardToken), "reward is never sweepable")

	require.NoError(t, h.strat.InCaseTokensGetStuck(ctx, managerAddr, stray))
	assert.Equal(t, int64(77), h.balance(stray, managerAddr))
}
