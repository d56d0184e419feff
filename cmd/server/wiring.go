package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/autocompounder/internal/config"
	"github.com/yourorg/autocompounder/internal/farm"
	"github.com/yourorg/autocompounder/internal/model"
	"github.com/yourorg/autocompounder/internal/router"
	"github.com/yourorg/autocompounder/internal/strategy"
	"github.com/yourorg/autocompounder/internal/token"
)

// buildStrategies constructs every configured strategy against either the
// in-memory simulation collaborators or the live chain adapters.
func buildStrategies(cfg config.Config) (map[string]*strategy.Strategy, error) {
	switch cfg.Mode {
	case "sim":
		return buildSimStrategies(cfg)
	case "live":
		return buildLiveStrategies(cfg)
	default:
		return nil, fmt.Errorf("unknown mode %q (want sim or live)", cfg.Mode)
	}
}

// strategyConfig translates one YAML strategy definition plus the shared role
// block into the engine's config.
func strategyConfig(cfg config.Config, sc config.StrategyConfig, self common.Address) (strategy.Config, error) {
	out := strategy.Config{
		Name:               sc.Name,
		Self:               self,
		PoolID:             sc.PoolID,
		Schedule:           sc.Fees,
		HarvestOnDeposit:   sc.HarvestOnDeposit,
		HarvestWhilePaused: sc.HarvestWhilePaused,
		SwapDeadline:       sc.Deadline(),
	}

	var err error
	if out.Want, err = config.Address(sc.Want); err != nil {
		return out, fmt.Errorf("want: %w", err)
	}
	if out.Reward, err = config.Address(sc.Reward); err != nil {
		return out, fmt.Errorf("reward: %w", err)
	}
	if out.FeeToken, err = config.Address(sc.FeeToken); err != nil {
		return out, fmt.Errorf("fee token: %w", err)
	}
	if sc.Leg0 != "" {
		if out.Leg0, err = config.Address(sc.Leg0); err != nil {
			return out, fmt.Errorf("leg0: %w", err)
		}
	}
	if sc.Leg1 != "" {
		if out.Leg1, err = config.Address(sc.Leg1); err != nil {
			return out, fmt.Errorf("leg1: %w", err)
		}
	}

	if out.RewardToFeeRoute, err = config.Route(sc.Routes.RewardToFee); err != nil {
		return out, fmt.Errorf("reward_to_fee: %w", err)
	}
	if out.FeeToWantRoute, err = config.Route(sc.Routes.FeeToWant); err != nil {
		return out, fmt.Errorf("fee_to_want: %w", err)
	}
	if out.FeeToLeg0Route, err = config.Route(sc.Routes.FeeToLeg0); err != nil {
		return out, fmt.Errorf("fee_to_leg0: %w", err)
	}
	if out.FeeToLeg1Route, err = config.Route(sc.Routes.FeeToLeg1); err != nil {
		return out, fmt.Errorf("fee_to_leg1: %w", err)
	}

	roles := cfg.File.Roles
	if out.Owner, err = config.Address(roles.Owner); err != nil {
		return out, fmt.Errorf("owner role: %w", err)
	}
	if out.Manager, err = config.Address(roles.Manager); err != nil {
		return out, fmt.Errorf("manager role: %w", err)
	}
	if out.Strategist, err = config.Address(roles.Strategist); err != nil {
		return out, fmt.Errorf("strategist role: %w", err)
	}
	if out.Vault, err = config.Address(roles.Vault); err != nil {
		return out, fmt.Errorf("vault role: %w", err)
	}
	if out.Treasury, err = config.Address(roles.Treasury); err != nil {
		return out, fmt.Errorf("treasury role: %w", err)
	}

	return out, nil
}

// simInventory is minted to the sim chef and router so claims and swaps have
// tokens to pay out.
var simInventory = new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)

// buildSimStrategies wires strategies against the in-memory bank, chef, and
// router with one-to-one swap rates. Deposits, harvests, and lifecycle
// transitions behave like the live path without touching a chain.
func buildSimStrategies(cfg config.Config) (map[string]*strategy.Strategy, error) {
	bank := token.NewBank()
	chef := farm.NewChef(simSelfAddress("sim:chef"), bank)
	mock := router.NewMock(simSelfAddress("sim:router"), bank)

	strategies := make(map[string]*strategy.Strategy, len(cfg.File.Strategies))
	for i, sc := range cfg.File.Strategies {
		self := simSelfAddress(sc.Name)
		stratCfg, err := strategyConfig(cfg, sc, self)
		if err != nil {
			return nil, fmt.Errorf("strategy %d (%s): %w", i, sc.Name, err)
		}

		chef.AddPool(stratCfg.PoolID, stratCfg.Want, stratCfg.Reward)
		bank.Mint(stratCfg.Reward, chef.Address(), simInventory)

		for _, route := range []model.Route{
			stratCfg.RewardToFeeRoute,
			stratCfg.FeeToWantRoute,
			stratCfg.FeeToLeg0Route,
			stratCfg.FeeToLeg1Route,
		} {
			for h := 0; h+1 < len(route); h++ {
				mock.SetRate(route[h], route[h+1], 1, 1)
				bank.Mint(route[h+1], mock.Address(), simInventory)
			}
		}
		if stratCfg.IsLP() {
			mock.SetPair(stratCfg.Leg0, stratCfg.Leg1, stratCfg.Want)
		}

		strat, err := strategy.New(context.Background(), stratCfg, chef, mock, bank)
		if err != nil {
			return nil, err
		}
		strategies[sc.Name] = strat
	}

	logrus.WithField("strategies", len(strategies)).Info("sim-mode strategies wired")
	return strategies, nil
}

// buildLiveStrategies wires strategies against a real RPC endpoint: ERC20
// balances via eth_call, MasterChef staking, and a UniswapV2-style router.
func buildLiveStrategies(cfg config.Config) (map[string]*strategy.Strategy, error) {
	if cfg.RPCEndpoint == "" {
		return nil, fmt.Errorf("live mode requires RPC_ENDPOINT")
	}
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("live mode requires PRIVATE_KEY")
	}

	client, err := ethclient.Dial(cfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	key, err := crypto.HexToECDSA(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	signer, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(cfg.ChainID))
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}

	farmAddr, err := config.Address(cfg.File.Farm.Address)
	if err != nil {
		return nil, fmt.Errorf("farm address: %w", err)
	}
	chef, err := farm.NewMasterChef(farmAddr, client, signer, cfg.File.Farm.PendingMethod)
	if err != nil {
		return nil, fmt.Errorf("masterchef adapter: %w", err)
	}

	routerAddr, err := config.Address(cfg.File.Router.Address)
	if err != nil {
		return nil, fmt.Errorf("router address: %w", err)
	}
	swap, err := router.NewUniswapV2(routerAddr, client, signer)
	if err != nil {
		return nil, fmt.Errorf("router adapter: %w", err)
	}

	ledger := token.NewERC20Client(client, signer)

	strategies := make(map[string]*strategy.Strategy, len(cfg.File.Strategies))
	for i, sc := range cfg.File.Strategies {
		stratCfg, err := strategyConfig(cfg, sc, signer.From)
		if err != nil {
			return nil, fmt.Errorf("strategy %d (%s): %w", i, sc.Name, err)
		}
		strat, err := strategy.New(context.Background(), stratCfg, chef, swap, ledger)
		if err != nil {
			return nil, err
		}
		strategies[sc.Name] = strat
	}

	logrus.WithFields(logrus.Fields{
		"strategies": len(strategies),
		"signer":     signer.From.Hex(),
		"chain_id":   cfg.ChainID,
	}).Info("live-mode strategies wired")
	return strategies, nil
}
