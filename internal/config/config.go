// Package config provides configuration loading and management for the engine.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/autocompounder/internal/model"
)

// Config holds all application configuration. Service-level settings come from
// the environment; the strategy topology comes from a YAML file.
type Config struct {
	// HTTP server port
	Port string

	// Mode selects the collaborator wiring: "sim" or "live"
	Mode string

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	// SQLitePath is the audit-ledger database; empty disables persistence
	SQLitePath string

	// Webhook export settings
	WebhookURL    string
	WebhookAPIKey string

	// SigningKey is an optional hex ECDSA key for signed harvest receipts
	SigningKey string

	// Live-mode chain access
	RPCEndpoint string
	PrivateKey  string
	ChainID     int64

	// Timeouts and rate limiting
	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateLimitBurst int

	// MinCallReward is the keeper's floor: scheduled harvests only fire when
	// the estimated call reward reaches it
	MinCallReward *big.Int

	// Strategy topology, loaded from the YAML file
	File FileConfig
}

// FileConfig is the YAML strategy file.
type FileConfig struct {
	Roles struct {
		Owner      string `yaml:"owner"`
		Manager    string `yaml:"manager"`
		Strategist string `yaml:"strategist"`
		Vault      string `yaml:"vault"`
		Treasury   string `yaml:"treasury"`
	} `yaml:"roles"`

	Farm struct {
		Address       string `yaml:"address"`
		PendingMethod string `yaml:"pending_method"`
	} `yaml:"farm"`

	Router struct {
		Address string `yaml:"address"`
	} `yaml:"router"`

	Strategies []StrategyConfig `yaml:"strategies"`
}

// StrategyConfig describes one strategy instance in the YAML file.
type StrategyConfig struct {
	Name     string `yaml:"name"`
	Want     string `yaml:"want"`
	Reward   string `yaml:"reward"`
	FeeToken string `yaml:"fee_token"`
	PoolID   uint64 `yaml:"pool_id"`

	Leg0 string `yaml:"leg0"`
	Leg1 string `yaml:"leg1"`

	Routes struct {
		RewardToFee []string `yaml:"reward_to_fee"`
		FeeToWant   []string `yaml:"fee_to_want"`
		FeeToLeg0   []string `yaml:"fee_to_leg0"`
		FeeToLeg1   []string `yaml:"fee_to_leg1"`
	} `yaml:"routes"`

	Fees model.FeeSchedule `yaml:"fees"`

	HarvestOnDeposit   bool   `yaml:"harvest_on_deposit"`
	HarvestWhilePaused bool   `yaml:"harvest_while_paused"`
	SwapDeadline       string `yaml:"swap_deadline"`

	// Schedule is the keeper cron expression; empty disables scheduling
	Schedule string `yaml:"schedule"`
}

// Load creates a Config from environment variables and the strategy file.
func Load() (Config, error) {
	cfg := Config{
		Port:           GetEnvOrDefault("PORT", "8080"),
		Mode:           strings.ToLower(GetEnvOrDefault("MODE", "sim")),
		OtelEndpoint:   GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		SQLitePath:     GetEnvOrDefault("SQLITE_PATH", ""),
		WebhookURL:     GetEnvOrDefault("WEBHOOK_URL", ""),
		WebhookAPIKey:  GetEnvOrDefault("WEBHOOK_API_KEY", ""),
		SigningKey:     GetEnvOrDefault("SIGNING_KEY", ""),
		RPCEndpoint:    GetEnvOrDefault("RPC_ENDPOINT", ""),
		PrivateKey:     GetEnvOrDefault("PRIVATE_KEY", ""),
		ChainID:        int64(GetEnvAsInt("CHAIN_ID", 1)),
		RequestTimeout: GetEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
		RateLimitRPS:   GetEnvAsFloat("RATE_LIMIT_RPS", 10.0),
		RateLimitBurst: GetEnvAsInt("RATE_LIMIT_BURST", 20),
	}

	reward := GetEnvOrDefault("MIN_CALL_REWARD", "0")
	min, ok := new(big.Int).SetString(reward, 10)
	if !ok {
		return cfg, fmt.Errorf("invalid MIN_CALL_REWARD %q", reward)
	}
	cfg.MinCallReward = min

	path := GetEnvOrDefault("STRATEGY_FILE", "strategies.yaml")
	file, err := LoadFile(path)
	if err != nil {
		return cfg, err
	}
	cfg.File = file
	return cfg, nil
}

// LoadFile reads and parses the YAML strategy file.
func LoadFile(path string) (FileConfig, error) {
	var file FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return file, fmt.Errorf("read strategy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("parse strategy file: %w", err)
	}
	return file, nil
}

// Address parses a hex address, failing on empty or malformed input.
func Address(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

// Route converts a list of hex addresses into a validated-shape route. Empty
// input yields a nil route, meaning "no conversion needed".
func Route(raw []string) (model.Route, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	route := make(model.Route, len(raw))
	for i, hop := range raw {
		addr, err := Address(hop)
		if err != nil {
			return nil, fmt.Errorf("route hop %d: %w", i, err)
		}
		route[i] = addr
	}
	return route, nil
}

// Deadline parses the strategy's swap deadline, defaulting when unset.
func (s StrategyConfig) Deadline() time.Duration {
	if s.SwapDeadline == "" {
		return 10 * time.Minute
	}
	if d, err := time.ParseDuration(s.SwapDeadline); err == nil {
		return d
	}
	return 10 * time.Minute
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
