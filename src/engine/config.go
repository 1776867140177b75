package engine

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// System account names used by the ledger legs.
const (
	DefaultOrderVault      = "vault:orders"
	DefaultStakeVault      = "vault:stake"
	DefaultTreasuryAccount = "treasury"
	DefaultRewardPool      = "vault:rewards"
)

type Config struct {
	// Fee policy, in basis points. FeeBps is the starting taker fee,
	// MaxFeeBps caps governance updates, MakerRebateBps is the share of
	// the collected fee rebated to the maker.
	FeeBps         int64
	MaxFeeBps      int64
	MakerRebateBps int64

	// RewardDivisor pays 1 reward unit per this many units filled from
	// the reward pool. 0 disables rewards.
	RewardDivisor int64

	OrderVault      string
	StakeVault      string
	TreasuryAccount string
	RewardPool      string

	ExpirySweepInterval time.Duration

	GovernanceAccounts []string

	// Injected capabilities; nil fields fall back to defaults in NewEngine.
	Clock  Clock
	Ledger Ledger
	Access AccessPolicy
	Hasher Hasher
}

func DefaultConfig() *Config {
	return &Config{
		FeeBps:              100, // 1%
		MaxFeeBps:           1000,
		MakerRebateBps:      2000, // 20% of the fee
		RewardDivisor:       100,
		OrderVault:          DefaultOrderVault,
		StakeVault:          DefaultStakeVault,
		TreasuryAccount:     DefaultTreasuryAccount,
		RewardPool:          DefaultRewardPool,
		ExpirySweepInterval: time.Second,
	}
}

// ConfigFromEnv builds a config from environment variables, falling back
// to defaults for anything unset or malformed.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	cfg.FeeBps = envInt64("FEE_BPS", cfg.FeeBps)
	cfg.MaxFeeBps = envInt64("MAX_FEE_BPS", cfg.MaxFeeBps)
	cfg.MakerRebateBps = envInt64("MAKER_REBATE_BPS", cfg.MakerRebateBps)
	cfg.RewardDivisor = envInt64("REWARD_DIVISOR", cfg.RewardDivisor)
	if os.Getenv("REWARD_DISABLED") == "1" {
		cfg.RewardDivisor = 0
	}

	if envInterval := os.Getenv("EXPIRY_SWEEP_INTERVAL"); envInterval != "" {
		if parsed, err := time.ParseDuration(envInterval); err == nil && parsed > 0 {
			cfg.ExpirySweepInterval = parsed
		}
	}

	if envGov := os.Getenv("GOVERNANCE_ACCOUNTS"); envGov != "" {
		for _, account := range strings.Split(envGov, ",") {
			if trimmed := strings.TrimSpace(account); trimmed != "" {
				cfg.GovernanceAccounts = append(cfg.GovernanceAccounts, trimmed)
			}
		}
	}

	return cfg
}

func envInt64(key string, fallback int64) int64 {
	if env := os.Getenv(key); env != "" {
		if parsed, err := strconv.ParseInt(env, 10, 64); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return fallback
}
