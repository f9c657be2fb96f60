package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// CoordinatorConfig configures the Coordinator process (component C5).
type CoordinatorConfig struct {
	Redis     RedisConfig
	Chain     ChainConfig
	Server    ServerConfig
	Match     MatchConfig
	Attest    AttestConfig
	Identity  IdentityConfig
	Dispatch  DispatchConfig
	TEE       TEEConfig
	Storage   CoordinatorStorageConfig
}

// CoordinatorStorageConfig points at the Coordinator's own identity/wallet
// blobs (spec §6: "Coordinator: dashboard-wallet.json, dashboard-identity.json"),
// kept as two files rather than the agent's single combined one.
type CoordinatorStorageConfig struct {
	WalletPath   string `mapstructure:"wallet_path"`
	IdentityPath string `mapstructure:"identity_path"`
}

type MatchConfig struct {
	IntervalMS      int64 `mapstructure:"interval_ms"`
	MaxActive       int   `mapstructure:"max_active"`
	MinStakeUnits   int64 `mapstructure:"min_stake_units"`
	StakeUnits      int64 `mapstructure:"stake_units"`
	TopupCooldownSec int64 `mapstructure:"topup_cooldown_sec"`
}

type AttestConfig struct {
	Mode        string   `mapstructure:"mode"` // "explicit" | "tofu" | "open"
	Allowlist   []string `mapstructure:"allowlist"`
	ParserURL   string   `mapstructure:"parser_url"`
}

// DispatchConfig carries the pre-shared secret used to mint /play tokens.
type DispatchConfig struct {
	Secret string `mapstructure:"secret"`
}

func LoadCoordinator() (*CoordinatorConfig, error) {
	v := viper.New()

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("server.port", 4000)
	v.SetDefault("match.interval_ms", 60_000)
	v.SetDefault("match.max_active", 8)
	v.SetDefault("match.min_stake_units", 10_000)
	v.SetDefault("match.stake_units", 10_000)
	v.SetDefault("match.topup_cooldown_sec", 600)
	v.SetDefault("attest.mode", "tofu")
	v.SetDefault("identity.agent_name", "proofofflip-coordinator")
	v.SetDefault("identity.docker_image", "proofofflip/coordinator:dev")
	v.SetDefault("identity.manifest_path", "/proc/self/exe")
	v.SetDefault("tee.provider", "mock")
	v.SetDefault("storage.wallet_path", "./data/dashboard-wallet.json")
	v.SetDefault("storage.identity_path", "./data/dashboard-identity.json")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string]string{
		"redis.addr":                 "REDIS_ADDR",
		"redis.password":             "REDIS_PASSWORD",
		"chain.rpc_url":              "SOLANA_RPC_URL",
		"server.port":                "PORT",
		"match.interval_ms":          "MATCH_INTERVAL_MS",
		"match.max_active":           "MAX_ACTIVE",
		"match.min_stake_units":      "MIN_STAKE_UNITS",
		"match.stake_units":          "GAME_STAKE_UNITS",
		"match.topup_cooldown_sec":   "TOPUP_COOLDOWN_SEC",
		"attest.mode":                "RTMR3_ALLOWLIST_MODE",
		"attest.parser_url":          "QUOTE_PARSER_URL",
		"identity.agent_name":        "COORDINATOR_NAME",
		"identity.docker_image":      "DOCKER_IMAGE",
		"identity.manifest_path":     "COORDINATOR_MANIFEST_PATH",
		"dispatch.secret":            "COORDINATOR_DISPATCH_SECRET",
		"tee.provider":               "TEE_PROVIDER",
		"tee.attestation_url":        "TEE_ATTESTATION_URL",
		"tee.signing_url":            "TEE_SIGNING_URL",
		"tee.pubkey_pem_path":        "TEE_PUBKEY_PEM_PATH",
		"storage.wallet_path":        "COORDINATOR_WALLET_PATH",
		"storage.identity_path":      "COORDINATOR_IDENTITY_PATH",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	if raw := v.GetString("RTMR3_ALLOWLIST"); raw != "" {
		v.Set("attest.allowlist", strings.Split(raw, ","))
	}

	cfg := &CoordinatorConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal coordinator config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *CoordinatorConfig) validate() error {
	if c.Dispatch.Secret == "" {
		return fmt.Errorf("required config missing: COORDINATOR_DISPATCH_SECRET")
	}
	switch c.Attest.Mode {
	case "explicit", "tofu", "open":
	default:
		return fmt.Errorf("required config missing: RTMR3_ALLOWLIST_MODE must be explicit|tofu|open")
	}
	if c.Attest.Mode == "explicit" && len(c.Attest.Allowlist) == 0 {
		return fmt.Errorf("required config missing: RTMR3_ALLOWLIST")
	}
	return nil
}
