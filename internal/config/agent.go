package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// AgentConfig configures a single Agent process (component C4).
type AgentConfig struct {
	TEE        TEEConfig
	Storage    StorageConfig
	Chain      ChainConfig
	Coordinator CoordinatorEndpointConfig
	Server     ServerConfig
	Identity   IdentityConfig
}

type TEEConfig struct {
	Provider      string `mapstructure:"provider"` // "mock" | "secretvm"
	AttestationURL string `mapstructure:"attestation_url"`
	SigningURL    string `mapstructure:"signing_url"`
	PubkeyPEMPath string `mapstructure:"pubkey_pem_path"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type CoordinatorEndpointConfig struct {
	URL           string `mapstructure:"url"`
	DispatchSecret string `mapstructure:"dispatch_secret"`
}

type IdentityConfig struct {
	AgentName      string `mapstructure:"agent_name"`
	DockerImage    string `mapstructure:"docker_image"`
	EndpointOverride string `mapstructure:"endpoint_override"`
	ManifestPath   string `mapstructure:"manifest_path"`
}

// LoadAgent reads an AgentConfig the same way the billing service's
// internal/config.Load does: viper defaults, an optional config file, then
// explicit env bindings, then validation.
func LoadAgent() (*AgentConfig, error) {
	v := viper.New()

	v.SetDefault("tee.provider", "mock")
	v.SetDefault("storage.path", "./data/agent-state.json")
	v.SetDefault("coordinator.url", "http://localhost:4000")
	v.SetDefault("server.port", 8090)
	v.SetDefault("identity.docker_image", "proofofflip/agent:dev")
	v.SetDefault("identity.manifest_path", "/proc/self/exe")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string]string{
		"tee.provider":                  "TEE_PROVIDER",
		"tee.attestation_url":           "TEE_ATTESTATION_URL",
		"tee.signing_url":               "TEE_SIGNING_URL",
		"tee.pubkey_pem_path":           "TEE_PUBKEY_PEM_PATH",
		"storage.path":                  "AGENT_STORAGE_PATH",
		"chain.rpc_url":                 "SOLANA_RPC_URL",
		"coordinator.url":               "COORDINATOR_URL",
		"coordinator.dispatch_secret":   "COORDINATOR_DISPATCH_SECRET",
		"server.port":                   "PORT",
		"identity.agent_name":           "AGENT_NAME",
		"identity.docker_image":         "DOCKER_IMAGE",
		"identity.endpoint_override":    "AGENT_ENDPOINT",
		"identity.manifest_path":        "AGENT_MANIFEST_PATH",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &AgentConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal agent config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *AgentConfig) validate() error {
	type req struct{ val, name string }
	reqs := []req{
		{c.Identity.AgentName, "AGENT_NAME"},
		{c.Coordinator.URL, "COORDINATOR_URL"},
	}
	if c.TEE.Provider == "secretvm" {
		reqs = append(reqs,
			req{c.TEE.AttestationURL, "TEE_ATTESTATION_URL"},
			req{c.TEE.SigningURL, "TEE_SIGNING_URL"},
		)
	}
	for _, r := range reqs {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	return nil
}
