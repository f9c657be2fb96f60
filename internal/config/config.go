// Package config loads process configuration the way the rest of this
// corpus does: viper defaults, an optional YAML file, explicit env
// bindings, then a validate() pass — one Load*() per binary.
package config

// RedisConfig points at the shared Redis instance backing the Coordinator's
// pool persistence and event backlog.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

// ChainConfig carries the Solana RPC endpoint both binaries read balances
// and submit transactions through.
type ChainConfig struct {
	RPCURL string `mapstructure:"rpc_url"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}
