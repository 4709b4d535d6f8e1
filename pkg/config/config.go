// Package config provides a reusable loader for iroha-peer configuration
// files and environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"iroha-peer/pkg/utils"
)

// SnapshotMode mirrors snapshot.Mode without importing internal/snapshot,
// keeping the config package free of dependencies on what it configures.
type SnapshotMode string

const (
	SnapshotReadWrite SnapshotMode = "ReadWrite"
	SnapshotReadOnly  SnapshotMode = "ReadOnly"
	SnapshotDisabled  SnapshotMode = "Disabled"
)

// KuraInitMode mirrors kura.InitMode for the same reason.
type KuraInitMode string

const (
	KuraStrict KuraInitMode = "Strict"
	KuraFast   KuraInitMode = "Fast"
)

// Config is the unified configuration for one iroha-peer node.
type Config struct {
	// ChainId distinguishes this chain's transactions and hashes from any
	// other chain's; every submitted transaction must name it.
	ChainId string `mapstructure:"chain_id" json:"chain_id"`

	Network struct {
		Address               string        `mapstructure:"address" json:"address"`
		PublicAddress         string        `mapstructure:"public_address" json:"public_address"`
		DiscoveryTag          string        `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers        []string      `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		BlockGossipSize       int           `mapstructure:"block_gossip_size" json:"block_gossip_size"`
		BlockGossipPeriodMS   int           `mapstructure:"block_gossip_period_ms" json:"block_gossip_period_ms"`
		TransactionGossipSize int           `mapstructure:"transaction_gossip_size" json:"transaction_gossip_size"`
		TransactionGossipPeriodMS int       `mapstructure:"transaction_gossip_period_ms" json:"transaction_gossip_period_ms"`
		IdleTimeoutMS         int           `mapstructure:"idle_timeout_ms" json:"idle_timeout_ms"`
	} `mapstructure:"network" json:"network"`

	Queue struct {
		Capacity               int `mapstructure:"capacity" json:"capacity"`
		CapacityPerUser        int `mapstructure:"capacity_per_user" json:"capacity_per_user"`
		TransactionTimeToLiveMS int `mapstructure:"transaction_time_to_live_ms" json:"transaction_time_to_live_ms"`
	} `mapstructure:"queue" json:"queue"`

	Kura struct {
		InitMode       KuraInitMode `mapstructure:"init_mode" json:"init_mode"`
		StoreDir       string       `mapstructure:"store_dir" json:"store_dir"`
		BlocksInMemory int          `mapstructure:"blocks_in_memory" json:"blocks_in_memory"`
	} `mapstructure:"kura" json:"kura"`

	Snapshot struct {
		Mode          SnapshotMode `mapstructure:"mode" json:"mode"`
		CreateEveryMS int          `mapstructure:"create_every_ms" json:"create_every_ms"`
		StoreDir      string       `mapstructure:"store_dir" json:"store_dir"`
	} `mapstructure:"snapshot" json:"snapshot"`

	// Executor configures the WASM worker pool validate_*/execute_*/migrate
	// calls run through, including the fuel-adjacent rate limit that caps
	// how often the pool admits a new blocking wasmer call.
	Executor struct {
		PoolWorkers         int     `mapstructure:"pool_workers" json:"pool_workers"`
		CallsPerSecondLimit float64 `mapstructure:"calls_per_second_limit" json:"calls_per_second_limit"`
		Burst               int     `mapstructure:"burst" json:"burst"`
	} `mapstructure:"executor" json:"executor"`

	Sumeragi struct {
		Debug struct {
			ForceSoftFork bool `mapstructure:"force_soft_fork" json:"force_soft_fork"`
		} `mapstructure:"debug" json:"debug"`
	} `mapstructure:"sumeragi" json:"sumeragi"`

	// Torii is out of scope for this peer runtime (no HTTP/gRPC client
	// API is implemented), but the field surface is kept so a shared
	// config file does not fail to parse when it carries Torii settings.
	Torii struct {
		Address            string `mapstructure:"address" json:"address"`
		MaxContentLen       int    `mapstructure:"max_content_len" json:"max_content_len"`
		QueryIdleTimeMS     int    `mapstructure:"query_idle_time_ms" json:"query_idle_time_ms"`
	} `mapstructure:"torii" json:"torii"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// BlockGossipPeriod returns Network.BlockGossipPeriodMS as a Duration.
func (c *Config) BlockGossipPeriod() time.Duration {
	return time.Duration(c.Network.BlockGossipPeriodMS) * time.Millisecond
}

// TransactionTTL returns Queue.TransactionTimeToLiveMS as a Duration.
func (c *Config) TransactionTTL() time.Duration {
	return time.Duration(c.Queue.TransactionTimeToLiveMS) * time.Millisecond
}

// SnapshotCreateEvery returns Snapshot.CreateEveryMS as a Duration.
func (c *Config) SnapshotCreateEvery() time.Duration {
	return time.Duration(c.Snapshot.CreateEveryMS) * time.Millisecond
}

// setDefaults sets every value a peer can safely start with if a config
// file omits it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("network.address", "/ip4/0.0.0.0/tcp/1337")
	v.SetDefault("network.discovery_tag", "iroha-peer")
	v.SetDefault("network.block_gossip_size", 32)
	v.SetDefault("network.block_gossip_period_ms", 5000)
	v.SetDefault("network.transaction_gossip_size", 64)
	v.SetDefault("network.transaction_gossip_period_ms", 1000)
	v.SetDefault("network.idle_timeout_ms", 30000)

	v.SetDefault("queue.capacity", 65536)
	v.SetDefault("queue.capacity_per_user", 4096)
	v.SetDefault("queue.transaction_time_to_live_ms", 86400000)

	v.SetDefault("kura.init_mode", string(KuraStrict))
	v.SetDefault("kura.store_dir", "./storage/kura")
	v.SetDefault("kura.blocks_in_memory", 128)

	v.SetDefault("snapshot.mode", string(SnapshotReadWrite))
	v.SetDefault("snapshot.create_every_ms", 60000)
	v.SetDefault("snapshot.store_dir", "./storage/snapshot")

	v.SetDefault("executor.pool_workers", 4)
	// 0 means unlimited: throttling is opt-in rather than a surprise cap.
	v.SetDefault("executor.calls_per_second_limit", 0)
	v.SetDefault("executor.burst", 1)

	v.SetDefault("logging.level", "info")

	v.SetDefault("chain_id", "iroha")
}

// Load reads a config file (configPath if set, otherwise "config", type
// yaml, searched in . and ./config) plus IROHA_-prefixed environment
// overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		if configPath != "" {
			return nil, utils.Wrap(err, fmt.Sprintf("load config %s", configPath))
		}
		// No config file at the default location is not fatal; defaults
		// plus environment variables may be enough to run.
	}

	v.SetEnvPrefix("IROHA")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &cfg, nil
}
