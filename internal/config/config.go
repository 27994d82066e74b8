// Package config defines the top-level configuration for the sandwich daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SANDWICHD_* environment variables.
type Config struct {
	Wallet       WalletConfig       `toml:"wallet"`
	Networks     NetworksConfig     `toml:"networks"`
	Redis        RedisConfig        `toml:"redis"`
	Postgres     PostgresConfig     `toml:"postgres"`
	Metadata     MetadataConfig     `toml:"metadata"`
	Evaluator    EvaluatorConfig    `toml:"evaluator"`
	Relay        RelayConfig        `toml:"relay"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Notify       NotifyConfig       `toml:"notify"`
	Mode         string             `toml:"mode"`
	LogLevel     string             `toml:"log_level"`
}

// WalletConfig holds the operator's signing keys, supplied at startup. The
// core never persists or logs this material.
type WalletConfig struct {
	EVMPrivateKey    string `toml:"evm_private_key"`    // hex secp256k1, shared by ethereum and bsc
	SolanaPrivateKey string `toml:"solana_private_key"` // base58 ed25519 seed
}

// NetworksConfig holds per-network endpoints and relay credentials.
type NetworksConfig struct {
	Ethereum EVMNetworkConfig    `toml:"ethereum"`
	BSC      EVMNetworkConfig    `toml:"bsc"`
	Solana   SolanaNetworkConfig `toml:"solana"`
}

// EVMNetworkConfig configures one account-based network.
type EVMNetworkConfig struct {
	Enabled  bool   `toml:"enabled"`
	WSURL    string `toml:"ws_url"`    // pending-transaction subscription endpoint
	RPCURL   string `toml:"rpc_url"`   // node HTTP endpoint for nonces and receipts
	RelayURL string `toml:"relay_url"` // bundle relay endpoint
	ChainID  int64  `toml:"chain_id"`
	// RelayAuthKey is the vendor relay authorization header value (bsc only).
	RelayAuthKey string `toml:"relay_auth_key"`
}

// SolanaNetworkConfig configures the block-engine network.
type SolanaNetworkConfig struct {
	Enabled        bool   `toml:"enabled"`
	WSURL          string `toml:"ws_url"`
	RPCURL         string `toml:"rpc_url"` // node HTTP endpoint for blockhash and slot
	BlockEngineURL string `toml:"block_engine_url"`
	TipAccount     string `toml:"tip_account"` // block-engine tip receiver
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// MetadataConfig controls the token/pool metadata source and cache.
type MetadataConfig struct {
	APIURL     string `toml:"api_url"` // market-data indexer endpoint
	TimeoutMs  int    `toml:"timeout_ms"`
	TTLSeconds int    `toml:"ttl_seconds"`
}

// Timeout returns the per-request indexer timeout.
func (m MetadataConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMs) * time.Millisecond
}

// TTL returns the cache TTL as a duration.
func (m MetadataConfig) TTL() time.Duration {
	return time.Duration(m.TTLSeconds) * time.Second
}

// EvaluatorConfig holds the opportunity evaluator's thresholds. The front-run
// ratio and guard tolerance are empirical; they are configuration precisely
// because no derivation exists for them.
type EvaluatorConfig struct {
	FrontRunRatio      float64  `toml:"front_run_ratio"`      // fraction of victim input
	GuardToleranceBps  int      `toml:"guard_tolerance_bps"`  // victim min-out slack
	MinProfitWei       string   `toml:"min_profit_wei"`       // decimal string, input-asset units
	MinProfitability   float64  `toml:"min_profitability"`    // percent of front-run capital
	MinTokenQuality    float64  `toml:"min_token_quality"`    // 0-100
	MinPoolLiquidity   string   `toml:"min_pool_liquidity"`   // reserve floor, native units
	LiquidityFloorUSD  float64  `toml:"liquidity_floor_usd"`  // token quality component
	OpportunityTTLMs   int      `toml:"opportunity_ttl_ms"`   // time-to-expiry of emissions
	Blacklist          []string `toml:"blacklist"`            // token addresses, any network
}

// MinProfit parses MinProfitWei; invalid strings yield zero.
func (e EvaluatorConfig) MinProfit() *big.Int {
	v, ok := new(big.Int).SetString(e.MinProfitWei, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

// MinLiquidity parses MinPoolLiquidity; invalid strings yield zero.
func (e EvaluatorConfig) MinLiquidity() *big.Int {
	v, ok := new(big.Int).SetString(e.MinPoolLiquidity, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

// OpportunityTTL returns the emission time-to-expiry as a duration.
func (e EvaluatorConfig) OpportunityTTL() time.Duration {
	return time.Duration(e.OpportunityTTLMs) * time.Millisecond
}

// RelayConfig holds bidding parameters shared by all relay implementations.
type RelayConfig struct {
	// ProfitMarginReserve is the fraction of estimated profit withheld from
	// the bid; the relay bids at most (1 - reserve) * profit.
	ProfitMarginReserve float64 `toml:"profit_margin_reserve"`
	SubmitTimeoutMs     int     `toml:"submit_timeout_ms"`
}

// SubmitTimeout returns the per-call relay HTTP timeout.
func (r RelayConfig) SubmitTimeout() time.Duration {
	return time.Duration(r.SubmitTimeoutMs) * time.Millisecond
}

// OrchestratorConfig bounds the execution pipeline.
type OrchestratorConfig struct {
	MaxConcurrent     int `toml:"max_concurrent"`
	PollIntervalMs    int `toml:"poll_interval_ms"`
	MonitorTimeoutSec int `toml:"monitor_timeout_sec"`
	RetryBudget       int `toml:"retry_budget"`
	RetryBackoffMs    int `toml:"retry_backoff_ms"`
	// MaxFeeWei caps the per-execution gas price; fee bumps never exceed it.
	// Empty means no cap.
	MaxFeeWei string `toml:"max_fee_wei"`
	// DeadlineMs bounds each execution's wall clock from admission. Zero means
	// only the opportunity's own expiry applies.
	DeadlineMs int `toml:"execution_deadline_ms"`
}

// PollInterval returns the monitoring poll interval.
func (o OrchestratorConfig) PollInterval() time.Duration {
	return time.Duration(o.PollIntervalMs) * time.Millisecond
}

// MonitorTimeout returns the hard monitoring bound measured from submission.
func (o OrchestratorConfig) MonitorTimeout() time.Duration {
	return time.Duration(o.MonitorTimeoutSec) * time.Second
}

// RetryBackoff returns the initial retry backoff; it doubles per attempt.
func (o OrchestratorConfig) RetryBackoff() time.Duration {
	return time.Duration(o.RetryBackoffMs) * time.Millisecond
}

// MaxFee parses MaxFeeWei; an empty string yields nil, meaning no cap.
func (o OrchestratorConfig) MaxFee() *big.Int {
	if o.MaxFeeWei == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(o.MaxFeeWei, 10)
	if !ok {
		return nil
	}
	return v
}

// ExecutionDeadline returns the per-execution wall-clock budget.
func (o OrchestratorConfig) ExecutionDeadline() time.Duration {
	return time.Duration(o.DeadlineMs) * time.Millisecond
}

// NotifyConfig holds notification channel credentials and filters.
type NotifyConfig struct {
	TelegramToken   string   `toml:"telegram_token"`
	TelegramChatID  string   `toml:"telegram_chat_id"`
	DiscordWebhook  string   `toml:"discord_webhook"`
	Events          []string `toml:"events"`
	MinNotifyProfit float64  `toml:"min_notify_profit_usd"`
}

// Validate checks the configuration for internal consistency. It is called
// after Load and before any component is wired.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "monitor", "simulate", "execute":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if !c.Networks.Ethereum.Enabled && !c.Networks.BSC.Enabled && !c.Networks.Solana.Enabled {
		return fmt.Errorf("config: at least one network must be enabled")
	}
	if c.Metadata.APIURL == "" {
		return fmt.Errorf("config: metadata.api_url is required")
	}
	for name, n := range map[string]EVMNetworkConfig{
		"ethereum": c.Networks.Ethereum,
		"bsc":      c.Networks.BSC,
	} {
		if !n.Enabled {
			continue
		}
		if n.WSURL == "" {
			return fmt.Errorf("config: networks.%s.ws_url is required", name)
		}
		if c.Mode != "monitor" && n.RelayURL == "" {
			return fmt.Errorf("config: networks.%s.relay_url is required in %s mode", name, c.Mode)
		}
		if c.Mode != "monitor" && n.RPCURL == "" {
			return fmt.Errorf("config: networks.%s.rpc_url is required in %s mode", name, c.Mode)
		}
		if n.ChainID == 0 {
			return fmt.Errorf("config: networks.%s.chain_id is required", name)
		}
	}
	if c.Networks.Solana.Enabled {
		if c.Networks.Solana.WSURL == "" {
			return fmt.Errorf("config: networks.solana.ws_url is required")
		}
		if c.Mode != "monitor" && c.Networks.Solana.BlockEngineURL == "" {
			return fmt.Errorf("config: networks.solana.block_engine_url is required in %s mode", c.Mode)
		}
		if c.Mode != "monitor" && c.Networks.Solana.RPCURL == "" {
			return fmt.Errorf("config: networks.solana.rpc_url is required in %s mode", c.Mode)
		}
	}

	if c.Mode == "execute" {
		if (c.Networks.Ethereum.Enabled || c.Networks.BSC.Enabled) && c.Wallet.EVMPrivateKey == "" {
			return fmt.Errorf("config: wallet.evm_private_key is required in execute mode")
		}
		if c.Networks.Solana.Enabled && c.Wallet.SolanaPrivateKey == "" {
			return fmt.Errorf("config: wallet.solana_private_key is required in execute mode")
		}
	}

	if r := c.Evaluator.FrontRunRatio; r <= 0 || r >= 1 {
		return fmt.Errorf("config: evaluator.front_run_ratio must be in (0,1), got %v", r)
	}
	if r := c.Relay.ProfitMarginReserve; r < 0 || r >= 1 {
		return fmt.Errorf("config: relay.profit_margin_reserve must be in [0,1), got %v", r)
	}
	if c.Orchestrator.MaxConcurrent <= 0 {
		return fmt.Errorf("config: orchestrator.max_concurrent must be positive")
	}
	if c.Orchestrator.RetryBudget < 1 {
		return fmt.Errorf("config: orchestrator.retry_budget must be at least 1")
	}
	if _, ok := new(big.Int).SetString(c.Evaluator.MinProfitWei, 10); !ok {
		return fmt.Errorf("config: evaluator.min_profit_wei is not a decimal integer: %q", c.Evaluator.MinProfitWei)
	}
	if c.Orchestrator.MaxFeeWei != "" {
		if _, ok := new(big.Int).SetString(c.Orchestrator.MaxFeeWei, 10); !ok {
			return fmt.Errorf("config: orchestrator.max_fee_wei is not a decimal integer: %q", c.Orchestrator.MaxFeeWei)
		}
	}
	return nil
}
