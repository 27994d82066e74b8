package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SANDWICHD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// Defaults returns the built-in configuration. The evaluator and orchestrator
// numbers are the operational defaults; every one of them can be overridden
// in the TOML file or the environment.
func Defaults() Config {
	return Config{
		Mode:     "monitor",
		LogLevel: "info",
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Postgres: PostgresConfig{
			SSLMode:      "disable",
			PoolMaxConns: 8,
			PoolMinConns: 2,
		},
		Metadata: MetadataConfig{
			TimeoutMs:  5000,
			TTLSeconds: 30,
		},
		Evaluator: EvaluatorConfig{
			FrontRunRatio:     0.3,
			GuardToleranceBps: 500,
			MinProfitWei:      "0",
			MinProfitability:  0.5,
			MinTokenQuality:   50,
			MinPoolLiquidity:  "0",
			LiquidityFloorUSD: 50000,
			OpportunityTTLMs:  12000,
		},
		Relay: RelayConfig{
			ProfitMarginReserve: 0.3,
			SubmitTimeoutMs:     5000,
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrent:     5,
			PollIntervalMs:    1500,
			MonitorTimeoutSec: 60,
			RetryBudget:       3,
			RetryBackoffMs:    500,
		},
	}
}

// applyEnvOverrides reads well-known SANDWICHD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.EVMPrivateKey, "SANDWICHD_WALLET_EVM_PRIVATE_KEY")
	setStr(&cfg.Wallet.SolanaPrivateKey, "SANDWICHD_WALLET_SOLANA_PRIVATE_KEY")

	// ── Networks ──
	setBool(&cfg.Networks.Ethereum.Enabled, "SANDWICHD_ETHEREUM_ENABLED")
	setStr(&cfg.Networks.Ethereum.WSURL, "SANDWICHD_ETHEREUM_WS_URL")
	setStr(&cfg.Networks.Ethereum.RPCURL, "SANDWICHD_ETHEREUM_RPC_URL")
	setStr(&cfg.Networks.Ethereum.RelayURL, "SANDWICHD_ETHEREUM_RELAY_URL")
	setInt64(&cfg.Networks.Ethereum.ChainID, "SANDWICHD_ETHEREUM_CHAIN_ID")
	setBool(&cfg.Networks.BSC.Enabled, "SANDWICHD_BSC_ENABLED")
	setStr(&cfg.Networks.BSC.WSURL, "SANDWICHD_BSC_WS_URL")
	setStr(&cfg.Networks.BSC.RPCURL, "SANDWICHD_BSC_RPC_URL")
	setStr(&cfg.Networks.BSC.RelayURL, "SANDWICHD_BSC_RELAY_URL")
	setInt64(&cfg.Networks.BSC.ChainID, "SANDWICHD_BSC_CHAIN_ID")
	setStr(&cfg.Networks.BSC.RelayAuthKey, "SANDWICHD_BSC_RELAY_AUTH_KEY")
	setBool(&cfg.Networks.Solana.Enabled, "SANDWICHD_SOLANA_ENABLED")
	setStr(&cfg.Networks.Solana.WSURL, "SANDWICHD_SOLANA_WS_URL")
	setStr(&cfg.Networks.Solana.RPCURL, "SANDWICHD_SOLANA_RPC_URL")
	setStr(&cfg.Networks.Solana.BlockEngineURL, "SANDWICHD_SOLANA_BLOCK_ENGINE_URL")
	setStr(&cfg.Networks.Solana.TipAccount, "SANDWICHD_SOLANA_TIP_ACCOUNT")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SANDWICHD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SANDWICHD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SANDWICHD_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "SANDWICHD_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SANDWICHD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SANDWICHD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SANDWICHD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SANDWICHD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SANDWICHD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SANDWICHD_POSTGRES_PASSWORD")
	setBool(&cfg.Postgres.RunMigrations, "SANDWICHD_POSTGRES_RUN_MIGRATIONS")

	// ── Metadata ──
	setStr(&cfg.Metadata.APIURL, "SANDWICHD_METADATA_API_URL")

	// ── Evaluator / relay / orchestrator knobs ──
	setFloat(&cfg.Evaluator.FrontRunRatio, "SANDWICHD_EVALUATOR_FRONT_RUN_RATIO")
	setStr(&cfg.Evaluator.MinProfitWei, "SANDWICHD_EVALUATOR_MIN_PROFIT_WEI")
	setFloat(&cfg.Relay.ProfitMarginReserve, "SANDWICHD_RELAY_PROFIT_MARGIN_RESERVE")
	setInt(&cfg.Orchestrator.MaxConcurrent, "SANDWICHD_ORCHESTRATOR_MAX_CONCURRENT")
	setStr(&cfg.Orchestrator.MaxFeeWei, "SANDWICHD_ORCHESTRATOR_MAX_FEE_WEI")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SANDWICHD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SANDWICHD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhook, "SANDWICHD_NOTIFY_DISCORD_WEBHOOK")

	// ── Top level ──
	setStr(&cfg.Mode, "SANDWICHD_MODE")
	setStr(&cfg.LogLevel, "SANDWICHD_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
