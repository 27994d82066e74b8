package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const monitorConfig = `
mode = "monitor"

[metadata]
api_url = "http://indexer.local"

[networks.ethereum]
enabled = true
ws_url = "wss://node.local/ws"
chain_id = 1
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, monitorConfig))
	require.NoError(t, err)

	require.Equal(t, "monitor", cfg.Mode)
	require.Equal(t, 0.3, cfg.Evaluator.FrontRunRatio)
	require.Equal(t, 500, cfg.Evaluator.GuardToleranceBps)
	require.Equal(t, 0.3, cfg.Relay.ProfitMarginReserve)
	require.Equal(t, 5, cfg.Orchestrator.MaxConcurrent)
	require.Equal(t, 1500*time.Millisecond, cfg.Orchestrator.PollInterval())
	require.Equal(t, time.Minute, cfg.Orchestrator.MonitorTimeout())
	require.Equal(t, 30*time.Second, cfg.Metadata.TTL())
	require.Equal(t, 5*time.Second, cfg.Metadata.Timeout())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, monitorConfig+`
[evaluator]
front_run_ratio = 0.25
min_profit_wei = "5000000000000000"

[orchestrator]
max_concurrent = 12
`))
	require.NoError(t, err)
	require.Equal(t, 0.25, cfg.Evaluator.FrontRunRatio)
	require.Equal(t, "5000000000000000", cfg.Evaluator.MinProfitWei)
	require.Equal(t, 12, cfg.Orchestrator.MaxConcurrent)
	// Untouched sections keep their defaults.
	require.Equal(t, 3, cfg.Orchestrator.RetryBudget)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("SANDWICHD_MODE", "simulate")
	t.Setenv("SANDWICHD_ETHEREUM_RPC_URL", "http://node.env/rpc")
	t.Setenv("SANDWICHD_ETHEREUM_RELAY_URL", "https://relay.env")
	t.Setenv("SANDWICHD_METADATA_API_URL", "http://indexer.env")
	t.Setenv("SANDWICHD_ORCHESTRATOR_MAX_CONCURRENT", "9")
	t.Setenv("SANDWICHD_ORCHESTRATOR_MAX_FEE_WEI", "250000000000")

	cfg, err := Load(writeConfig(t, monitorConfig))
	require.NoError(t, err)
	require.Equal(t, "simulate", cfg.Mode)
	require.Equal(t, "http://node.env/rpc", cfg.Networks.Ethereum.RPCURL)
	require.Equal(t, "https://relay.env", cfg.Networks.Ethereum.RelayURL)
	require.Equal(t, "http://indexer.env", cfg.Metadata.APIURL)
	require.Equal(t, 9, cfg.Orchestrator.MaxConcurrent)
	require.Equal(t, "250000000000", cfg.Orchestrator.MaxFee().String())

	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestValidateModes(t *testing.T) {
	cfg, err := Load(writeConfig(t, monitorConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	cfg.Mode = "yolo"
	require.ErrorContains(t, cfg.Validate(), "unsupported mode")
}

func TestValidateRequiresANetwork(t *testing.T) {
	cfg := Defaults()
	cfg.Metadata.APIURL = "http://indexer.local"
	require.ErrorContains(t, cfg.Validate(), "at least one network")
}

func TestValidateRequiresMetadataAPI(t *testing.T) {
	cfg, err := Load(writeConfig(t, monitorConfig))
	require.NoError(t, err)
	cfg.Metadata.APIURL = ""
	require.ErrorContains(t, cfg.Validate(), "metadata.api_url")
}

func TestValidateRelayEndpointsOutsideMonitorMode(t *testing.T) {
	cfg, err := Load(writeConfig(t, monitorConfig))
	require.NoError(t, err)

	// Monitor mode needs no relay or node RPC endpoints.
	require.NoError(t, cfg.Validate())

	cfg.Mode = "simulate"
	require.ErrorContains(t, cfg.Validate(), "relay_url")
	cfg.Networks.Ethereum.RelayURL = "https://relay.local"
	require.ErrorContains(t, cfg.Validate(), "rpc_url")
	cfg.Networks.Ethereum.RPCURL = "http://node.local/rpc"
	require.NoError(t, cfg.Validate())
}

func TestValidateExecuteRequiresKeys(t *testing.T) {
	cfg, err := Load(writeConfig(t, monitorConfig))
	require.NoError(t, err)
	cfg.Mode = "execute"
	cfg.Networks.Ethereum.RelayURL = "https://relay.local"
	cfg.Networks.Ethereum.RPCURL = "http://node.local/rpc"

	require.ErrorContains(t, cfg.Validate(), "evm_private_key")
	cfg.Wallet.EVMPrivateKey = "0x0123"
	require.NoError(t, cfg.Validate())

	cfg.Networks.Solana.Enabled = true
	cfg.Networks.Solana.WSURL = "wss://solana.local/ws"
	cfg.Networks.Solana.BlockEngineURL = "https://engine.local"
	cfg.Networks.Solana.RPCURL = "http://solana.local/rpc"
	require.ErrorContains(t, cfg.Validate(), "solana_private_key")
	cfg.Wallet.SolanaPrivateKey = "seed"
	require.NoError(t, cfg.Validate())
}

func TestValidateBounds(t *testing.T) {
	cfg, err := Load(writeConfig(t, monitorConfig))
	require.NoError(t, err)

	cfg.Evaluator.FrontRunRatio = 1.0
	require.ErrorContains(t, cfg.Validate(), "front_run_ratio")
	cfg.Evaluator.FrontRunRatio = 0.3

	cfg.Relay.ProfitMarginReserve = 1.0
	require.ErrorContains(t, cfg.Validate(), "profit_margin_reserve")
	cfg.Relay.ProfitMarginReserve = 0.3

	cfg.Orchestrator.MaxConcurrent = 0
	require.ErrorContains(t, cfg.Validate(), "max_concurrent")
	cfg.Orchestrator.MaxConcurrent = 5

	cfg.Evaluator.MinProfitWei = "not-a-number"
	require.ErrorContains(t, cfg.Validate(), "min_profit_wei")
	cfg.Evaluator.MinProfitWei = "0"

	cfg.Orchestrator.MaxFeeWei = "not-a-number"
	require.ErrorContains(t, cfg.Validate(), "max_fee_wei")
}

func TestMinProfitParsing(t *testing.T) {
	e := EvaluatorConfig{MinProfitWei: "12345678901234567890"}
	require.Equal(t, "12345678901234567890", e.MinProfit().String())
	e.MinProfitWei = "garbage"
	require.Zero(t, e.MinProfit().Sign())
}

func TestOrchestratorExecutionKnobs(t *testing.T) {
	o := OrchestratorConfig{}
	require.Nil(t, o.MaxFee())
	require.Zero(t, o.ExecutionDeadline())

	o.MaxFeeWei = "250000000000"
	o.DeadlineMs = 8_000
	require.Equal(t, "250000000000", o.MaxFee().String())
	require.Equal(t, 8*time.Second, o.ExecutionDeadline())

	o.MaxFeeWei = "garbage"
	require.Nil(t, o.MaxFee())
}
