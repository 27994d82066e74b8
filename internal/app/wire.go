package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	redispkg "github.com/mevduct/sandwichd/internal/cache/redis"
	"github.com/mevduct/sandwichd/internal/config"
	"github.com/mevduct/sandwichd/internal/crypto"
	"github.com/mevduct/sandwichd/internal/decoder"
	"github.com/mevduct/sandwichd/internal/domain"
	"github.com/mevduct/sandwichd/internal/evaluator"
	"github.com/mevduct/sandwichd/internal/mempool"
	"github.com/mevduct/sandwichd/internal/metadata"
	"github.com/mevduct/sandwichd/internal/notify"
	"github.com/mevduct/sandwichd/internal/orchestrator"
	"github.com/mevduct/sandwichd/internal/relay"
	"github.com/mevduct/sandwichd/internal/store/postgres"
)

// Dependencies holds every wired component. Optional infrastructure (Redis,
// Postgres, notification channels) is nil when not configured; the pipeline
// degrades to in-process caching and no persistence.
type Dependencies struct {
	Config *config.Config
	Logger *slog.Logger

	Redis     *redispkg.Client
	SignalBus domain.SignalBus
	Postgres  *postgres.Client
	OppStore  domain.OpportunityStore
	ExecStore domain.ExecutionStore

	Metadata  domain.MetadataSource
	Decoder   *decoder.Decoder
	Feeds     *mempool.Manager
	Evaluator *evaluator.Evaluator
	Relays    map[domain.Network]relay.Relay
	Orch      *orchestrator.Orchestrator
	Notifier  *notify.Notifier

	closers []func()
}

// Close releases held resources in reverse wiring order.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// Wire builds the full dependency graph from configuration. It fails fast:
// any configured-but-unreachable backend aborts startup.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	d := &Dependencies{Config: cfg, Logger: logger}

	// Redis: L2 metadata cache and cross-process signal bus.
	if cfg.Redis.Addr != "" {
		rc, err := redispkg.New(ctx, redispkg.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return nil, fmt.Errorf("app: redis: %w", err)
		}
		d.Redis = rc
		d.SignalBus = redispkg.NewSignalBus(rc)
		d.closers = append(d.closers, func() { _ = rc.Close() })
	}

	// Metadata: indexer source under the optional Redis layer, under the
	// in-process cache.
	var source domain.MetadataSource = metadata.NewHTTPSource(cfg.Metadata.APIURL, cfg.Metadata.Timeout())
	if d.Redis != nil {
		source = redispkg.NewMetadataCache(d.Redis, source, cfg.Metadata.TTL())
	}
	d.Metadata = metadata.NewCache(source, cfg.Metadata.TTL(), logger)

	// Postgres: opportunity and execution persistence.
	if cfg.Postgres.DSN != "" || cfg.Postgres.Host != "" {
		pc, err := postgres.New(ctx, postgres.Config{
			DSN:          cfg.Postgres.DSN,
			Host:         cfg.Postgres.Host,
			Port:         cfg.Postgres.Port,
			Database:     cfg.Postgres.Database,
			User:         cfg.Postgres.User,
			Password:     cfg.Postgres.Password,
			SSLMode:      cfg.Postgres.SSLMode,
			PoolMaxConns: cfg.Postgres.PoolMaxConns,
			PoolMinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("app: postgres: %w", err)
		}
		if cfg.Postgres.RunMigrations {
			if err := pc.Migrate(ctx); err != nil {
				pc.Close()
				return nil, fmt.Errorf("app: postgres: %w", err)
			}
		}
		d.Postgres = pc
		d.OppStore = postgres.NewOpportunityStore(pc)
		d.ExecStore = postgres.NewExecutionStore(pc)
		d.closers = append(d.closers, pc.Close)
	}

	// Decoder and feeds.
	d.Decoder = decoder.New(decoder.DefaultRegistry())
	out := mempool.NewMergeChannel()
	var feeds []mempool.Feed
	if cfg.Networks.Ethereum.Enabled {
		feeds = append(feeds, mempool.NewEVMFeed(domain.NetworkEthereum, cfg.Networks.Ethereum.WSURL, d.Decoder, out, logger))
	}
	if cfg.Networks.BSC.Enabled {
		feeds = append(feeds, mempool.NewEVMFeed(domain.NetworkBSC, cfg.Networks.BSC.WSURL, d.Decoder, out, logger))
	}
	if cfg.Networks.Solana.Enabled {
		programs := []string{decoder.RaydiumV4Program, decoder.WhirlpoolProgram}
		feeds = append(feeds, mempool.NewSolanaFeed(cfg.Networks.Solana.WSURL, programs, d.Decoder, out, logger))
	}
	d.Feeds = mempool.NewManager(feeds, out, logger)

	// Evaluator.
	blacklist := make(map[string]bool, len(cfg.Evaluator.Blacklist))
	for _, addr := range cfg.Evaluator.Blacklist {
		blacklist[strings.ToLower(addr)] = true
	}
	d.Evaluator = evaluator.New(d.Metadata, evaluator.Config{
		FrontRunRatio:     cfg.Evaluator.FrontRunRatio,
		GuardToleranceBps: cfg.Evaluator.GuardToleranceBps,
		MinProfit:         cfg.Evaluator.MinProfit(),
		MinProfitability:  cfg.Evaluator.MinProfitability,
		MinTokenQuality:   cfg.Evaluator.MinTokenQuality,
		MinLiquidity:      cfg.Evaluator.MinLiquidity(),
		LiquidityFloorUSD: cfg.Evaluator.LiquidityFloorUSD,
		OpportunityTTL:    cfg.Evaluator.OpportunityTTL(),
		Blacklist:         blacklist,
		NativeToken: map[domain.Network]string{
			domain.NetworkEthereum: decoder.WETHAddress,
			domain.NetworkBSC:      decoder.WBNBAddress,
			domain.NetworkSolana:   decoder.WSOLMint,
		},
	}, logger)

	// Relays: only wired in modes that touch them. Simulation-only runs use
	// ephemeral keys, so no funded key material is ever required for them.
	if cfg.Mode != "monitor" {
		if err := wireRelays(d, cfg, logger); err != nil {
			return nil, err
		}
	}

	// Orchestrator.
	d.Orch = orchestrator.New(d.Relays, d.Evaluator, d.ExecStore, orchestrator.Config{
		MaxConcurrent:  cfg.Orchestrator.MaxConcurrent,
		PollInterval:   cfg.Orchestrator.PollInterval(),
		MonitorTimeout: cfg.Orchestrator.MonitorTimeout(),
		RetryBudget:    cfg.Orchestrator.RetryBudget,
		RetryBackoff:   cfg.Orchestrator.RetryBackoff(),
	}, logger)

	// Notifications.
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhook))
	}
	d.Notifier = notify.New(notify.Config{Events: cfg.Notify.Events}, logger, senders...)

	wireObservers(d, logger)
	return d, nil
}

// wireRelays constructs the per-network relays with real or ephemeral keys.
func wireRelays(d *Dependencies, cfg *config.Config, logger *slog.Logger) error {
	d.Relays = make(map[domain.Network]relay.Relay)
	timeout := cfg.Relay.SubmitTimeout()
	reserve := cfg.Relay.ProfitMarginReserve

	evmSigner := func(chainID int64) (*crypto.EVMSigner, error) {
		if cfg.Wallet.EVMPrivateKey != "" {
			return crypto.NewEVMSigner(cfg.Wallet.EVMPrivateKey, chainID)
		}
		return crypto.NewEphemeralEVMSigner(chainID)
	}

	if cfg.Networks.Ethereum.Enabled {
		signer, err := evmSigner(cfg.Networks.Ethereum.ChainID)
		if err != nil {
			return fmt.Errorf("app: ethereum signer: %w", err)
		}
		d.Relays[domain.NetworkEthereum] = relay.NewFlashbotsRelay(
			cfg.Networks.Ethereum.RelayURL, cfg.Networks.Ethereum.RPCURL,
			signer, reserve, timeout, logger)
	}
	if cfg.Networks.BSC.Enabled {
		signer, err := evmSigner(cfg.Networks.BSC.ChainID)
		if err != nil {
			return fmt.Errorf("app: bsc signer: %w", err)
		}
		d.Relays[domain.NetworkBSC] = relay.NewBloxrouteRelay(
			cfg.Networks.BSC.RelayURL, cfg.Networks.BSC.RPCURL,
			cfg.Networks.BSC.RelayAuthKey, signer, reserve, timeout, logger)
	}
	if cfg.Networks.Solana.Enabled {
		var signer *crypto.SolanaSigner
		var err error
		if cfg.Wallet.SolanaPrivateKey != "" {
			signer, err = crypto.NewSolanaSigner(cfg.Wallet.SolanaPrivateKey)
		} else {
			signer, err = crypto.NewEphemeralSolanaSigner()
		}
		if err != nil {
			return fmt.Errorf("app: solana signer: %w", err)
		}
		d.Relays[domain.NetworkSolana] = relay.NewJitoRelay(
			cfg.Networks.Solana.BlockEngineURL, cfg.Networks.Solana.RPCURL,
			cfg.Networks.Solana.TipAccount, signer, reserve, timeout, logger)
	}
	return nil
}

// wireObservers attaches persistence, notifications, and the signal bus to
// the evaluator and orchestrator hooks.
func wireObservers(d *Dependencies, logger *slog.Logger) {
	hookLog := logger.With(slog.String("component", "observers"))

	d.Evaluator.OnOpportunity(func(opp *domain.SandwichOpportunity) {
		ctx := context.Background()
		if d.OppStore != nil {
			if err := d.OppStore.Insert(ctx, *opp); err != nil {
				hookLog.Warn("persist opportunity failed",
					slog.String("opportunity", opp.ID), slog.String("error", err.Error()))
			}
		}
		if d.SignalBus != nil {
			publishOpportunity(ctx, d.SignalBus, opp, hookLog)
		}
		d.Notifier.OpportunityFound(ctx, opp)
	})

	d.Orch.OnEvent(func(ev orchestrator.Event) {
		ctx := context.Background()
		if d.SignalBus != nil {
			publishExecution(ctx, d.SignalBus, ev, hookLog)
		}
		if ev.Result.State.Terminal() {
			d.Notifier.ExecutionFinished(ctx, ev.Result)
		}
	})
}
