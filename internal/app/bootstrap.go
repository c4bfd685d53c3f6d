package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"

	"polytrader/internal/domain"
	"polytrader/internal/engine"
	"polytrader/internal/infra"
	"polytrader/internal/infra/clob"
	"polytrader/internal/infra/storage"
	"polytrader/internal/ledger"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config     *infra.Config
	Credential *infra.Credential
	Storage    *storage.Storage
	Ledger     *ledger.Ledger
	Client     *clob.Client
	Engine     *engine.Engine
	Reconciler *engine.Reconciler

	// Markets discovered (or cache-served) at startup, keyed by condition id.
	Markets map[string]*domain.Market
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{Markets: make(map[string]*domain.Market)}
}

// Initialize performs core system initialization (config, logger, DB, ledger
// replay, clients). Network-dependent steps live in Prepare so a flaky
// connection cannot block local recovery.
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping PolyTrader...")

	// .env is optional; real deployments export the variables directly.
	_ = godotenv.Load()

	// 1. Load Config
	cfg, err := infra.LoadConfig("configs/config.yaml")
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Load credential from the environment
	cred, err := infra.LoadCredential()
	if err != nil {
		return err
	}
	b.Credential = cred

	// 4. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized")

	// 5. Replay the order event log
	led, err := ledger.New(store)
	if err != nil {
		return err
	}
	b.Ledger = led
	slog.Info("✅ Ledger replayed", slog.Int("open_orders", len(led.OpenOrders())))

	// 6. REST client + order signing
	b.Client = clob.NewClient(cfg, cred)
	orderSigner, err := clob.NewOrderSigner(cred.PrivateKey, cfg.API.ChainID)
	if err != nil {
		return err
	}

	b.Engine = engine.New(led, b.Client, orderSigner, cred.Address)
	b.Reconciler = engine.NewReconciler(b.Client, led, cfg.ReconcileInterval(), cfg.AckGrace())
	b.Engine.AttachReconciler(b.Reconciler)

	return nil
}

// Prepare discovers the configured markets and runs the startup
// reconciliation pass. Orders are not accepted until this has completed:
// whatever happened while we were down is folded into the ledger first.
func (b *Bootstrap) Prepare(ctx context.Context) error {
	for _, conditionID := range b.Config.API.Markets {
		m, err := b.loadMarket(ctx, conditionID)
		if err != nil {
			return fmt.Errorf("load market %s: %w", conditionID, err)
		}
		b.Markets[conditionID] = m
		b.Engine.RegisterMarket(m)
		slog.Info("✅ Market ready",
			slog.String("condition_id", m.ConditionID),
			slog.String("question", m.Question))
	}

	slog.Info("🔄 Running startup reconciliation...")
	if err := b.Engine.ReconcileNow(ctx); err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	}
	slog.Info("✅ Startup reconciliation complete",
		slog.Int("open_orders", len(b.Ledger.OpenOrders())))
	return nil
}

// loadMarket serves market metadata from the SQLite cache and falls back to
// the exchange, persisting what it fetched.
func (b *Bootstrap) loadMarket(ctx context.Context, conditionID string) (*domain.Market, error) {
	if cached, err := b.Storage.GetMarket(conditionID); err == nil && cached != nil {
		slog.Debug("market served from cache", slog.String("condition_id", conditionID))
		return cached, nil
	}

	m, err := b.Client.FetchMarket(ctx, conditionID)
	if err != nil {
		return nil, err
	}
	if err := b.Storage.SaveMarket(m); err != nil {
		slog.Warn("failed to cache market",
			slog.String("condition_id", conditionID), slog.Any("error", err))
	}
	return m, nil
}

// TokenIDs returns every outcome token across the prepared markets, the set
// the feed subscribes to.
func (b *Bootstrap) TokenIDs() []string {
	var ids []string
	for _, m := range b.Markets {
		for _, tok := range m.Tokens {
			ids = append(ids, tok.TokenID)
		}
	}
	return ids
}
