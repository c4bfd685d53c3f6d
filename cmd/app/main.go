package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"polytrader/internal/app"
	"polytrader/internal/book"
	"polytrader/internal/feed"
	"polytrader/internal/infra/clob"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Market discovery + startup reconciliation, before anything trades
	if err := bootstrap.Prepare(ctx); err != nil {
		slog.Error("❌ Startup preparation failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 5. Book mirrors fed from the market stream
	events := make(chan *feed.Event, 1024)
	keeper := book.NewKeeper(bootstrap.Client, events)

	tokenIDs := bootstrap.TokenIDs()
	worker := clob.NewMarketWorker(bootstrap.Config.API.WSURL, tokenIDs, events)
	if err := worker.Connect(ctx); err != nil {
		slog.Error("❌ Market feed failed to start", slog.Any("error", err))
		os.Exit(1)
	}
	defer worker.Disconnect()
	slog.InfoContext(ctx, "✅ MarketWorker started", slog.Int("tokens", len(tokenIDs)))

	// 6. Supervised background loops
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		keeper.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return bootstrap.Reconciler.Run(gctx)
	})

	slog.InfoContext(ctx, "✨ PolyTrader fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
	if err := g.Wait(); err != nil && err != context.Canceled {
		slog.Error("background loop exited", slog.Any("error", err))
	}
}
