package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	bidding "bidding-settlement/internal/biddingService"
	"bidding-settlement/internal/config"
	"bidding-settlement/internal/fanout"
	"bidding-settlement/internal/keylock"
	"bidding-settlement/internal/ledger"
	"bidding-settlement/internal/lifecycle"
	"bidding-settlement/internal/metrics"
	model "bidding-settlement/internal/models"
	"bidding-settlement/internal/repository"
	"bidding-settlement/internal/repository/postgres"
	"bidding-settlement/internal/server"
	"bidding-settlement/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		utils.Fatal("failed to load config", map[string]any{"error": err.Error()})
	}
	utils.SetLevel(cfg.LogLevel)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	hub := fanout.NewHub(cfg.FanoutWorkers, cfg.SubscriberBuffer)
	defer hub.Close()

	// bids and settlement of the same auction never interleave
	locks := keylock.New()
	wallets := ledger.New(store, hub)

	biddingSvc := bidding.NewBiddingService(store, store, wallets,
		bidding.WithPublisher(hub),
		bidding.WithAuctionLocks(locks),
		bidding.WithRetryLimit(cfg.BidRetryLimit),
		bidding.WithCommissionRate(cfg.Commission()),
	)
	sweeper := lifecycle.NewSweeper(store, store, wallets,
		lifecycle.WithPublisher(hub),
		lifecycle.WithAuctionLocks(locks),
		lifecycle.WithInterval(cfg.SweepInterval),
	)

	if cfg.SeedDemoData {
		seedDemoData(ctx, biddingSvc)
	}

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.SetupRouter(biddingSvc, hub, 0),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		utils.Info("Starting auction server", map[string]any{"addr": srv.Addr, "env": cfg.Env, "postgres": cfg.UsesPostgres()})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Error("server stopped unexpectedly", map[string]any{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	utils.Info("shutting down...", nil)

	// open event streams only end once the hub closes
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.Error("graceful shutdown failed", map[string]any{"error": err.Error()})
	}
	<-sweepDone
}

// openStore returns the Postgres store when a database URL is configured, else the in-memory one
func openStore(ctx context.Context, cfg config.Config) (repository.Store, func()) {
	if !cfg.UsesPostgres() {
		utils.Warn("no database_url configured, using in-memory store", nil)
		return repository.NewMemoryRepo(), func() {}
	}

	pool, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		utils.Fatal("failed to connect to postgres", map[string]any{"error": err.Error()})
	}
	return postgres.NewStore(pool), pool.Close
}

// seedDemoData funds a few users and opens a sample auction
func seedDemoData(ctx context.Context, svc *bidding.BiddingService) {
	for user, amount := range map[string]model.Money{
		"seller1": model.MustMoney("100"),
		"user1":   model.MustMoney("500"),
		"user2":   model.MustMoney("500"),
		"user3":   model.MustMoney("500"),
	} {
		if _, err := svc.AddFunds(ctx, user, amount); err != nil {
			utils.Warn("seed: failed to fund user", map[string]any{"user_id": user, "error": err.Error()})
		}
	}

	now := time.Now().UTC()
	auction, err := svc.CreateAuction(ctx, bidding.CreateAuctionInput{
		SellerID:   "seller1",
		Title:      "Vintage desk lamp",
		StartPrice: model.MustMoney("50"),
		StartTime:  now,
		EndTime:    now.Add(10 * time.Minute),
	})
	if err != nil {
		utils.Warn("seed: failed to create auction", map[string]any{"error": err.Error()})
		return
	}
	utils.Info("seed: demo auction created", map[string]any{"auction_id": auction.AuctionID})
}
