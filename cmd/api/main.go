package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"quaiwork/agreement"
	"quaiwork/api"
	"quaiwork/auth"
	"quaiwork/config"
	"quaiwork/coordinator"
	"quaiwork/db"
	"quaiwork/dispute"
	"quaiwork/escrow"
	"quaiwork/outbox"
	"quaiwork/profile"
	"quaiwork/proposal"
	"quaiwork/rating"
	"quaiwork/wallet"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	wallets := wallet.NewRepository(pool)
	ledger := escrow.NewService(pool, wallets)
	registry := agreement.NewRegistry(pool, cfg.IssuerToken)

	proposals := proposal.NewService(proposal.NewRepository(pool), ledger)
	disputes := dispute.NewService(dispute.NewRepository(pool))
	ratings := rating.NewService(pool)
	profiles := profile.NewRepository(pool)
	sessions := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)

	orch := coordinator.New(ledger, registry, cfg.IssuerToken, nil).
		WithProposals(proposals).
		WithDisputes(disputes).
		WithRatings(ratings)

	server := api.NewServer(
		ledger, orch, registry, proposals, wallets,
		sessions, disputes, ratings, profiles, nil,
	)

	relay := outbox.NewRelay(pool, outbox.LogPublisher{}, cfg.OutboxPoll, cfg.OutboxBatch, cfg.OutboxMaxTrys)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := relay.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
