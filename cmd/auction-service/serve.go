package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"timebid/internal/api"
	"timebid/internal/api/handlers"
	"timebid/internal/config"
	"timebid/internal/domain"
	"timebid/internal/infrastructure/leader"
	"timebid/internal/infrastructure/mysql"
	"timebid/internal/infrastructure/payment/sandbox"
	"timebid/internal/infrastructure/payment/stripe"
	"timebid/internal/infrastructure/redis"
	"timebid/internal/services"
	"timebid/pkg/logger"
	"timebid/pkg/utils"
)

const shutdownTimeout = 30 * time.Second

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := logger.NewWithConfig(logger.Config{Level: cfg.Log.Level, Encoding: cfg.Log.Encoding, Service: "auction-service"})
	defer logger.Sync(log)
	log.Info("Starting auction service", "config", cfg.GetConfigString())

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rdb, err := utils.InitializeRedis(connectCtx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer rdb.Close()

	db, err := utils.InitializeMysql(connectCtx, cfg.MySQL, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if c.Bool("migrate") {
		if err := mysql.Migrate(db.DB, log); err != nil {
			return err
		}
	}

	feeRate, err := cfg.Payment.FeeRate()
	if err != nil {
		return err
	}

	store := mysql.NewStore(db)
	publisher := redis.NewEventPublisher(rdb)
	leaderElection := leader.NewRedisLeaderElection(rdb, cfg.Leader.TTL, log)
	tasks := services.NewTaskQueue(store.Reconciliation(), log)

	gateway, parser, sandboxGateway := buildPayment(cfg.Payment, log)
	holds := services.NewHoldManager(gateway, tasks, cfg.Payment.Currency, cfg.Payment.CallTimeout, log)

	validator := services.NewBidValidator()
	updater := services.NewAuctionStateUpdater(store, validator, cfg.Policy.CancelSupersededHolds, log)
	bidService := services.NewBidService(store, validator, holds, updater, publisher, log)
	settlement := services.NewSettlementHandler(store, holds, tasks, redis.NewRedisLocker(rdb), publisher, services.SettlementConfig{
		PlatformFeeRate:         feeRate,
		PromoteNextBidOnFailure: cfg.Policy.PromoteNextBidOnFailure,
		LockTTL:                 cfg.Scheduler.LockTTL,
	}, log)
	auctionManager := services.NewAuctionManager(store, settlement, publisher, leaderElection, cfg.Instance.ID, cfg.Scheduler.BatchSize, log)
	reconciler := services.NewReconciler(store.Reconciliation(), holds, settlement, cfg.Reconciliation.MaxAttempts, cfg.Scheduler.BatchSize, log)
	var scheduler domain.AuctionScheduler = services.NewCronAuctionScheduler(auctionManager, reconciler, cfg.Scheduler.SweepSpec, cfg.Scheduler.ReconcileSpec, log)

	if sandboxGateway != nil {
		// The sandbox reports captures in-process; deliver them the way a
		// provider webhook would arrive, off the capturing goroutine.
		sandboxGateway.OnEvent = func(evt domain.PaymentEvent) {
			go deliverPaymentEvent(settlement, tasks, evt, log)
		}
	}

	registrars := []api.Registrar{
		handlers.NewBidHandler(bidService, log),
		handlers.NewAuctionHandler(auctionManager, log),
	}
	if parser != nil {
		registrars = append(registrars, handlers.NewWebhookHandler(parser, settlement, tasks, log))
	}
	health := handlers.NewHealthHandler("auction-service", map[string]handlers.Pinger{
		"mysql": db.PingContext,
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	e := api.NewServer(log, cfg.Server.AllowedOrigins, health, registrars...)

	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Starting HTTP server", "address", cfg.Server.Address())
		if err := e.Start(cfg.Server.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		runLeaderLoop(gctx, leaderElection, cfg.Instance.ID, cfg.Leader.TTL, log)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down auction service")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := scheduler.Stop(); err != nil {
			log.Error("Failed to stop scheduler", "error", err)
		}
		if err := leaderElection.ReleaseLeadership(shutdownCtx, cfg.Instance.ID); err != nil {
			log.Error("Failed to release leadership", "error", err)
		}
		return e.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("Auction service stopped")
	return err
}

// buildPayment returns the provider gateway and, when webhooks can be
// verified, the event parser. The sandbox gateway is returned separately
// so its capture hook can be wired.
func buildPayment(cfg config.PaymentConfig, log logger.Logger) (domain.PaymentGateway, domain.PaymentEventParser, *sandbox.Gateway) {
	var parser domain.PaymentEventParser
	if cfg.WebhookSecret != "" {
		parser = stripe.NewEventParser(cfg.WebhookSecret)
	}

	if cfg.Provider == "stripe" {
		log.Info("Using Stripe payment provider", "currency", cfg.Currency)
		return stripe.NewGateway(cfg.SecretKey, cfg.Currency, cfg.ConfirmPaymentMethod, log), parser, nil
	}

	log.Warn("Using sandbox payment provider; no real funds are held")
	gw := sandbox.NewGateway(log)
	return gw, parser, gw
}

func deliverPaymentEvent(settlement *services.SettlementHandler, tasks *services.TaskQueue, evt domain.PaymentEvent, log logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	outcome, err := settlement.HandlePaymentEvent(ctx, &evt)
	if err != nil {
		log.Error("Sandbox payment event failed; queued for replay", "event_id", evt.ID, "error", err)
		tasks.Enqueue(ctx, domain.TaskReplayPaymentEvent, evt.ID, services.PaymentEventPayload(&evt))
		return
	}
	log.Info("Sandbox payment event handled", "event_id", evt.ID, "outcome", outcome)
}

// runLeaderLoop keeps trying to become the sweep leader until ctx ends.
func runLeaderLoop(ctx context.Context, election domain.LeaderElection, instanceID string, ttl time.Duration, log logger.Logger) {
	interval := ttl / 3
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	wasLeader := false
	for {
		became, err := election.BecomeLeader(ctx, instanceID)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Error("Failed to attempt leadership", "error", err)
		case became && !wasLeader:
			log.Info("Became auction leader", "instance_id", instanceID)
		case !became && wasLeader:
			log.Warn("Lost auction leadership", "instance_id", instanceID)
		}
		wasLeader = err == nil && became

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
