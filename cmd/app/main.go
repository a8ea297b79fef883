// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vpn-subscription-store/internal/config"
	"vpn-subscription-store/internal/domain/ports/adapter"
	"vpn-subscription-store/internal/domain/ports/repository"
	pg "vpn-subscription-store/internal/infra/db/postgres"
	"vpn-subscription-store/internal/infra/logging"
	"vpn-subscription-store/internal/infra/metrics"
	pay "vpn-subscription-store/internal/infra/payment"
	"vpn-subscription-store/internal/infra/provision"
	red "vpn-subscription-store/internal/infra/redis"
	"vpn-subscription-store/internal/infra/sched"
	"vpn-subscription-store/internal/infra/web"
	"vpn-subscription-store/internal/infra/worker"
	"vpn-subscription-store/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (relaxed validation, console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()

	// ---- Redis (optional: plan cache and rate limiting degrade without it) ----
	var limiter *red.RateLimiter
	var redisClient red.RedisClient
	if cfg.Redis.URL != "" {
		redisClient, err = red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, running without cache and rate limits")
			redisClient = nil
		} else {
			limiter = red.NewRateLimiter(redisClient)
		}
	}

	// ---- Repositories ----
	payRepo := pg.NewPaymentRepo(pool)
	subRepo := pg.NewSubscriptionRepo(pool)
	userRepo := pg.NewUserRepo(pool)
	promoRepo := pg.NewPromocodeRepo(pool)
	var planRepo repository.PlanRepository = pg.NewPlanRepo(pool, cfg.Plans)
	if redisClient != nil {
		planRepo = pg.NewPlanRepoCacheDecorator(planRepo, redisClient)
	}
	txm := pg.NewTxManager(pool)

	// ---- Payment gateway ----
	var gateway adapter.CheckoutGateway
	switch cfg.Payment.Provider {
	case "yookassa":
		gateway = pay.NewYooKassaGateway(cfg.Payment.YooKassa.ShopID, cfg.Payment.YooKassa.SecretKey)
	case "robokassa":
		gateway = pay.NewRobokassaGateway(
			cfg.Payment.Robokassa.MerchantLogin,
			cfg.Payment.Robokassa.Password1,
			cfg.Payment.Robokassa.Password2,
			cfg.Payment.Robokassa.IsTest,
		)
	default:
		logger.Fatal().Str("provider", cfg.Payment.Provider).Msg("unknown payment provider")
	}
	logger.Info().Str("provider", cfg.Payment.Provider).Msg("payment gateway configured")

	// ---- Provisioner ----
	provisioner := provision.NewXrayClient(cfg.Provisioner.URL, cfg.Provisioner.Timeout)
	if err := provisioner.Ping(ctx); err != nil {
		logger.Warn().Err(err).Msg("provisioner health check failed, completions will retry")
	}

	// ---- Use cases ----
	orderUC := usecase.NewOrderUseCase(
		payRepo, subRepo, planRepo, promoRepo, userRepo, txm,
		gateway, provisioner,
		cfg.Payment.FallbackWindow, cfg.Server.FrontBase,
		*logger,
	)
	planUC := usecase.NewPlanUseCase(planRepo)
	promoUC := usecase.NewPromocodeUseCase(promoRepo)
	statsUC := usecase.NewStatsUseCase(userRepo, subRepo, payRepo)

	// ---- Background workers ----
	taskPool := worker.NewPool(8, *logger)
	taskPool.Start(ctx)
	defer taskPool.Stop()

	reconciler := sched.NewPaymentReconciler(
		orderUC, payRepo, gateway,
		cfg.Reconciler.Interval, cfg.Reconciler.StaleAfter, cfg.Reconciler.BatchSize,
		*logger,
	)
	go reconciler.Start(ctx)

	// ---- HTTP server ----
	srv := web.NewServer(cfg, orderUC, planUC, promoUC, statsUC, gateway, taskPool, limiter, *logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
}
