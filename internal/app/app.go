package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/so2vaso3-web/passve-sub001/internal/api"
	"github.com/so2vaso3-web/passve-sub001/internal/api/middleware"
	"github.com/so2vaso3-web/passve-sub001/internal/config"
	"github.com/so2vaso3-web/passve-sub001/internal/db"
	"github.com/so2vaso3-web/passve-sub001/internal/gateway"
	"github.com/so2vaso3-web/passve-sub001/internal/idempotency"
	"github.com/so2vaso3-web/passve-sub001/internal/notify"
	"github.com/so2vaso3-web/passve-sub001/internal/observability"
	"github.com/so2vaso3-web/passve-sub001/internal/repository"
	"github.com/so2vaso3-web/passve-sub001/internal/repository/memstore"
	"github.com/so2vaso3-web/passve-sub001/internal/service"
	"github.com/so2vaso3-web/passve-sub001/internal/worker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// store is what the services, the idempotency layer and the readiness probe
// need from either storage driver.
type store interface {
	service.QueryStore
	Ping(ctx context.Context) error
}

// Run bootstraps the HTTP server and the settlement workers, blocking until
// shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = newRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
	} else {
		logger.Warn("REDIS_URL empty; idempotency cache and cache invalidation disabled")
	}

	dispatcher := newDispatcher(cfg, redisClient)
	defer dispatcher.Wait()

	gw := gateway.NewMockGateway()
	gw.FailureRate = cfg.GatewayFailureRate
	gw.Synchronous = cfg.GatewaySynchronous

	services := newServices(cfg, st, gw, dispatcher)

	idemStore := idempotency.NewStore(redisCmdable(redisClient), st, cfg.IdempotencyTTL)
	router := api.NewRouter(cfg, logger, st, idemStore, redisCmdable(redisClient), services)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	workers := []interface {
		Start(ctx context.Context)
		Stop()
	}{
		worker.NewHoldExpiryWorker(services.Settlement, cfg.HoldSweepInterval),
		worker.NewDeliveredSettlementWorker(services.Settlement, cfg.DeliveredSweepInterval),
		worker.NewListingExpiryWorker(services.Settlement, cfg.ListingSweepInterval),
		worker.NewDepositReconciliationWorker(services.Wallets, cfg.DepositSweepInterval, cfg.DepositPendingAge, cfg.SweepBatchSize),
		worker.NewReconciliationWorker(services.Reconciliation).WithInterval(cfg.ReconciliationInterval),
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error {
			w.Start(gctx)
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort), zap.String("storage", cfg.StorageDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		for _, w := range workers {
			w.Stop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store, func(), error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		zap.L().Warn("using in-memory store; state is lost on restart")
		return memstore.New(), func() {}, nil
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return repository.NewStore(pool), pool.Close, nil
}

func newServices(cfg *config.Config, st service.QueryStore, gw gateway.Gateway, notifier service.Notifier) api.Services {
	settlement := service.NewSettlementService(st, notifier, service.SettlementConfig{
		Fees:         cfg.Fees,
		HoldWindow:   cfg.HoldWindow,
		RefundWindow: cfg.RefundWindow,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		SweepBatch:   cfg.SweepBatchSize,
	})
	wallets := service.NewWalletService(st, gw, notifier, service.WalletConfig{
		MinDeposit:   cfg.MinDeposit,
		MaxDeposit:   cfg.MaxDeposit,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	})
	return api.Services{
		Settlement:     settlement,
		Wallets:        wallets,
		Webhooks:       service.NewWebhookService(wallets, cfg.WebhookHMACKey, cfg.WebhookSkipSignature),
		Reconciliation: service.NewReconciliationService(st),
	}
}

func newDispatcher(cfg *config.Config, redisClient *redis.Client) *notify.Dispatcher {
	var sinks []notify.Sink
	if redisClient != nil {
		sinks = append(sinks, notify.NewCacheInvalidator(redisClient, cfg.CacheChannel))
	}
	if cfg.ChatHookURL != "" {
		sinks = append(sinks, notify.NewHTTPHook("chat", cfg.ChatHookURL, cfg.NotifyTimeout,
			notify.KindTicketHeld, notify.KindTicketSold, notify.KindTicketReleased, notify.KindTicketCancelled, notify.KindTicketCodeReady))
	}
	if cfg.PushHookURL != "" {
		sinks = append(sinks, notify.NewHTTPHook("push", cfg.PushHookURL, cfg.NotifyTimeout))
	}
	return notify.NewDispatcher(cfg.NotifyTimeout, sinks...)
}

// redisCmdable avoids handing a typed nil client to code that checks for a
// nil interface.
func redisCmdable(c *redis.Client) redis.Cmdable {
	if c == nil {
		return nil
	}
	return c
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
