package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"payment_verifier/internal/chain"
	"payment_verifier/internal/config"
	"payment_verifier/internal/handler"
	"payment_verifier/internal/logger"
	"payment_verifier/internal/messaging"
	"payment_verifier/internal/pending"
	"payment_verifier/internal/repository"
	"payment_verifier/internal/service"
	"payment_verifier/internal/tracing"
	"payment_verifier/types"
)

const serviceName = "payment_verifier"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("Payment verifier stopped with error", zap.Error(err))
	}
	log.Info("Server exited")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting payment verifier", zap.String("network", cfg.Chain.Network))

	shutdownTracing, err := tracing.Init(ctx, serviceName, cfg.Tracing.Endpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRatio)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("Failed to shutdown tracing", zap.Error(err))
		}
	}()

	db, err := pgxpool.New(ctx, cfg.DatabaseDSN())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	log.Info("Connected to database")

	if err := repository.RunMigrations(ctx, db, cfg.Server.MigrationsDir, log); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	natsClient, err := messaging.NewNATSClient(cfg.NATS.URL, cfg.NATS.Subject, log)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsClient.Close()

	log.Info("Connected to NATS")

	// Подписываемся на уведомления о завершении проверки
	err = natsClient.SubscribeToVerificationCompleted(ctx, func(outcome *types.VerificationOutcome) {
		log.Info("Received verification completed notification",
			zap.String("verification_id", outcome.VerificationID),
			zap.String("tx_hash", outcome.TxHash),
			zap.String("status", outcome.Status))
	})
	if err != nil {
		log.Error("Failed to subscribe to verification completed", zap.Error(err))
	}

	chainClient, err := chain.Dial(ctx, chain.Config{
		Network:      cfg.Chain.Network,
		RPCURL:       cfg.Chain.RPCURL,
		WSURL:        cfg.Chain.WSURL,
		RPS:          cfg.Chain.RPS,
		Burst:        cfg.Chain.Burst,
		DialAttempts: cfg.Chain.DialAttempts,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to connect to chain: %w", err)
	}
	defer chainClient.Close()

	pendingSet, closePending, err := newPendingSet(cfg, log)
	if err != nil {
		return err
	}
	defer closePending()

	configRepo := repository.NewCachedConfigRepository(
		repository.NewConfigRepository(db, log), cfg.Verification.ConfigCacheTTL, log)
	statusRepo := repository.NewStatusRepository(db, log)
	ledger := repository.NewTransactionLogRepository(db, log)

	pipeline := service.NewPipeline(chainClient, configRepo, service.PipelineConfig{
		Waiter: service.WaiterConfig{
			MaxWait:       cfg.Verification.MaxWait,
			GracePeriod:   cfg.Verification.GracePeriod,
			PollInterval:  cfg.Verification.PollInterval,
			Confirmations: cfg.Verification.Confirmations,
		},
		TimeDiffThreshold: cfg.Verification.TimeDiffThreshold,
		TokenDecimals:     cfg.Verification.TokenDecimals,
		Tolerance:         cfg.ToleranceDecimal(),
		StageTimeout:      cfg.Verification.StageTimeout,
	}, log)
	verificationService := service.NewVerificationService(pipeline, statusRepo, ledger, pendingSet, natsClient, log)

	h := handler.NewHandler(verificationService, log)
	if cfg.Auth.JWTSecret == "" {
		log.Warn("AUTH_JWT_SECRET is empty, /api routes will answer 500")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler.NewRouter(h, cfg.Auth.JWTSecret, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Starting server", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		log.Info("Shutting down server")

		// Graceful shutdown: синхронные проверки держат соединение до MaxWait
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Server forced to shutdown", zap.Error(err))
		}

		waited := make(chan struct{})
		go func() {
			h.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-shutdownCtx.Done():
			log.Warn("Async verifications still running at shutdown")
		}
		return nil
	})

	return g.Wait()
}

// newPendingSet возвращает Redis-реализацию, если задан REDIS_URL, иначе in-memory.
func newPendingSet(cfg *config.Config, log *zap.Logger) (service.PendingSet, func(), error) {
	if cfg.Redis.URL == "" {
		log.Info("Using in-memory pending set")
		return pending.NewMemorySet(), func() {}, nil
	}

	// маркер не должен истечь раньше, чем закончится самое долгое ожидание
	ttl := cfg.Redis.PendingTTL
	if minTTL := cfg.Verification.MaxWait + cfg.Verification.GracePeriod + cfg.Verification.StageTimeout + time.Minute; ttl < minTTL {
		ttl = minTTL
	}

	set, err := pending.NewRedisSet(cfg.Redis.URL, ttl, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info("Using redis pending set", zap.Duration("ttl", ttl))
	return set, func() {
		if err := set.Close(); err != nil {
			log.Warn("Failed to close redis pending set", zap.Error(err))
		}
	}, nil
}
