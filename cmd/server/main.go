package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"chain-relay.backend/internal/config"
	"chain-relay.backend/internal/infrastructure/blockchain"
	"chain-relay.backend/internal/infrastructure/jobs"
	"chain-relay.backend/internal/infrastructure/repositories"
	"chain-relay.backend/internal/infrastructure/signer"
	"chain-relay.backend/internal/interfaces/http/handlers"
	"chain-relay.backend/internal/interfaces/http/middleware"
	"chain-relay.backend/internal/usecases"
	"chain-relay.backend/pkg/logger"
	"chain-relay.backend/pkg/redis"
)

var (
	loadDotenv = godotenv.Load
	loadCfg    = config.Load
	initLog    = logger.Init
	initRedis  = redis.Init
	openDB     = func(dsn string) (*gorm.DB, error) {
		return gorm.Open(postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true,
		}), &gorm.Config{
			PrepareStmt: false,
		})
	}
	runServer = func(r *gin.Engine, port string) error { return r.Run(":" + port) }
	getStdDB  = func(db *gorm.DB) (*sql.DB, error) { return db.DB() }
)

func main() {
	if err := runMainProcess(); err != nil {
		log.Fatal(err)
	}
}

func runMainProcess() error {
	if err := loadDotenv(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := loadCfg()

	initLog(cfg.Server.Env)
	logger.Info(context.Background(), "Logger initialized", zap.String("env", cfg.Server.Env))

	if err := initRedis(cfg.Redis.URL, cfg.Redis.PASSWORD); err != nil {
		logger.Error(context.Background(), "Failed to initialize Redis", zap.Error(err))
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	logger.Info(context.Background(), "Redis initialized")

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	dsn := cfg.Database.URL()
	db, err := openDB(dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := getStdDB(db)
	if err != nil {
		return fmt.Errorf("failed to get generic database object: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		log.Printf("database not available: %v (endpoints will return errors)", err)
	}

	if err := repositories.Migrate(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Repositories.
	txRepo := repositories.NewTransactionRepository(db)
	nonceCounterRepo := repositories.NewWalletNonceCounterRepository(db)
	cursorRepo := repositories.NewChainIndexerCursorRepository(db)
	leaseRepo := repositories.NewWorkerLeaseRepository(db)
	subRepo := repositories.NewContractSubscriptionRepository(db)
	backfillRepo := repositories.NewBackfillRangeRepository(db)
	eventRepo := repositories.NewEventRecordRepository(db)
	outboxRepo := repositories.NewWebhookEventRepository(db)
	settingsRepo := repositories.NewRelaySettingsRepository(db)
	uow := repositories.NewUnitOfWork(db)

	// Config provider: env snapshot merged with operator overrides.
	provider := config.NewProvider(cfg.Relay, settingsRepo)

	clientFactory := blockchain.NewClientFactory(provider)
	txSigner := signer.NewLocalSigner(cfg.Signer.KeystoreDir, cfg.Signer.Passphrase)

	// Core usecases.
	gasPolicy := usecases.NewGasPolicy()
	nonceAllocator := usecases.NewNonceAllocator(clientFactory, nonceCounterRepo)
	notifier := usecases.NewOutboxNotifier(outboxRepo)
	canceller := usecases.NewCanceller(txRepo, clientFactory, txSigner, gasPolicy)
	relayUsecase := usecases.NewRelayUsecase(txRepo, canceller, notifier, provider)
	subscriptionUsecase := usecases.NewSubscriptionUsecase(subRepo, cursorRepo, backfillRepo, eventRepo, provider)

	// Handlers.
	relayHandler := handlers.NewRelayHandler(relayUsecase)
	subscriptionHandler := handlers.NewSubscriptionHandler(subscriptionUsecase)

	// Background workers.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hostname, _ := os.Hostname()
	submitter := jobs.NewSubmitter(txRepo, uow, clientFactory, clientFactory, txSigner, nonceAllocator, gasPolicy, notifier, provider)
	tracker := jobs.NewConfirmationTracker(txRepo, uow, clientFactory, clientFactory, txSigner, gasPolicy, canceller, notifier, provider)
	indexer := jobs.NewChainIndexer(subRepo, cursorRepo, leaseRepo, backfillRepo, eventRepo, clientFactory, notifier, provider, hostname)
	reconciler := jobs.NewReconciler(txRepo, uow, notifier, provider)
	dispatcher := jobs.NewWebhookDispatcher(outboxRepo, provider)

	runners := []*jobs.Runner{
		jobs.NewRunner(submitter, func() time.Duration { return provider.Current().SubmitInterval }),
		jobs.NewRunner(tracker, func() time.Duration { return provider.Current().ConfirmInterval }),
		jobs.NewRunner(indexer, func() time.Duration { return provider.Current().IndexInterval }),
		jobs.NewRunner(reconciler, func() time.Duration { return provider.Current().ReconcileInterval }),
		jobs.NewRunner(dispatcher, func() time.Duration { return provider.Current().DispatchInterval }),
	}
	for _, r := range runners {
		go r.Start(ctx)
	}
	go provider.Run(ctx)

	// Router.
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggerMiddleware())

	registerHealthRoute(r, sqlDB)
	registerMetricsRoute(r)
	registerAPIV1Routes(r, routeDeps{
		relayHandler:        relayHandler,
		subscriptionHandler: subscriptionHandler,
	})

	// Graceful shutdown.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")
		for _, r := range runners {
			r.Stop()
		}
		cancel()
	}()

	log.Printf("Chain Relay starting on port %s", cfg.Server.Port)

	if err := runServer(r, cfg.Server.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}
