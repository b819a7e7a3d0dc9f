package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"trustfund/config"
	"trustfund/internal/mqhandler"
	pkgconfig "trustfund/pkg/config"
	"trustfund/pkg/db"
	"trustfund/pkg/logger"
	"trustfund/pkg/mq"
	"trustfund/pkg/otel"
	"trustfund/pkg/outbox"
	pkgredis "trustfund/pkg/redis"
	"trustfund/pkg/util"
)

const (
	auditQueue      = "escrow.audit.q"
	auditBindingKey = "escrow.#"
)

func main() {
	env := pkgconfig.GetConfigEnv()
	cfg, err := config.Load(env, pkgconfig.GetConfigDir())
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer log.Sync()

	log.Info("Starting trustfund worker...", zap.String("env", env))

	if cfg.Store.Driver != "postgres" {
		log.Fatal("Worker requires store.driver=postgres (the outbox lives in Postgres)",
			zap.String("store", cfg.Store.Driver))
	}

	cfg.Otel.ServiceName = cfg.Otel.ServiceName + "-worker"
	shutdownOtel, err := otel.Init(cfg.Otel, log)
	if err != nil {
		log.Fatal("Failed to init OpenTelemetry", zap.Error(err))
	}
	defer shutdownOtel()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewConnection(ctx, cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer pool.Close()
	log.Info("Database connection established")

	rdb, err := pkgredis.NewRedisClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal("Failed to init Redis", zap.Error(err))
	}
	defer rdb.Close()

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// (1) Outbox dispatcher: Postgres -> RabbitMQ
	dispatcher := outbox.NewDispatcher(outbox.NewRepository(pool), publisher, log).
		WithMaxRetries(cfg.Outbox.MaxRetries).
		WithInterval(cfg.Outbox.Interval).
		WithBatchSize(cfg.Outbox.BatchSize)

	// (2) Audit consumer
	log.Info("Initializing audit consumer", zap.String("queue", auditQueue))
	consumer, err := mq.NewConsumer(cfg.MQ.URL, auditQueue, auditBindingKey, log)
	if err != nil {
		log.Fatal("Failed to init audit consumer", zap.Error(err))
	}
	defer consumer.Close()

	audit := mqhandler.NewEscrowAuditHandler(util.NewDeduperWithLogger(rdb, cfg.Idempotency.TTL, log), log)
	consumer.SetHandler(audit.Handle)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		log.Info("Starting outbox dispatcher",
			zap.Duration("interval", cfg.Outbox.Interval),
			zap.Int("batch_size", cfg.Outbox.BatchSize),
		)
		dispatcher.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := consumer.StartConsuming(ctx); err != nil {
			log.Error("Audit consumer stopped", zap.Error(err))
			stop()
		}
	}()

	log.Info("Worker is ready")
	<-ctx.Done()
	log.Info("Shutting down trustfund worker gracefully...")
	wg.Wait()
	log.Info("trustfund worker shutdown complete")
}
