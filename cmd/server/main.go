package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"trustfund/config"
	"trustfund/internal/address"
	"trustfund/internal/escrow"
	"trustfund/internal/handler"
	"trustfund/internal/httpserver"
	"trustfund/internal/lock"
	"trustfund/internal/service/auth"
	"trustfund/internal/service/ledger"
	"trustfund/internal/store"
	"trustfund/internal/store/memstore"
	"trustfund/internal/store/pgstore"
	"trustfund/internal/token"
	pkgconfig "trustfund/pkg/config"
	"trustfund/pkg/db"
	"trustfund/pkg/logger"
	"trustfund/pkg/mq"
	"trustfund/pkg/otel"
	"trustfund/pkg/outbox"
	pkgredis "trustfund/pkg/redis"
	"trustfund/pkg/util"
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

	log.Info("Starting trustfund server...",
		zap.String("env", env),
		zap.String("store", cfg.Store.Driver),
		zap.String("port", cfg.Server.Port),
	)

	shutdownOtel, err := otel.Init(cfg.Otel, log)
	if err != nil {
		log.Fatal("Failed to init OpenTelemetry", zap.Error(err))
	}
	defer shutdownOtel()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	programID := escrow.DefaultProgramID
	if cfg.Escrow.ProgramID != "" {
		if programID, err = address.Parse(cfg.Escrow.ProgramID); err != nil {
			log.Fatal("Invalid escrow.program_id", zap.Error(err))
		}
	}

	// Redis：登录挑战、幂等键、分布式锁
	rdb, err := pkgredis.NewRedisClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal("Failed to init Redis", zap.Error(err))
	}
	defer rdb.Close()

	ready := map[string]httpserver.Pinger{
		"redis": httpserver.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
	}

	// Entity store
	var (
		st       store.Store
		pool     *pgxpool.Pool
		replay   *outbox.ReplayService
		replayMQ *mq.Publisher
	)
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Store.AutoMigrate {
			log.Info("Running database migrations...")
			if err := db.Migrate(cfg.DB.DSN(), pgstore.Migrations(), log); err != nil {
				log.Fatal("Failed to migrate database", zap.Error(err))
			}
		}
		pool, err = db.NewConnection(ctx, cfg.DB, log)
		if err != nil {
			log.Fatal("Failed to init DB", zap.Error(err))
		}
		defer pool.Close()
		pgStore := pgstore.New(pool, log)
		st = pgStore
		ready["db"] = pgStore

		replayMQ, err = mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Fatal("Failed to init MQ publisher", zap.Error(err))
		}
		defer replayMQ.Close()
		replay = outbox.NewReplayService(outbox.NewRepository(pool), replayMQ, log)
	default:
		log.Warn("Using in-memory store; state is lost on restart and outbox replay is disabled")
		st = memstore.New()
	}

	program := token.NewProgram(log)

	opts := []escrow.Option{escrow.WithProgramID(programID)}
	if cfg.Escrow.LockEnabled {
		lockOpts := lock.DefaultOptions()
		lockOpts.Expiry = cfg.Escrow.LockTTL
		opts = append(opts, escrow.WithLocker(lock.NewRedisLocker(rdb, lockOpts, log)))
	}
	escrowSvc := escrow.NewService(st, program, log, opts...)

	ledgerSvc, err := ledger.NewService(st, program, programID, log)
	if err != nil {
		log.Fatal("Failed to init ledger", zap.Error(err))
	}
	log.Info("Ledger ready", zap.Stringer("mint_authority", ledgerSvc.MintAuthority()))

	authSvc := auth.NewService(rdb, auth.Config{
		JWTSecret:         cfg.JWT.Secret,
		TokenTTL:          cfg.JWT.TTL,
		AdminUsername:     cfg.Admin.Username,
		AdminPasswordHash: cfg.Admin.PasswordHash,
	}, log)
	if cfg.Admin.PasswordHash == "" {
		log.Warn("admin.password_hash is empty; admin login is disabled")
	}

	router := httpserver.NewRouter(httpserver.Deps{
		Escrow:    handler.NewEscrowHandler(escrowSvc, ledgerSvc, log),
		Token:     handler.NewTokenHandler(ledgerSvc, log),
		Auth:      handler.NewAuthHandler(authSvc, log),
		Admin:     handler.NewAdminHandler(ledgerSvc, replay, log),
		JWTSecret: cfg.JWT.Secret,
		Deduper:   util.NewDeduperWithLogger(rdb, cfg.Idempotency.TTL, log),
		Ready:     ready,
		Logger:    log,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 优雅退出处理
	<-ctx.Done()
	log.Info("Shutting down trustfund server gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	log.Info("trustfund server shutdown complete")
}
