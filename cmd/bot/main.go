package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Proton-105/topup-bot/internal/bot"
	"github.com/Proton-105/topup-bot/internal/database"
	"github.com/Proton-105/topup-bot/internal/gateway"
	"github.com/Proton-105/topup-bot/internal/health"
	"github.com/Proton-105/topup-bot/internal/i18n"
	"github.com/Proton-105/topup-bot/internal/idempotency"
	"github.com/Proton-105/topup-bot/internal/ledger"
	"github.com/Proton-105/topup-bot/internal/lifecycle"
	"github.com/Proton-105/topup-bot/internal/middleware"
	"github.com/Proton-105/topup-bot/internal/payment"
	"github.com/Proton-105/topup-bot/internal/ratelimit"
	"github.com/Proton-105/topup-bot/internal/state"
	"github.com/Proton-105/topup-bot/pkg/config"
	"github.com/Proton-105/topup-bot/pkg/graceful"
	"github.com/Proton-105/topup-bot/pkg/logger"
	"github.com/Proton-105/topup-bot/pkg/metrics"
	appredis "github.com/Proton-105/topup-bot/pkg/redis"

	_ "github.com/lib/pq"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		return 1
	}

	log, levelVar := logger.New(*cfg)
	config.WatchLogLevel(v, levelVar, log)

	log.Info("starting top-up bot",
		slog.String("env", cfg.AppEnv),
		slog.String("mode", cfg.Bot.Mode),
		slog.String("http_port", cfg.Server.Port),
	)

	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.AppEnv,
		}); err != nil {
			log.Error("failed to initialize sentry", slog.Any("error", err))
			return 1
		}
		defer sentry.Flush(2 * time.Second)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Error("failed to open database", slog.Any("error", err))
		return 1
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			log.Error("error closing database", slog.Any("error", cerr))
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to ping database", slog.Any("error", err))
		return 1
	}

	migrator := database.NewMigrator(db, log)
	if err := migrator.ApplyDir(ctx, "migrations"); err != nil {
		log.Error("failed to apply migrations", slog.Any("error", err))
		return 1
	}

	var redisClient *appredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = appredis.New(ctx, cfg.Redis)
		if err != nil {
			log.Error("failed to connect to redis", slog.Any("error", err))
			return 1
		}
		defer func() {
			if cerr := redisClient.Close(); cerr != nil {
				log.Error("error closing redis", slog.Any("error", cerr))
			}
		}()
	}

	var storage state.Storage
	if redisClient != nil {
		storage = state.NewRedisStorage(redisClient.Client, log, cfg.Session.TTL)
	} else {
		storage = state.NewMemoryStorage()
		cleaner := state.NewCleaner(storage, log, cfg.Session.TTL, cfg.Session.CleanupInterval)
		go cleaner.Run(ctx)
	}

	var fsm state.Machine
	if redisClient != nil {
		fsm = state.NewMachine(storage, log, redisClient.Client)
	} else {
		fsm = state.NewMachine(storage, log, nil)
	}

	go metrics.NewStateCollector(fsm).Run(ctx)

	qiwi := gateway.NewQiwiClient(cfg.Gateway, log)
	balances := ledger.NewPostgresLedger(db, log)
	payments := payment.NewService(fsm, qiwi, balances, log, cfg.Gateway.BillLifetime)

	translations, err := i18n.LoadFromDir(cfg.I18n.Dir, cfg.I18n.DefaultLang)
	if err != nil {
		log.Error("failed to load translations", slog.Any("error", err))
		return 1
	}

	var idempotencyStore idempotency.Store
	if redisClient != nil {
		idempotencyStore = idempotency.NewRedisStore(redisClient.Client, log)
	} else {
		idempotencyStore = idempotency.NewMemoryStore()
	}
	idempotencyManager := idempotency.NewManager(idempotencyStore, log)

	var rateLimitMw *middleware.RateLimitMiddleware
	if cfg.RateLimit.Enabled {
		var limiter ratelimit.Limiter
		if redisClient != nil {
			limiter = ratelimit.NewRedisLimiter(redisClient.Client, log)
		} else {
			limiter = ratelimit.NewMemoryLimiter(log)
		}
		rules := ratelimit.NewRules(cfg.RateLimit)
		rateLimitMw = middleware.NewRateLimitMiddleware(limiter, rules, translations, log)
	}

	b, err := bot.New(*cfg, log, fsm, payments, translations, idempotencyManager, rateLimitMw)
	if err != nil {
		log.Error("failed to initialize bot", slog.Any("error", err))
		return 1
	}

	checker := health.NewChecker(log)
	checker.AddCheck("database", health.NewDBChecker(db))
	if redisClient != nil {
		checker.AddCheck("redis", health.NewRedisChecker(redisClient.Client))
	}
	checker.AddCheck("telegram", health.NewTelegramChecker(b.Telebot()))

	httpServer := graceful.NewServer(log, &http.Server{
		Addr:    cfg.Server.Port,
		Handler: logger.Middleware(observabilityMux(checker)),
	}, cfg.Server.ShutdownTimeout)

	go func() {
		if err := httpServer.ListenAndServe(ctx); err != nil {
			log.Error("observability server stopped with error", slog.Any("error", err))
		}
	}()

	go b.Start()
	log.Info("bot is running")

	<-ctx.Done()

	shutdown := lifecycle.NewShutdown(log)
	shutdown.Register("telegram-bot", func(ctx context.Context) error {
		b.Stop()
		return nil
	})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := shutdown.Execute(shutdownCtx); err != nil {
		log.Error("shutdown finished with errors", slog.Any("error", err))
		return 1
	}

	log.Info("top-up bot stopped")
	return 0
}

func observabilityMux(checker *health.Checker) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		results := checker.Check(r.Context())

		status := http.StatusOK
		for _, result := range results {
			if result != "OK" {
				status = http.StatusServiceUnavailable
				break
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(results)
	})

	return mux
}
