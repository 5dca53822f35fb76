package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"

	"github.com/Proton-105/stalk-bot/internal/bot"
	"github.com/Proton-105/stalk-bot/internal/bot/handlers"
	"github.com/Proton-105/stalk-bot/internal/database"
	apperrors "github.com/Proton-105/stalk-bot/internal/errors"
	"github.com/Proton-105/stalk-bot/internal/health"
	"github.com/Proton-105/stalk-bot/internal/i18n"
	"github.com/Proton-105/stalk-bot/internal/idempotency"
	"github.com/Proton-105/stalk-bot/internal/jobs"
	jobhandlers "github.com/Proton-105/stalk-bot/internal/jobs/handlers"
	"github.com/Proton-105/stalk-bot/internal/ledger"
	"github.com/Proton-105/stalk-bot/internal/lifecycle"
	"github.com/Proton-105/stalk-bot/internal/middleware"
	"github.com/Proton-105/stalk-bot/internal/profiles"
	"github.com/Proton-105/stalk-bot/internal/ratelimit"
	"github.com/Proton-105/stalk-bot/internal/rewards"
	"github.com/Proton-105/stalk-bot/internal/state"
	"github.com/Proton-105/stalk-bot/internal/user"
	"github.com/Proton-105/stalk-bot/internal/usercache"
	"github.com/Proton-105/stalk-bot/migrations"
	"github.com/Proton-105/stalk-bot/pkg/config"
	"github.com/Proton-105/stalk-bot/pkg/graceful"
	"github.com/Proton-105/stalk-bot/pkg/logger"
	"github.com/Proton-105/stalk-bot/pkg/metrics"
	appredis "github.com/Proton-105/stalk-bot/pkg/redis"
)

const (
	idempotencyLockTTL  = 30 * time.Second
	cleanupInterval     = 10 * time.Minute
	rateLimitMaxAge     = time.Hour
	idempotencyMaxTTL   = 48 * time.Hour
	conversationTTL     = 30 * time.Minute
	stateMetricsPeriod  = 30 * time.Second
	healthCheckTimeout  = 3 * time.Second
	databasePingTimeout = 5 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN, Environment: cfg.AppEnv}); err != nil {
			fmt.Fprintf(os.Stderr, "failed to init sentry: %v\n", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	log := logger.New(*cfg)
	slog.SetDefault(log)

	if err := run(ctx, cfg, log, v); err != nil {
		log.Error("stalk bot stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger, v *viper.Viper) error {
	log.Info("starting stalk bot",
		slog.String("env", cfg.AppEnv),
		slog.String("db_driver", cfg.Database.Driver),
		slog.String("http_port", cfg.Server.Port),
	)

	shutdown := lifecycle.NewShutdown(log)
	checker := health.NewChecker(log, healthCheckTimeout)

	redisClient, err := appredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	shutdown.Register(lifecycle.StageStorage, "redis", func(context.Context) error {
		return redisClient.Close()
	})
	checker.AddCheck("redis", health.NewRedisChecker(redisClient.Client))

	codeCache := usercache.NewCache(appredis.NewMetricsClient(redisClient), cfg.Redis.CacheTTL)
	store, err := openLedger(ctx, cfg, log, checker, shutdown, codeCache)
	if err != nil {
		return err
	}

	rdb := redisClient.Client
	stateStorage := state.NewRedisStorage(rdb, log, conversationTTL)
	fsm := state.NewStateMachine(stateStorage, log, rdb)
	state.RegisterTransitionRecorder(metrics.RecordStateTransition)

	memoryLimiter := ratelimit.NewMemoryLimiter(log)
	limiter := ratelimit.NewAdaptiveLimiter(ratelimit.NewRedisLimiter(rdb, log), memoryLimiter, log)
	rules := ratelimit.NewRules(cfg.RateLimit)

	idempotencyManager := idempotency.NewManager(idempotency.NewRedisStore(rdb, log), log, idempotencyLockTTL)

	policy := rewards.NewPolicy(store, cfg.Referral.Threshold, cfg.Referral.Reward, log)
	generator := profiles.NewGenerator(cfg.Profiles.Count)

	var queue user.Enqueuer
	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
	if cfg.Jobs.Enabled {
		manager := jobs.NewManager(redisOpt, log)
		queue = manager
		shutdown.Register(lifecycle.StageWorkers, "jobs-client", func(context.Context) error {
			return manager.Close()
		})
	}

	userService := user.NewService(store, policy, generator, queue, log)

	locales, err := i18n.Load(i18n.DefaultLang)
	if err != nil {
		return fmt.Errorf("load translations: %w", err)
	}

	errHandler := apperrors.NewHandler(log, cfg.Sentry.Enabled)
	rateLimitMw := middleware.NewRateLimitMiddleware(limiter, rules, log)

	tgBot, err := bot.New(*cfg, log, fsm, idempotencyManager, rateLimitMw, userService, locales, errHandler)
	if err != nil {
		return err
	}
	checker.AddCheck("telegram", health.NewTelegramChecker(tgBot.Telebot()))

	if cfg.Jobs.Enabled {
		if err := startJobs(cfg, log, redisOpt, policy, store, handlers.NewRewardNotifier(tgBot.Telebot(), locales), shutdown); err != nil {
			return err
		}
	}

	go state.NewCleaner(stateStorage, log, conversationTTL, cleanupInterval).Run(ctx)
	go ratelimit.NewCleaner(rdb, memoryLimiter, log, cleanupInterval, rateLimitMaxAge).Run(ctx)
	go idempotency.NewCleaner(rdb, log, cleanupInterval, idempotencyMaxTTL).Run(ctx)
	go metrics.NewStateCollector(fsm, log, stateMetricsPeriod).Run(ctx)

	config.Watch(v, log, func(next *config.Config) {
		logger.SetLevel(next.Logger.Level)
		rules.Update(next.RateLimit)
	})

	probes := lifecycle.NewProbes(checker, log)
	server := graceful.NewServer(log, &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           logger.Middleware(middleware.HTTPLogging(log)(newMux(probes))),
		ReadHeaderTimeout: 5 * time.Second,
	}, cfg.Server.ShutdownTimeout)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.ListenAndServe(ctx) }()

	go tgBot.Start()
	shutdown.Register(lifecycle.StageIngress, "telegram", func(context.Context) error {
		probes.Drain()
		tgBot.Stop()
		return nil
	})

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error("http server failed", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	return shutdown.Execute(shutdownCtx)
}

// openLedger builds the ledger Store for the configured driver and decorates
// it with metrics and the referral code cache.
func openLedger(ctx context.Context, cfg *config.Config, log *slog.Logger, checker *health.Checker, shutdown *lifecycle.Shutdown, cache *usercache.Cache) (ledger.Store, error) {
	var store ledger.Store

	switch cfg.Database.Driver {
	case "memory":
		log.Warn("using in-memory ledger, data is lost on restart")
		store = ledger.NewMemoryStore()
	default:
		db, err := sql.Open("postgres", cfg.GetDBConnectionString())
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		shutdown.Register(lifecycle.StageStorage, "postgres", func(context.Context) error {
			return db.Close()
		})

		pingCtx, cancel := context.WithTimeout(ctx, databasePingTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return nil, fmt.Errorf("ping database: %w", err)
		}

		migrator := database.NewMigrator(db, log)
		if cfg.Database.Migrations != "" {
			err = migrator.ApplyDir(ctx, cfg.Database.Migrations)
		} else {
			err = migrator.ApplyFS(ctx, migrations.FS, ".")
		}
		if err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		log.Info("database migrations applied")

		breaker := apperrors.NewCircuitBreaker()
		breaker.OnStateChange(func(from, to apperrors.State) {
			log.Warn("ledger circuit breaker state changed", slog.String("from", from.String()), slog.String("to", to.String()))
		})

		pg := ledger.NewPostgresStore(db, log,
			ledger.WithTimeout(cfg.Database.QueryTimeout),
			ledger.WithBreaker(breaker),
		)
		checker.AddCheck("ledger", pg)
		store = pg
	}

	return ledger.NewCachedStore(ledger.NewInstrumentedStore(store), cache, log), nil
}

func startJobs(
	cfg *config.Config,
	log *slog.Logger,
	redisOpt asynq.RedisClientOpt,
	policy *rewards.Policy,
	stats jobhandlers.StatsSource,
	notifier jobhandlers.RewardNotifier,
	shutdown *lifecycle.Shutdown,
) error {
	worker := jobs.NewWorker(redisOpt, cfg.Jobs.Concurrency, log)
	worker.RegisterHandler(jobs.TaskTypeReferralReward, jobhandlers.NewReferralRewardHandler(policy, notifier, log))
	worker.RegisterHandler(jobs.TaskTypeLedgerStats, jobhandlers.NewLedgerStatsHandler(stats, log))
	if err := worker.Run(); err != nil {
		return fmt.Errorf("start jobs worker: %w", err)
	}

	scheduler := jobs.NewScheduler(redisOpt, log)
	if err := scheduler.RegisterTasks(cfg.Jobs.StatsCron); err != nil {
		return fmt.Errorf("register periodic jobs: %w", err)
	}
	scheduler.Run()

	shutdown.Register(lifecycle.StageWorkers, "jobs-worker", func(context.Context) error {
		worker.Shutdown()
		return nil
	})
	shutdown.Register(lifecycle.StageWorkers, "jobs-scheduler", func(context.Context) error {
		scheduler.Shutdown()
		return nil
	})

	return nil
}

func newMux(probes *lifecycle.Probes) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", probes.LivenessHandler())
	mux.Handle("/readyz", probes.ReadinessHandler())
	return mux
}
