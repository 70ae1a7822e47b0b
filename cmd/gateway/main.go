package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"
	"cdr.dev/slog/v3/sloggers/slogjson"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"webhook-gateway/middleware/ingress"
	"webhook-gateway/middleware/ingress/application"
	"webhook-gateway/middleware/ingress/domain"
	"webhook-gateway/middleware/ingress/infra"
)

type flushScheduler interface {
	domain.Scheduler
	Handle(h domain.FlushHandler)
}

func main() {
	logger := slog.Make(sloghuman.Sink(os.Stderr)).Named("gateway")

	cfg, err := readConfig()
	if err != nil {
		logger.Fatal(context.Background(), "config error", slog.Error(err))
	}
	if cfg.logJSON {
		logger = slog.Make(slogjson.Sink(os.Stderr)).Named("gateway")
	}
	if cfg.debug {
		logger = logger.Leveled(slog.LevelDebug)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.redisAddr,
		Password: cfg.redisPassword,
		DB:       cfg.redisDB,
	})
	defer func() { _ = rdb.Close() }()

	store := infra.NewRedisStore(rdb)
	pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
	err = store.Ping(pingCtx)
	pingCancel()
	if err != nil {
		// Sem Redis o gateway continua aceitando (fail-open); só avisamos.
		logger.Warn(ctx, "redis ping failed, admission will fail open until it recovers",
			slog.F("addr", cfg.redisAddr), slog.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := infra.NewMetrics(reg)

	stats := infra.MultiStats{metrics}
	if cfg.rateStatsRedis {
		stats = append(stats, infra.NewRedisStatsStore(rdb))
	}

	var lookup domain.PlanLookup
	if cfg.plansDBDriver != "" {
		db, err := sql.Open(cfg.plansDBDriver, cfg.plansDBDSN)
		if err != nil {
			logger.Fatal(ctx, "open plans database", slog.F("driver", cfg.plansDBDriver), slog.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(8)
		db.SetConnMaxIdleTime(5 * time.Minute)
		lookup = infra.NewSQLPlanLookup(db, cfg.plansDBDriver)
	}

	plans := application.NewPlanResolver(lookup, cfg.limits, application.WithPlanLogger(logger.Named("plans")))
	limiter := application.NewLimiter(store, plans, cfg.limits,
		application.WithLogger(logger.Named("limiter")),
		application.WithStats(stats),
	)

	var sched flushScheduler
	switch cfg.scheduler {
	case "redis":
		rs := infra.NewRedisScheduler(rdb, infra.WithRedisSchedulerLogger(logger.Named("scheduler")))
		sched = rs
	default:
		ts := infra.NewTimerScheduler(infra.WithSchedulerLogger(logger.Named("scheduler")))
		sched = ts
		defer func() { _ = ts.Close() }()
	}

	queue := infra.NewRedisQueue(rdb, cfg.workerQueue)
	buf := application.NewBuffer(store, sched, queue.Publish, cfg.limits,
		application.WithBufferLogger(logger.Named("buffer")),
		application.WithFlushSlots(infra.NewSlotPool(cfg.flushConcurrency), cfg.flushAcquireTimeout),
	)
	sched.Handle(metrics.InstrumentFlush(buf))

	if rs, ok := sched.(*infra.RedisScheduler); ok {
		go func() {
			if err := rs.Run(ctx); err != nil {
				logger.Error(ctx, "flush scheduler stopped", slog.Error(err))
			}
		}()
	}

	tenantFn := ingress.DefaultTenantFunc("X-Tenant-ID")

	var webhook http.Handler = ingress.WebhookHandler(buf, tenantFn, logger.Named("webhook"))
	webhook = ingress.Middleware(ingress.Options{
		Limiter:             limiter,
		TenantFn:            tenantFn,
		RejectStatus:        http.StatusTooManyRequests,
		AddRateLimitHeaders: true,
	})(webhook)
	webhook = ingress.ConcurrencyMiddleware(ingress.ConcurrencyOptions{
		Max:            cfg.concurrencyMax,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: cfg.concurrencyTimeout,
		OnReject:       metrics.WebhookSaturated,
		Logger:         logger.Named("concurrency"),
	})(webhook)

	mux := http.NewServeMux()
	mux.Handle("POST /webhook/{tenant}", webhook)
	mux.Handle("/admin/", ingress.AdminHandler(ingress.AdminOptions{
		Admin:  limiter,
		Token:  cfg.adminToken,
		RPS:    cfg.adminRPS,
		Logger: logger.Named("admin"),
	}))
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	limits := limiter.Config()
	logger.Info(ctx, "gateway listening", slog.F("addr", cfg.listenAddr), slog.F("redis", cfg.redisAddr))
	logger.Info(ctx, "rate limits",
		slog.F("global_per_min", limits.GlobalLimitPerMinute),
		slog.F("plans", limits.PlanLimits),
		slog.F("default_plan", limits.DefaultPlan),
		slog.F("burst", limits.BurstLimit),
		slog.F("burst_window", limits.BurstWindow),
		slog.F("violation_threshold", limits.ViolationThreshold),
		slog.F("block_duration", limits.BlockDuration),
	)
	logger.Info(ctx, "buffer",
		slog.F("scheduler", cfg.scheduler),
		slog.F("debounce", limits.DebounceDelay),
		slog.F("queue", cfg.workerQueue),
		slog.F("flush_concurrency", cfg.flushConcurrency),
	)
	logger.Info(ctx, "concurrency", slog.F("max", cfg.concurrencyMax), slog.F("acquire_timeout", cfg.concurrencyTimeout))
	if cfg.adminToken == "" {
		logger.Info(ctx, "admin routes disabled (ADMIN_TOKEN not set)")
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal(ctx, "server error", slog.Error(err))
	}
}
